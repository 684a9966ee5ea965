package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Page is a 1-based page request. A zero PageSize means no limit.
type Page struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	if p.PageSize <= 0 || p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// CaseFilter selects cases for ListCases. Zero fields match everything.
type CaseFilter struct {
	Search           string // case number, loan account number or customer name
	Bucket           Bucket
	Status           CaseStatus
	AssignedToUserID *uuid.UUID
	AssignedTo       []uuid.UUID // any of these assignees
	CustomerID       *uuid.UUID
	ProductVertical  string
	OpenOnly         bool
	Page
}

// PTPFilter selects promises for ListPTPs.
type PTPFilter struct {
	CollectionCaseID *uuid.UUID
	CustomerID       *uuid.UUID
	Status           PTPStatus
	CreatedByUserID  *uuid.UUID
	ParentPTPID      *uuid.UUID
	ExcludeParents   bool // skip heads of split sets
	DueFrom          *time.Time
	DueTo            *time.Time
	Page
}

// PaymentFilter selects payments for ListPayments.
type PaymentFilter struct {
	LoanAccountID *uuid.UUID
	CustomerID    *uuid.UUID
	Status        PaymentStatus
	Mode          PaymentMode
	Unreconciled  bool
	From          *time.Time
	To            *time.Time
	Page
}

// PaymentLinkFilter selects payment links.
type PaymentLinkFilter struct {
	LoanAccountID *uuid.UUID
	ActiveOnly    bool
}
