package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
)

// Storage defines the persistence operations for the collections domain.
// Get* methods return models.ErrNotFound for a missing row; unique-key
// violations surface as models.ErrDuplicateKey.
type Storage interface {
	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetCustomerByCode(ctx context.Context, code string) (*models.Customer, error)

	CreateLoanAccount(ctx context.Context, acc *models.LoanAccount) error
	GetLoanAccount(ctx context.Context, id uuid.UUID) (*models.LoanAccount, error)
	GetLoanAccountByNumber(ctx context.Context, number string) (*models.LoanAccount, error)
	// UpdateLoanAccount writes acc only if the stored Version still equals acc.Version,
	// then bumps acc.Version. A stale version yields models.ErrConcurrentUpdate.
	UpdateLoanAccount(ctx context.Context, acc *models.LoanAccount) error
	ListLoanAccounts(ctx context.Context) ([]*models.LoanAccount, error)

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	ListUsersByManager(ctx context.Context, managerID uuid.UUID) ([]*models.User, error)

	CreateCase(ctx context.Context, c *models.CollectionCase) error
	GetCase(ctx context.Context, id uuid.UUID) (*models.CollectionCase, error)
	GetCaseByNumber(ctx context.Context, number string) (*models.CollectionCase, error)
	GetCaseByLoanAccount(ctx context.Context, loanAccountID uuid.UUID) (*models.CollectionCase, error)
	UpdateCase(ctx context.Context, c *models.CollectionCase) error
	// ListCases skips soft-deleted cases and returns the page plus the total match count.
	ListCases(ctx context.Context, f models.CaseFilter) ([]*models.CollectionCase, int, error)
	CountCaseNumbers(ctx context.Context, prefix string) (int, error)

	CreateStatusHistory(ctx context.Context, h *models.CaseStatusHistory) error
	ListStatusHistory(ctx context.Context, caseID uuid.UUID) ([]*models.CaseStatusHistory, error)
	CreateAssignmentHistory(ctx context.Context, h *models.CaseAssignmentHistory) error
	ListAssignmentHistory(ctx context.Context, caseID uuid.UUID) ([]*models.CaseAssignmentHistory, error)

	CreateNote(ctx context.Context, n *models.CaseNote) error
	ListNotes(ctx context.Context, caseID uuid.UUID) ([]*models.CaseNote, error)

	CreatePTP(ctx context.Context, p *models.PromiseToPay) error
	GetPTP(ctx context.Context, id uuid.UUID) (*models.PromiseToPay, error)
	GetPTPByNumber(ctx context.Context, number string) (*models.PromiseToPay, error)
	UpdatePTP(ctx context.Context, p *models.PromiseToPay) error
	ListPTPs(ctx context.Context, f models.PTPFilter) ([]*models.PromiseToPay, int, error)
	CountPTPNumbers(ctx context.Context, prefix string) (int, error)

	CreateFollowUp(ctx context.Context, fu *models.PTPFollowUp) error
	GetFollowUp(ctx context.Context, id uuid.UUID) (*models.PTPFollowUp, error)
	UpdateFollowUp(ctx context.Context, fu *models.PTPFollowUp) error
	ListPendingFollowUps(ctx context.Context, dueBy time.Time) ([]*models.PTPFollowUp, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, ref string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
	ListPayments(ctx context.Context, f models.PaymentFilter) ([]*models.Payment, int, error)
	CountPaymentReferences(ctx context.Context, prefix string) (int, error)

	CreatePaymentLink(ctx context.Context, l *models.PaymentLink) error
	GetPaymentLink(ctx context.Context, linkID string) (*models.PaymentLink, error)
	UpdatePaymentLink(ctx context.Context, l *models.PaymentLink) error
	ListPaymentLinks(ctx context.Context, f models.PaymentLinkFilter) ([]*models.PaymentLink, error)

	// RunInTx runs fn in one unit of work. fn must use the Storage it is given.
	// Calls made on a Storage already inside a transaction join it.
	RunInTx(ctx context.Context, fn func(st Storage) error) error

	Close() error
}
