package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
)

// MemoryStore is an in-process Storage. Transactions are serialized and
// rolled back by restoring a snapshot taken at begin.
type MemoryStore struct {
	root *memRoot
	inTx bool
}

type memRoot struct {
	mu   sync.Mutex // guards d
	txMu sync.Mutex // one transaction at a time
	d    *memData
}

type memData struct {
	customers map[uuid.UUID]*models.Customer
	loans     map[uuid.UUID]*models.LoanAccount
	users     map[uuid.UUID]*models.User
	cases     map[uuid.UUID]*models.CollectionCase
	ptps      map[uuid.UUID]*models.PromiseToPay
	followUps map[uuid.UUID]*models.PTPFollowUp
	payments  map[uuid.UUID]*models.Payment
	links     map[uuid.UUID]*models.PaymentLink

	// Append-only, kept in insertion order.
	statusHist []*models.CaseStatusHistory
	assignHist []*models.CaseAssignmentHistory
	notes      []*models.CaseNote
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: &memRoot{d: &memData{
		customers: map[uuid.UUID]*models.Customer{},
		loans:     map[uuid.UUID]*models.LoanAccount{},
		users:     map[uuid.UUID]*models.User{},
		cases:     map[uuid.UUID]*models.CollectionCase{},
		ptps:      map[uuid.UUID]*models.PromiseToPay{},
		followUps: map[uuid.UUID]*models.PTPFollowUp{},
		payments:  map[uuid.UUID]*models.Payment{},
		links:     map[uuid.UUID]*models.PaymentLink{},
	}}}
}

func cloneMap[V any](m map[uuid.UUID]*V) map[uuid.UUID]*V {
	out := make(map[uuid.UUID]*V, len(m))
	for k, v := range m {
		c := *v
		out[k] = &c
	}
	return out
}

func (d *memData) clone() *memData {
	return &memData{
		customers:  cloneMap(d.customers),
		loans:      cloneMap(d.loans),
		users:      cloneMap(d.users),
		cases:      cloneMap(d.cases),
		statusHist: slices.Clone(d.statusHist),
		assignHist: slices.Clone(d.assignHist),
		notes:      slices.Clone(d.notes),
		ptps:       cloneMap(d.ptps),
		followUps:  cloneMap(d.followUps),
		payments:   cloneMap(d.payments),
		links:      cloneMap(d.links),
	}
}

// RunInTx runs fn with rollback on error.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(st Storage) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.root.txMu.Lock()
	defer m.root.txMu.Unlock()

	m.root.mu.Lock()
	snapshot := m.root.d.clone()
	m.root.mu.Unlock()

	if err := fn(&MemoryStore{root: m.root, inTx: true}); err != nil {
		m.root.mu.Lock()
		m.root.d = snapshot
		m.root.mu.Unlock()
		return err
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// with runs f under the data lock.
func (m *MemoryStore) with(f func(d *memData) error) error {
	m.root.mu.Lock()
	defer m.root.mu.Unlock()
	return f(m.root.d)
}

func copyOf[V any](v *V) *V {
	c := *v
	return &c
}

func missing(what string, key any) error {
	return fmt.Errorf("%w: %s %v", models.ErrNotFound, what, key)
}

func duplicate(what string, key any) error {
	return fmt.Errorf("%w: %s %v", models.ErrDuplicateKey, what, key)
}

// put inserts v under id, rejecting an existing id.
func put[V any](m map[uuid.UUID]*V, id uuid.UUID, v *V, what string) error {
	if _, ok := m[id]; ok {
		return duplicate(what, id)
	}
	m[id] = copyOf(v)
	return nil
}

// replace overwrites an existing row.
func replace[V any](m map[uuid.UUID]*V, id uuid.UUID, v *V, what string) error {
	if _, ok := m[id]; !ok {
		return missing(what, id)
	}
	m[id] = copyOf(v)
	return nil
}

func get[V any](m map[uuid.UUID]*V, id uuid.UUID, what string) (*V, error) {
	v, ok := m[id]
	if !ok {
		return nil, missing(what, id)
	}
	return copyOf(v), nil
}

// find returns a copy of the first row matching pred.
func find[V any](m map[uuid.UUID]*V, pred func(*V) bool, what string, key any) (*V, error) {
	for _, v := range m {
		if pred(v) {
			return copyOf(v), nil
		}
	}
	return nil, missing(what, key)
}

// filter returns copies of every row matching pred.
func filter[V any](m map[uuid.UUID]*V, pred func(*V) bool) []*V {
	var out []*V
	for _, v := range m {
		if pred(v) {
			out = append(out, copyOf(v))
		}
	}
	return out
}

func paginate[V any](rows []*V, p models.Page) []*V {
	if p.PageSize <= 0 {
		return rows
	}
	start := p.Offset()
	if start >= len(rows) {
		return nil
	}
	end := min(start+p.PageSize, len(rows))
	return rows[start:end]
}

func sameID(p *uuid.UUID, id uuid.UUID) bool { return p != nil && *p == id }

func countPrefix[V any](m map[uuid.UUID]*V, key func(*V) string, prefix string) int {
	n := 0
	for _, v := range m {
		if strings.HasPrefix(key(v), prefix) {
			n++
		}
	}
	return n
}

// Customers

func (m *MemoryStore) CreateCustomer(_ context.Context, c *models.Customer) error {
	return m.with(func(d *memData) error {
		for _, existing := range d.customers {
			if existing.CustomerCode == c.CustomerCode {
				return duplicate("customer code", c.CustomerCode)
			}
		}
		return put(d.customers, c.ID, c, "customer")
	})
}

func (m *MemoryStore) GetCustomer(_ context.Context, id uuid.UUID) (c *models.Customer, err error) {
	err = m.with(func(d *memData) error {
		c, err = get(d.customers, id, "customer")
		return err
	})
	return c, err
}

func (m *MemoryStore) GetCustomerByCode(_ context.Context, code string) (c *models.Customer, err error) {
	err = m.with(func(d *memData) error {
		c, err = find(d.customers, func(v *models.Customer) bool { return v.CustomerCode == code }, "customer", code)
		return err
	})
	return c, err
}

// Loan accounts

func (m *MemoryStore) CreateLoanAccount(_ context.Context, a *models.LoanAccount) error {
	return m.with(func(d *memData) error {
		for _, existing := range d.loans {
			if existing.AccountNumber == a.AccountNumber {
				return duplicate("account number", a.AccountNumber)
			}
		}
		return put(d.loans, a.ID, a, "loan account")
	})
}

func (m *MemoryStore) GetLoanAccount(_ context.Context, id uuid.UUID) (a *models.LoanAccount, err error) {
	err = m.with(func(d *memData) error {
		a, err = get(d.loans, id, "loan account")
		return err
	})
	return a, err
}

func (m *MemoryStore) GetLoanAccountByNumber(_ context.Context, number string) (a *models.LoanAccount, err error) {
	err = m.with(func(d *memData) error {
		a, err = find(d.loans, func(v *models.LoanAccount) bool { return v.AccountNumber == number }, "loan account", number)
		return err
	})
	return a, err
}

func (m *MemoryStore) UpdateLoanAccount(_ context.Context, a *models.LoanAccount) error {
	return m.with(func(d *memData) error {
		cur, ok := d.loans[a.ID]
		if !ok {
			return missing("loan account", a.ID)
		}
		if cur.Version != a.Version {
			return fmt.Errorf("%w: loan account %s at version %d", models.ErrConcurrentUpdate, a.ID, a.Version)
		}
		a.Version++
		d.loans[a.ID] = copyOf(a)
		return nil
	})
}

func (m *MemoryStore) ListLoanAccounts(_ context.Context) (out []*models.LoanAccount, err error) {
	err = m.with(func(d *memData) error {
		out = filter(d.loans, func(*models.LoanAccount) bool { return true })
		return nil
	})
	slices.SortFunc(out, func(a, b *models.LoanAccount) int { return cmp.Compare(a.AccountNumber, b.AccountNumber) })
	return out, err
}

// Users

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	return m.with(func(d *memData) error { return put(d.users, u.ID, u, "user") })
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (u *models.User, err error) {
	err = m.with(func(d *memData) error {
		u, err = get(d.users, id, "user")
		return err
	})
	return u, err
}

func (m *MemoryStore) UpdateUser(_ context.Context, u *models.User) error {
	return m.with(func(d *memData) error { return replace(d.users, u.ID, u, "user") })
}

func (m *MemoryStore) ListUsersByManager(_ context.Context, managerID uuid.UUID) (out []*models.User, err error) {
	err = m.with(func(d *memData) error {
		out = filter(d.users, func(u *models.User) bool { return sameID(u.ReportingManagerID, managerID) })
		return nil
	})
	slices.SortFunc(out, func(a, b *models.User) int { return cmp.Compare(a.DisplayName, b.DisplayName) })
	return out, err
}

// Cases

func (m *MemoryStore) CreateCase(_ context.Context, c *models.CollectionCase) error {
	return m.with(func(d *memData) error {
		if _, ok := d.loans[c.LoanAccountID]; !ok {
			return missing("loan account", c.LoanAccountID)
		}
		for _, existing := range d.cases {
			if existing.LoanAccountID == c.LoanAccountID {
				return duplicate("case for loan account", c.LoanAccountID)
			}
			if existing.CaseNumber == c.CaseNumber {
				return duplicate("case number", c.CaseNumber)
			}
		}
		return put(d.cases, c.ID, c, "collection case")
	})
}

func (m *MemoryStore) GetCase(_ context.Context, id uuid.UUID) (c *models.CollectionCase, err error) {
	err = m.with(func(d *memData) error {
		c, err = get(d.cases, id, "collection case")
		return err
	})
	return c, err
}

func (m *MemoryStore) GetCaseByNumber(_ context.Context, number string) (c *models.CollectionCase, err error) {
	err = m.with(func(d *memData) error {
		c, err = find(d.cases, func(v *models.CollectionCase) bool { return v.CaseNumber == number }, "collection case", number)
		return err
	})
	return c, err
}

func (m *MemoryStore) GetCaseByLoanAccount(_ context.Context, loanAccountID uuid.UUID) (c *models.CollectionCase, err error) {
	err = m.with(func(d *memData) error {
		c, err = find(d.cases, func(v *models.CollectionCase) bool { return v.LoanAccountID == loanAccountID }, "collection case", loanAccountID)
		return err
	})
	return c, err
}

func (m *MemoryStore) UpdateCase(_ context.Context, c *models.CollectionCase) error {
	return m.with(func(d *memData) error { return replace(d.cases, c.ID, c, "collection case") })
}

func (m *MemoryStore) ListCases(_ context.Context, f models.CaseFilter) (page []*models.CollectionCase, total int, err error) {
	search := strings.ToLower(f.Search)
	err = m.with(func(d *memData) error {
		rows := filter(d.cases, func(c *models.CollectionCase) bool {
			if c.IsDeleted {
				return false
			}
			loan := d.loans[c.LoanAccountID]
			if search != "" {
				hit := strings.Contains(strings.ToLower(c.CaseNumber), search)
				if loan != nil && strings.Contains(strings.ToLower(loan.AccountNumber), search) {
					hit = true
				}
				if cu := d.customers[c.CustomerID]; cu != nil && strings.Contains(strings.ToLower(cu.FullName), search) {
					hit = true
				}
				if !hit {
					return false
				}
			}
			if f.Bucket != "" && c.CurrentBucket != f.Bucket {
				return false
			}
			if f.Status != "" && c.Status != f.Status {
				return false
			}
			if f.AssignedToUserID != nil && !sameID(c.AssignedToUserID, *f.AssignedToUserID) {
				return false
			}
			if len(f.AssignedTo) > 0 && (c.AssignedToUserID == nil || !slices.Contains(f.AssignedTo, *c.AssignedToUserID)) {
				return false
			}
			if f.CustomerID != nil && c.CustomerID != *f.CustomerID {
				return false
			}
			if f.ProductVertical != "" && (loan == nil || loan.ProductVertical != f.ProductVertical) {
				return false
			}
			if f.OpenOnly && c.Status.Terminal() {
				return false
			}
			return true
		})
		slices.SortFunc(rows, func(a, b *models.CollectionCase) int {
			if a.Priority != b.Priority {
				return cmp.Compare(b.Priority, a.Priority)
			}
			return b.CreatedAt.Compare(a.CreatedAt)
		})
		total = len(rows)
		page = paginate(rows, f.Page)
		return nil
	})
	return page, total, err
}

func (m *MemoryStore) CountCaseNumbers(_ context.Context, prefix string) (n int, err error) {
	err = m.with(func(d *memData) error {
		n = countPrefix(d.cases, func(c *models.CollectionCase) string { return c.CaseNumber }, prefix)
		return nil
	})
	return n, err
}

// Histories and notes are immutable once written, so snapshots share the pointers.

func (m *MemoryStore) CreateStatusHistory(_ context.Context, h *models.CaseStatusHistory) error {
	return m.with(func(d *memData) error {
		if _, ok := d.cases[h.CollectionCaseID]; !ok {
			return missing("collection case", h.CollectionCaseID)
		}
		d.statusHist = append(d.statusHist, copyOf(h))
		return nil
	})
}

func (m *MemoryStore) ListStatusHistory(_ context.Context, caseID uuid.UUID) (out []*models.CaseStatusHistory, err error) {
	err = m.with(func(d *memData) error {
		out = newestFirst(d.statusHist, func(h *models.CaseStatusHistory) bool { return h.CollectionCaseID == caseID },
			func(h *models.CaseStatusHistory) time.Time { return h.ChangedAt })
		return nil
	})
	return out, err
}

func (m *MemoryStore) CreateAssignmentHistory(_ context.Context, h *models.CaseAssignmentHistory) error {
	return m.with(func(d *memData) error {
		if _, ok := d.cases[h.CollectionCaseID]; !ok {
			return missing("collection case", h.CollectionCaseID)
		}
		d.assignHist = append(d.assignHist, copyOf(h))
		return nil
	})
}

func (m *MemoryStore) ListAssignmentHistory(_ context.Context, caseID uuid.UUID) (out []*models.CaseAssignmentHistory, err error) {
	err = m.with(func(d *memData) error {
		out = newestFirst(d.assignHist, func(h *models.CaseAssignmentHistory) bool { return h.CollectionCaseID == caseID },
			func(h *models.CaseAssignmentHistory) time.Time { return h.AssignedAt })
		return nil
	})
	return out, err
}

func (m *MemoryStore) CreateNote(_ context.Context, n *models.CaseNote) error {
	return m.with(func(d *memData) error {
		if _, ok := d.cases[n.CollectionCaseID]; !ok {
			return missing("collection case", n.CollectionCaseID)
		}
		d.notes = append(d.notes, copyOf(n))
		return nil
	})
}

func (m *MemoryStore) ListNotes(_ context.Context, caseID uuid.UUID) (out []*models.CaseNote, err error) {
	err = m.with(func(d *memData) error {
		out = newestFirst(d.notes, func(n *models.CaseNote) bool { return n.CollectionCaseID == caseID },
			func(n *models.CaseNote) time.Time { return n.CreatedAt })
		return nil
	})
	slices.SortStableFunc(out, func(a, b *models.CaseNote) int {
		switch {
		case a.IsPinned == b.IsPinned:
			return 0
		case a.IsPinned:
			return -1
		default:
			return 1
		}
	})
	return out, err
}

// newestFirst returns copies of the matching rows ordered by time descending;
// rows with equal times come back in reverse insertion order.
func newestFirst[V any](rows []*V, match func(*V) bool, at func(*V) time.Time) []*V {
	var out []*V
	for i := len(rows) - 1; i >= 0; i-- {
		if match(rows[i]) {
			out = append(out, copyOf(rows[i]))
		}
	}
	slices.SortStableFunc(out, func(a, b *V) int { return at(b).Compare(at(a)) })
	return out
}

// Promises to pay

func (m *MemoryStore) CreatePTP(_ context.Context, p *models.PromiseToPay) error {
	return m.with(func(d *memData) error {
		if _, ok := d.cases[p.CollectionCaseID]; !ok {
			return missing("collection case", p.CollectionCaseID)
		}
		if p.ParentPTPID != nil {
			if _, ok := d.ptps[*p.ParentPTPID]; !ok {
				return missing("parent ptp", *p.ParentPTPID)
			}
		}
		for _, existing := range d.ptps {
			if existing.PTPNumber == p.PTPNumber {
				return duplicate("ptp number", p.PTPNumber)
			}
		}
		return put(d.ptps, p.ID, p, "ptp")
	})
}

func (m *MemoryStore) GetPTP(_ context.Context, id uuid.UUID) (p *models.PromiseToPay, err error) {
	err = m.with(func(d *memData) error {
		p, err = get(d.ptps, id, "ptp")
		return err
	})
	return p, err
}

func (m *MemoryStore) GetPTPByNumber(_ context.Context, number string) (p *models.PromiseToPay, err error) {
	err = m.with(func(d *memData) error {
		p, err = find(d.ptps, func(v *models.PromiseToPay) bool { return v.PTPNumber == number }, "ptp", number)
		return err
	})
	return p, err
}

func (m *MemoryStore) UpdatePTP(_ context.Context, p *models.PromiseToPay) error {
	return m.with(func(d *memData) error { return replace(d.ptps, p.ID, p, "ptp") })
}

func (m *MemoryStore) ListPTPs(_ context.Context, f models.PTPFilter) (page []*models.PromiseToPay, total int, err error) {
	err = m.with(func(d *memData) error {
		rows := filter(d.ptps, func(p *models.PromiseToPay) bool {
			switch {
			case f.CollectionCaseID != nil && p.CollectionCaseID != *f.CollectionCaseID,
				f.CustomerID != nil && p.CustomerID != *f.CustomerID,
				f.Status != "" && p.Status != f.Status,
				f.CreatedByUserID != nil && !sameID(p.CreatedByUserID, *f.CreatedByUserID),
				f.ParentPTPID != nil && !sameID(p.ParentPTPID, *f.ParentPTPID),
				f.ExcludeParents && p.IsParent(),
				f.DueFrom != nil && p.PromisedDate.Before(*f.DueFrom),
				f.DueTo != nil && !p.PromisedDate.Before(*f.DueTo):
				return false
			}
			return true
		})
		slices.SortFunc(rows, func(a, b *models.PromiseToPay) int {
			if c := a.PromisedDate.Compare(b.PromisedDate); c != 0 {
				return c
			}
			return cmp.Compare(a.SplitSequence, b.SplitSequence)
		})
		total = len(rows)
		page = paginate(rows, f.Page)
		return nil
	})
	return page, total, err
}

func (m *MemoryStore) CountPTPNumbers(_ context.Context, prefix string) (n int, err error) {
	err = m.with(func(d *memData) error {
		n = countPrefix(d.ptps, func(p *models.PromiseToPay) string { return p.PTPNumber }, prefix)
		return nil
	})
	return n, err
}

func (m *MemoryStore) CreateFollowUp(_ context.Context, fu *models.PTPFollowUp) error {
	return m.with(func(d *memData) error {
		if _, ok := d.ptps[fu.PTPID]; !ok {
			return missing("ptp", fu.PTPID)
		}
		return put(d.followUps, fu.ID, fu, "follow-up")
	})
}

func (m *MemoryStore) GetFollowUp(_ context.Context, id uuid.UUID) (fu *models.PTPFollowUp, err error) {
	err = m.with(func(d *memData) error {
		fu, err = get(d.followUps, id, "follow-up")
		return err
	})
	return fu, err
}

func (m *MemoryStore) UpdateFollowUp(_ context.Context, fu *models.PTPFollowUp) error {
	return m.with(func(d *memData) error { return replace(d.followUps, fu.ID, fu, "follow-up") })
}

func (m *MemoryStore) ListPendingFollowUps(_ context.Context, dueBy time.Time) (out []*models.PTPFollowUp, err error) {
	err = m.with(func(d *memData) error {
		out = filter(d.followUps, func(fu *models.PTPFollowUp) bool {
			return fu.Status == models.FollowUpPending && !fu.FollowUpDate.After(dueBy)
		})
		return nil
	})
	slices.SortFunc(out, func(a, b *models.PTPFollowUp) int { return a.FollowUpDate.Compare(b.FollowUpDate) })
	return out, err
}

// Payments

func (m *MemoryStore) CreatePayment(_ context.Context, p *models.Payment) error {
	return m.with(func(d *memData) error {
		if _, ok := d.loans[p.LoanAccountID]; !ok {
			return missing("loan account", p.LoanAccountID)
		}
		for _, existing := range d.payments {
			if existing.PaymentReferenceNumber == p.PaymentReferenceNumber {
				return duplicate("payment reference", p.PaymentReferenceNumber)
			}
		}
		return put(d.payments, p.ID, p, "payment")
	})
}

func (m *MemoryStore) GetPayment(_ context.Context, id uuid.UUID) (p *models.Payment, err error) {
	err = m.with(func(d *memData) error {
		p, err = get(d.payments, id, "payment")
		return err
	})
	return p, err
}

func (m *MemoryStore) GetPaymentByReference(_ context.Context, ref string) (p *models.Payment, err error) {
	err = m.with(func(d *memData) error {
		p, err = find(d.payments, func(v *models.Payment) bool { return v.PaymentReferenceNumber == ref }, "payment", ref)
		return err
	})
	return p, err
}

func (m *MemoryStore) UpdatePayment(_ context.Context, p *models.Payment) error {
	return m.with(func(d *memData) error { return replace(d.payments, p.ID, p, "payment") })
}

func (m *MemoryStore) ListPayments(_ context.Context, f models.PaymentFilter) (page []*models.Payment, total int, err error) {
	err = m.with(func(d *memData) error {
		rows := filter(d.payments, func(p *models.Payment) bool {
			switch {
			case f.LoanAccountID != nil && p.LoanAccountID != *f.LoanAccountID,
				f.CustomerID != nil && p.CustomerID != *f.CustomerID,
				f.Status != "" && p.Status != f.Status,
				f.Mode != "" && p.Mode != f.Mode,
				f.Unreconciled && p.IsReconciled,
				f.From != nil && p.PaymentDate.Before(*f.From),
				f.To != nil && !p.PaymentDate.Before(*f.To):
				return false
			}
			return true
		})
		slices.SortFunc(rows, func(a, b *models.Payment) int {
			if c := b.PaymentDate.Compare(a.PaymentDate); c != 0 {
				return c
			}
			return cmp.Compare(b.PaymentReferenceNumber, a.PaymentReferenceNumber)
		})
		total = len(rows)
		page = paginate(rows, f.Page)
		return nil
	})
	return page, total, err
}

func (m *MemoryStore) CountPaymentReferences(_ context.Context, prefix string) (n int, err error) {
	err = m.with(func(d *memData) error {
		n = countPrefix(d.payments, func(p *models.Payment) string { return p.PaymentReferenceNumber }, prefix)
		return nil
	})
	return n, err
}

func (m *MemoryStore) CreatePaymentLink(_ context.Context, l *models.PaymentLink) error {
	return m.with(func(d *memData) error {
		for _, existing := range d.links {
			if existing.LinkID == l.LinkID {
				return duplicate("link id", l.LinkID)
			}
		}
		return put(d.links, l.ID, l, "payment link")
	})
}

func (m *MemoryStore) GetPaymentLink(_ context.Context, linkID string) (l *models.PaymentLink, err error) {
	err = m.with(func(d *memData) error {
		l, err = find(d.links, func(v *models.PaymentLink) bool { return v.LinkID == linkID }, "payment link", linkID)
		return err
	})
	return l, err
}

func (m *MemoryStore) UpdatePaymentLink(_ context.Context, l *models.PaymentLink) error {
	return m.with(func(d *memData) error { return replace(d.links, l.ID, l, "payment link") })
}

func (m *MemoryStore) ListPaymentLinks(_ context.Context, f models.PaymentLinkFilter) (out []*models.PaymentLink, err error) {
	err = m.with(func(d *memData) error {
		out = filter(d.links, func(l *models.PaymentLink) bool {
			if f.LoanAccountID != nil && l.LoanAccountID != *f.LoanAccountID {
				return false
			}
			return !f.ActiveOnly || l.IsActive
		})
		return nil
	})
	slices.SortFunc(out, func(a, b *models.PaymentLink) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, err
}
