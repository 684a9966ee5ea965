package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
)

// CreateCustomer inserts a new customer.
func (s *SQLStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := s.exec(ctx,
		`INSERT INTO customers (id, customer_code, full_name, email, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CustomerCode, c.FullName, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

const customerColumns = `id, customer_code, full_name, email, phone, created_at, updated_at`

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var c models.Customer
	if err := row.Scan(&c.ID, &c.CustomerCode, &c.FullName, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

// GetCustomer retrieves a customer by id.
func (s *SQLStore) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	c, err := scanCustomer(s.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "customer")
	}
	return c, nil
}

// GetCustomerByCode retrieves a customer by its LMS customer code.
func (s *SQLStore) GetCustomerByCode(ctx context.Context, code string) (*models.Customer, error) {
	c, err := scanCustomer(s.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE customer_code = ?`, code))
	if err != nil {
		return nil, notFound(err, "customer")
	}
	return c, nil
}

const loanColumns = `id, account_number, customer_id, product_vertical,
	principal_outstanding, interest_outstanding, penalty_outstanding, total_outstanding,
	original_principal, original_interest, original_penalty,
	days_past_due, current_bucket, last_payment_date, last_payment_amount, total_amount_paid,
	last_synced_at, version, created_at, updated_at`

// CreateLoanAccount inserts a new loan account.
func (s *SQLStore) CreateLoanAccount(ctx context.Context, a *models.LoanAccount) error {
	_, err := s.exec(ctx,
		`INSERT INTO loan_accounts (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountNumber, a.CustomerID, a.ProductVertical,
		a.PrincipalOutstanding, a.InterestOutstanding, a.PenaltyOutstanding, a.TotalOutstanding,
		a.OriginalPrincipal, a.OriginalInterest, a.OriginalPenalty,
		a.DaysPastDue, string(a.CurrentBucket), nullTime(a.LastPaymentDate), a.LastPaymentAmount, a.TotalAmountPaid,
		nullTime(a.LastSyncedAt), a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan account: %w", err)
	}
	return nil
}

func scanLoanAccount(row rowScanner) (*models.LoanAccount, error) {
	var (
		a                     models.LoanAccount
		bucket                string
		lastPayment, lastSync sql.NullTime
	)
	err := row.Scan(&a.ID, &a.AccountNumber, &a.CustomerID, &a.ProductVertical,
		&a.PrincipalOutstanding, &a.InterestOutstanding, &a.PenaltyOutstanding, &a.TotalOutstanding,
		&a.OriginalPrincipal, &a.OriginalInterest, &a.OriginalPenalty,
		&a.DaysPastDue, &bucket, &lastPayment, &a.LastPaymentAmount, &a.TotalAmountPaid,
		&lastSync, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.CurrentBucket = models.Bucket(bucket)
	a.LastPaymentDate = timePtr(lastPayment)
	a.LastSyncedAt = timePtr(lastSync)
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return &a, nil
}

// GetLoanAccount retrieves a loan account by id.
func (s *SQLStore) GetLoanAccount(ctx context.Context, id uuid.UUID) (*models.LoanAccount, error) {
	a, err := scanLoanAccount(s.queryRow(ctx, `SELECT `+loanColumns+` FROM loan_accounts WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "loan account")
	}
	return a, nil
}

// GetLoanAccountByNumber retrieves a loan account by its account number.
func (s *SQLStore) GetLoanAccountByNumber(ctx context.Context, number string) (*models.LoanAccount, error) {
	a, err := scanLoanAccount(s.queryRow(ctx, `SELECT `+loanColumns+` FROM loan_accounts WHERE account_number = ?`, number))
	if err != nil {
		return nil, notFound(err, "loan account")
	}
	return a, nil
}

// UpdateLoanAccount writes balances and payment stamps guarded by the row version.
func (s *SQLStore) UpdateLoanAccount(ctx context.Context, a *models.LoanAccount) error {
	res, err := s.exec(ctx,
		`UPDATE loan_accounts SET product_vertical = ?,
			principal_outstanding = ?, interest_outstanding = ?, penalty_outstanding = ?, total_outstanding = ?,
			original_principal = ?, original_interest = ?, original_penalty = ?,
			days_past_due = ?, current_bucket = ?, last_payment_date = ?, last_payment_amount = ?, total_amount_paid = ?,
			last_synced_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		a.ProductVertical,
		a.PrincipalOutstanding, a.InterestOutstanding, a.PenaltyOutstanding, a.TotalOutstanding,
		a.OriginalPrincipal, a.OriginalInterest, a.OriginalPenalty,
		a.DaysPastDue, string(a.CurrentBucket), nullTime(a.LastPaymentDate), a.LastPaymentAmount, a.TotalAmountPaid,
		nullTime(a.LastSyncedAt), a.UpdatedAt,
		a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		exists, err := s.count(ctx, `SELECT COUNT(*) FROM loan_accounts WHERE id = ?`, a.ID)
		if err != nil {
			return fmt.Errorf("failed to check loan account: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: loan account %s", models.ErrNotFound, a.ID)
		}
		return fmt.Errorf("%w: loan account %s at version %d", models.ErrConcurrentUpdate, a.ID, a.Version)
	}
	a.Version++
	return nil
}

// ListLoanAccounts returns every loan account ordered by account number.
func (s *SQLStore) ListLoanAccounts(ctx context.Context) ([]*models.LoanAccount, error) {
	rows, err := s.query(ctx, `SELECT `+loanColumns+` FROM loan_accounts ORDER BY account_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.LoanAccount
	for rows.Next() {
		a, err := scanLoanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const userColumns = `id, display_name, email, role, reporting_manager_id, is_active, created_at, updated_at`

// CreateUser inserts a new user.
func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.Email, string(u.Role), nullUUID(u.ReportingManagerID), u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u       models.User
		role    string
		manager uuid.NullUUID
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &role, &manager, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.UserRole(role)
	u.ReportingManagerID = uuidPtr(manager)
	u.CreatedAt, u.UpdatedAt = u.CreatedAt.UTC(), u.UpdatedAt.UTC()
	return &u, nil
}

// GetUser retrieves a user by id.
func (s *SQLStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

// UpdateUser updates a user's mutable fields.
func (s *SQLStore) UpdateUser(ctx context.Context, u *models.User) error {
	return s.execOne(ctx, "user",
		`UPDATE users SET display_name = ?, email = ?, role = ?, reporting_manager_id = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		u.DisplayName, u.Email, string(u.Role), nullUUID(u.ReportingManagerID), u.IsActive, u.UpdatedAt, u.ID,
	)
}

// ListUsersByManager returns the direct reports of a manager.
func (s *SQLStore) ListUsersByManager(ctx context.Context, managerID uuid.UUID) ([]*models.User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users WHERE reporting_manager_id = ? ORDER BY display_name`, managerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
