package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const customerColumns = `id, workspace_id, user_id, customer_number, name, email, phone, organisation_number, address, zip_code, city, country, created_at, updated_at`

// FindCustomerByNumber selects by (workspace_id, customer_number).
func (s *Store) FindCustomerByNumber(ctx context.Context, workspaceID, customerNumber string) (*models.Customer, error) {
	if customerNumber == "" {
		return nil, errors.ErrNotFound
	}
	q := `SELECT ` + customerColumns + ` FROM customers WHERE workspace_id=$1 AND customer_number=$2`
	return s.oneCustomer(ctx, "find customer by number", q, workspaceID, customerNumber)
}

// FindUnnumberedCustomerByName selects the oldest unnumbered row with this exact name.
func (s *Store) FindUnnumberedCustomerByName(ctx context.Context, workspaceID, name string) (*models.Customer, error) {
	if name == "" {
		return nil, errors.ErrNotFound
	}
	q := `SELECT ` + customerColumns + ` FROM customers WHERE workspace_id=$1 AND customer_number='' AND name=$2 ORDER BY created_at LIMIT 1`
	return s.oneCustomer(ctx, "find customer by name", q, workspaceID, name)
}

func (s *Store) oneCustomer(ctx context.Context, op, q string, args ...any) (*models.Customer, error) {
	c, err := scanCustomer(s.Pool.QueryRow(ctx, q, args...))
	if isNoRows(err) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: op, Err: err}
	}
	return c, nil
}

// SaveCustomer inserts when ID is empty, otherwise updates by ID.
func (s *Store) SaveCustomer(ctx context.Context, c *models.Customer) error {
	now := s.now()
	c.UpdatedAt = now

	if c.ID == "" {
		id := uuid.New().String()
		const q = `
INSERT INTO customers (` + customerColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		_, err := s.Pool.Exec(ctx, q, id, c.WorkspaceID, c.UserID, c.CustomerNumber, c.Name, c.Email, c.Phone,
			c.OrgNumber, c.Address, c.ZipCode, c.City, c.Country, now, now)
		if isUniqueViolation(err) {
			return fmt.Errorf("customer number %s: %w", c.CustomerNumber, errors.ErrAlreadyExists)
		}
		if err != nil {
			return &errors.ErrDatabaseQuery{Operation: "insert customer", Err: err}
		}
		c.ID = id
		c.CreatedAt = now
		return nil
	}

	const q = `
UPDATE customers SET customer_number=$2, name=$3, email=$4, phone=$5, organisation_number=$6,
  address=$7, zip_code=$8, city=$9, country=$10, updated_at=$11
WHERE id=$1`
	tag, err := s.Pool.Exec(ctx, q, c.ID, c.CustomerNumber, c.Name, c.Email, c.Phone, c.OrgNumber,
		c.Address, c.ZipCode, c.City, c.Country, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("customer number %s: %w", c.CustomerNumber, errors.ErrAlreadyExists)
	}
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update customer", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListCustomers returns the workspace's customers ordered by name.
func (s *Store) ListCustomers(ctx context.Context, workspaceID string) ([]*models.Customer, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+customerColumns+` FROM customers WHERE workspace_id=$1 ORDER BY name, id`, workspaceID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list customers", Err: err}
	}
	defer rows.Close()

	var out []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan customer", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCustomer(row scanner) (*models.Customer, error) {
	var c models.Customer
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.CustomerNumber, &c.Name, &c.Email, &c.Phone,
		&c.OrgNumber, &c.Address, &c.ZipCode, &c.City, &c.Country, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

const upsertInvoiceSQL = `
INSERT INTO invoices (id, workspace_id, user_id, document_number, customer_number, customer_name,
  invoice_date, due_date, total, balance, currency, cancelled, sent, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (document_number, workspace_id) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  customer_number = EXCLUDED.customer_number,
  customer_name = EXCLUDED.customer_name,
  invoice_date = EXCLUDED.invoice_date,
  due_date = EXCLUDED.due_date,
  total = EXCLUDED.total,
  balance = EXCLUDED.balance,
  currency = EXCLUDED.currency,
  cancelled = EXCLUDED.cancelled,
  sent = EXCLUDED.sent,
  updated_at = EXCLUDED.updated_at`

// UpsertInvoices writes the batch in a single transaction.
func (s *Store) UpsertInvoices(ctx context.Context, invoices []*models.Invoice) (int, error) {
	if len(invoices) == 0 {
		return 0, nil
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "begin invoice upsert", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	for _, inv := range invoices {
		if inv.ID == "" {
			inv.ID = uuid.New().String()
		}
		if inv.CreatedAt.IsZero() {
			inv.CreatedAt = now
		}
		inv.UpdatedAt = now
		if _, err := tx.Exec(ctx, upsertInvoiceSQL, inv.ID, inv.WorkspaceID, inv.UserID, inv.DocumentNumber,
			inv.CustomerNumber, inv.CustomerName, inv.InvoiceDate, inv.DueDate, inv.Total, inv.Balance,
			inv.Currency, inv.Cancelled, inv.Sent, inv.CreatedAt, inv.UpdatedAt); err != nil {
			return 0, &errors.ErrDatabaseQuery{Operation: "upsert invoice " + inv.DocumentNumber, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "commit invoice upsert", Err: err}
	}
	return len(invoices), nil
}

// ListInvoices returns the workspace's invoices, newest first.
func (s *Store) ListInvoices(ctx context.Context, workspaceID string) ([]*models.Invoice, error) {
	const q = `
SELECT id, workspace_id, user_id, document_number, customer_number, customer_name,
  invoice_date, due_date, total, balance, currency, cancelled, sent, created_at, updated_at
FROM invoices WHERE workspace_id=$1
ORDER BY invoice_date DESC, document_number DESC`
	rows, err := s.Pool.Query(ctx, q, workspaceID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list invoices", Err: err}
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.WorkspaceID, &inv.UserID, &inv.DocumentNumber, &inv.CustomerNumber,
			&inv.CustomerName, &inv.InvoiceDate, &inv.DueDate, &inv.Total, &inv.Balance, &inv.Currency,
			&inv.Cancelled, &inv.Sent, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan invoice", Err: err}
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil || t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}
