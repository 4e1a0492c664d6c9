package store

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const customerColumns = `id, workspace_id, user_id, customer_number, name, email, phone,
	organisation_number, address, zip_code, city, country, created_at, updated_at`

// FindCustomerByNumber returns the row keyed by the provider customer number.
func (s *SQLiteStore) FindCustomerByNumber(ctx context.Context, workspaceID, customerNumber string) (*models.Customer, error) {
	if customerNumber == "" {
		return nil, errors.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE workspace_id = ? AND customer_number = ?
	`, workspaceID, customerNumber)
	return s.customerOrNotFound(row, "find customer by number")
}

// FindUnnumberedCustomerByName returns the oldest unnumbered row with exactly this name.
func (s *SQLiteStore) FindUnnumberedCustomerByName(ctx context.Context, workspaceID, name string) (*models.Customer, error) {
	if name == "" {
		return nil, errors.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE workspace_id = ? AND customer_number = '' AND name = ?
		ORDER BY created_at LIMIT 1
	`, workspaceID, name)
	return s.customerOrNotFound(row, "find customer by name")
}

func (s *SQLiteStore) customerOrNotFound(row *sql.Row, op string) (*models.Customer, error) {
	c, err := scanCustomer(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: op, Err: err}
	}
	return c, nil
}

// SaveCustomer inserts a new row (assigning an ID) or updates an existing one.
func (s *SQLiteStore) SaveCustomer(ctx context.Context, c *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c.UpdatedAt = now

	if c.ID == "" {
		c.ID = uuid.New().String()
		c.CreatedAt = now
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO customers (`+customerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.WorkspaceID, c.UserID, c.CustomerNumber, c.Name, c.Email, c.Phone,
			c.OrgNumber, c.Address, c.ZipCode, c.City, c.Country, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			c.ID = ""
			return &errors.ErrDatabaseQuery{Operation: "insert customer", Err: err}
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers SET
			customer_number = ?, name = ?, email = ?, phone = ?, organisation_number = ?,
			address = ?, zip_code = ?, city = ?, country = ?, updated_at = ?
		WHERE id = ?
	`, c.CustomerNumber, c.Name, c.Email, c.Phone, c.OrgNumber,
		c.Address, c.ZipCode, c.City, c.Country, c.UpdatedAt, c.ID)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update customer", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListCustomers returns the workspace's customers by name.
func (s *SQLiteStore) ListCustomers(ctx context.Context, workspaceID string) ([]*models.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE workspace_id = ? ORDER BY name, id
	`, workspaceID)
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

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.CustomerNumber, &c.Name, &c.Email, &c.Phone,
		&c.OrgNumber, &c.Address, &c.ZipCode, &c.City, &c.Country, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertInvoices writes the batch in one transaction keyed by (document_number, workspace_id).
func (s *SQLiteStore) UpsertInvoices(ctx context.Context, invoices []*models.Invoice) (int, error) {
	if len(invoices) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "begin invoice upsert", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO invoices (id, workspace_id, user_id, document_number, customer_number, customer_name,
			invoice_date, due_date, total, balance, currency, cancelled, sent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_number, workspace_id) DO UPDATE SET
			user_id = excluded.user_id,
			customer_number = excluded.customer_number,
			customer_name = excluded.customer_name,
			invoice_date = excluded.invoice_date,
			due_date = excluded.due_date,
			total = excluded.total,
			balance = excluded.balance,
			currency = excluded.currency,
			cancelled = excluded.cancelled,
			sent = excluded.sent,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "prepare invoice upsert", Err: err}
	}
	defer stmt.Close()

	now := s.now()
	written := 0
	for _, inv := range invoices {
		if inv.ID == "" {
			inv.ID = uuid.New().String()
		}
		if inv.CreatedAt.IsZero() {
			inv.CreatedAt = now
		}
		inv.UpdatedAt = now
		if _, err := stmt.ExecContext(ctx, inv.ID, inv.WorkspaceID, inv.UserID, inv.DocumentNumber,
			inv.CustomerNumber, inv.CustomerName, inv.InvoiceDate, inv.DueDate, inv.Total, inv.Balance,
			inv.Currency, inv.Cancelled, inv.Sent, inv.CreatedAt, inv.UpdatedAt); err != nil {
			return 0, &errors.ErrDatabaseQuery{Operation: "upsert invoice " + inv.DocumentNumber, Err: err}
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "commit invoice upsert", Err: err}
	}
	return written, nil
}

// ListInvoices returns the workspace's invoices, newest first.
func (s *SQLiteStore) ListInvoices(ctx context.Context, workspaceID string) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, document_number, customer_number, customer_name,
			invoice_date, due_date, total, balance, currency, cancelled, sent, created_at, updated_at
		FROM invoices WHERE workspace_id = ?
		ORDER BY invoice_date DESC, document_number DESC
	`, workspaceID)
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
