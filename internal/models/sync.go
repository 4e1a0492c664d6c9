package models

import "time"

// Customer is the local mirror of an accounting customer.
// CustomerNumber is empty for rows created locally before the first sync.
type Customer struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	UserID         string    `json:"user_id"`
	CustomerNumber string    `json:"customer_number,omitempty"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	OrgNumber      string    `json:"organisation_number,omitempty"`
	Address        string    `json:"address,omitempty"`
	ZipCode        string    `json:"zip_code,omitempty"`
	City           string    `json:"city,omitempty"`
	Country        string    `json:"country,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Invoice is the local mirror of an accounting invoice, unique per
// (document_number, workspace_id).
type Invoice struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	UserID         string    `json:"user_id"`
	DocumentNumber string    `json:"document_number"`
	CustomerNumber string    `json:"customer_number,omitempty"`
	CustomerName   string    `json:"customer_name,omitempty"`
	InvoiceDate    string    `json:"invoice_date,omitempty"`
	DueDate        string    `json:"due_date,omitempty"`
	Total          float64   `json:"total"`
	Balance        float64   `json:"balance"`
	Currency       string    `json:"currency,omitempty"`
	Cancelled      bool      `json:"cancelled"`
	Sent           bool      `json:"sent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Paid reports whether nothing remains to be paid.
func (i Invoice) Paid() bool {
	return !i.Cancelled && i.Balance == 0
}

// Overdue reports whether the invoice is unpaid past its due date.
func (i Invoice) Overdue(now time.Time) bool {
	if i.Cancelled || i.Balance <= 0 || i.DueDate == "" {
		return false
	}
	due, err := time.Parse("2006-01-02", i.DueDate)
	if err != nil {
		return false
	}
	return now.After(due.Add(24 * time.Hour))
}
