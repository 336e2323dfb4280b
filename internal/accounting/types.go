package accounting

import "time"

// ContactPerson is one person attached to a remote customer record.
type ContactPerson struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Phone     string `json:"phone"`
	IsPrimary bool   `json:"is_primary"`
}

// Customer is a remote accounting customer as returned by the source API.
type Customer struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"display_name"`
	CompanyName    string          `json:"company_name"`
	Mobile         string          `json:"mobile"`
	Phone          string          `json:"phone"`
	Email          string          `json:"email"`
	ContactPersons []ContactPerson `json:"contact_persons"`
	UpdatedAt      *time.Time      `json:"updated_at"`
}

// Invoice is a remote invoice. Amounts are integer cents.
type Invoice struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	Number     string     `json:"number"`
	TotalCents int64      `json:"total_cents"`
	DueCents   int64      `json:"due_cents"`
	Currency   string     `json:"currency"`
	DueDate    time.Time  `json:"due_date"`
	Status     string     `json:"status"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

// CustomerPage is one page of customers plus the pagination marker.
type CustomerPage struct {
	Records []Customer `json:"records"`
	HasMore bool       `json:"has_more"`
}

// InvoicePage is one page of invoices plus the pagination marker.
type InvoicePage struct {
	Records []Invoice `json:"records"`
	HasMore bool      `json:"has_more"`
}
