package model

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus is the collectibility state of a cached invoice.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid        InvoiceStatus = "unpaid"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// Collectible reports whether the invoice should still receive reminders.
func (s InvoiceStatus) Collectible() bool {
	return s == InvoiceStatusUnpaid || s == InvoiceStatusPartiallyPaid
}

// CachedInvoice is the local mirror of a remote invoice. Unique per
// (owner_id, remote_id); DueDate is required. CustomerID may be nil when the
// owning customer has not been synced yet.
type CachedInvoice struct {
	Base
	OwnerID          uuid.UUID  `json:"owner_id" db:"owner_id"`
	RemoteID         string     `json:"remote_id" db:"remote_id"`
	CustomerID       *uuid.UUID `json:"customer_id" db:"customer_id"`
	RemoteCustomerID string     `json:"remote_customer_id" db:"remote_customer_id"`

	InvoiceNumber string        `json:"invoice_number" db:"invoice_number"`
	TotalCents    int64         `json:"total_cents" db:"total_cents"`
	DueCents      int64         `json:"due_cents" db:"due_cents"`
	Currency      string        `json:"currency" db:"currency"`
	DueDate       time.Time     `json:"due_date" db:"due_date"`
	Status        InvoiceStatus `json:"status" db:"status"`

	ContentHash       string     `json:"content_hash" db:"content_hash"`
	RemoteUpdatedAt   *time.Time `json:"remote_updated_at" db:"remote_updated_at"`
	LocalLastSyncedAt time.Time  `json:"local_last_synced_at" db:"local_last_synced_at"`

	// RemindersCreated is a one-way gate: once a reminder schedule has been
	// generated for this invoice it is never regenerated, even if the due
	// date later changes.
	RemindersCreated bool `json:"reminders_created" db:"reminders_created"`
}
