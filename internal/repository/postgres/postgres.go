package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/duespark/collector-api/internal/repository"
)

type customerRepository struct {
	db *sqlx.DB
}

type invoiceRepository struct {
	db *sqlx.DB
}

type reminderRepository struct {
	db *sqlx.DB
}

type policyRepository struct {
	db *sqlx.DB
}

type syncRunRepository struct {
	db *sqlx.DB
}

func NewCustomerRepository(db *sqlx.DB) repository.CustomerRepository {
	return &customerRepository{db: db}
}

func NewInvoiceRepository(db *sqlx.DB) repository.InvoiceRepository {
	return &invoiceRepository{db: db}
}

func NewReminderRepository(db *sqlx.DB) repository.ReminderRepository {
	return &reminderRepository{db: db}
}

func NewPolicyRepository(db *sqlx.DB) repository.PolicyRepository {
	return &policyRepository{db: db}
}

func NewSyncRunRepository(db *sqlx.DB) repository.SyncRunRepository {
	return &syncRunRepository{db: db}
}
