package model

import (
	"time"

	"github.com/google/uuid"
)

// CachedCustomer is the local mirror of a remote accounting customer.
// Unique per (owner_id, remote_id). The contact person list is stored as an
// opaque blob; only the resolved phone/email derived from it are first-class.
type CachedCustomer struct {
	Base
	OwnerID     uuid.UUID `json:"owner_id" db:"owner_id"`
	RemoteID    string    `json:"remote_id" db:"remote_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CompanyName string    `json:"company_name" db:"company_name"`

	// PrimaryPhone and PrimaryEmail are resolved locally from the remote
	// record and its contact persons; a change to either must change the
	// content hash even though they are not verbatim remote fields.
	PrimaryPhone *string `json:"primary_phone" db:"primary_phone"`
	PrimaryEmail *string `json:"primary_email" db:"primary_email"`

	ContactsRaw []byte `json:"contacts_raw" db:"contacts_raw"`

	RemoteUpdatedAt *time.Time `json:"remote_updated_at" db:"remote_updated_at"`
	// LocalLastSyncedAt is touched on every sync observation, including
	// unchanged ones. A stale value marks a candidate remote deletion.
	LocalLastSyncedAt time.Time `json:"local_last_synced_at" db:"local_last_synced_at"`
	ContentHash       string    `json:"content_hash" db:"content_hash"`
}
