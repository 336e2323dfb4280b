package syncer

import (
	"strings"

	"github.com/duespark/collector-api/internal/accounting"
)

// ResolvePhone picks the authoritative outreach number for a customer.
// Record-level numbers outrank contact-person numbers: organization lines
// have proven more reliable than individual contacts, so the order below is
// a business decision, not a style choice.
//
//  1. record mobile
//  2. record phone
//  3. primary contact person mobile
//  4. primary contact person phone
//  5. first contact person mobile
//  6. first contact person phone
//
// Returns nil when no candidate survives trimming. No format validation
// happens here; that belongs to the channel provider at dispatch time.
func ResolvePhone(c *accounting.Customer) *string {
	if p := clean(c.Mobile); p != nil {
		return p
	}
	if p := clean(c.Phone); p != nil {
		return p
	}

	if primary := primaryContact(c.ContactPersons); primary != nil {
		if p := clean(primary.Mobile); p != nil {
			return p
		}
		if p := clean(primary.Phone); p != nil {
			return p
		}
	}

	if len(c.ContactPersons) > 0 {
		first := c.ContactPersons[0]
		if p := clean(first.Mobile); p != nil {
			return p
		}
		if p := clean(first.Phone); p != nil {
			return p
		}
	}

	return nil
}

// ResolveEmail mirrors the phone chain for email addresses: record first,
// then primary contact, then first contact in list order.
func ResolveEmail(c *accounting.Customer) *string {
	if e := clean(c.Email); e != nil {
		return e
	}
	if primary := primaryContact(c.ContactPersons); primary != nil {
		if e := clean(primary.Email); e != nil {
			return e
		}
	}
	if len(c.ContactPersons) > 0 {
		if e := clean(c.ContactPersons[0].Email); e != nil {
			return e
		}
	}
	return nil
}

func primaryContact(contacts []accounting.ContactPerson) *accounting.ContactPerson {
	for i := range contacts {
		if contacts[i].IsPrimary {
			return &contacts[i]
		}
	}
	return nil
}

func clean(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
