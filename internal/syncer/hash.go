package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/duespark/collector-api/internal/accounting"
)

// fieldSep keeps adjacent fields from colliding ("ab"+"c" vs "a"+"bc").
const fieldSep = "\x1f"

// hashFields digests the significant fields of a record in a fixed order.
// The digest is only ever compared for equality, never decoded.
func hashFields(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, fieldSep)))
	return hex.EncodeToString(sum[:])
}

func timeMarker(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

// HashCustomer fingerprints a remote customer together with the locally
// resolved phone and email, so a change in resolution alone still updates
// the cache.
func HashCustomer(c *accounting.Customer, resolvedPhone, resolvedEmail string) string {
	contacts, _ := json.Marshal(c.ContactPersons)
	return hashFields(
		c.DisplayName,
		c.CompanyName,
		resolvedPhone,
		resolvedEmail,
		string(contacts),
		timeMarker(c.UpdatedAt),
	)
}

// HashInvoice fingerprints the significant fields of a remote invoice.
func HashInvoice(inv *accounting.Invoice) string {
	return hashFields(
		inv.CustomerID,
		inv.Number,
		strconv.FormatInt(inv.TotalCents, 10),
		strconv.FormatInt(inv.DueCents, 10),
		inv.Currency,
		inv.DueDate.UTC().Format(time.RFC3339),
		inv.Status,
		timeMarker(inv.UpdatedAt),
	)
}
