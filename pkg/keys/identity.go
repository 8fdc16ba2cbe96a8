package keys

import (
	"strings"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

// IDSeparator separates the identity from the content hash in document ids.
const IDSeparator = "\x1f"

// Identity is the persistent id of the record owning an index entry.
type Identity string

// Validate rejects empty identities and identities containing IDSeparator.
func (id Identity) Validate() error {
	if id == "" {
		return ixerrors.InvalidKey("identity must not be empty")
	}
	if strings.Contains(string(id), IDSeparator) {
		return ixerrors.InvalidKey("identity must not contain the unit separator")
	}
	return nil
}

// IdentityFromDocID recovers the identity prefix of a document id.
func IdentityFromDocID(docID string) Identity {
	if i := strings.LastIndex(docID, IDSeparator); i >= 0 {
		return Identity(docID[:i])
	}
	return Identity(docID)
}
