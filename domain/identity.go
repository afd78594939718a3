package domain

import (
	"strings"

	"github.com/google/uuid"
)

// provisionalPrefix keeps client-synthesized identifiers out of the confirmed
// identity space; the server never issues ids with this prefix.
const provisionalPrefix = "tmp-"

// NewProvisionalID synthesizes a placeholder identity for a record created
// locally but not yet confirmed by the server.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id was synthesized by NewProvisionalID.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}
