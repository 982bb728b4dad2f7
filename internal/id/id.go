// Package id generates the opaque 128-bit hex identifiers used throughout
// the data model (spec.md §3: "all identifiers are opaque 128-bit hex
// values unless stated").
package id

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a random UUIDv4 rendered as 32 lowercase hex characters (no
// dashes), matching the Python source's uuid4().hex convention.
func New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
