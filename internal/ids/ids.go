package ids

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for storage rows.
// ulid.Make uses process-wide monotonic entropy and is safe for concurrent use.
func New() string {
	return ulid.Make().String()
}

// NewAt returns an identifier whose time component is t.
func NewAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Valid reports whether s is a well-formed identifier.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(strings.TrimSpace(s)))
	return err == nil
}
