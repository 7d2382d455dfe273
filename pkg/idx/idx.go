// Package idx mints ULIDs for users, pending logins and request ids.
package idx

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID in canonical form.
type ID string

// The monotonic reader keeps IDs from the same millisecond ordered; it is
// not safe for concurrent use.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

func New() ID {
	return NewAt(time.Now())
}

// NewAt stamps the ID with t.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(t.UTC()), entropy).String())
}

func (id ID) String() string { return string(id) }
