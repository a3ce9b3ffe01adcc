// Package ulid issues lexicographically sortable identifiers.
package ulid

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type source struct {
	mu      sync.Mutex
	entropy io.Reader
}

var ids = &source{entropy: ulid.Monotonic(rand.Reader, 0)}

func (s *source) at(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// New returns a ULID for the current instant.
func New() string {
	return ids.at(time.Now())
}

// At returns a ULID stamped with t. IDs issued within the same millisecond
// stay ordered.
func At(t time.Time) string {
	return ids.at(t)
}

// IsValid reports whether s parses as a ULID.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time extracts the timestamp encoded in s.
func Time(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
