// Package runid generates time-ordered identifiers for pipeline runs and records.
package runid

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, so IDs sort by creation time.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Sequence hands out fixed IDs in order; it is meant for tests and falls back
// to "id-N" once the list is exhausted.
type Sequence struct {
	IDs  []string
	mu   sync.Mutex
	next int
}

// NewID returns the next ID in the sequence.
func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	if s.next <= len(s.IDs) {
		return s.IDs[s.next-1], nil
	}
	return fmt.Sprintf("id-%d", s.next), nil
}
