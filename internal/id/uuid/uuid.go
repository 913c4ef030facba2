// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings for job IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Sequence returns fixed IDs in order, then errors. Useful where tests need
// predictable job IDs.
type Sequence struct {
	ids  []string
	next int
}

// NewSequence builds a Sequence over ids.
func NewSequence(ids ...string) *Sequence {
	return &Sequence{ids: ids}
}

// NewID returns the next configured ID.
func (s *Sequence) NewID() (string, error) {
	if s.next >= len(s.ids) {
		return "", fmt.Errorf("id sequence exhausted after %d ids", len(s.ids))
	}
	id := s.ids[s.next]
	s.next++
	return id, nil
}
