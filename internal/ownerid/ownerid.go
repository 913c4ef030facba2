// Package ownerid distinguishes provisional owner identifiers, minted before
// the caller's parent entity exists, from final ones.
package ownerid

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks identifiers minted before the owner exists.
const ProvisionalPrefix = "tmp_"

// Kind tells provisional and final identifiers apart.
type Kind int

// Kinds.
const (
	KindProvisional Kind = iota + 1
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindProvisional:
		return "provisional"
	case KindFinal:
		return "final"
	default:
		return "invalid"
	}
}

var (
	// ErrEmpty is returned for blank identifiers.
	ErrEmpty = errors.New("owner id is empty")
	// ErrMalformed is returned when an identifier is neither provisional nor a canonical UUID.
	ErrMalformed = errors.New("owner id is malformed")
	// ErrNotFinal is returned by ParseFinal for provisional identifiers.
	ErrNotFinal = errors.New("owner id is not final")
	// ErrNotProvisional is returned by ParseProvisional for final identifiers.
	ErrNotProvisional = errors.New("owner id is not provisional")
)

// ID is a parsed owner identifier.
type ID struct {
	raw  string
	kind Kind
}

// Parse classifies s. Final IDs must be canonical lowercase UUIDs;
// provisional IDs are ProvisionalPrefix followed by one.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, ErrEmpty
	}
	if rest, ok := strings.CutPrefix(s, ProvisionalPrefix); ok {
		if !canonical(rest) {
			return ID{}, ErrMalformed
		}
		return ID{raw: s, kind: KindProvisional}, nil
	}
	if !canonical(s) {
		return ID{}, ErrMalformed
	}
	return ID{raw: s, kind: KindFinal}, nil
}

// ParseFinal parses s and requires a final identifier.
func ParseFinal(s string) (ID, error) {
	id, err := Parse(s)
	if err != nil {
		return ID{}, err
	}
	if id.kind != KindFinal {
		return ID{}, ErrNotFinal
	}
	return id, nil
}

// ParseProvisional parses s and requires a provisional identifier.
func ParseProvisional(s string) (ID, error) {
	id, err := Parse(s)
	if err != nil {
		return ID{}, err
	}
	if id.kind != KindProvisional {
		return ID{}, ErrNotProvisional
	}
	return id, nil
}

// NewProvisional mints a fresh provisional identifier.
func NewProvisional() (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return ID{}, err
	}
	return ID{raw: ProvisionalPrefix + u.String(), kind: KindProvisional}, nil
}

func (id ID) String() string { return id.raw }

// Kind returns the identifier kind; the zero ID has no valid kind.
func (id ID) Kind() Kind { return id.kind }

// IsProvisional reports whether id was minted before the owner existed.
func (id ID) IsProvisional() bool { return id.kind == KindProvisional }

// IsFinal reports whether id names an existing owner.
func (id ID) IsFinal() bool { return id.kind == KindFinal }

func canonical(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.String() == s
}
