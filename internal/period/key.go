// Package period identifies a slot of a student's progress ledger. Lessons are
// addressed by name and weeks by number; both share one canonical text form so
// storage never keeps two representations.
package period

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tutorledger/tutorledger/internal/shared"
)

// Kind distinguishes the two addressing schemes.
type Kind uint8

const (
	// KindInvalid is the zero Kind.
	KindInvalid Kind = iota
	// KindName addresses a named lesson.
	KindName
	// KindNumber addresses a numbered week.
	KindNumber
)

const (
	namePrefix   = "lesson:"
	numberPrefix = "week:"
)

// ErrInvalidKey indicates a malformed period key.
var ErrInvalidKey = fmt.Errorf("period: invalid key: %w", shared.ErrValidation)

// Key is a comparable tagged variant usable as a map key.
type Key struct {
	kind   Kind
	name   string
	number int
}

// ByName builds a lesson key. Names are trimmed and NFC-normalised so that
// visually identical lesson names map to the same slot.
func ByName(name string) (Key, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return Key{}, fmt.Errorf("%w: empty lesson name", ErrInvalidKey)
	}
	return Key{kind: KindName, name: name}, nil
}

// ByNumber builds a week key. Weeks start at 1.
func ByNumber(n int) (Key, error) {
	if n < 1 {
		return Key{}, fmt.Errorf("%w: week %d", ErrInvalidKey, n)
	}
	return Key{kind: KindNumber, number: n}, nil
}

// FromPosition maps a zero-based position of the legacy weeks array to its week key.
func FromPosition(i int) Key {
	return Key{kind: KindNumber, number: i + 1}
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Parse reads the canonical form produced by String.
func Parse(s string) (Key, error) {
	switch {
	case strings.HasPrefix(s, namePrefix):
		return ByName(strings.TrimPrefix(s, namePrefix))
	case strings.HasPrefix(s, numberPrefix):
		n, err := strconv.Atoi(strings.TrimPrefix(s, numberPrefix))
		if err != nil {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
		return ByNumber(n)
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
}

// Kind reports the addressing scheme.
func (k Key) Kind() Kind { return k.kind }

// Name returns the lesson name, empty for week keys.
func (k Key) Name() string { return k.name }

// Number returns the week number, zero for lesson keys.
func (k Key) Number() int { return k.number }

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k.kind == KindInvalid }

// String returns the canonical storage form.
func (k Key) String() string {
	switch k.kind {
	case KindName:
		return namePrefix + k.name
	case KindNumber:
		return numberPrefix + strconv.Itoa(k.number)
	default:
		return ""
	}
}

// Less orders weeks numerically before lessons alphabetically.
func (k Key) Less(other Key) bool {
	if k.kind != other.kind {
		return k.kind > other.kind
	}
	if k.kind == KindNumber {
		return k.number < other.number
	}
	return k.name < other.name
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return nil, ErrInvalidKey
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
