package types

import (
	"fmt"
	"strings"
)

const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

// AccountID is an opaque account identifier assigned by the host platform.
// IDs are lowercase, dot-separated labels of alphanumerics, '_' and '-',
// between 2 and 64 characters.
type AccountID string

func (a AccountID) String() string { return string(a) }

// IsZero reports whether the identifier is empty.
func (a AccountID) IsZero() bool { return strings.TrimSpace(string(a)) == "" }

// Valid reports whether the identifier satisfies the platform's account
// naming rules.
func (a AccountID) Valid() bool {
	s := string(a)
	if len(s) < minAccountIDLen || len(s) > maxAccountIDLen {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if len(label) == 0 {
			return false
		}
		if label[0] == '-' || label[0] == '_' || label[len(label)-1] == '-' || label[len(label)-1] == '_' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z':
			case c >= '0' && c <= '9':
			case c == '-' || c == '_':
			default:
				return false
			}
		}
	}
	return true
}

// ParseAccountID validates and normalises a raw account identifier.
func ParseAccountID(raw string) (AccountID, error) {
	id := AccountID(strings.TrimSpace(raw))
	if !id.Valid() {
		return "", fmt.Errorf("invalid account id: %q", raw)
	}
	return id, nil
}
