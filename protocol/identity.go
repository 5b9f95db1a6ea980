package protocol

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// FoldIdentity returns the key two identities share when they only differ in
// case. Identities are compared with it everywhere.
func FoldIdentity(identity string) string {
	return cases.Fold().String(identity)
}

// ValidIdentity reports whether identity may be used as a display name. It must
// be between 1 and MaxIdentityLength encoded bytes made of letters, digits,
// '_', '-' and '.'.
func ValidIdentity(identity string) bool {
	if len(identity) == 0 || len(identity) > MaxIdentityLength {
		return false
	}

	if !utf8.ValidString(identity) {
		return false
	}

	for _, r := range identity {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}

	return true
}
