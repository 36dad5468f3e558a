package domain

import (
	"fmt"
	"strings"
)

const MaxUsernameLength = 12

// StandardizeUsername normalizes a name for equality and uniqueness checks:
// trim, collapse runs of separators ('-', '_', space) into single spaces,
// lowercase.
func StandardizeUsername(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if r == ' ' || r == '-' || r == '_' {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DisplayUsername sanitizes a name while preserving the submitted casing:
// trim, collapse runs of separators into single spaces. Capitalization is
// the player's own and is kept, so "ZeziMa" and "Zezima" stay distinct
// display forms of the same standardized username.
func DisplayUsername(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSpace := false
	for _, r := range strings.TrimSpace(name) {
		if r == ' ' || r == '-' || r == '_' {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidateUsername checks the standardized form of a name against the
// username shape rule: 1-12 characters, alphanumeric and single spaces only.
func ValidateUsername(standardized string) error {
	if len(standardized) == 0 {
		return fmt.Errorf("%w: username must not be empty", ErrInvalidUsername)
	}
	if len(standardized) > MaxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d characters", ErrInvalidUsername, MaxUsernameLength)
	}
	if strings.HasPrefix(standardized, " ") || strings.HasSuffix(standardized, " ") {
		return fmt.Errorf("%w: username must not start or end with a space", ErrInvalidUsername)
	}
	for _, r := range standardized {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == ' ':
		default:
			return fmt.Errorf("%w: username contains invalid character %q", ErrInvalidUsername, r)
		}
	}
	return nil
}
