package formflow

import "regexp"

// MaxIdentifierLength bounds form, field, workflow, phase and transition ids.
const MaxIdentifierLength = 64

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidIdentifier reports whether id is 1..64 characters of [a-zA-Z0-9_-].
func ValidIdentifier(id string) bool {
	if id == "" || len(id) > MaxIdentifierLength {
		return false
	}
	return identifierPattern.MatchString(id)
}
