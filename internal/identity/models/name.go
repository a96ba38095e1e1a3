package models

import (
	"strings"

	dErrors "nip05d/pkg/domain-errors"
)

const MaxNameLength = 50

// NormalizeName folds a requested handle into its canonical form: lowercase,
// restricted to [a-z0-9._-], starting with a letter or digit, 1 to 50 characters.
func NormalizeName(raw string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if isNameRune(r) {
			b.WriteRune(r)
		}
	}
	name := b.String()

	switch {
	case name == "":
		return "", dErrors.New(dErrors.CodeValidation, "username is empty after normalization")
	case len(name) > MaxNameLength:
		return "", dErrors.New(dErrors.CodeValidation, "username must be at most 50 characters")
	case !isAlnum(rune(name[0])):
		return "", dErrors.New(dErrors.CodeValidation, "username must start with a letter or digit")
	}
	return name, nil
}

func isNameRune(r rune) bool {
	return isAlnum(r) || r == '.' || r == '_' || r == '-'
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
