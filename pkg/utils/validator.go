package utils

import (
	"fmt"
	"regexp"
)

var codePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,63}$`)

// ValidateCode validates a machine-readable identifier (flow codes, role
// codes, target types): alphanumeric start, then letters, digits, dot,
// underscore or hyphen, at most 64 characters.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("invalid code format: %q", code)
	}
	return nil
}

// SanitizeString removes control characters from free-form text
func SanitizeString(s string) string {
	return regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, "")
}
