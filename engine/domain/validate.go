package domain

import (
	"regexp"
	"strings"
)

// Strict VIN format: 17 alphanumeric characters, excluding I, O, Q.
var vinRegex = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// Lenient identifier format accepted by the portal. Besides full VINs the
// search field takes older CIV-style identifiers, so the lookup only requires
// a reasonable identifier shape.
var identRegex = regexp.MustCompile(`^[A-Z0-9-]{4,17}$`)

// NormalizeVIN trims whitespace and upper-cases the identifier, the form the
// portal expects.
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// ValidateVIN checks that a (normalized) identifier is submittable.
func ValidateVIN(vin string) error {
	if vin == "" {
		return NewLookupError("validate", ErrEmptyVIN)
	}
	if !identRegex.MatchString(vin) {
		return NewLookupError("validate", ErrInvalidVIN)
	}
	return nil
}

// IsStrictVIN reports whether the identifier is a well-formed 17-character
// VIN. Informational only; the portal accepts more.
func IsStrictVIN(vin string) bool {
	return vinRegex.MatchString(NormalizeVIN(vin))
}
