// Package captcha solves the portal's numeric challenge images. Two backends
// implement the same contract: a hosted OCR API and a local preprocessing
// pipeline with a pluggable recognizer. Retry policy belongs to the caller;
// a Solver makes exactly one recognition attempt per call.
package captcha

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/itpwatch/itpwatch/engine/domain"
)

// codeRegex is the only shape the portal issues: 4 to 6 decimal digits.
var codeRegex = regexp.MustCompile(`^\d{4,6}$`)

// Solver converts a challenge image to digit text.
type Solver interface {
	// Solve returns the recognized code, guaranteed to match ^\d{4,6}$.
	// Anything else is an error wrapping one of the domain sentinels.
	Solve(ctx context.Context, image []byte) (string, error)
}

// ValidateCode checks recognized text against the expected code shape.
// A wrong shape is a failure, never a partial success.
func ValidateCode(text string) (string, error) {
	code := strings.TrimSpace(text)
	if !codeRegex.MatchString(code) {
		return "", fmt.Errorf("%w: %q", domain.ErrCaptchaInvalidFormat, code)
	}
	return code, nil
}

// SanitizeDigits strips every non-digit character. OCR output may interleave
// punctuation or whitespace with the digits; the portal wants digits only.
func SanitizeDigits(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
