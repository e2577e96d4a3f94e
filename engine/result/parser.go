// Package result turns the portal's post-submission HTML into a normalized
// inspection record. The page has drifted across portal revisions, so
// classification is lexical and deliberately lenient: a record with a known
// status and no date beats a hard failure.
package result

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/itpwatch/itpwatch/engine/domain"
)

// Localized phrases the classification keys on. Lower-case; all matching is
// case-insensitive.
const (
	phraseNotFound   = "nu a fost găsită nicio înregistrare"
	phraseValidUntil = "valabilă până la"
	phraseLegacyDate = "data expirării"
)

// monthAbbrev maps Romanian month abbreviations, as printed by the portal,
// to two-digit month numbers.
var monthAbbrev = map[string]string{
	"ian": "01", "feb": "02", "mar": "03", "apr": "04",
	"mai": "05", "iun": "06", "iul": "07", "aug": "08",
	"sept": "09", "oct": "10", "nov": "11", "dec": "12",
}

var (
	containerRe = regexp.MustCompile(`(?is)<div\b[^>]*\bid\s*=\s*["']?rezbgcolor["']?[^>]*>(.*?)</div>`)
	tagRe       = regexp.MustCompile(`(?s)<[^>]*>`)
	// Current format date token: D-MMM-YYYY, e.g. 5-mar-2026.
	currentDateRe = regexp.MustCompile(`(\d{1,2})-([a-zăâî]{3,4})-(\d{4})`)
	// Legacy format date token: DD.MM.YYYY.
	legacyDateRe = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
)

// Parser classifies result pages. The zero value is usable; Logger makes the
// lenient month fallback visible.
type Parser struct {
	Logger *slog.Logger
	// Now is the clock used to stamp CheckedAt. Nil means time.Now.
	Now func() time.Time
}

// Parse builds the record for one submission response.
func (p *Parser) Parse(vin, html string) domain.InspectionRecord {
	rec := domain.InspectionRecord{
		VIN:       domain.NormalizeVIN(vin),
		Status:    domain.StatusNotFound,
		CheckedAt: p.now(),
	}

	// Scope matching to the result container when present. Falling back to
	// the full page keeps old portal revisions working.
	text := html
	if m := containerRe.FindStringSubmatch(html); m != nil {
		text = m[1]
	}
	text = normalizeText(text)
	lower := strings.ToLower(text)

	if strings.Contains(lower, phraseNotFound) {
		return rec
	}
	rec.Status = domain.StatusValid
	rec.ExpirationDate = p.extractDate(lower)
	return rec
}

// extractDate tries the two known expiration formats in order, newest first.
// No match is not an error; the record simply carries no date.
func (p *Parser) extractDate(lower string) string {
	if i := strings.Index(lower, phraseValidUntil); i >= 0 {
		if d := p.parseCurrent(lower[i+len(phraseValidUntil):]); d != "" {
			return d
		}
	}
	if i := strings.Index(lower, phraseLegacyDate); i >= 0 {
		if d := parseLegacy(lower[i+len(phraseLegacyDate):]); d != "" {
			return d
		}
	}
	return ""
}

// parseCurrent reads a D-MMM-YYYY token following the "valid until" phrase.
func (p *Parser) parseCurrent(rest string) string {
	m := currentDateRe.FindStringSubmatch(rest)
	if m == nil {
		return ""
	}
	day, abbrev, year := m[1], m[2], m[3]
	month, ok := monthAbbrev[abbrev]
	if !ok {
		// Deliberate lenient fallback, kept from the portal's long history of
		// format drift. Logged distinctly because it can mis-record the month.
		p.logger().Warn("unrecognized month abbreviation, defaulting to january",
			"token", abbrev)
		month = "01"
	}
	return fmt.Sprintf("%s-%s-%s", year, month, pad2(day))
}

// parseLegacy reads a DD.MM.YYYY token following the legacy label.
func parseLegacy(rest string) string {
	m := legacyDateRe.FindStringSubmatch(rest)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", m[3], pad2(m[2]), pad2(m[1]))
}

// pad2 zero-pads a day or month token to two digits.
func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// normalizeText reduces an HTML fragment to trimmed text lines, one per
// element, so phrase matching is not confused by markup.
func normalizeText(fragment string) string {
	text := tagRe.ReplaceAllString(fragment, "\n")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *Parser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Parser) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
