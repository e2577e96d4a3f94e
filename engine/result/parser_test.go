package result

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/itpwatch/itpwatch/engine/domain"
)

var fixedNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func testParser() *Parser {
	return &Parser{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return fixedNow },
	}
}

func TestParseCurrentFormat(t *testing.T) {
	html := `<html><body>
<div id="rezbgcolor">
  <b>Inspecția tehnică periodică</b> este valabilă până la 5-mar-2026.
</div></body></html>`

	rec := testParser().Parse("wauzzz8k79a000000", html)
	if rec.Status != domain.StatusValid {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.ExpirationDate != "2026-03-05" {
		t.Fatalf("expiration = %q, want 2026-03-05", rec.ExpirationDate)
	}
	if rec.VIN != "WAUZZZ8K79A000000" {
		t.Fatalf("vin = %q", rec.VIN)
	}
	if !rec.CheckedAt.Equal(fixedNow) {
		t.Fatalf("checkedAt = %v", rec.CheckedAt)
	}
}

func TestParseCurrentFormatVariants(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{"two digit day", `<div id=rezbgcolor>valabilă până la 17-oct-2027</div>`, "2027-10-17"},
		{"four letter month", `<div id=rezbgcolor>valabilă până la 1-sept-2026</div>`, "2026-09-01"},
		{"trailing period", `<div id=rezbgcolor>valabilă până la 5-mar-2026.</div>`, "2026-03-05"},
		{"upper case page", `<DIV ID=REZBGCOLOR>VALABILĂ PÂNĂ LA 5-MAR-2026</DIV>`, "2026-03-05"},
		{"markup between", `<div id="rezbgcolor">valabilă până la <b>9-iun-2026</b></div>`, "2026-06-09"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := testParser().Parse("VIN12345", c.html)
			if rec.Status != domain.StatusValid {
				t.Fatalf("status = %q", rec.Status)
			}
			if rec.ExpirationDate != c.want {
				t.Fatalf("expiration = %q, want %q", rec.ExpirationDate, c.want)
			}
		})
	}
}

func TestParseUnknownMonthFallsBackToJanuary(t *testing.T) {
	html := `<div id=rezbgcolor>valabilă până la 5-xyz-2026</div>`
	rec := testParser().Parse("VIN12345", html)
	if rec.ExpirationDate != "2026-01-05" {
		t.Fatalf("expiration = %q, want january fallback", rec.ExpirationDate)
	}
}

func TestParseLegacyFormat(t *testing.T) {
	html := `<div id="rezbgcolor">
<table><tr><td>Data expirării</td><td>05.03.2026</td></tr></table>
</div>`
	rec := testParser().Parse("VIN12345", html)
	if rec.Status != domain.StatusValid {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.ExpirationDate != "2026-03-05" {
		t.Fatalf("expiration = %q, want 2026-03-05", rec.ExpirationDate)
	}
}

func TestParseLegacySingleDigitTokens(t *testing.T) {
	html := `<div id=rezbgcolor>Data expirării: 5.3.2026</div>`
	rec := testParser().Parse("VIN12345", html)
	if rec.ExpirationDate != "2026-03-05" {
		t.Fatalf("expiration = %q", rec.ExpirationDate)
	}
}

func TestParseNotFound(t *testing.T) {
	// A date elsewhere in the fragment must not leak into a not-found record.
	html := `<div id="rezbgcolor">
Nu a fost găsită nicio înregistrare pentru identificatorul introdus.
Programări disponibile până la 9-mai-2026.
</div>`
	rec := testParser().Parse("VIN12345", html)
	if rec.Status != domain.StatusNotFound {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.ExpirationDate != "" {
		t.Fatalf("expiration = %q, want empty", rec.ExpirationDate)
	}
}

func TestParseValidWithoutDate(t *testing.T) {
	html := `<div id=rezbgcolor>Vehiculul figurează cu inspecție tehnică periodică.</div>`
	rec := testParser().Parse("VIN12345", html)
	if rec.Status != domain.StatusValid {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.ExpirationDate != "" {
		t.Fatalf("expiration = %q, want empty (absent date is not an error)", rec.ExpirationDate)
	}
}

func TestParseWithoutContainerFallsBackToPage(t *testing.T) {
	html := `<html><body><p>valabilă până la 5-mar-2026</p></body></html>`
	rec := testParser().Parse("VIN12345", html)
	if rec.ExpirationDate != "2026-03-05" {
		t.Fatalf("expiration = %q", rec.ExpirationDate)
	}
}

func TestParseContainerScopesMatching(t *testing.T) {
	// The not-found phrase inside the container wins over chrome text outside it.
	html := `<div class="chrome">valabilă până la 1-ian-2099</div>
<div id="rezbgcolor">nu a fost găsită nicio înregistrare</div>`
	rec := testParser().Parse("VIN12345", html)
	if rec.Status != domain.StatusNotFound {
		t.Fatalf("status = %q", rec.Status)
	}
}

func TestParseMalformedDateDegrades(t *testing.T) {
	html := `<div id=rezbgcolor>valabilă până la cândva</div>`
	rec := testParser().Parse("VIN12345", html)
	if rec.Status != domain.StatusValid || rec.ExpirationDate != "" {
		t.Fatalf("rec = %+v, want valid without date", rec)
	}
}

func TestDaysUntil(t *testing.T) {
	today := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

	if d, ok := DaysUntil("2026-03-05", today); !ok || d != 4 {
		t.Fatalf("DaysUntil = %d, %v; want 4, true", d, ok)
	}
	if d, ok := DaysUntil("2026-02-27", today); !ok || d != -2 {
		t.Fatalf("DaysUntil = %d, %v; want -2, true", d, ok)
	}
	if _, ok := DaysUntil("", today); ok {
		t.Fatal("absent date must be unknown")
	}
	if _, ok := DaysUntil("garbage", today); ok {
		t.Fatal("malformed date must be unknown")
	}
	// Pure: same inputs, same answer.
	a, _ := DaysUntil("2026-03-05", today)
	b, _ := DaysUntil("2026-03-05", today)
	if a != b {
		t.Fatal("DaysUntil is not deterministic")
	}
}
