package bus

import "testing"

func TestSubjects(t *testing.T) {
	if got := RecordSubject("wauzzz8k79a000000"); got != "itp.record.WAUZZZ8K79A000000" {
		t.Fatalf("RecordSubject = %q", got)
	}
	if got := CheckSubject("B 12 ABC"); got != "itp.check.B_12_ABC" {
		t.Fatalf("CheckSubject = %q", got)
	}
	if got := CheckSubjectAll(); got != "itp.check.*" {
		t.Fatalf("CheckSubjectAll = %q", got)
	}
}

func TestSanitizeToken(t *testing.T) {
	cases := map[string]string{
		"abc.def": "ABC_DEF",
		"a*b>c":   "A_B_C",
		"plain":   "PLAIN",
	}
	for in, want := range cases {
		if got := sanitizeToken(in); got != want {
			t.Errorf("sanitizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}
