package domain

import (
	"errors"
	"testing"
)

func TestNormalizeVIN(t *testing.T) {
	if got := NormalizeVIN("  wauzzz8k79a000000 "); got != "WAUZZZ8K79A000000" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestValidateVIN(t *testing.T) {
	cases := []struct {
		vin     string
		wantErr error
	}{
		{"WAUZZZ8K79A000000", nil},
		{"B-123456", nil}, // CIV-style identifier
		{"", ErrEmptyVIN},
		{"ab", ErrInvalidVIN},
		{"WAUZZZ8K79A00000!", ErrInvalidVIN},
	}
	for _, c := range cases {
		err := ValidateVIN(c.vin)
		if c.wantErr == nil {
			if err != nil {
				t.Errorf("ValidateVIN(%q): unexpected error %v", c.vin, err)
			}
			continue
		}
		if !errors.Is(err, c.wantErr) {
			t.Errorf("ValidateVIN(%q) = %v, want %v", c.vin, err, c.wantErr)
		}
	}
}

func TestIsStrictVIN(t *testing.T) {
	if !IsStrictVIN("wauzzz8k79a000000") {
		t.Error("expected 17-char VIN to be strict")
	}
	if IsStrictVIN("WAUZZZ8I79A000000") { // contains I
		t.Error("VIN with letter I must not be strict")
	}
	if IsStrictVIN("B-123456") {
		t.Error("CIV identifier must not be strict")
	}
}

func TestLookupErrorUnwrap(t *testing.T) {
	err := NewLookupError("submit", ErrTimeout)
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected errors.Is to see the sentinel through the wrapper")
	}
	agg := &AggregatedError{VIN: "X", Attempts: 3, Cause: err}
	if !errors.Is(agg, ErrTimeout) {
		t.Fatal("expected errors.Is to see the sentinel through AggregatedError")
	}
}

func TestHasExpiration(t *testing.T) {
	r := InspectionRecord{Status: StatusValid, ExpirationDate: "2026-03-05"}
	if !r.HasExpiration() {
		t.Error("expected expiration present")
	}
	r = InspectionRecord{Status: StatusNotFound, ExpirationDate: ""}
	if r.HasExpiration() {
		t.Error("not-found record must not report expiration")
	}
}
