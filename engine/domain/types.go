// Package domain defines the core types, error taxonomy, and input
// validation for the ITP lookup pipeline. It acts as the validation gate at
// pipeline entry points.
package domain

import "time"

// Status classifies the outcome of a portal query for one vehicle.
type Status string

const (
	// StatusValid means the portal returned an inspection entry for the vehicle.
	StatusValid Status = "Valid"
	// StatusNotFound means the portal explicitly reported no matching record.
	StatusNotFound Status = "Not Found"
)

// LookupRequest is the immutable input of a single lookup.
type LookupRequest struct {
	// VIN is the vehicle identifier submitted to the portal. Normalized to
	// upper-case before submission.
	VIN string `json:"vin"`
	// OCRAPIKey is the hosted OCR backend key. Empty means the free tier.
	OCRAPIKey string `json:"ocr_api_key,omitempty"`
}

// InspectionRecord is the normalized result of one lookup. It is a value
// returned to the caller; the engine keeps no copy of it.
type InspectionRecord struct {
	VIN    string `json:"vin"`
	Status Status `json:"status"`
	// ExpirationDate is YYYY-MM-DD when the portal reported one, empty
	// otherwise. Empty is a valid state, not an error.
	ExpirationDate string    `json:"expiration_date,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// HasExpiration reports whether a machine-readable expiration date was found.
func (r InspectionRecord) HasExpiration() bool {
	return r.Status == StatusValid && r.ExpirationDate != ""
}
