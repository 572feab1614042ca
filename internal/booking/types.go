package booking

import (
	"errors"
	"fmt"
	"time"
)

// Criteria is the structured booking query distilled from one user message.
// It is produced once by the extractor, validated, and then treated as
// immutable for the lifetime of a single search.
type Criteria struct {
	Date      time.Time `json:"date"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Capacity  int       `json:"capacity"`
	Amenities []string  `json:"amenities,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
}

// Validate enforces the invariants the rest of the pipeline relies on.
func (c Criteria) Validate() error {
	if c.Date.IsZero() {
		return errors.New("criteria: date is required")
	}
	if c.Start.IsZero() || c.End.IsZero() {
		return errors.New("criteria: start and end times are required")
	}
	if !c.Start.Before(c.End) {
		return fmt.Errorf("criteria: start %s must be before end %s",
			c.Start.Format("15:04"), c.End.Format("15:04"))
	}
	if c.Capacity < 1 {
		return fmt.Errorf("criteria: capacity must be at least 1, got %d", c.Capacity)
	}
	return nil
}

// Duration is the requested meeting length.
func (c Criteria) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// RoomCandidate is one room offered by the portal for a given search. It is
// only meaningful within the lifetime of the search response that produced it.
type RoomCandidate struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Capacity       int       `json:"capacity"`
	Amenities      []string  `json:"amenities,omitempty"`
	AvailableFrom  time.Time `json:"available_from"`
	AvailableUntil time.Time `json:"available_until"`
}

// Request pairs a selected candidate with the criteria that found it.
// Each Request is submitted to the portal at most once.
type Request struct {
	RoomID   string   `json:"room_id"`
	Criteria Criteria `json:"criteria"`
	Purpose  string   `json:"purpose,omitempty"`
}

// Result is the terminal artifact of one booking submission.
type Result struct {
	Booked          bool   `json:"booked"`
	ConfirmationRef string `json:"confirmation_ref,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}
