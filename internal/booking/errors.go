package booking

import "fmt"

// DriverErrorKind classifies failures reported by the portal driver.
type DriverErrorKind string

const (
	DriverTimeout             DriverErrorKind = "timeout"
	DriverUnexpectedPageShape DriverErrorKind = "unexpected_page_shape"
	DriverUnknown             DriverErrorKind = "unknown"
)

// DriverError is a typed failure from the portal driver surface. The driver
// never retries on its own; retry policy lives in the orchestrator.
type DriverError struct {
	Kind   DriverErrorKind
	Op     string
	Detail string
	Err    error
}

func (e *DriverError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("portal driver %s: %s: %s", e.Op, e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("portal driver %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("portal driver %s: %s", e.Op, e.Kind)
}

func (e *DriverError) Unwrap() error { return e.Err }

// ConflictError reports that the portal rejected a booking because the slot
// was taken between search and submission. It is a user-visible business
// outcome, never silently retried: re-searching with stale criteria could
// book the wrong slot.
type ConflictError struct {
	RoomID string
	Detail string
}

func (e *ConflictError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("room %s no longer available: %s", e.RoomID, e.Detail)
	}
	return fmt.Sprintf("room %s no longer available", e.RoomID)
}
