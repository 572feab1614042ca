package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/concierge/internal/automation"
	"github.com/ent0n29/concierge/internal/booking"
)

var testCriteria = booking.Criteria{
	Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	Start:    time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
	End:      time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC),
	Capacity: 10,
}

func searchFormExists(sel string) bool {
	switch sel {
	case "#booking-date", "#start-time", "#end-time", "#capacity", "#search-button":
		return true
	}
	return false
}

func authedSession(script *automation.Script) *Session {
	return &Session{ID: "test-session", auto: script, authenticated: true}
}

func TestSearchParsesCandidates(t *testing.T) {
	script := automation.NewScript()
	script.ExistsFn = func(sel string) (bool, error) {
		if searchFormExists(sel) || sel == "#results-table" {
			return true, nil
		}
		return false, nil
	}
	script.TableFn = func(sel string) ([][]string, error) {
		return [][]string{
			{"ID", "Name", "Capacity", "Amenities", "Available"},
			{"R1", "Room A", "8", "projector, whiteboard", "09:00 - 17:00"},
			{"R2", "Room B", "12", "", ""},
		}, nil
	}

	m := newTestManager(newFakePortalPage())
	sess := authedSession(script)

	candidates, err := m.Search(context.Background(), sess, testCriteria)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}
	first := candidates[0]
	if first.ID != "R1" || first.Name != "Room A" || first.Capacity != 8 {
		t.Fatalf("candidate = %+v", first)
	}
	if len(first.Amenities) != 2 || first.Amenities[0] != "projector" {
		t.Fatalf("amenities = %v", first.Amenities)
	}
	if first.AvailableFrom.Hour() != 9 || first.AvailableUntil.Hour() != 17 {
		t.Fatalf("availability = %v..%v", first.AvailableFrom, first.AvailableUntil)
	}
	if got, _ := script.Filled("#booking-date"); got != "2024-01-15" {
		t.Fatalf("date fill = %q", got)
	}
	if got, _ := script.Filled("#capacity"); got != "10" {
		t.Fatalf("capacity fill = %q", got)
	}
}

func TestSearchTogglesAmenityFilters(t *testing.T) {
	script := automation.NewScript()
	script.ExistsFn = func(sel string) (bool, error) {
		if searchFormExists(sel) || sel == "#results-table" {
			return true, nil
		}
		return sel == "input[name='amenity'][value='projector']", nil
	}
	script.TableFn = func(sel string) ([][]string, error) {
		return [][]string{{"R1", "Room A", "8", "projector", "09:00 - 17:00"}}, nil
	}

	criteria := testCriteria
	criteria.Amenities = []string{"projector", "telescope"}

	m := newTestManager(newFakePortalPage())
	if _, err := m.Search(context.Background(), authedSession(script), criteria); err != nil {
		t.Fatalf("Search: %v", err)
	}

	clicked := script.Clicked()
	var toggled bool
	for _, sel := range clicked {
		if sel == "input[name='amenity'][value='projector']" {
			toggled = true
		}
		if sel == "input[name='amenity'][value='telescope']" {
			t.Fatalf("clicked a filter the page does not offer")
		}
	}
	if !toggled {
		t.Fatalf("projector filter not toggled, clicks = %v", clicked)
	}
}

func TestSearchEmptyResultsIsNotAnError(t *testing.T) {
	script := automation.NewScript()
	script.ExistsFn = func(sel string) (bool, error) {
		if searchFormExists(sel) || sel == ".no-results" {
			return true, nil
		}
		return false, nil
	}

	m := newTestManager(newFakePortalPage())
	candidates, err := m.Search(context.Background(), authedSession(script), testCriteria)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if candidates == nil || len(candidates) != 0 {
		t.Fatalf("candidates = %v, want empty non-nil slice", candidates)
	}
}

func TestSearchMalformedTable(t *testing.T) {
	script := automation.NewScript()
	script.ExistsFn = func(sel string) (bool, error) {
		return searchFormExists(sel) || sel == "#results-table", nil
	}
	script.TableFn = func(sel string) ([][]string, error) {
		return [][]string{
			{"R1", "Room A", "8"},
			{"R2", "Room B", "not-a-number"},
		}, nil
	}

	m := newTestManager(newFakePortalPage())
	_, err := m.Search(context.Background(), authedSession(script), testCriteria)
	var de *booking.DriverError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DriverError", err)
	}
	if de.Kind != booking.DriverUnexpectedPageShape {
		t.Fatalf("Kind = %q, want %q", de.Kind, booking.DriverUnexpectedPageShape)
	}
}

func TestSearchTimeout(t *testing.T) {
	script := automation.NewScript()
	script.NavigateFn = func(url string) error {
		return context.DeadlineExceeded
	}

	m := newTestManager(newFakePortalPage())
	_, err := m.Search(context.Background(), authedSession(script), testCriteria)
	var de *booking.DriverError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DriverError", err)
	}
	if de.Kind != booking.DriverTimeout {
		t.Fatalf("Kind = %q, want %q", de.Kind, booking.DriverTimeout)
	}
}

func TestBookSuccess(t *testing.T) {
	script := automation.NewScript()
	script.ExistsFn = func(sel string) (bool, error) {
		switch sel {
		case "button[data-room-id='R1']", "#confirm-booking", "#purpose", ".confirmation-ref":
			return true, nil
		}
		return false, nil
	}
	script.TextFn = func(sel string) (string, error) {
		if sel == ".confirmation-ref" {
			return " BK-20240115-042 ", nil
		}
		return "", automation.ErrNoSuchElement
	}

	m := newTestManager(newFakePortalPage())
	req := booking.Request{RoomID: "R1", Criteria: testCriteria, Purpose: "team sync"}
	result, err := m.Book(context.Background(), authedSession(script), req)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !result.Booked {
		t.Fatalf("Booked = false")
	}
	if result.ConfirmationRef != "BK-20240115-042" {
		t.Fatalf("ConfirmationRef = %q", result.ConfirmationRef)
	}
	if got, _ := script.Filled("#purpose"); got != "team sync" {
		t.Fatalf("purpose fill = %q", got)
	}
}

func TestBookConflict(t *testing.T) {
	script := automation.NewScript()
	script.ExistsFn = func(sel string) (bool, error) {
		switch sel {
		case "button[data-room-id='R1']", ".conflict-error":
			return true, nil
		}
		return false, nil
	}
	script.TextFn = func(sel string) (string, error) {
		if sel == ".conflict-error" {
			return "This room is no longer available for the selected time", nil
		}
		return "", automation.ErrNoSuchElement
	}

	m := newTestManager(newFakePortalPage())
	req := booking.Request{RoomID: "R1", Criteria: testCriteria}
	_, err := m.Book(context.Background(), authedSession(script), req)
	var conflict *booking.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if conflict.RoomID != "R1" {
		t.Fatalf("RoomID = %q, want R1", conflict.RoomID)
	}
}

func TestBookUnrecognizedOutcome(t *testing.T) {
	script := automation.NewScript()
	script.ExistsFn = func(sel string) (bool, error) {
		return sel == "button[data-room-id='R1']", nil
	}

	m := newTestManager(newFakePortalPage())
	_, err := m.Book(context.Background(), authedSession(script), booking.Request{RoomID: "R1"})
	var de *booking.DriverError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DriverError", err)
	}
	if de.Kind != booking.DriverUnexpectedPageShape {
		t.Fatalf("Kind = %q, want %q", de.Kind, booking.DriverUnexpectedPageShape)
	}
}
