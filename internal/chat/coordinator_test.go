package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/concierge/internal/automation"
	"github.com/ent0n29/concierge/internal/booking"
	"github.com/ent0n29/concierge/internal/extract"
	"github.com/ent0n29/concierge/internal/portal"
)

// fakePortalSite emulates the whole portal behind a Script automator:
// login pages, the search form, the result table, and booking verdicts.
type fakePortalSite struct {
	mu       sync.Mutex
	script   *automation.Script
	loggedIn bool
	badCreds bool
	conflict bool
	rows     [][]string
	searches int
}

func newFakePortalSite() *fakePortalSite {
	site := &fakePortalSite{
		script: automation.NewScript(),
		rows: [][]string{
			{"ID", "Name", "Capacity", "Amenities", "Available"},
			{"R1", "Room A", "12", "projector", "08:00 - 18:00"},
			{"R2", "Room B", "10", "", "08:00 - 18:00"},
		},
	}
	site.script.ExistsFn = func(sel string) (bool, error) {
		site.mu.Lock()
		defer site.mu.Unlock()
		switch sel {
		case "#username", "#password", "button[type='submit']",
			"#booking-date", "#start-time", "#end-time", "#capacity", "#search-button",
			"#confirm-booking":
			return true, nil
		case ".user-menu":
			return site.loggedIn, nil
		case ".error-message":
			return site.badCreds, nil
		case "#results-table":
			return true, nil
		case "button[data-room-id='R1']", "button[data-room-id='R2']":
			return true, nil
		case ".confirmation-ref":
			return !site.conflict, nil
		case ".conflict-error":
			return site.conflict, nil
		default:
			return false, nil
		}
	}
	site.script.ClickFn = func(sel string) error {
		site.mu.Lock()
		defer site.mu.Unlock()
		switch sel {
		case "button[type='submit']":
			if !site.badCreds {
				site.loggedIn = true
			}
		case "#search-button":
			site.searches++
		}
		return nil
	}
	site.script.TableFn = func(sel string) ([][]string, error) {
		site.mu.Lock()
		defer site.mu.Unlock()
		return site.rows, nil
	}
	site.script.TextFn = func(sel string) (string, error) {
		switch sel {
		case ".confirmation-ref":
			return "BK-1", nil
		case ".conflict-error":
			return "room no longer available", nil
		case ".error-message":
			return "bad credentials", nil
		}
		return "", automation.ErrNoSuchElement
	}
	return site
}

func (s *fakePortalSite) searchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

type testRig struct {
	co   *Coordinator
	site *fakePortalSite
	now  *time.Time
}

func newTestRig(t *testing.T, extractor extract.Extractor) *testRig {
	t.Helper()
	site := newFakePortalSite()
	mgr := portal.NewManager(
		portal.Config{BaseURL: "https://portal.example", OpTimeout: 5 * time.Second},
		func(ctx context.Context) (automation.Automator, error) { return site.script, nil },
		nil,
	)
	now := time.Date(2024, 1, 14, 9, 0, 0, 0, time.UTC)
	rig := &testRig{site: site, now: &now}
	if extractor == nil {
		extractor = extract.NewRuleExtractor()
	}
	rig.co = NewCoordinator(Config{
		Extractor:   extractor,
		Portal:      mgr,
		Now:         func() time.Time { return *rig.now },
		OrchOptions: []booking.Option{booking.WithRetryBackoff(0)},
	})
	return rig
}

func (r *testRig) login(t *testing.T, sessionID string) {
	t.Helper()
	r.co.Start(sessionID)
	if err := r.co.Login(context.Background(), sessionID, portal.Credentials{Username: "alice", Password: "s3cret"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

const bookingMsg = "I need a conference room for 10 people tomorrow at 2 PM for 2 hours"

func TestHandleMessageRequiresLogin(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.co.Start("s1")
	_, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("err = %v, want ErrNotLoggedIn", err)
	}
}

func TestHandleMessageSearchesAndListsRooms(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	reply, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(reply.Candidates) != 2 {
		t.Fatalf("candidates = %v, want 2", reply.Candidates)
	}
	if !strings.Contains(reply.Text, "Room A") {
		t.Fatalf("reply text %q does not list Room A", reply.Text)
	}

	conv, _ := rig.co.Get("s1")
	run := conv.PendingRun()
	if run == nil || run.State != booking.StateResultsReady {
		t.Fatalf("pending run = %+v, want results_ready", run)
	}
	if got, _ := rig.site.script.Filled("#booking-date"); got != "2024-01-15" {
		t.Fatalf("portal date fill = %q, want tomorrow", got)
	}
}

func TestHandleMessageClarifiesWithoutTouchingPortal(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	reply, err := rig.co.HandleMessage(context.Background(), "s1", "a room tomorrow at 2pm")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(reply.MissingFields) != 1 || reply.MissingFields[0] != "capacity" {
		t.Fatalf("MissingFields = %v, want [capacity]", reply.MissingFields)
	}
	if rig.site.searchCount() != 0 {
		t.Fatalf("portal searched %d times, want 0", rig.site.searchCount())
	}
}

func TestHandleCriteriaBypassesExtraction(t *testing.T) {
	rig := newTestRig(t, extract.ExtractorFunc(func(context.Context, string, time.Time) (booking.Criteria, error) {
		t.Fatalf("extractor must not run for structured criteria")
		return booking.Criteria{}, nil
	}))
	rig.login(t, "s1")

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	reply, err := rig.co.HandleCriteria(context.Background(), "s1", booking.Criteria{
		Date:     date,
		Start:    date.Add(14 * time.Hour),
		End:      date.Add(16 * time.Hour),
		Capacity: 10,
	})
	if err != nil {
		t.Fatalf("HandleCriteria: %v", err)
	}
	if len(reply.Candidates) != 2 {
		t.Fatalf("candidates = %v, want 2", reply.Candidates)
	}
	if rig.site.searchCount() != 1 {
		t.Fatalf("portal searched %d times, want 1", rig.site.searchCount())
	}
}

func TestHandleMessageGreeting(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	reply, err := rig.co.HandleMessage(context.Background(), "s1", "hello!")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.HasCandidates || len(reply.MissingFields) != 0 {
		t.Fatalf("greeting reply = %+v, want plain help text", reply)
	}
	if rig.site.searchCount() != 0 {
		t.Fatalf("portal searched %d times, want 0", rig.site.searchCount())
	}
}

func TestHandleSelectBooks(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	if _, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	reply, err := rig.co.HandleSelect(context.Background(), "s1", "R2")
	if err != nil {
		t.Fatalf("HandleSelect: %v", err)
	}
	if reply.Result == nil || !reply.Result.Booked || reply.Result.ConfirmationRef != "BK-1" {
		t.Fatalf("Result = %+v", reply.Result)
	}
	if !strings.Contains(reply.Text, "Room B") {
		t.Fatalf("reply text %q does not name Room B", reply.Text)
	}
}

func TestHandleSelectConcurrentBooksOnce(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	if _, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	// Hold the first booking inside the portal click so the second select
	// arrives while the run is mid-booking.
	var (
		bookClicks int32
		inFlight   sync.Once
		entered    = make(chan struct{})
		release    = make(chan struct{})
	)
	base := rig.site.script.ClickFn
	rig.site.script.ClickFn = func(sel string) error {
		if sel == "button[data-room-id='R2']" {
			atomic.AddInt32(&bookClicks, 1)
			inFlight.Do(func() { close(entered) })
			<-release
		}
		return base(sel)
	}

	firstErr := make(chan error, 1)
	firstReply := make(chan Reply, 1)
	go func() {
		reply, err := rig.co.HandleSelect(context.Background(), "s1", "R2")
		firstReply <- reply
		firstErr <- err
	}()

	<-entered
	if _, err := rig.co.HandleSelect(context.Background(), "s1", "R2"); !errors.Is(err, ErrNoPendingRun) {
		t.Fatalf("concurrent select err = %v, want ErrNoPendingRun", err)
	}
	close(release)

	if err := <-firstErr; err != nil {
		t.Fatalf("HandleSelect: %v", err)
	}
	reply := <-firstReply
	if reply.Result == nil || !reply.Result.Booked {
		t.Fatalf("Result = %+v, want booked", reply.Result)
	}
	if n := atomic.LoadInt32(&bookClicks); n != 1 {
		t.Fatalf("book clicks = %d, want 1", n)
	}
}

func TestHandleSelectConflict(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	if _, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	rig.site.mu.Lock()
	rig.site.conflict = true
	rig.site.mu.Unlock()

	reply, err := rig.co.HandleSelect(context.Background(), "s1", "R1")
	if err != nil {
		t.Fatalf("HandleSelect: %v", err)
	}
	if reply.Result == nil || reply.Result.FailureReason != "booking_conflict" {
		t.Fatalf("Result = %+v, want booking_conflict", reply.Result)
	}

	conv, _ := rig.co.Get("s1")
	run := conv.PendingRun()
	if run == nil || run.FailureReason != booking.ReasonBookingConflict {
		t.Fatalf("run = %+v, want booking_conflict failure", run)
	}
}

func TestHandleSelectStaleResultsForceResearch(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	if _, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if rig.site.searchCount() != 1 {
		t.Fatalf("searches = %d, want 1", rig.site.searchCount())
	}

	// Let the results age past the freshness threshold.
	*rig.now = rig.now.Add(10 * time.Minute)

	reply, err := rig.co.HandleSelect(context.Background(), "s1", "R2")
	if err != nil {
		t.Fatalf("HandleSelect: %v", err)
	}
	if rig.site.searchCount() != 2 {
		t.Fatalf("searches = %d, want 2 (forced re-search)", rig.site.searchCount())
	}
	if reply.Result == nil || !reply.Result.Booked {
		t.Fatalf("Result = %+v, want booked after re-search", reply.Result)
	}
}

func TestHandleSelectRoomGoneAfterResearch(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	if _, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	*rig.now = rig.now.Add(10 * time.Minute)
	rig.site.mu.Lock()
	rig.site.rows = [][]string{
		{"ID", "Name", "Capacity", "Amenities", "Available"},
		{"R1", "Room A", "12", "projector", "08:00 - 18:00"},
	}
	rig.site.mu.Unlock()

	reply, err := rig.co.HandleSelect(context.Background(), "s1", "R2")
	if err != nil {
		t.Fatalf("HandleSelect: %v", err)
	}
	if reply.Result != nil {
		t.Fatalf("Result = %+v, want none (nothing booked)", reply.Result)
	}
	if len(reply.Candidates) != 1 || reply.Candidates[0].ID != "R1" {
		t.Fatalf("Candidates = %v, want fresh list with R1 only", reply.Candidates)
	}
}

func TestHandleSelectWithoutSearch(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	_, err := rig.co.HandleSelect(context.Background(), "s1", "R1")
	if !errors.Is(err, ErrNoPendingRun) {
		t.Fatalf("err = %v, want ErrNoPendingRun", err)
	}
}

func TestNewerMessageSupersedesInFlightSearch(t *testing.T) {
	var rig *testRig
	calls := 0
	extractor := extract.ExtractorFunc(func(ctx context.Context, text string, anchor time.Time) (booking.Criteria, error) {
		calls++
		if calls == 1 {
			// A second message lands while the first search is in flight.
			if _, err := rig.co.HandleMessage(ctx, "s1", "actually, a room for 3 people tomorrow at 9am"); err != nil {
				t.Fatalf("nested HandleMessage: %v", err)
			}
		}
		return extract.NewRuleExtractor().Extract(ctx, text, anchor)
	})

	rig = newTestRig(t, extractor)
	rig.login(t, "s1")

	reply, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !reply.Discarded {
		t.Fatalf("reply = %+v, want discarded superseded result", reply)
	}

	conv, _ := rig.co.Get("s1")
	run := conv.PendingRun()
	if run == nil || run.Criteria.Capacity != 3 {
		t.Fatalf("pending run criteria = %+v, want the newer request (capacity 3)", run)
	}
}

func TestLogoutClearsPortalState(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.login(t, "s1")

	if err := rig.co.Logout(context.Background(), "s1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err := rig.co.HandleMessage(context.Background(), "s1", bookingMsg)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("err = %v, want ErrNotLoggedIn after logout", err)
	}
}
