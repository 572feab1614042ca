package booking

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/concierge/internal/observability"
	"github.com/ent0n29/concierge/internal/reliability"
)

// State is one node of the booking run state machine.
type State string

const (
	StateIdle           State = "idle"
	StateSessionEnsured State = "session_ensured"
	StateSearching      State = "searching"
	StateResultsReady   State = "results_ready"
	StateBooking        State = "booking"
	StateBooked         State = "booked"
	StateFailed         State = "failed"
)

// FailureReason tags terminal Failed states with a user-actionable cause.
type FailureReason string

const (
	ReasonAuth            FailureReason = "auth"
	ReasonDriver          FailureReason = "driver"
	ReasonInvalidCriteria FailureReason = "invalid_criteria"
	ReasonBookingConflict FailureReason = "booking_conflict"
)

// Driver is the portal capability surface the orchestrator drives. It is pure
// mechanism: no retries, no business policy, every operation timeout-bounded.
type Driver interface {
	Search(ctx context.Context, criteria Criteria) ([]RoomCandidate, error)
	Book(ctx context.Context, req Request) (Result, error)
	IsAuthenticated(ctx context.Context) bool
}

// SessionEnsurer revalidates the authenticated portal context before reuse.
type SessionEnsurer interface {
	EnsureValid(ctx context.Context) error
}

// Run carries one pass through the state machine, from criteria to a terminal
// Booked or Failed state. A Run never outlives its conversation.
//
// mu guards every field once the run is shared between goroutines: a websocket
// connection dispatches each inbound frame on its own goroutine, so two select
// frames can reach Book on the same run concurrently.
type Run struct {
	mu            sync.Mutex
	ID            string
	State         State
	Criteria      Criteria
	Candidates    []RoomCandidate
	ResultsAt     time.Time
	Result        *Result
	FailureReason FailureReason
	FailureDetail string
}

// Failed reports whether the run reached the terminal failure state.
func (r *Run) Failed() bool { return r.State == StateFailed }

func (r *Run) fail(reason FailureReason, detail string) *Run {
	r.State = StateFailed
	r.FailureReason = reason
	r.FailureDetail = detail
	return r
}

var (
	// ErrNotReady is returned when Book is called before a search produced
	// results for the exact criteria being booked.
	ErrNotReady = errors.New("booking: no search results to book from")

	// ErrStaleResults is returned when the candidate list is older than the
	// freshness threshold; the caller must re-search before booking.
	ErrStaleResults = errors.New("booking: search results are stale, re-search required")

	// ErrUnknownRoom is returned when the selected room is not part of the
	// current candidate list.
	ErrUnknownRoom = errors.New("booking: selected room is not among the search results")
)

const (
	defaultFreshness    = 2 * time.Minute
	defaultRetryBackoff = 500 * time.Millisecond
	// Transient timeouts get exactly one retry; everything else surfaces
	// immediately so stale criteria never drive a second blind attempt.
	timeoutRetryMax = 1
)

// Orchestrator sequences ensure-session, search, and book against one portal
// session. Failures terminate only the current run; the conversation stays
// able to accept new messages.
type Orchestrator struct {
	driver       Driver
	ensurer      SessionEnsurer
	freshness    time.Duration
	retryBackoff time.Duration
	now          func() time.Time
	sleep        func(context.Context, time.Duration)
	metrics      *observability.Metrics
}

// Option customizes orchestrator policy knobs.
type Option func(*Orchestrator)

// WithFreshness overrides how long search results stay bookable.
func WithFreshness(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.freshness = d
		}
	}
}

// WithRetryBackoff overrides the pause before the single timeout retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.retryBackoff = d
		}
	}
}

// WithClock injects a deterministic time source for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics attaches prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(driver Driver, ensurer SessionEnsurer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		driver:       driver,
		ensurer:      ensurer,
		freshness:    defaultFreshness,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Search runs Idle -> SessionEnsured -> Searching -> ResultsReady|Failed.
// An empty candidate list is a valid business outcome, not a failure.
func (o *Orchestrator) Search(ctx context.Context, criteria Criteria) *Run {
	run := &Run{ID: uuid.NewString(), State: StateIdle, Criteria: criteria}

	if err := criteria.Validate(); err != nil {
		o.countOutcome("search", "invalid_criteria")
		return run.fail(ReasonInvalidCriteria, err.Error())
	}

	if err := o.ensurer.EnsureValid(ctx); err != nil {
		log.Printf("booking run=%s state=%s ensure_session failed: %v", run.ID, run.State, err)
		o.countOutcome("search", "auth_failed")
		return run.fail(ReasonAuth, err.Error())
	}
	run.State = StateSessionEnsured

	run.State = StateSearching
	candidates, err := o.searchWithRetry(ctx, run, criteria)
	if err != nil {
		o.countOutcome("search", "driver_failed")
		return run.fail(ReasonDriver, err.Error())
	}

	run.Candidates = candidates
	run.ResultsAt = o.now()
	run.State = StateResultsReady
	o.countOutcome("search", "results_ready")
	log.Printf("booking run=%s state=%s candidates=%d", run.ID, run.State, len(candidates))
	return run
}

func (o *Orchestrator) searchWithRetry(ctx context.Context, run *Run, criteria Criteria) ([]RoomCandidate, error) {
	var lastErr error
	for attempt := 0; attempt <= timeoutRetryMax; attempt++ {
		if attempt > 0 {
			o.countRetry("search")
			log.Printf("booking run=%s retrying search after timeout attempt=%d", run.ID, attempt)
			o.sleep(ctx, reliability.ExponentialBackoff(attempt-1, o.retryBackoff, 5*time.Second))
		}
		start := o.now()
		candidates, err := o.driver.Search(ctx, criteria)
		o.observeOp("search", o.now().Sub(start), err)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
		var de *DriverError
		if !errors.As(err, &de) || de.Kind != DriverTimeout {
			return nil, err
		}
	}
	return nil, lastErr
}

// Book runs ResultsReady -> Booking -> Booked|Failed. It refuses to book from
// a run that never reached ResultsReady, from stale results, or for a room
// that was not part of the candidate list. The ResultsReady -> Booking edge is
// taken under the run lock, so of two concurrent selects exactly one reaches
// the portal; the other sees ErrNotReady.
func (o *Orchestrator) Book(ctx context.Context, run *Run, roomID string) error {
	if run == nil {
		return ErrNotReady
	}

	run.mu.Lock()
	if run.State != StateResultsReady {
		run.mu.Unlock()
		return ErrNotReady
	}
	if o.now().Sub(run.ResultsAt) > o.freshness {
		run.mu.Unlock()
		return ErrStaleResults
	}
	if !hasCandidate(run.Candidates, roomID) {
		run.mu.Unlock()
		return ErrUnknownRoom
	}
	run.State = StateBooking
	req := Request{RoomID: roomID, Criteria: run.Criteria, Purpose: run.Criteria.Purpose}
	run.mu.Unlock()

	start := o.now()
	result, err := o.driver.Book(ctx, req)
	o.observeOp("book", o.now().Sub(start), err)

	run.mu.Lock()
	defer run.mu.Unlock()
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			run.fail(ReasonBookingConflict, conflict.Error())
			run.Result = &Result{Booked: false, FailureReason: string(ReasonBookingConflict)}
			o.countOutcome("book", "conflict")
			return nil
		}
		run.fail(ReasonDriver, err.Error())
		o.countOutcome("book", "driver_failed")
		return nil
	}

	run.Result = &result
	run.State = StateBooked
	o.countOutcome("book", "booked")
	log.Printf("booking run=%s state=%s room=%s ref=%s", run.ID, run.State, roomID, result.ConfirmationRef)
	return nil
}

// Fresh reports whether a ResultsReady run is still within the freshness
// threshold and therefore allowed to enter Booking.
func (o *Orchestrator) Fresh(run *Run) bool {
	if run == nil {
		return false
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.State == StateResultsReady && o.now().Sub(run.ResultsAt) <= o.freshness
}

func hasCandidate(candidates []RoomCandidate, roomID string) bool {
	for _, c := range candidates {
		if c.ID == roomID {
			return true
		}
	}
	return false
}

func (o *Orchestrator) observeOp(op string, d time.Duration, err error) {
	if o.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.metrics.ObservePortalOp(op, outcome, d)
}

func (o *Orchestrator) countOutcome(op, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.BookingOutcomes.WithLabelValues(op, outcome).Inc()
}

func (o *Orchestrator) countRetry(op string) {
	if o.metrics == nil {
		return
	}
	o.metrics.DriverRetries.WithLabelValues(op).Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
