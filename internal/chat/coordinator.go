package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/concierge/internal/booking"
	"github.com/ent0n29/concierge/internal/extract"
	"github.com/ent0n29/concierge/internal/observability"
	"github.com/ent0n29/concierge/internal/policy"
	"github.com/ent0n29/concierge/internal/portal"
)

var (
	ErrNoConversation = errors.New("chat: no conversation for session")
	ErrNotLoggedIn    = errors.New("chat: portal login required first")
	ErrNoPendingRun   = errors.New("chat: no search results to select from")
)

// Config wires the coordinator's collaborators.
type Config struct {
	Extractor   extract.Extractor
	Portal      *portal.Manager
	Metrics     *observability.Metrics
	OrchOptions []booking.Option
	Now         func() time.Time
}

// Coordinator routes inbound messages through extraction and the booking
// orchestrator, one conversation per user-facing session. Distinct
// conversations proceed concurrently; within one conversation there is a
// single pending booking flow.
type Coordinator struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation

	extractor extract.Extractor
	portal    *portal.Manager
	metrics   *observability.Metrics
	orchOpts  []booking.Option
	now       func() time.Time
}

func NewCoordinator(cfg Config) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		conversations: make(map[string]*Conversation),
		extractor:     cfg.Extractor,
		portal:        cfg.Portal,
		metrics:       cfg.Metrics,
		orchOpts:      cfg.OrchOptions,
		now:           now,
	}
}

// Start registers a conversation slot for a session.
func (co *Coordinator) Start(sessionID string) *Conversation {
	co.mu.Lock()
	defer co.mu.Unlock()
	if conv, ok := co.conversations[sessionID]; ok {
		return conv
	}
	conv := &Conversation{ID: sessionID}
	co.conversations[sessionID] = conv
	if co.metrics != nil {
		co.metrics.ActiveSessions.Inc()
	}
	return conv
}

func (co *Coordinator) Get(sessionID string) (*Conversation, bool) {
	co.mu.RLock()
	defer co.mu.RUnlock()
	conv, ok := co.conversations[sessionID]
	return conv, ok
}

// Login attaches an authenticated portal session to the conversation and
// builds the orchestrator that will drive it.
func (co *Coordinator) Login(ctx context.Context, sessionID string, creds portal.Credentials) error {
	conv, ok := co.Get(sessionID)
	if !ok {
		return ErrNoConversation
	}

	sess, err := co.portal.Login(ctx, creds)
	if err != nil {
		co.countEvent("login_failed")
		return err
	}
	bound := co.portal.Bind(sess)
	opts := append([]booking.Option{booking.WithMetrics(co.metrics), booking.WithClock(co.now)}, co.orchOpts...)

	conv.mu.Lock()
	conv.sess = sess
	conv.bound = bound
	conv.orch = booking.NewOrchestrator(bound, bound, opts...)
	conv.run = nil
	conv.mu.Unlock()

	co.countEvent("login")
	return nil
}

// Logout tears down the portal session but keeps the conversation log.
func (co *Coordinator) Logout(ctx context.Context, sessionID string) error {
	conv, ok := co.Get(sessionID)
	if !ok {
		return ErrNoConversation
	}

	conv.mu.Lock()
	sess := conv.sess
	conv.sess = nil
	conv.bound = nil
	conv.orch = nil
	conv.run = nil
	conv.generation++
	conv.mu.Unlock()

	co.countEvent("logout")
	if sess == nil {
		return nil
	}
	return co.portal.Logout(ctx, sess)
}

// End destroys the conversation and its portal session.
func (co *Coordinator) End(ctx context.Context, sessionID string) {
	co.mu.Lock()
	conv, ok := co.conversations[sessionID]
	delete(co.conversations, sessionID)
	co.mu.Unlock()
	if !ok {
		return
	}
	if co.metrics != nil {
		co.metrics.ActiveSessions.Dec()
	}

	conv.mu.Lock()
	sess := conv.sess
	conv.sess = nil
	conv.orch = nil
	conv.run = nil
	conv.mu.Unlock()

	if sess != nil {
		if err := co.portal.Logout(ctx, sess); err != nil {
			log.Printf("chat: conversation %s portal logout failed: %v", sessionID, err)
		}
	}
}

// EndAll destroys every conversation, logging out each portal session.
// Used on shutdown.
func (co *Coordinator) EndAll(ctx context.Context) {
	co.mu.Lock()
	ids := make([]string, 0, len(co.conversations))
	for id := range co.conversations {
		ids = append(ids, id)
	}
	co.mu.Unlock()

	for _, id := range ids {
		co.End(ctx, id)
	}
}

// HandleMessage routes one free-text message: extraction first, then the
// search half of the booking state machine. Extraction failures never reach
// the orchestrator.
func (co *Coordinator) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	conv, ok := co.Get(sessionID)
	if !ok {
		return Reply{}, ErrNoConversation
	}
	now := co.now()
	conv.log(RoleUser, text, now)
	co.countEvent("message")
	redacted, _ := policy.RedactPII(text)
	log.Printf("chat: conversation %s user message: %s", sessionID, redacted)

	conv.mu.Lock()
	orch := conv.orch
	if orch == nil {
		conv.mu.Unlock()
		return Reply{}, ErrNotLoggedIn
	}
	if !policy.LooksLikeBookingRequest(text) {
		conv.mu.Unlock()
		return co.finish(conv, helpReply()), nil
	}
	conv.generation++
	gen := conv.generation
	conv.run = nil
	conv.mu.Unlock()

	criteria, err := co.extractor.Extract(ctx, text, now)
	if err != nil {
		co.countExtractionFailure(err)
		return co.finish(conv, extractionReply(err)), nil
	}

	// Long-latency portal work happens outside the conversation lock.
	run := orch.Search(ctx, criteria)

	conv.mu.Lock()
	if conv.generation != gen {
		conv.mu.Unlock()
		log.Printf("chat: conversation %s discarding superseded search", sessionID)
		return Reply{Discarded: true}, nil
	}
	conv.run = run
	conv.mu.Unlock()

	if run.Failed() {
		return co.finish(conv, runFailureReply(run)), nil
	}
	return co.finish(conv, candidatesReply(criteria, run.Candidates)), nil
}

// HandleCriteria runs a search for already-structured criteria, bypassing
// extraction. Serves the structured REST surface.
func (co *Coordinator) HandleCriteria(ctx context.Context, sessionID string, criteria booking.Criteria) (Reply, error) {
	conv, ok := co.Get(sessionID)
	if !ok {
		return Reply{}, ErrNoConversation
	}
	co.countEvent("criteria")

	conv.mu.Lock()
	orch := conv.orch
	if orch == nil {
		conv.mu.Unlock()
		return Reply{}, ErrNotLoggedIn
	}
	conv.generation++
	gen := conv.generation
	conv.run = nil
	conv.mu.Unlock()

	run := orch.Search(ctx, criteria)

	conv.mu.Lock()
	if conv.generation != gen {
		conv.mu.Unlock()
		return Reply{Discarded: true}, nil
	}
	conv.run = run
	conv.mu.Unlock()

	if run.Failed() {
		return co.finish(conv, runFailureReply(run)), nil
	}
	return co.finish(conv, candidatesReply(criteria, run.Candidates)), nil
}

// HandleSelect books one candidate from the pending run. Stale results force
// one fresh search first; if the room survived re-search it is booked from
// the fresh candidates, otherwise the new list is offered instead.
func (co *Coordinator) HandleSelect(ctx context.Context, sessionID, roomID string) (Reply, error) {
	conv, ok := co.Get(sessionID)
	if !ok {
		return Reply{}, ErrNoConversation
	}
	co.countEvent("select")

	conv.mu.Lock()
	orch := conv.orch
	run := conv.run
	gen := conv.generation
	conv.mu.Unlock()
	if orch == nil {
		return Reply{}, ErrNotLoggedIn
	}
	if run == nil {
		return Reply{}, ErrNoPendingRun
	}

	err := orch.Book(ctx, run, roomID)

	conv.mu.Lock()
	superseded := conv.generation != gen
	conv.mu.Unlock()
	if superseded {
		log.Printf("chat: conversation %s discarding superseded booking result", sessionID)
		return Reply{Discarded: true}, nil
	}
	switch {
	case errors.Is(err, booking.ErrStaleResults):
		return co.rebookAfterResearch(ctx, conv, orch, run, roomID)
	case errors.Is(err, booking.ErrUnknownRoom):
		return co.finish(conv, Reply{Text: fmt.Sprintf("Room %s isn't in the current results. Pick one from the list, or ask me to search again.", roomID)}), nil
	case errors.Is(err, booking.ErrNotReady):
		return Reply{}, ErrNoPendingRun
	case err != nil:
		return Reply{}, err
	}
	return co.finish(conv, co.terminalReply(conv, run, roomID)), nil
}

// rebookAfterResearch re-runs the search with the same criteria and books the
// selected room only if it is still offered.
func (co *Coordinator) rebookAfterResearch(ctx context.Context, conv *Conversation, orch *booking.Orchestrator, stale *booking.Run, roomID string) (Reply, error) {
	log.Printf("chat: conversation %s results stale, re-searching before booking", conv.ID)
	fresh := orch.Search(ctx, stale.Criteria)

	conv.mu.Lock()
	conv.run = fresh
	conv.mu.Unlock()

	if fresh.Failed() {
		return co.finish(conv, runFailureReply(fresh)), nil
	}

	if err := orch.Book(ctx, fresh, roomID); err != nil {
		if errors.Is(err, booking.ErrUnknownRoom) {
			reply := candidatesReply(fresh.Criteria, fresh.Candidates)
			reply.Text = "That room is no longer offered for your time window. " + reply.Text
			return co.finish(conv, reply), nil
		}
		return Reply{}, err
	}
	return co.finish(conv, co.terminalReply(conv, fresh, roomID)), nil
}

func (co *Coordinator) terminalReply(conv *Conversation, run *booking.Run, roomID string) Reply {
	if run.State == booking.StateBooked {
		return bookedReply(run, candidateName(run.Candidates, roomID))
	}
	return runFailureReply(run)
}

// finish logs the assistant side of the exchange and returns the reply.
func (co *Coordinator) finish(conv *Conversation, reply Reply) Reply {
	if !reply.Discarded && reply.Text != "" {
		conv.log(RoleAssistant, reply.Text, co.now())
	}
	return reply
}

func extractionReply(err error) Reply {
	f, ok := extract.AsFailure(err)
	if !ok {
		return extractorDownReply()
	}
	switch f.Kind {
	case extract.KindMissingField:
		return clarificationReply(f.MissingFields)
	case extract.KindServiceUnavailable:
		return extractorDownReply()
	default:
		return Reply{Text: "I couldn't make sense of that as a booking request. Tell me the date, time, and headcount and I'll search."}
	}
}

func (co *Coordinator) countEvent(event string) {
	if co.metrics == nil {
		return
	}
	co.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func (co *Coordinator) countExtractionFailure(err error) {
	if co.metrics == nil {
		return
	}
	if f, ok := extract.AsFailure(err); ok {
		co.metrics.ExtractionFailures.WithLabelValues(string(f.Kind)).Inc()
	}
}
