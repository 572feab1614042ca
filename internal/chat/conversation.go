package chat

import (
	"sync"
	"time"

	"github.com/ent0n29/concierge/internal/booking"
	"github.com/ent0n29/concierge/internal/portal"
)

// Role tags one side of the conversation log.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Exchange is one logged message.
type Exchange struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Conversation holds the per-user chat state: the message log, the portal
// session, and at most one pending booking run. The generation counter
// detects when a newer message has superseded an in-flight search; the
// in-flight portal operation still completes, but its result is discarded.
type Conversation struct {
	ID string

	mu         sync.Mutex
	history    []Exchange
	sess       *portal.Session
	bound      *portal.Bound
	orch       *booking.Orchestrator
	run        *booking.Run
	generation uint64
}

// LoggedIn reports whether a portal session is attached.
func (c *Conversation) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orch != nil
}

// History returns a copy of the message log.
func (c *Conversation) History() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exchange, len(c.history))
	copy(out, c.history)
	return out
}

// PendingRun returns the active booking run, if any.
func (c *Conversation) PendingRun() *booking.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

func (c *Conversation) log(role Role, text string, at time.Time) {
	c.mu.Lock()
	c.history = append(c.history, Exchange{Role: role, Text: text, At: at})
	c.mu.Unlock()
}
