package portal

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/concierge/internal/automation"
	"github.com/ent0n29/concierge/internal/observability"
	"github.com/ent0n29/concierge/internal/reliability"
)

const defaultOpTimeout = 30 * time.Second

// Credentials reference one portal account. They are held in memory for the
// lifetime of the session only and are never logged.
type Credentials struct {
	Username string
	Password string
}

// Session is one authenticated portal context. All portal operations against
// a Session are serialized through its mutex; the underlying page cannot
// accept interleaved navigation.
type Session struct {
	ID string

	mu            sync.Mutex
	creds         Credentials
	auto          automation.Automator
	authenticated bool
	lastActivity  time.Time
	logins        int
}

// Authenticated reports the last known auth state without touching the page.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// LoginCount reports how many login sequences have been driven for this
// session, including re-logins after expiry.
func (s *Session) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Session) touch(now time.Time) {
	s.lastActivity = now
}

// AutomatorFactory opens a fresh browser page for one session.
type AutomatorFactory func(ctx context.Context) (automation.Automator, error)

// Config locates the portal and bounds each driver operation.
type Config struct {
	BaseURL   string
	OpTimeout time.Duration
}

// Manager owns the portal login lifecycle. Each conversation gets its own
// Session with its own page; independent sessions proceed concurrently.
type Manager struct {
	cfg     Config
	factory AutomatorFactory
	metrics *observability.Metrics
	now     func() time.Time
}

func NewManager(cfg Config, factory AutomatorFactory, metrics *observability.Metrics) *Manager {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		metrics: metrics,
		now:     time.Now,
	}
}

// Login opens a page and drives the portal's login sequence.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, &AuthError{Kind: AuthInvalidCredentials, Detail: "username and password are required"}
	}

	auto, err := m.factory(ctx)
	if err != nil {
		return nil, &AuthError{Kind: AuthPortalUnreachable, Detail: "cannot open portal page", Err: err}
	}

	sess := &Session{
		ID:    uuid.NewString(),
		creds: creds,
		auto:  auto,
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := m.loginLocked(ctx, sess); err != nil {
		auto.Close()
		return nil, err
	}
	log.Printf("portal: session %s authenticated", sess.ID)
	return sess, nil
}

// loginLocked drives one login sequence. Callers hold sess.mu.
func (m *Manager) loginLocked(ctx context.Context, sess *Session) error {
	start := m.now()
	err := m.doLogin(ctx, sess)
	m.observe("login", start, err)
	return err
}

func (m *Manager) doLogin(ctx context.Context, sess *Session) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	sess.logins++
	sess.authenticated = false

	if err := sess.auto.Navigate(ctx, m.cfg.BaseURL+"/login"); err != nil {
		return authFromDriver(err, "cannot reach login page")
	}
	if err := fillFirst(ctx, sess.auto, usernameSelectors, sess.creds.Username); err != nil {
		return authFromDriver(err, "username field not found")
	}
	if err := fillFirst(ctx, sess.auto, passwordSelectors, sess.creds.Password); err != nil {
		return authFromDriver(err, "password field not found")
	}
	if err := clickFirst(ctx, sess.auto, loginSubmitSelectors); err != nil {
		return authFromDriver(err, "login button not found")
	}

	loggedIn, err := anyExists(ctx, sess.auto, loggedInSelectors)
	if err != nil {
		return authFromDriver(err, "cannot verify login outcome")
	}
	if loggedIn {
		sess.authenticated = true
		sess.touch(m.now())
		return nil
	}

	if banner, ok := firstText(ctx, sess.auto, loginErrorSelectors); ok {
		return &AuthError{Kind: AuthInvalidCredentials, Detail: strings.TrimSpace(banner)}
	}
	return &AuthError{Kind: AuthPortalUnreachable, Detail: "login outcome not recognized"}
}

// EnsureValid checks a lightweight logged-in marker before the session is
// reused. A stale session gets exactly one re-login with the stored
// credentials; if that fails too the session is invalidated.
func (m *Manager) EnsureValid(ctx context.Context, sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := m.now()
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	alive, err := anyExists(checkCtx, sess.auto, loggedInSelectors)
	cancel()

	if err == nil && alive && sess.authenticated {
		sess.touch(m.now())
		m.observe("ensure_session", start, nil)
		return nil
	}
	if err != nil && reliability.IsTimeout(err) {
		m.observe("ensure_session", start, err)
		return &AuthError{Kind: AuthPortalUnreachable, Detail: "session check timed out", Err: err}
	}

	log.Printf("portal: session %s stale, attempting re-login", sess.ID)
	if err := m.loginLocked(ctx, sess); err != nil {
		sess.authenticated = false
		m.observe("ensure_session", start, err)
		return err
	}
	m.observe("ensure_session", start, nil)
	return nil
}

// Logout ends the portal session and releases its page.
func (m *Manager) Logout(ctx context.Context, sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	if sess.authenticated {
		if err := clickFirst(ctx, sess.auto, logoutSelectors); err != nil {
			log.Printf("portal: session %s logout click failed: %v", sess.ID, err)
		}
	}
	sess.authenticated = false
	return sess.auto.Close()
}

func (m *Manager) observe(op string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.ObservePortalOp(op, outcome, m.now().Sub(start))
}

func authFromDriver(err error, detail string) error {
	return &AuthError{Kind: AuthPortalUnreachable, Detail: detail, Err: err}
}

// fillFirst writes value into the first selector candidate present.
func fillFirst(ctx context.Context, auto automation.Automator, selectors []string, value string) error {
	var lastErr error
	for _, sel := range selectors {
		found, err := auto.Exists(ctx, sel)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if lastErr = auto.Fill(ctx, sel, value); lastErr == nil {
			return nil
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return automation.ErrNoSuchElement
}

func clickFirst(ctx context.Context, auto automation.Automator, selectors []string) error {
	var lastErr error
	for _, sel := range selectors {
		found, err := auto.Exists(ctx, sel)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if lastErr = auto.Click(ctx, sel); lastErr == nil {
			return nil
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return automation.ErrNoSuchElement
}

func anyExists(ctx context.Context, auto automation.Automator, selectors []string) (bool, error) {
	for _, sel := range selectors {
		found, err := auto.Exists(ctx, sel)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func firstText(ctx context.Context, auto automation.Automator, selectors []string) (string, bool) {
	for _, sel := range selectors {
		found, err := auto.Exists(ctx, sel)
		if err != nil || !found {
			continue
		}
		if text, err := auto.Text(ctx, sel); err == nil {
			return text, true
		}
	}
	return "", false
}
