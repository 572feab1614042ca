package portal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/concierge/internal/automation"
	"github.com/ent0n29/concierge/internal/booking"
	"github.com/ent0n29/concierge/internal/reliability"
)

var conflictPhrases = []string{
	"no longer available",
	"conflict",
	"already booked",
	"just been booked",
	"slot is taken",
}

// Search drives the portal's search form and parses the result table.
// Zero rows is a valid outcome, not an error.
func (m *Manager) Search(ctx context.Context, sess *Session, criteria booking.Criteria) ([]booking.RoomCandidate, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := m.now()
	candidates, err := m.doSearch(ctx, sess, criteria)
	m.observe("search", start, err)
	if err == nil {
		sess.touch(m.now())
	}
	return candidates, err
}

func (m *Manager) doSearch(ctx context.Context, sess *Session, criteria booking.Criteria) ([]booking.RoomCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	if err := sess.auto.Navigate(ctx, m.cfg.BaseURL+"/search"); err != nil {
		return nil, driverError("search", err, "cannot reach search page")
	}
	if err := fillFirst(ctx, sess.auto, searchDateSelectors, criteria.Date.Format("2006-01-02")); err != nil {
		return nil, driverError("search", err, "date field not found")
	}
	if err := fillFirst(ctx, sess.auto, searchStartSelectors, criteria.Start.Format("15:04")); err != nil {
		return nil, driverError("search", err, "start time field not found")
	}
	if err := fillFirst(ctx, sess.auto, searchEndSelectors, criteria.End.Format("15:04")); err != nil {
		return nil, driverError("search", err, "end time field not found")
	}
	if err := fillFirst(ctx, sess.auto, searchCapacitySelectors, strconv.Itoa(criteria.Capacity)); err != nil {
		return nil, driverError("search", err, "capacity field not found")
	}
	for _, amenity := range criteria.Amenities {
		// Amenity filters are optional portal features; a missing checkbox
		// narrows nothing and must not fail the search.
		for _, sel := range amenitySelectors(amenity) {
			has, err := sess.auto.Exists(ctx, sel)
			if err != nil {
				return nil, driverError("search", err, "cannot inspect amenity filters")
			}
			if has {
				if err := sess.auto.Click(ctx, sel); err != nil {
					return nil, driverError("search", err, "amenity filter rejected click")
				}
				break
			}
		}
	}
	if err := clickFirst(ctx, sess.auto, searchSubmitSelectors); err != nil {
		return nil, driverError("search", err, "search button not found")
	}

	tableSel, found, err := firstExisting(ctx, sess.auto, resultsTableSelectors)
	if err != nil {
		return nil, driverError("search", err, "cannot inspect results")
	}
	if !found {
		empty, err := anyExists(ctx, sess.auto, noResultsSelectors)
		if err != nil {
			return nil, driverError("search", err, "cannot inspect results")
		}
		if empty {
			return []booking.RoomCandidate{}, nil
		}
		return nil, &booking.DriverError{
			Kind: booking.DriverUnexpectedPageShape, Op: "search",
			Detail: "neither results nor empty-state marker present",
		}
	}

	rows, err := sess.auto.ReadTable(ctx, tableSel)
	if err != nil {
		return nil, driverError("search", err, "cannot read results table")
	}
	candidates, err := parseCandidates(rows, criteria.Date)
	if err != nil {
		return nil, &booking.DriverError{
			Kind: booking.DriverUnexpectedPageShape, Op: "search",
			Detail: err.Error(), Err: err,
		}
	}
	return candidates, nil
}

// Book submits a booking for one previously returned candidate and reads the
// portal's verdict. Conflicts surface as *booking.ConflictError.
func (m *Manager) Book(ctx context.Context, sess *Session, req booking.Request) (booking.Result, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	start := m.now()
	result, err := m.doBook(ctx, sess, req)
	m.observe("book", start, err)
	if err == nil {
		sess.touch(m.now())
	}
	return result, err
}

func (m *Manager) doBook(ctx context.Context, sess *Session, req booking.Request) (booking.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()

	if err := clickFirst(ctx, sess.auto, bookButtonSelectors(req.RoomID)); err != nil {
		return booking.Result{}, driverError("book", err, "book button not found for room "+req.RoomID)
	}
	if req.Purpose != "" {
		if has, err := anyExists(ctx, sess.auto, bookingPurposeSelectors); err == nil && has {
			if err := fillFirst(ctx, sess.auto, bookingPurposeSelectors, req.Purpose); err != nil {
				return booking.Result{}, driverError("book", err, "purpose field rejected input")
			}
		}
	}
	if has, err := anyExists(ctx, sess.auto, bookingConfirmSelectors); err == nil && has {
		if err := clickFirst(ctx, sess.auto, bookingConfirmSelectors); err != nil {
			return booking.Result{}, driverError("book", err, "confirm button not clickable")
		}
	}

	if ref, ok := firstText(ctx, sess.auto, confirmationSelectors); ok {
		return booking.Result{Booked: true, ConfirmationRef: strings.TrimSpace(ref)}, nil
	}

	if banner, ok := firstText(ctx, sess.auto, conflictSelectors); ok {
		return booking.Result{}, &booking.ConflictError{RoomID: req.RoomID, Detail: strings.TrimSpace(banner)}
	}
	if banner, ok := firstText(ctx, sess.auto, bookingErrorSelectors); ok {
		banner = strings.TrimSpace(banner)
		if looksLikeConflict(banner) {
			return booking.Result{}, &booking.ConflictError{RoomID: req.RoomID, Detail: banner}
		}
		return booking.Result{}, &booking.DriverError{
			Kind: booking.DriverUnknown, Op: "book", Detail: banner,
		}
	}

	return booking.Result{}, &booking.DriverError{
		Kind: booking.DriverUnexpectedPageShape, Op: "book",
		Detail: "booking outcome not recognized",
	}
}

// IsAuthenticated probes the logged-in marker without mutating page state.
func (m *Manager) IsAuthenticated(ctx context.Context, sess *Session) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	alive, err := anyExists(ctx, sess.auto, loggedInSelectors)
	return err == nil && alive
}

func bookButtonSelectors(roomID string) []string {
	return []string{
		fmt.Sprintf("button[data-room-id='%s']", roomID),
		fmt.Sprintf("#book-%s", roomID),
		fmt.Sprintf("tr[data-room-id='%s'] button", roomID),
	}
}

func looksLikeConflict(banner string) bool {
	lower := strings.ToLower(banner)
	for _, phrase := range conflictPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// driverError classifies a raw automation failure into the typed taxonomy
// the orchestrator keys its retry policy on.
func driverError(op string, err error, detail string) error {
	kind := booking.DriverUnknown
	switch {
	case reliability.IsTimeout(err):
		kind = booking.DriverTimeout
	case errors.Is(err, automation.ErrNoSuchElement):
		kind = booking.DriverUnexpectedPageShape
	}
	return &booking.DriverError{Kind: kind, Op: op, Detail: detail, Err: err}
}

// parseCandidates turns raw table rows into candidates. Rows carry
// id, name, capacity, amenities, availability; a leading header row is
// skipped, any other malformed row poisons the whole parse.
func parseCandidates(rows [][]string, day time.Time) ([]booking.RoomCandidate, error) {
	out := []booking.RoomCandidate{}
	for i, cells := range rows {
		if len(cells) == 0 {
			continue
		}
		if i == 0 && looksLikeHeader(cells) {
			continue
		}
		if len(cells) < 3 {
			return nil, fmt.Errorf("result row %d has %d cells, want at least 3", i, len(cells))
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(cells[2]))
		if err != nil {
			return nil, fmt.Errorf("result row %d capacity %q is not a number", i, cells[2])
		}
		c := booking.RoomCandidate{
			ID:       strings.TrimSpace(cells[0]),
			Name:     strings.TrimSpace(cells[1]),
			Capacity: capacity,
		}
		if c.ID == "" {
			return nil, fmt.Errorf("result row %d has no room id", i)
		}
		if len(cells) > 3 && strings.TrimSpace(cells[3]) != "" {
			c.Amenities = splitAmenities(cells[3])
		}
		if len(cells) > 4 && strings.TrimSpace(cells[4]) != "" {
			from, until, err := parseAvailability(cells[4], day)
			if err != nil {
				return nil, fmt.Errorf("result row %d: %w", i, err)
			}
			c.AvailableFrom, c.AvailableUntil = from, until
		}
		out = append(out, c)
	}
	return out, nil
}

func looksLikeHeader(cells []string) bool {
	if len(cells) < 3 {
		return true
	}
	_, err := strconv.Atoi(strings.TrimSpace(cells[2]))
	return err != nil
}

func splitAmenities(cell string) []string {
	parts := strings.Split(cell, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAvailability reads a "09:00 - 17:00" window against the search day.
func parseAvailability(cell string, day time.Time) (time.Time, time.Time, error) {
	parts := strings.SplitN(cell, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("availability %q is not a time range", cell)
	}
	from, err := time.Parse("15:04", strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("availability %q: %w", cell, err)
	}
	until, err := time.Parse("15:04", strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("availability %q: %w", cell, err)
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return dayStart.Add(time.Duration(from.Hour())*time.Hour + time.Duration(from.Minute())*time.Minute),
		dayStart.Add(time.Duration(until.Hour())*time.Hour + time.Duration(until.Minute())*time.Minute), nil
}

// firstExisting returns the first selector candidate present on the page.
func firstExisting(ctx context.Context, auto automation.Automator, selectors []string) (string, bool, error) {
	for _, sel := range selectors {
		found, err := auto.Exists(ctx, sel)
		if err != nil {
			return "", false, err
		}
		if found {
			return sel, true, nil
		}
	}
	return "", false, nil
}

// Bound ties a Manager and one Session into the driver and session-ensurer
// surfaces the orchestrator consumes.
type Bound struct {
	m    *Manager
	sess *Session
}

func (m *Manager) Bind(sess *Session) *Bound {
	return &Bound{m: m, sess: sess}
}

func (b *Bound) Session() *Session { return b.sess }

func (b *Bound) EnsureValid(ctx context.Context) error {
	return b.m.EnsureValid(ctx, b.sess)
}

func (b *Bound) Search(ctx context.Context, criteria booking.Criteria) ([]booking.RoomCandidate, error) {
	return b.m.Search(ctx, b.sess, criteria)
}

func (b *Bound) Book(ctx context.Context, req booking.Request) (booking.Result, error) {
	return b.m.Book(ctx, b.sess, req)
}

func (b *Bound) IsAuthenticated(ctx context.Context) bool {
	return b.m.IsAuthenticated(ctx, b.sess)
}

var (
	_ booking.Driver         = (*Bound)(nil)
	_ booking.SessionEnsurer = (*Bound)(nil)
)
