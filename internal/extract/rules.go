package extract

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/concierge/internal/booking"
)

var (
	capacityPattern    = regexp.MustCompile(`(?i)\b(\d+)[-\s]*(?:people|person|persons|attendees|guests|participants|seats)\b`)
	capacityAltPattern = regexp.MustCompile(`(?i)\bcapacity(?:\s+of)?\s+(\d+)\b`)
	purposePattern     = regexp.MustCompile(`(?i)\bfor\s+(?:a\s+|an\s+|the\s+|our\s+|my\s+)?([a-z][a-z ]*?(?:meeting|interview|sync|standup|review|presentation|workshop|training|demo|call))\b`)
)

var amenityAliases = map[string]string{
	"projector":          "projector",
	"whiteboard":         "whiteboard",
	"white board":        "whiteboard",
	"video conferencing": "video_conference",
	"video conference":   "video_conference",
	"video call":         "video_conference",
	"screen":             "display",
	"tv":                 "display",
	"display":            "display",
	"conference phone":   "phone",
	"speakerphone":       "phone",
	"wheelchair":         "wheelchair_access",
}

// RuleExtractor parses booking criteria with deterministic patterns and no
// external calls. It is the fallback when no language model is configured,
// and the reference behavior the scripted tests pin down.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

func (e *RuleExtractor) Extract(_ context.Context, text string, anchor time.Time) (booking.Criteria, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return booking.Criteria{}, missingFieldFailure("date", "start_time", "capacity")
	}

	var missing []string

	date, dateOK := resolveDate(text, anchor)
	if !dateOK {
		missing = append(missing, "date")
	}

	var start, end time.Time
	windowOK := false
	if dateOK {
		start, end, windowOK = resolveWindow(text, date)
	} else {
		_, found := firstClock(text)
		windowOK = found
	}
	if !windowOK {
		missing = append(missing, "start_time")
	}

	capacity, capOK := extractCapacity(text)
	if !capOK {
		missing = append(missing, "capacity")
	}

	if len(missing) > 0 {
		return booking.Criteria{}, missingFieldFailure(missing...)
	}

	c := booking.Criteria{
		Date:      date,
		Start:     start,
		End:       end,
		Capacity:  capacity,
		Amenities: extractAmenities(text),
		Purpose:   extractPurpose(text),
	}
	if err := c.Validate(); err != nil {
		return booking.Criteria{}, &Failure{Kind: KindParseFailure, Detail: err.Error(), Err: err}
	}
	return c, nil
}

func extractCapacity(text string) (int, bool) {
	m := capacityPattern.FindStringSubmatch(text)
	if m == nil {
		m = capacityAltPattern.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func extractAmenities(text string) []string {
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	for alias, canonical := range amenityAliases {
		if strings.Contains(lower, alias) {
			seen[canonical] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func extractPurpose(text string) string {
	m := purposePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
