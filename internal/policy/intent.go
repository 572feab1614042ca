package policy

import "strings"

var (
	bookingKeywords = []string{
		"book", "reserve", "reservation", "room", "meeting", "conference",
		"schedule", "space", "huddle", "boardroom",
	}
	timeHintKeywords = []string{
		"today", "tomorrow", "monday", "tuesday", "wednesday", "thursday",
		"friday", "saturday", "sunday", "am", "pm", ":", "noon", "morning",
		"afternoon", "hour", "minute",
	}
)

// LooksLikeBookingRequest reports whether a chat message plausibly asks for a
// room, so greeting-only messages can be answered without an extraction call.
func LooksLikeBookingRequest(text string) bool {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return false
	}
	for _, kw := range bookingKeywords {
		if strings.Contains(in, kw) {
			return true
		}
	}

	// Fallback for terse follow-ups that only carry scheduling details.
	hints := 0
	for _, kw := range timeHintKeywords {
		if strings.Contains(in, kw) {
			hints++
		}
	}
	return hints >= 2
}
