package chat

import (
	"fmt"
	"strings"

	"github.com/ent0n29/concierge/internal/booking"
)

// Reply is the outbound answer to one inbound message: conversational text
// plus any machine-readable payload the presentation layer can render.
type Reply struct {
	Text          string                  `json:"text"`
	Candidates    []booking.RoomCandidate `json:"candidates,omitempty"`
	HasCandidates bool                    `json:"has_candidates,omitempty"`
	Result        *booking.Result         `json:"result,omitempty"`
	MissingFields []string                `json:"missing_fields,omitempty"`

	// Discarded marks a reply whose underlying operation was superseded by a
	// newer message; callers drop it instead of sending it.
	Discarded bool `json:"-"`
}

func helpReply() Reply {
	return Reply{Text: "I can help you book a room. Tell me when you need it, for how many people, and anything the room must have. For example: \"a room for 6 tomorrow at 10am with a projector\"."}
}

func clarificationReply(fields []string) Reply {
	named := make([]string, 0, len(fields))
	for _, f := range fields {
		named = append(named, strings.ReplaceAll(f, "_", " "))
	}
	return Reply{
		Text:          fmt.Sprintf("I need a bit more detail before I can search: please tell me the %s.", strings.Join(named, " and the ")),
		MissingFields: fields,
	}
}

func extractorDownReply() Reply {
	return Reply{Text: "I couldn't understand that request right now because the language service is unavailable. Please try again in a moment."}
}

func candidatesReply(criteria booking.Criteria, candidates []booking.RoomCandidate) Reply {
	if len(candidates) == 0 {
		return Reply{
			Text: fmt.Sprintf("No rooms for %d people are free on %s between %s and %s. Try a different time or a smaller group.",
				criteria.Capacity,
				criteria.Date.Format("Monday, January 2"),
				criteria.Start.Format("15:04"),
				criteria.End.Format("15:04")),
			Candidates:    []booking.RoomCandidate{},
			HasCandidates: true,
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d room(s) for %s, %s to %s:\n",
		len(candidates),
		criteria.Date.Format("Monday, January 2"),
		criteria.Start.Format("15:04"),
		criteria.End.Format("15:04"))
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (%s, seats %d", c.Name, c.ID, c.Capacity)
		if len(c.Amenities) > 0 {
			fmt.Fprintf(&b, ", %s", strings.Join(c.Amenities, ", "))
		}
		b.WriteString(")\n")
	}
	b.WriteString("Pick one and I'll book it.")
	return Reply{Text: b.String(), Candidates: candidates, HasCandidates: true}
}

func runFailureReply(run *booking.Run) Reply {
	switch run.FailureReason {
	case booking.ReasonAuth:
		return Reply{Text: "Your portal session could not be refreshed. Please log in again with your portal credentials."}
	case booking.ReasonInvalidCriteria:
		return Reply{Text: fmt.Sprintf("Those details don't make a searchable request (%s). Adjust them and try again.", run.FailureDetail)}
	case booking.ReasonBookingConflict:
		return Reply{
			Text:   "That room was taken between the search and your selection. I didn't retry, because the availability has changed; ask me to search again for fresh options.",
			Result: run.Result,
		}
	default:
		return Reply{Text: "The booking portal misbehaved while I was driving it. Nothing was booked; please try again."}
	}
}

func bookedReply(run *booking.Run, roomName string) Reply {
	text := fmt.Sprintf("Done! %s is booked for %s, %s to %s.",
		roomName,
		run.Criteria.Date.Format("Monday, January 2"),
		run.Criteria.Start.Format("15:04"),
		run.Criteria.End.Format("15:04"))
	if run.Result != nil && run.Result.ConfirmationRef != "" {
		text += fmt.Sprintf(" Confirmation reference: %s.", run.Result.ConfirmationRef)
	}
	return Reply{Text: text, Result: run.Result}
}

func candidateName(candidates []booking.RoomCandidate, roomID string) string {
	for _, c := range candidates {
		if c.ID == roomID {
			return c.Name
		}
	}
	return roomID
}
