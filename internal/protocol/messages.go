package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/concierge/internal/booking"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientLogin   MessageType = "client_login"
	TypeClientMessage MessageType = "client_message"
	TypeClientSelect  MessageType = "client_select"
	TypeClientLogout  MessageType = "client_logout"

	TypeAssistantReply MessageType = "assistant_reply"
	TypeRoomCandidates MessageType = "room_candidates"
	TypeBookingResult  MessageType = "booking_result"
	TypeClarification  MessageType = "clarification"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientLogin carries portal credentials for one conversation.
type ClientLogin struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Username  string      `json:"username"`
	Password  string      `json:"password"`
}

// ClientMessage is one free-text booking request or follow-up.
type ClientMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

// ClientSelect picks one candidate from the most recent room list.
type ClientSelect struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RoomID    string      `json:"room_id"`
}

type ClientLogout struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// AssistantReply is the conversational text answer to one client message.
type AssistantReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// RoomCandidates carries the machine-readable room list next to the reply.
type RoomCandidates struct {
	Type       MessageType             `json:"type"`
	SessionID  string                  `json:"session_id"`
	Candidates []booking.RoomCandidate `json:"candidates"`
}

// BookingResult reports the terminal outcome of one booking attempt.
type BookingResult struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Result    booking.Result `json:"result"`
}

// Clarification asks the user to supply fields extraction could not find.
type Clarification struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Text          string      `json:"text"`
	MissingFields []string    `json:"missing_fields,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientLogin:
		var msg ClientLogin
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Username == "" || msg.Password == "" {
			return nil, errors.New("invalid client_login")
		}
		return msg, nil
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_message")
		}
		return msg, nil
	case TypeClientSelect:
		var msg ClientSelect
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.RoomID == "" {
			return nil, errors.New("invalid client_select")
		}
		return msg, nil
	case TypeClientLogout:
		var msg ClientLogout
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_logout")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
