package chat

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/ent0n29/concierge/internal/portal"
	"github.com/ent0n29/concierge/internal/protocol"
)

// RunConnection services one websocket's parsed inbound messages until the
// channel closes. Each message is dispatched on its own goroutine so a
// long-running portal search never blocks newer messages; supersession of
// in-flight results is handled by the conversation's generation counter.
func (co *Coordinator) RunConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error {
	co.Start(sessionID)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func(m any) {
				defer wg.Done()
				co.dispatch(ctx, sessionID, m, outbound)
			}(msg)
		}
	}
}

func (co *Coordinator) dispatch(ctx context.Context, sessionID string, msg any, outbound chan<- any) {
	switch m := msg.(type) {
	case protocol.ClientLogin:
		co.dispatchLogin(ctx, sessionID, m, outbound)
	case protocol.ClientMessage:
		reply, err := co.HandleMessage(ctx, sessionID, m.Text)
		co.emitReply(sessionID, reply, err, outbound)
	case protocol.ClientSelect:
		reply, err := co.HandleSelect(ctx, sessionID, m.RoomID)
		co.emitReply(sessionID, reply, err, outbound)
	case protocol.ClientLogout:
		if err := co.Logout(ctx, sessionID); err != nil {
			co.send(outbound, errorEvent(sessionID, "logout_failed", err.Error(), false))
			return
		}
		co.send(outbound, protocol.SystemEvent{
			Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "logged_out",
		})
	default:
		co.send(outbound, errorEvent(sessionID, "unsupported_message", "message type not handled", false))
	}
}

func (co *Coordinator) dispatchLogin(ctx context.Context, sessionID string, m protocol.ClientLogin, outbound chan<- any) {
	err := co.Login(ctx, sessionID, portal.Credentials{Username: m.Username, Password: m.Password})
	if err == nil {
		co.send(outbound, protocol.SystemEvent{
			Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "login_ok",
		})
		return
	}
	if ae, ok := portal.AsAuthError(err); ok {
		retryable := ae.Kind == portal.AuthPortalUnreachable
		co.send(outbound, errorEvent(sessionID, string(ae.Kind), ae.Detail, retryable))
		return
	}
	co.send(outbound, errorEvent(sessionID, "login_failed", err.Error(), false))
}

// emitReply translates one coordinator reply into outbound protocol frames.
func (co *Coordinator) emitReply(sessionID string, reply Reply, err error, outbound chan<- any) {
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		co.send(outbound, errorEvent(sessionID, "login_required", "log in to the portal before booking", false))
		return
	case errors.Is(err, ErrNoPendingRun):
		co.send(outbound, errorEvent(sessionID, "no_pending_results", "search for rooms before selecting one", false))
		return
	case errors.Is(err, ErrNoConversation):
		co.send(outbound, errorEvent(sessionID, "unknown_session", "session has no active conversation", false))
		return
	case err != nil:
		co.send(outbound, errorEvent(sessionID, "internal_error", err.Error(), true))
		return
	}
	if reply.Discarded {
		return
	}

	if len(reply.MissingFields) > 0 {
		co.send(outbound, protocol.Clarification{
			Type: protocol.TypeClarification, SessionID: sessionID,
			Text: reply.Text, MissingFields: reply.MissingFields,
		})
		return
	}

	co.send(outbound, protocol.AssistantReply{
		Type: protocol.TypeAssistantReply, SessionID: sessionID, Text: reply.Text,
	})
	if reply.HasCandidates {
		co.send(outbound, protocol.RoomCandidates{
			Type: protocol.TypeRoomCandidates, SessionID: sessionID, Candidates: reply.Candidates,
		})
	}
	if reply.Result != nil {
		co.send(outbound, protocol.BookingResult{
			Type: protocol.TypeBookingResult, SessionID: sessionID, Result: *reply.Result,
		})
	}
}

// send keeps websocket writes single-threaded downstream; drop if the
// outbound queue is saturated rather than block the dispatch goroutine.
func (co *Coordinator) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		log.Printf("chat: outbound queue full, dropping %T", msg)
	}
}

func errorEvent(sessionID, code, detail string, retryable bool) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "concierge",
		Retryable: retryable,
		Detail:    detail,
	}
}
