package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/concierge/internal/booking"
	"github.com/ent0n29/concierge/internal/chat"
	"github.com/ent0n29/concierge/internal/config"
	"github.com/ent0n29/concierge/internal/observability"
	"github.com/ent0n29/concierge/internal/policy"
	"github.com/ent0n29/concierge/internal/portal"
	"github.com/ent0n29/concierge/internal/protocol"
	"github.com/ent0n29/concierge/internal/session"
)

type Coordinator interface {
	Start(sessionID string) *chat.Conversation
	Get(sessionID string) (*chat.Conversation, bool)
	End(ctx context.Context, sessionID string)
	Login(ctx context.Context, sessionID string, creds portal.Credentials) error
	Logout(ctx context.Context, sessionID string) error
	HandleMessage(ctx context.Context, sessionID, text string) (chat.Reply, error)
	HandleCriteria(ctx context.Context, sessionID string, criteria booking.Criteria) (chat.Reply, error)
	HandleSelect(ctx context.Context, sessionID, roomID string) (chat.Reply, error)
	RunConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	coordinator Coordinator
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, coordinator Coordinator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		coordinator: coordinator,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same origin.
				// This prevents other websites from driving the user's portal session if
				// the concierge is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Post("/v1/session/{id}/login", s.handleLogin)
	r.Post("/v1/session/{id}/logout", s.handleLogout)
	r.Post("/v1/session/{id}/message", s.handleMessage)
	r.Post("/v1/session/{id}/search", s.handleSearch)
	r.Post("/v1/session/{id}/select", s.handleSelect)
	r.Get("/v1/session/{id}/history", s.handleHistory)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/perf/portal", s.handlePerfPortal)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"extractor_mode":  s.cfg.ExtractorMode,
		"automation_mode": s.cfg.AutomationMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.coordinator.Start(sess.ID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.coordinator.End(r.Context(), id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.coordinator.Login(r.Context(), id, portal.Credentials{Username: req.Username, Password: req.Password}); err != nil {
		if ae, ok := portal.AsAuthError(err); ok {
			status := http.StatusUnauthorized
			if ae.Kind == portal.AuthPortalUnreachable {
				status = http.StatusBadGateway
			}
			respondError(w, status, string(ae.Kind), ae.Detail)
			return
		}
		respondError(w, http.StatusInternalServerError, "login_failed", err.Error())
		return
	}

	_ = s.sessions.SetPortalLogin(id, req.Username, true)
	_ = s.sessions.Touch(id)
	respondJSON(w, http.StatusOK, map[string]any{"status": "logged_in"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coordinator.Logout(r.Context(), id); err != nil {
		status, code := chatErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	_ = s.sessions.SetPortalLogin(id, "", false)
	respondJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	reply, err := s.coordinator.HandleMessage(r.Context(), id, req.Text)
	if err != nil {
		status, code := chatErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	if reply.Discarded {
		respondJSON(w, http.StatusOK, map[string]any{"status": "superseded"})
		return
	}
	_ = s.sessions.Touch(id)
	respondJSON(w, http.StatusOK, reply)
}

type searchRequest struct {
	Date      string   `json:"date"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Capacity  int      `json:"capacity"`
	Amenities []string `json:"amenities,omitempty"`
	Purpose   string   `json:"purpose,omitempty"`
}

func (r searchRequest) criteria() (booking.Criteria, error) {
	date, err := time.Parse("2006-01-02", strings.TrimSpace(r.Date))
	if err != nil {
		return booking.Criteria{}, fmt.Errorf("date: %w", err)
	}
	start, err := time.Parse("15:04", strings.TrimSpace(r.Start))
	if err != nil {
		return booking.Criteria{}, fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse("15:04", strings.TrimSpace(r.End))
	if err != nil {
		return booking.Criteria{}, fmt.Errorf("end: %w", err)
	}
	c := booking.Criteria{
		Date:      date,
		Start:     date.Add(time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute),
		End:       date.Add(time.Duration(end.Hour())*time.Hour + time.Duration(end.Minute())*time.Minute),
		Capacity:  r.Capacity,
		Amenities: r.Amenities,
		Purpose:   strings.TrimSpace(r.Purpose),
	}
	return c, c.Validate()
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	criteria, err := req.criteria()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_criteria", err.Error())
		return
	}

	reply, err := s.coordinator.HandleCriteria(r.Context(), id, criteria)
	if err != nil {
		status, code := chatErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	if reply.Discarded {
		respondJSON(w, http.StatusOK, map[string]any{"status": "superseded"})
		return
	}
	_ = s.sessions.Touch(id)
	respondJSON(w, http.StatusOK, reply)
}

type selectRequest struct {
	RoomID string `json:"room_id"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.RoomID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "room_id is required")
		return
	}

	reply, err := s.coordinator.HandleSelect(r.Context(), id, req.RoomID)
	if err != nil {
		status, code := chatErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	if reply.Discarded {
		respondJSON(w, http.StatusOK, map[string]any{"status": "superseded"})
		return
	}
	_ = s.sessions.Touch(id)
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, ok := s.coordinator.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no conversation for session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"logged_in":  conv.LoggedIn(),
		"history":    conv.History(),
	})
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.coordinator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "coordinator not configured")
		return
	}

	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.coordinator.RunConnection(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("httpapi: ws write failed session=%s err=%v", sessionID, err)
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			redacted, _ := policy.RedactSecrets(string(data))
			log.Printf("httpapi: session %s rejected frame: %v payload=%s", sessionID, err, redacted)
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		_ = s.sessions.Touch(sessionID)
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrNoConversation):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, chat.ErrNotLoggedIn):
		return http.StatusUnauthorized, "login_required"
	case errors.Is(err, chat.ErrNoPendingRun):
		return http.StatusConflict, "no_pending_results"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientLogin:
		return m.Type, true
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientSelect:
		return m.Type, true
	case protocol.ClientLogout:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.RoomCandidates:
		return m.Type, true
	case protocol.BookingResult:
		return m.Type, true
	case protocol.Clarification:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
