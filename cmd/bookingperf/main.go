package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL        string
	userID         string
	username       string
	password       string
	rounds         int
	interTurnDelay time.Duration
	replyTimeout   time.Duration
	texts          []string
	verbose        bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Text      string `json:"text,omitempty"`
}

var defaultRequests = []string{
	"book a room for 4 people tomorrow at 10am for one hour",
	"I need a conference room for 8 people tomorrow at 2 PM for 2 hours",
	"find a huddle room for 2 people on friday at 9:30",
	"reserve a boardroom with a projector for 12 people tomorrow at noon",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bookingperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bookingperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var replyTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "concierge base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	flag.StringVar(&cfg.username, "username", "perf", "portal username for the synthetic session")
	flag.StringVar(&cfg.password, "password", "perf", "portal password for the synthetic session")
	flag.IntVar(&cfg.rounds, "rounds", 10, "number of booking requests to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between requests in milliseconds")
	flag.IntVar(&replyTimeoutMS, "reply-timeout-ms", 30000, "timeout waiting for a reply per request in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "requests separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.rounds <= 0 {
		return options{}, fmt.Errorf("rounds must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if replyTimeoutMS < 1000 {
		replyTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.replyTimeout = time.Duration(replyTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultRequests...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			t := strings.TrimSpace(part)
			if t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty requests")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("bookingperf: session=%s rounds=%d\n", sessionID, cfg.rounds)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	login := map[string]any{
		"type":       "client_login",
		"session_id": sessionID,
		"username":   cfg.username,
		"password":   cfg.password,
	}
	if err := conn.WriteJSON(login); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	if err := awaitType(conn, cfg.replyTimeout, "system_event", "error_event"); err != nil {
		return fmt.Errorf("await login ack: %w", err)
	}

	var latencies []time.Duration
	for i := 0; i < cfg.rounds; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("bookingperf: round %d/%d text=%q\n", i+1, cfg.rounds, text)
		}

		msg := map[string]any{
			"type":       "client_message",
			"session_id": sessionID,
			"text":       text,
			"ts_ms":      time.Now().UnixMilli(),
		}
		start := time.Now()
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("round %d send: %w", i+1, err)
		}
		if err := awaitType(conn, cfg.replyTimeout, "assistant_reply", "clarification"); err != nil {
			return fmt.Errorf("round %d await reply: %w", i+1, err)
		}
		latencies = append(latencies, time.Since(start))

		if cfg.interTurnDelay > 0 && i < cfg.rounds-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(latencies)
	return fetchPortalPerf(ctx, httpClient, cfg)
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/chat/ws"
	u.RawQuery = "session_id=" + url.QueryEscape(sessionID)
	return u.String(), nil
}

// awaitType reads frames until one of the named types arrives. An error_event
// before a wanted type fails the round unless it was asked for.
func awaitType(conn *websocket.Conn, timeout time.Duration, wanted ...string) error {
	deadline := time.Now().Add(timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		for _, w := range wanted {
			if env.Type == w {
				if env.Type == "error_event" && env.Code != "" {
					return fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
				}
				return nil
			}
		}
		if env.Type == "error_event" {
			return fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
		}
	}
}

func printSummary(latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	p95 := sorted[(len(sorted)*95)/100]
	fmt.Printf("bookingperf: rounds=%d avg=%s p50=%s p95=%s max=%s\n",
		len(sorted),
		total/time.Duration(len(sorted)),
		sorted[len(sorted)/2],
		p95,
		sorted[len(sorted)-1],
	)
}

func fetchPortalPerf(ctx context.Context, client *http.Client, cfg options) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.baseURL+"/v1/perf/portal", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /v1/perf/portal: HTTP %d", res.StatusCode)
	}
	fmt.Printf("bookingperf: portal ops: %s\n", strings.TrimSpace(string(body)))
	return nil
}
