package automation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeDebugger serves the /json discovery endpoint and a minimal DevTools
// websocket that answers evaluate calls based on the expression text.
func fakeDebugger(t *testing.T) (host string, port int) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}

	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws://" + u.Host + "/devtools/page/1"
		fmt.Fprintf(w, `[{"type":"page","webSocketDebuggerUrl":%q}]`, wsURL)
	})
	mux.HandleFunc("/devtools/page/1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     int64          `json:"id"`
				Method string         `json:"method"`
				Params map[string]any `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			result := map[string]any{}
			if req.Method == "Runtime.evaluate" {
				expr, _ := req.Params["expression"].(string)
				result["result"] = map[string]any{"value": evalValue(expr)}
			}
			resp := map[string]any{"id": req.ID, "result": result}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	})

	portNum, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return u.Hostname(), portNum
}

func evalValue(expr string) any {
	switch {
	case strings.Contains(expr, "document.readyState"):
		return "complete"
	case strings.Contains(expr, "querySelectorAll('tr')"):
		return [][]string{{"Room A", "8"}, {"Room B", "4"}}
	case strings.Contains(expr, "innerText"):
		return "Signed in as alice"
	default:
		return true
	}
}

func newTestClient(t *testing.T) *CDPClient {
	t.Helper()
	host, port := fakeDebugger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := NewCDPClient(ctx, CDPConfig{Host: host, Port: port, CallTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewCDPClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCDPClientRoundTrips(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.Navigate(ctx, "https://portal.example/login"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if err := c.Fill(ctx, "#username", "alice"); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := c.Click(ctx, "button[type=submit]"); err != nil {
		t.Fatalf("Click: %v", err)
	}

	found, err := c.Exists(ctx, ".user-menu")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !found {
		t.Fatalf("Exists = false, want true")
	}

	text, err := c.Text(ctx, ".user-menu")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "Signed in as alice" {
		t.Fatalf("Text = %q", text)
	}

	rows, err := c.ReadTable(ctx, "#results")
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "Room A" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestDiscoverPageNoTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	_, err := discoverPage(context.Background(), u.Hostname(), port)
	if err == nil {
		t.Fatalf("discoverPage succeeded with no targets")
	}
}

var _ Automator = (*CDPClient)(nil)
var _ Automator = (*Script)(nil)
