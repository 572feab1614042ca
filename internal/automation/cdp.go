package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoSuchElement reports that a selector matched nothing on the page.
var ErrNoSuchElement = errors.New("automation: no element matches selector")

const (
	defaultDebugHost   = "127.0.0.1"
	defaultDebugPort   = 9222
	defaultCallTimeout = 10 * time.Second
	readyPollInterval  = 150 * time.Millisecond
)

// CDPConfig locates a Chrome instance started with --remote-debugging-port.
type CDPConfig struct {
	Host        string
	Port        int
	CallTimeout time.Duration
}

// CDPClient speaks the DevTools protocol to one browser page over a
// websocket. One request id maps to one pending reply channel; protocol
// events are ignored.
type CDPClient struct {
	conn        *websocket.Conn
	callTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan rpcReply
	readErr error

	nextID    atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

type debugTarget struct {
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewCDPClient discovers the first debuggable page via the browser's
// /json endpoint and attaches to it.
func NewCDPClient(ctx context.Context, cfg CDPConfig) (*CDPClient, error) {
	host := cfg.Host
	if host == "" {
		host = defaultDebugHost
	}
	port := cfg.Port
	if port <= 0 {
		port = defaultDebugPort
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	wsURL, err := discoverPage(ctx, host, port)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial debugger: %w", err)
	}

	c := &CDPClient{
		conn:        conn,
		callTimeout: callTimeout,
		pending:     make(map[int64]chan rpcReply),
		closed:      make(chan struct{}),
	}
	go c.readLoop()

	for _, domain := range []string{"Page.enable", "Runtime.enable"} {
		if _, err := c.call(ctx, domain, nil); err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", domain, err)
		}
	}
	return c, nil
}

func discoverPage(ctx context.Context, host string, port int) (string, error) {
	endpoint := fmt.Sprintf("http://%s:%d/json", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("list debug targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("list debug targets: status %d", resp.StatusCode)
	}

	var targets []debugTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode debug targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", errors.New("automation: no debuggable page found")
}

func (c *CDPClient) readLoop() {
	for {
		var msg struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
			Method string `json:"method"`
		}
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.failPending(err)
			return
		}
		if msg.ID == 0 {
			// Protocol event, not a call reply.
			continue
		}

		c.mu.Lock()
		ch := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ch == nil {
			continue
		}
		if msg.Error != nil {
			ch <- rpcReply{err: fmt.Errorf("automation: %s", msg.Error.Message)}
			continue
		}
		ch <- rpcReply{result: msg.Result}
	}
}

func (c *CDPClient) failPending(err error) {
	c.mu.Lock()
	c.readErr = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- rpcReply{err: err}
	}
	c.mu.Unlock()
	c.Close()
}

func (c *CDPClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	id := c.nextID.Add(1)
	ch := make(chan rpcReply, 1)

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	payload := map[string]any{"id": id, "method": method}
	if params != nil {
		payload["params"] = params
	}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case reply := <-ch:
		if reply.err != nil {
			return nil, fmt.Errorf("%s: %w", method, reply.err)
		}
		return reply.result, nil
	}
}

// eval runs a JS expression and unmarshals its by-value result into out.
func (c *CDPClient) eval(ctx context.Context, expr string, out any) error {
	raw, err := c.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return err
	}

	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("automation: page script failed: %s", res.ExceptionDetails.Text)
	}
	if out != nil && len(res.Result.Value) > 0 {
		if err := json.Unmarshal(res.Result.Value, out); err != nil {
			return fmt.Errorf("decode evaluate value: %w", err)
		}
	}
	return nil
}

func (c *CDPClient) Navigate(ctx context.Context, url string) error {
	if _, err := c.call(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return err
	}
	return c.waitReady(ctx)
}

func (c *CDPClient) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	for {
		var state string
		if err := c.eval(ctx, "document.readyState", &state); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

func (c *CDPClient) Fill(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, strconv.Quote(selector), strconv.Quote(value))

	var found bool
	if err := c.eval(ctx, expr, &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("fill %q: %w", selector, ErrNoSuchElement)
	}
	return nil
}

func (c *CDPClient) Click(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, strconv.Quote(selector))

	var found bool
	if err := c.eval(ctx, expr, &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("click %q: %w", selector, ErrNoSuchElement)
	}
	return nil
}

func (c *CDPClient) Exists(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf("!!document.querySelector(%s)", strconv.Quote(selector))
	var found bool
	if err := c.eval(ctx, expr, &found); err != nil {
		return false, err
	}
	return found, nil
}

func (c *CDPClient) Text(ctx context.Context, selector string) (string, error) {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? el.innerText : null;
	})()`, strconv.Quote(selector))

	var text *string
	if err := c.eval(ctx, expr, &text); err != nil {
		return "", err
	}
	if text == nil {
		return "", fmt.Errorf("text %q: %w", selector, ErrNoSuchElement)
	}
	return *text, nil
}

// ReadTable returns the rows under selector as cell text. Non-table
// containers fall back to one cell per child element.
func (c *CDPClient) ReadTable(ctx context.Context, selector string) ([][]string, error) {
	expr := fmt.Sprintf(`(() => {
		const root = document.querySelector(%s);
		if (!root) return null;
		const rows = root.querySelectorAll('tr');
		if (rows.length) {
			return Array.from(rows).map(r =>
				Array.from(r.querySelectorAll('td,th')).map(c => c.innerText.trim()));
		}
		return Array.from(root.children).map(el => [el.innerText.trim()]);
	})()`, strconv.Quote(selector))

	var rows *[][]string
	if err := c.eval(ctx, expr, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, fmt.Errorf("read table %q: %w", selector, ErrNoSuchElement)
	}
	return *rows, nil
}

func (c *CDPClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
