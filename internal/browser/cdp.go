package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// cdpRequest and cdpResponse are the minimal Chrome DevTools Protocol
// JSON-RPC envelope. Requests are correlated to responses by integer ID
// over a single persistent websocket.
type cdpRequest struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type cdpResponse struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
	// event fields, mutually exclusive with ID/Result in practice.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string { return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message) }

// cdpConn is a single websocket connection to either the browser endpoint
// or a page target, with request/response correlation and an event fan-out.
type cdpConn struct {
	ws       *websocket.Conn
	nextID   atomic.Int64
	mu       sync.Mutex
	pending  map[int64]chan cdpResponse
	handlers map[string][]func(json.RawMessage)
	closed   atomic.Bool
}

func dialCDP(ctx context.Context, wsURL string) (*cdpConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools websocket: %w", err)
	}
	c := &cdpConn{
		ws:       ws,
		pending:  make(map[int64]chan cdpResponse),
		handlers: make(map[string][]func(json.RawMessage)),
	}
	go c.readLoop()
	return c, nil
}

func (c *cdpConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closed.Store(true)
			c.failAllPending(err)
			return
		}
		var msg cdpResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Method != "" {
			c.dispatchEvent(msg.Method, msg.Params)
			continue
		}
		c.deliver(msg)
	}
}

func (c *cdpConn) deliver(msg cdpResponse) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *cdpConn) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- cdpResponse{ID: id, Error: &cdpError{Code: -1, Message: err.Error()}}
		delete(c.pending, id)
	}
}

func (c *cdpConn) dispatchEvent(method string, params json.RawMessage) {
	c.mu.Lock()
	hs := append([]func(json.RawMessage){}, c.handlers[method]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(params)
	}
}

// on registers a handler for a CDP event, e.g. "Network.requestWillBeSent".
func (c *cdpConn) on(method string, handler func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = append(c.handlers[method], handler)
}

// call sends a CDP command and waits for its response, honoring ctx.
func (c *cdpConn) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	req := cdpRequest{ID: id, SessionID: sessionID, Method: method, Params: raw}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	replyCh := make(chan cdpResponse, 1)
	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case resp := <-replyCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *cdpConn) close() error {
	if c == nil || c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// devToolsTarget is one entry of Chromium's /json HTTP endpoint listing.
type devToolsTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// newPageTarget asks Chromium's HTTP endpoint to open a fresh about:blank
// page target and returns its DevTools websocket URL.
func newPageTarget(ctx context.Context, debugPort int) (devToolsTarget, error) {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/json/new?about:blank", debugPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return devToolsTarget{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return devToolsTarget{}, fmt.Errorf("create page target: %w", err)
	}
	defer resp.Body.Close()

	var target devToolsTarget
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return devToolsTarget{}, fmt.Errorf("decode page target: %w", err)
	}
	return target, nil
}

func closePageTarget(ctx context.Context, debugPort int, targetID string) {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/json/close/%s", debugPort, targetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		resp.Body.Close()
	}
}
