// Package transport maintains the WebSocket link to the backend.
//
// The backend streams synthesized speech down as framed chunk messages
// and accepts captured utterances back. The client reconnects with
// exponential backoff; message handling is callback-driven so the
// playback and capture paths never touch the wire format.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 120 * time.Second
	pingInterval     = 30 * time.Second

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// ErrNotConnected indicates a send was attempted without a live connection.
var ErrNotConnected = fmt.Errorf("transport: not connected")

// Client is the backend WebSocket client.
type Client struct {
	url    string
	logger *slog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool

	// Callbacks
	onSessionStart func()
	onChunk        func(payload []byte, format string)
	onSessionEnd   func()
	onGreeting     func()
	onAnalysis     func(active bool)
	onConnect      func()

	// Stats
	messagesIn  atomic.Int64
	messagesOut atomic.Int64
	reconnects  atomic.Int64
}

// NewClient creates a client for the given WebSocket URL.
func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		logger: logger.With("component", "transport"),
	}
}

// OnSessionStart sets the callback fired when the backend opens a
// synthesized-speech session.
func (c *Client) OnSessionStart(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionStart = fn
}

// OnChunk sets the callback fired with each compressed audio chunk.
func (c *Client) OnChunk(fn func(payload []byte, format string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChunk = fn
}

// OnSessionEnd sets the callback fired when the backend signals the end
// of the current session's chunk stream.
func (c *Client) OnSessionEnd(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionEnd = fn
}

// OnGreeting sets the callback fired when the backend announces that the
// following session is a greeting.
func (c *Client) OnGreeting(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGreeting = fn
}

// OnAnalysis sets the callback fired when a backend-side analysis starts
// (true) or finishes (false).
func (c *Client) OnAnalysis(fn func(active bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAnalysis = fn
}

// OnConnect sets the callback fired after each successful (re)connect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// Run connects and serves the link until ctx is cancelled, reconnecting
// with exponential backoff on any failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectMin

	for {
		if err := c.connect(ctx); err != nil {
			c.logger.Warn("backend connect failed",
				"url", c.url,
				"retry_in", backoff,
				"error", err,
			)
		} else {
			backoff = reconnectMin
			c.serve(ctx)
		}

		select {
		case <-ctx.Done():
			c.closeConn()
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
		c.reconnects.Add(1)
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	ws.SetPingHandler(func(appData string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	fn := c.onConnect
	c.mu.Unlock()

	c.logger.Info("backend connected", "url", c.url)
	if fn != nil {
		fn()
	}
	return nil
}

// serve pumps messages until the connection drops or ctx is cancelled.
func (c *Client) serve(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)

	go c.keepAlive(ctx, done)

	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}

		ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("backend connection lost", "error", err)
			}
			c.closeConn()
			return
		}

		c.messagesIn.Add(1)
		c.dispatch(data)
	}
}

// dispatch decodes one inbound message and fires the matching callback.
func (c *Client) dispatch(data []byte) {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("unparseable backend message", "error", err)
		return
	}

	c.mu.Lock()
	onStart := c.onSessionStart
	onChunk := c.onChunk
	onEnd := c.onSessionEnd
	onGreeting := c.onGreeting
	onAnalysis := c.onAnalysis
	c.mu.Unlock()

	switch msg.Type {
	case msgSessionStart:
		if onStart != nil {
			onStart()
		}

	case msgChunk:
		payload, err := base64.StdEncoding.DecodeString(msg.AudioChunk)
		if err != nil {
			c.logger.Warn("chunk with invalid base64, dropping", "error", err)
			return
		}
		if onChunk != nil {
			onChunk(payload, msg.Format)
		}

	case msgSessionEnd:
		if onEnd != nil {
			onEnd()
		}

	case msgGreeting:
		if onGreeting != nil {
			onGreeting()
		}

	case msgStatus:
		switch msg.Status {
		case statusAnalysisStarted:
			if onAnalysis != nil {
				onAnalysis(true)
			}
		case statusAnalysisFinished:
			if onAnalysis != nil {
				onAnalysis(false)
			}
		default:
			c.logger.Debug("unknown backend status", "status", msg.Status)
		}

	default:
		c.logger.Debug("unknown backend message type", "type", msg.Type)
	}
}

// keepAlive pings the backend until the serve loop exits.
func (c *Client) keepAlive(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			ws := c.ws
			if ws != nil {
				ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			c.mu.Unlock()
		}
	}
}

// SendUtterance uploads one captured utterance as base64 MP3.
func (c *Client) SendUtterance(data []byte) error {
	return c.send(envelope{
		Type:      msgAudio,
		AudioData: base64.StdEncoding.EncodeToString(data),
	})
}

// SendInterrupt tells the backend the user interrupted playback, so it
// can stop synthesizing the current response.
func (c *Client) SendInterrupt() error {
	return c.send(envelope{Type: msgInterrupt})
}

func (c *Client) send(msg envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil || !c.connected {
		return ErrNotConnected
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	c.messagesOut.Add(1)
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.connected = false
}

// Connected reports whether the link is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats contains transport statistics.
type Stats struct {
	// MessagesIn is the number of messages received from the backend.
	MessagesIn int64 `json:"messages_in"`

	// MessagesOut is the number of messages sent to the backend.
	MessagesOut int64 `json:"messages_out"`

	// Reconnects is the number of reconnect attempts.
	Reconnects int64 `json:"reconnects"`

	// Connected reports whether the link is up.
	Connected bool `json:"connected"`
}

// Stats returns a snapshot of transport statistics.
func (c *Client) Stats() Stats {
	return Stats{
		MessagesIn:  c.messagesIn.Load(),
		MessagesOut: c.messagesOut.Load(),
		Reconnects:  c.reconnects.Load(),
		Connected:   c.Connected(),
	}
}
