package transport

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// testBackend is a minimal in-process backend: everything queued on send
// goes to the client, everything the client sends lands on recv.
type testBackend struct {
	srv  *httptest.Server
	send chan envelope
	recv chan envelope
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	b := &testBackend{
		send: make(chan envelope, 16),
		recv: make(chan envelope, 16),
	}

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range b.send {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}()

		for {
			var msg envelope
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			b.recv <- msg
		}
	}))
	t.Cleanup(b.srv.Close)

	return b
}

func (b *testBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startClient runs the client against the test backend and blocks until
// the connection is up.
func startClient(t *testing.T, b *testBackend) *Client {
	t.Helper()

	c := NewClient(b.url(), quietLogger())

	connected := make(chan struct{}, 1)
	c.OnConnect(func() { connected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	return c
}

func TestSessionLifecycleDispatch(t *testing.T) {
	b := newTestBackend(t)

	c := NewClient(b.url(), quietLogger())

	events := make(chan string, 16)
	chunks := make(chan []byte, 16)
	connected := make(chan struct{}, 1)

	c.OnConnect(func() { connected <- struct{}{} })
	c.OnSessionStart(func() { events <- "start" })
	c.OnChunk(func(payload []byte, format string) {
		events <- "chunk:" + format
		chunks <- payload
	})
	c.OnSessionEnd(func() { events <- "end" })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	b.send <- envelope{Type: msgSessionStart}
	b.send <- envelope{
		Type:       msgChunk,
		AudioChunk: base64.StdEncoding.EncodeToString([]byte("audio-bytes")),
		Format:     "mp3",
	}
	b.send <- envelope{Type: msgSessionEnd}

	want := []string{"start", "chunk:mp3", "end"}
	for _, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Fatalf("event %q, want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("never received %q event", w)
		}
	}

	payload := <-chunks
	if string(payload) != "audio-bytes" {
		t.Errorf("chunk payload %q, want %q", payload, "audio-bytes")
	}
}

func TestGreetingAndAnalysisDispatch(t *testing.T) {
	b := newTestBackend(t)
	c := NewClient(b.url(), quietLogger())

	greetings := make(chan struct{}, 1)
	analysis := make(chan bool, 2)
	connected := make(chan struct{}, 1)

	c.OnConnect(func() { connected <- struct{}{} })
	c.OnGreeting(func() { greetings <- struct{}{} })
	c.OnAnalysis(func(active bool) { analysis <- active })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	b.send <- envelope{Type: msgGreeting}
	b.send <- envelope{Type: msgStatus, Status: statusAnalysisStarted}
	b.send <- envelope{Type: msgStatus, Status: statusAnalysisFinished}

	select {
	case <-greetings:
	case <-time.After(2 * time.Second):
		t.Fatal("greeting never dispatched")
	}

	for _, want := range []bool{true, false} {
		select {
		case got := <-analysis:
			if got != want {
				t.Errorf("analysis active = %v, want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("analysis status never dispatched")
		}
	}
}

func TestSendUtteranceAndInterrupt(t *testing.T) {
	b := newTestBackend(t)
	c := startClient(t, b)

	if err := c.SendUtterance([]byte("voice-data")); err != nil {
		t.Fatalf("SendUtterance failed: %v", err)
	}
	if err := c.SendInterrupt(); err != nil {
		t.Fatalf("SendInterrupt failed: %v", err)
	}

	select {
	case msg := <-b.recv:
		if msg.Type != msgAudio {
			t.Fatalf("first message type %q, want %q", msg.Type, msgAudio)
		}
		data, err := base64.StdEncoding.DecodeString(msg.AudioData)
		if err != nil || string(data) != "voice-data" {
			t.Errorf("audio_data decoded to %q (err %v), want voice-data", data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never reached backend")
	}

	select {
	case msg := <-b.recv:
		if msg.Type != msgInterrupt {
			t.Errorf("second message type %q, want %q", msg.Type, msgInterrupt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt never reached backend")
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c := NewClient("ws://localhost:1/ws", quietLogger())
	if err := c.SendUtterance([]byte("x")); err != ErrNotConnected {
		t.Errorf("SendUtterance = %v, want ErrNotConnected", err)
	}
}

func TestMalformedChunkDropped(t *testing.T) {
	b := newTestBackend(t)
	c := NewClient(b.url(), quietLogger())

	chunks := make(chan []byte, 1)
	ends := make(chan struct{}, 1)
	connected := make(chan struct{}, 1)

	c.OnConnect(func() { connected <- struct{}{} })
	c.OnChunk(func(payload []byte, format string) { chunks <- payload })
	c.OnSessionEnd(func() { ends <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	b.send <- envelope{Type: msgChunk, AudioChunk: "!!! not base64 !!!"}
	b.send <- envelope{Type: msgSessionEnd}

	select {
	case <-ends:
	case <-time.After(2 * time.Second):
		t.Fatal("session end never dispatched after bad chunk")
	}

	select {
	case p := <-chunks:
		t.Fatalf("malformed chunk dispatched: %q", p)
	default:
	}
}
