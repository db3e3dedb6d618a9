// Package web serves the local status API: a snapshot endpoint for
// polling and a websocket event stream for anything that wants to stay
// in sync with playback in real time (dashboards, a face renderer).
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/voicelink-ai/voicelink/pkg/capture"
	"github.com/voicelink-ai/voicelink/pkg/hub"
	"github.com/voicelink-ai/voicelink/pkg/playback"
	"github.com/voicelink-ai/voicelink/pkg/transport"
)

// State is the full client snapshot returned by GET /state.
type State struct {
	Mode             string `json:"mode"`
	Session          string `json:"session,omitempty"`
	ClockMs          int64  `json:"clock_ms"`
	HeadroomMs       int64  `json:"headroom_ms"`
	BackendConnected bool   `json:"backend_connected"`

	Playback  playback.Stats  `json:"playback"`
	Capture   capture.Stats   `json:"capture"`
	Transport transport.Stats `json:"transport"`
}

// Event is one entry on the /ws/events stream.
type Event struct {
	Event       string `json:"event"`
	Mode        string `json:"mode,omitempty"`
	Session     string `json:"session,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	DriftResets int    `json:"drift_resets,omitempty"`
}

// StateFunc produces the current snapshot. Must be safe for concurrent use.
type StateFunc func() State

// Server is the status API server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	stateFn     StateFunc
	events      *hub.Hub
	onInterrupt func()
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, stateFn StateFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		addr:    addr,
		logger:  logger,
		stateFn: stateFn,
		events:  hub.New("events", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicelink",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	app.Get("/state", s.handleState)
	app.Post("/interrupt", s.handleInterrupt)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	go s.events.Run()
	s.logger.Info("status server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// OnInterrupt sets the handler invoked by POST /interrupt.
func (s *Server) OnInterrupt(fn func()) {
	s.onInterrupt = fn
}

// Publish broadcasts an event to all websocket subscribers.
func (s *Server) Publish(ev Event) {
	if err := s.events.BroadcastJSON(ev); err != nil {
		s.logger.Warn("event broadcast failed", "error", err)
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
