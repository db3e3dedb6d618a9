package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/voicelink-ai/voicelink/pkg/hub"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	if s.stateFn == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "state source not configured",
		})
	}
	return c.JSON(s.stateFn())
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	if s.onInterrupt == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "interrupt handler not configured",
		})
	}
	s.onInterrupt()
	return c.JSON(fiber.Map{"status": "interrupted"})
}

func (s *Server) handleEventsWS(conn *websocket.Conn) {
	client := hub.NewClient(s.events, conn)
	client.Run()
}
