package main

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status      string                     `json:"status"`
	Timestamp   string                     `json:"timestamp"`
	Connections int                        `json:"connections"`
	Components  map[string]componentHealth `json:"components"`
}

// GET /api/health
//
// Degraded means the service is up but at least one dependency is not; the
// 503 lets load balancers rotate traffic away without killing live sockets.
func (a *API) GetHealth(c *fiber.Ctx) error {
	resp := healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Connections: a.Hub.Len(),
		Components:  make(map[string]componentHealth, 2),
	}

	if err := a.DB.Ping(c.Context()); err != nil {
		resp.Components["postgres"] = componentHealth{Status: "down", Error: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.Components["postgres"] = componentHealth{Status: "ok"}
	}

	if a.Stream.Healthy() {
		resp.Components["ledger_stream"] = componentHealth{Status: "ok"}
	} else {
		resp.Components["ledger_stream"] = componentHealth{Status: "down"}
		resp.Status = "degraded"
	}

	if resp.Status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}
