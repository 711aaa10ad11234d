package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-relief/relay-go/hub"
	"github.com/aegis-relief/relay-go/ledger"
	"github.com/aegis-relief/relay-go/models"
	"github.com/aegis-relief/relay-go/relay"
)

const sseKeepAliveInterval = 15 * time.Second

// SSEHandler serves /events/sse for clients that cannot hold a websocket.
// Address and role come from query parameters since there is no inbound
// channel to register over; the event stream is the same as the socket's.
func SSEHandler(h *hub.Hub, router *relay.Router, stream *ledger.TransferStream) fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := models.NormalizeAddress(c.Query("address"))
		role := c.Query("role")
		if !models.IsValidAddress(address) {
			return models.RequestError{Code: fiber.StatusBadRequest, Message: "invalid address"}
		}
		if !models.IsValidRole(role) {
			return models.RequestError{Code: fiber.StatusBadRequest, Message: "invalid role"}
		}

		eventCh := make(chan []byte, 16)
		session := h.Connect(func(data []byte) error {
			select {
			case eventCh <- data:
			default:
				// drop if buffer full
			}
			return nil
		})

		if _, ok := h.Register(session.ID, address, role); !ok {
			h.Disconnect(session.ID)
			return models.RequestError{Code: fiber.StatusInternalServerError, Message: "registration failed"}
		}
		router.Subscribe(session.ID, address)
		degraded := !stream.Healthy()
		h.SetDegraded(session.ID, degraded)

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		c.Status(fiber.StatusOK).Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer func() {
				router.Unsubscribe(session.ID)
				h.Disconnect(session.ID)
			}()

			if err := writeSSE(w, models.EventRegistered, models.RegisteredFrame{
				Event:    models.EventRegistered,
				Success:  true,
				Degraded: degraded,
			}); err != nil {
				return
			}
			log.WithFields(log.Fields{"session": session.ID, "address": address}).Info("client connected via SSE")

			keepAlive := time.NewTicker(sseKeepAliveInterval)
			defer keepAlive.Stop()

			for {
				select {
				case data := <-eventCh:
					if err := writeSSEBytes(w, "event", data); err != nil {
						return
					}
				case <-keepAlive.C:
					if _, err := w.WriteString(": keepalive\n\n"); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						return
					}
				}
			}
		}))
		return nil
	}
}

func writeSSE(w *bufio.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSEBytes(w, event, data)
}

func writeSSEBytes(w *bufio.Writer, event string, payload []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
