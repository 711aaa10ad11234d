package main

import (
	"encoding/json"

	"github.com/gofiber/websocket/v2"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-relief/relay-go/hub"
	"github.com/aegis-relief/relay-go/ledger"
	"github.com/aegis-relief/relay-go/models"
	"github.com/aegis-relief/relay-go/relay"
)

// WebSocketHandler serves /ws. Each connection gets a hub session; the read
// loop below is the only reader, and all writes funnel through the session's
// sender goroutine so acks never interleave with broadcast frames.
func WebSocketHandler(h *hub.Hub, router *relay.Router, stream *ledger.TransferStream) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		session := h.Connect(func(data []byte) error {
			return c.WriteMessage(websocket.TextMessage, data)
		})
		defer func() {
			router.Unsubscribe(session.ID)
			h.Disconnect(session.ID)
			c.Close()
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.WithField("session", session.ID).WithError(err).Debug("websocket closed")
				return
			}

			var env models.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				h.EmitToSession(session.ID, models.ErrorFrame{
					Event: models.EventError,
					Error: "malformed frame",
				})
				continue
			}

			switch env.Operation {
			case models.OpRegister:
				handleRegister(h, router, stream, session, raw)
			case models.OpPing:
				h.EmitToSession(session.ID, models.StatusFrame{Event: models.EventPong})
			default:
				h.EmitToSession(session.ID, models.ErrorFrame{
					Event: models.EventError,
					Error: "unknown operation",
				})
			}
		}
	}
}

func handleRegister(h *hub.Hub, router *relay.Router, stream *ledger.TransferStream, session *hub.Session, raw []byte) {
	var req models.RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.EmitToSession(session.ID, models.RegisteredFrame{Event: models.EventRegistered, Success: false})
		return
	}

	address := models.NormalizeAddress(req.Address)
	if !models.IsValidAddress(address) || !models.IsValidRole(req.Role) {
		log.WithFields(log.Fields{
			"session": session.ID,
			"address": req.Address,
			"role":    req.Role,
		}).Warn("rejected registration")
		h.EmitToSession(session.ID, models.RegisteredFrame{Event: models.EventRegistered, Success: false})
		return
	}

	if _, ok := h.Register(session.ID, address, req.Role); !ok {
		h.EmitToSession(session.ID, models.RegisteredFrame{Event: models.EventRegistered, Success: false})
		return
	}

	// Re-registration re-points the subscription; Subscribe replaces any
	// previous address for this session.
	router.Subscribe(session.ID, address)
	degraded := !stream.Healthy()
	h.SetDegraded(session.ID, degraded)

	log.WithFields(log.Fields{
		"session": session.ID,
		"address": address,
		"role":    req.Role,
	}).Info("client registered")
	h.EmitToSession(session.ID, models.RegisteredFrame{
		Event:    models.EventRegistered,
		Success:  true,
		Degraded: degraded,
	})
}
