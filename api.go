package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-relief/relay-go/cache"
	"github.com/aegis-relief/relay-go/hub"
	"github.com/aegis-relief/relay-go/ledger"
	"github.com/aegis-relief/relay-go/models"
	"github.com/aegis-relief/relay-go/store"
)

// Store is the persistence seam of the HTTP surface.
type Store interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, address string) (models.User, error)
	GetTransactions(ctx context.Context, address string, limit, offset int) ([]models.Transaction, error)
	GetDonations(ctx context.Context, campaign string) ([]models.Donation, error)
	GetDisasters(ctx context.Context, limit int) ([]models.Disaster, error)
	GetStats(ctx context.Context) (models.Stats, error)
	InsertDisaster(ctx context.Context, d models.Disaster) (int64, bool, error)
}

// API owns the HTTP request handlers and their backing services.
type API struct {
	DB     Store
	Caches *cache.Manager
	Ledger ledger.BalanceReader
	Hub    *hub.Hub
	Stream *ledger.TransferStream
}

// GET /api/user/:address
func (a *API) GetUser(c *fiber.Ctx) error {
	address := models.NormalizeAddress(c.Params("address"))
	if !models.IsValidAddress(address) {
		return models.RequestError{Code: fiber.StatusBadRequest, Message: "invalid address"}
	}

	user, err := a.DB.GetUser(c.Context(), address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.RequestError{Code: fiber.StatusNotFound, Message: "user not found"}
		}
		return err
	}
	return c.JSON(user)
}

// GET /api/balances/:address
//
// Read-through: a fresh cached snapshot short-circuits the ledger entirely.
// On a miss every tracked token is queried and the full snapshot is cached
// under the normalized address, so mixed-case requests share one entry.
func (a *API) GetBalances(c *fiber.Ctx) error {
	address := models.NormalizeAddress(c.Params("address"))
	if !models.IsValidAddress(address) {
		return models.RequestError{Code: fiber.StatusBadRequest, Message: "invalid address"}
	}

	ctx := c.Context()
	if cached, err := a.Caches.Balances.Get(ctx, address); err == nil {
		return c.JSON(cached)
	} else if !errors.Is(err, cache.ErrNotFound) {
		log.WithError(err).Warn("balance cache read failed")
	}

	balances := make(models.Balances, len(models.TrackedTokenIDs))
	for _, tokenID := range models.TrackedTokenIDs {
		raw, err := a.Ledger.Balance(ctx, address, tokenID)
		if err != nil {
			log.WithError(err).WithField("address", address).Error("ledger balance query failed")
			return models.RequestError{Code: fiber.StatusBadGateway, Message: "ledger unavailable"}
		}
		balances[models.TokenKey(tokenID)] = models.FormatUnits(raw)
	}

	// Best effort: a failed cache write costs a ledger round trip next time.
	if err := a.Caches.Balances.Set(ctx, address, balances, cache.BalancesTTL); err != nil {
		log.WithError(err).Warn("balance cache write failed")
	}
	return c.JSON(balances)
}

// GET /api/transactions/:address?limit=&offset=
func (a *API) GetTransactions(c *fiber.Ctx) error {
	address := models.NormalizeAddress(c.Params("address"))
	if !models.IsValidAddress(address) {
		return models.RequestError{Code: fiber.StatusBadRequest, Message: "invalid address"}
	}

	limit := store.ClampLimit(c.QueryInt("limit", store.DefaultLimit))
	offset := c.QueryInt("offset", 0)

	txs, err := a.DB.GetTransactions(c.Context(), address, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(txs)
}

// GET /api/donations?campaign=
func (a *API) GetDonations(c *fiber.Ctx) error {
	donations, err := a.DB.GetDonations(c.Context(), c.Query("campaign"))
	if err != nil {
		return err
	}
	return c.JSON(donations)
}

// GET /api/disasters
func (a *API) GetDisasters(c *fiber.Ctx) error {
	disasters, err := a.DB.GetDisasters(c.Context(), 100)
	if err != nil {
		return err
	}
	return c.JSON(disasters)
}

// GET /api/stats
func (a *API) GetStats(c *fiber.Ctx) error {
	stats, err := a.DB.GetStats(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

type disasterWebhook struct {
	Location  string  `json:"location"`
	Magnitude float64 `json:"magnitude"`
	Type      string  `json:"type"`
	EventID   string  `json:"eventId"`
}

// POST /api/webhook/disaster
//
// Persists the incident before acknowledging, then fans out to the admin
// room in the background. A webhook retry carrying the same eventId is
// absorbed without a second broadcast.
func (a *API) PostDisasterWebhook(c *fiber.Ctx) error {
	var payload disasterWebhook
	if err := c.BodyParser(&payload); err != nil {
		return models.RequestError{Code: fiber.StatusBadRequest, Message: "malformed webhook payload"}
	}
	if payload.Location == "" || payload.Type == "" {
		return models.RequestError{Code: fiber.StatusBadRequest, Message: "location and type are required"}
	}

	d := models.Disaster{
		Location:  payload.Location,
		Magnitude: payload.Magnitude,
		Type:      payload.Type,
		Timestamp: time.Now().UTC(),
	}
	if payload.EventID != "" {
		d.ExternalID = &payload.EventID
	}

	id, inserted, err := a.DB.InsertDisaster(c.Context(), d)
	if err != nil {
		log.WithError(err).Error("failed to record disaster")
		return err
	}

	if inserted {
		frame := models.DisasterFrame{
			Event:     models.EventNewDisaster,
			Location:  d.Location,
			Magnitude: d.Magnitude,
			Type:      d.Type,
			Timestamp: d.Timestamp.Format(time.RFC3339),
		}
		go a.Hub.EmitToRoom(models.RoleAdmin, frame)
		log.WithFields(log.Fields{"id": id, "location": d.Location, "type": d.Type}).
			Info("disaster recorded")
	} else {
		log.WithField("eventId", payload.EventID).Debug("duplicate disaster webhook ignored")
	}

	return c.JSON(fiber.Map{"success": true})
}

var (
	_ ledger.BalanceReader = (*ledger.RPCClient)(nil)
	_ Store                = (*store.DB)(nil)
)
