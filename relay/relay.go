// Package relay routes ledger transfer events to the sessions that registered
// the involved addresses, recording each transfer durably before any
// broadcast.
package relay

import (
	"context"
	"math/big"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-relief/relay-go/models"
)

// TransactionRecorder is the persistence seam of the pipeline.
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, tx models.Transaction) (bool, error)
}

// Broadcaster delivers events to live sessions.
type Broadcaster interface {
	EmitToSession(id string, event any)
	EmitToAll(event any)
}

// BalanceInvalidator drops cached balance snapshots for an address whose
// balance just changed, so the next read refreshes before the TTL elapses.
type BalanceInvalidator interface {
	Delete(ctx context.Context, key string) error
}

// Router is the in-process address routing table. Each session holds at most
// one subscription; re-registration replaces it, disconnect releases it.
type Router struct {
	mu        sync.RWMutex
	byAddress map[string]mapset.Set[string]
	bySession map[string]string
}

func NewRouter() *Router {
	return &Router{
		byAddress: make(map[string]mapset.Set[string]),
		bySession: make(map[string]string),
	}
}

// Subscribe points the session's subscription at address, tearing down any
// previous one. The address must already be normalized.
func (r *Router) Subscribe(sessionID, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[sessionID]; ok {
		if prev == address {
			return
		}
		r.dropLocked(sessionID, prev)
	}
	r.bySession[sessionID] = address
	set, ok := r.byAddress[address]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		r.byAddress[address] = set
	}
	set.Add(sessionID)
}

// Unsubscribe releases the session's subscription. Idempotent; safe to call
// after the upstream stream has already gone away.
func (r *Router) Unsubscribe(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	r.dropLocked(sessionID, addr)
	delete(r.bySession, sessionID)
}

func (r *Router) dropLocked(sessionID, address string) {
	if set, ok := r.byAddress[address]; ok {
		set.Remove(sessionID)
		if set.Cardinality() == 0 {
			delete(r.byAddress, address)
		}
	}
}

// Sessions returns the ids of sessions subscribed to address.
func (r *Router) Sessions(address string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byAddress[address]
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// Pipeline persists incoming transfers and broadcasts only on first
// insertion. Duplicate deliveries of the same transaction hash are a normal
// outcome and produce no events.
type Pipeline struct {
	store    TransactionRecorder
	bcast    Broadcaster
	router   *Router
	balances BalanceInvalidator
}

// NewPipeline wires the ingest pipeline. balances may be nil when no balance
// cache is in play (reads then rely on the TTL alone).
func NewPipeline(store TransactionRecorder, bcast Broadcaster, router *Router, balances BalanceInvalidator) *Pipeline {
	return &Pipeline{store: store, bcast: bcast, router: router, balances: balances}
}

// Handle processes one transfer event: normalize, record, and if this was the
// first insertion, broadcast. Persistence happens-before broadcast for the
// same transaction. Store errors drop the single event without killing the
// caller's loop.
func (p *Pipeline) Handle(ctx context.Context, ev models.TransferEvent) {
	if ev.TxHash == "" {
		log.Warn("transfer event without tx hash, skipping")
		return
	}

	from := models.NormalizeAddress(ev.From)
	to := models.NormalizeAddress(ev.To)
	ts := time.Now().UTC()
	if ev.Timestamp > 0 {
		ts = time.Unix(ev.Timestamp, 0).UTC()
	}

	inserted, err := p.store.RecordTransaction(ctx, models.Transaction{
		TxHash:      ev.TxHash,
		FromAddress: from,
		ToAddress:   to,
		TokenID:     ev.TokenID,
		Amount:      ev.Amount,
		Timestamp:   ts,
	})
	if err != nil {
		log.WithError(err).WithField("tx_hash", ev.TxHash).Error("recording transaction")
		return
	}
	if !inserted {
		log.WithField("tx_hash", ev.TxHash).Debug("duplicate transfer, skipping broadcast")
		return
	}

	p.invalidateBalances(ctx, from, to)

	amount := displayAmount(ev.Amount)

	p.bcast.EmitToAll(models.NewTransactionFrame{
		Event:   models.EventNewTransaction,
		TxHash:  ev.TxHash,
		From:    from,
		To:      to,
		TokenID: ev.TokenID,
		Amount:  amount,
	})

	p.notifyAddress(from, models.DirectionSent, ev, amount)
	if to != from {
		p.notifyAddress(to, models.DirectionReceived, ev, amount)
	}
}

// invalidateBalances is best effort: a failed delete leaves a snapshot that
// expires within its TTL anyway.
func (p *Pipeline) invalidateBalances(ctx context.Context, from, to string) {
	if p.balances == nil {
		return
	}
	for _, addr := range []string{from, to} {
		if err := p.balances.Delete(ctx, addr); err != nil {
			log.WithError(err).WithField("address", addr).Warn("balance cache invalidation failed")
		}
		if to == from {
			break
		}
	}
}

func (p *Pipeline) notifyAddress(address, direction string, ev models.TransferEvent, amount string) {
	for _, sessionID := range p.router.Sessions(address) {
		p.bcast.EmitToSession(sessionID, models.TokenTransferFrame{
			Event:   models.EventTokenTransfer,
			From:    models.NormalizeAddress(ev.From),
			To:      models.NormalizeAddress(ev.To),
			TokenID: ev.TokenID,
			Amount:  amount,
			Type:    direction,
			TxHash:  ev.TxHash,
		})
	}
}

// displayAmount converts a base-unit amount into the token-unit string used
// in client payloads. Unparseable amounts pass through untouched.
func displayAmount(raw string) string {
	wei, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return models.FormatUnits(wei)
}
