package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aegis-relief/relay-go/models"
)

// TransferStream consumes relief token transfer events published by the chain
// watcher on one Redis channel. All client subscriptions share this single
// upstream subscription; routing by address happens in-process, so N
// registered addresses never open N ledger connections.
type TransferStream struct {
	rdb     *redis.Client
	channel string

	mu        sync.RWMutex
	connected bool
	lastEvent time.Time
}

// NewTransferStream creates a stream over the given Redis channel.
func NewTransferStream(rdb *redis.Client, channel string) *TransferStream {
	return &TransferStream{rdb: rdb, channel: channel}
}

// Run subscribes and invokes handle for every transfer, in delivery order, on
// this goroutine. Per-address ordering of downstream processing follows from
// the single consumer. Run returns when ctx is cancelled; receive errors mark
// the stream unhealthy and the subscription recovers on its own.
func (s *TransferStream) Run(ctx context.Context, handle func(models.TransferEvent)) {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	log.WithField("channel", s.channel).Info("subscribed to transfer stream")
	s.setConnected(true)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setConnected(false)
			log.WithError(err).Error("receiving transfer event")
			continue
		}
		s.setConnected(true)

		var ev models.TransferEvent
		if err := msgpack.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.WithError(err).Error("unmarshalling transfer event")
			continue
		}

		s.mu.Lock()
		s.lastEvent = time.Now()
		s.mu.Unlock()

		handle(ev)
	}
}

func (s *TransferStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Healthy reports whether the upstream subscription is currently receiving.
func (s *TransferStream) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LastEventAge returns the time since the last transfer was received, or zero
// if none has arrived yet.
func (s *TransferStream) LastEventAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastEvent.IsZero() {
		return 0
	}
	return time.Since(s.lastEvent)
}
