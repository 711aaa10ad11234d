package cache

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-relief/relay-go/models"
)

// BalancesTTL is how long a cached balance snapshot stays fresh. Balance reads
// past this age go back to the ledger.
const BalancesTTL = 30 * time.Second

// Manager holds all typed caches for the relay.
type Manager struct {
	// Balances cache: normalized address -> token balances (30s TTL)
	Balances *Cache[models.Balances]
}

// NewManager creates a Manager with all caches configured.
func NewManager(client *redis.Client) *Manager {
	return &Manager{
		Balances: New(Options[models.Balances]{
			Client:  client,
			Encoder: MsgpackEncoder[models.Balances](),
			Decoder: MsgpackDecoder[models.Balances](),
			Prefix:  "balances",
		}),
	}
}
