package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 2 * time.Second

// Publisher emits events on the bus after the controlling database transaction
// has committed. Publishing is fire-and-forget: failures are logged and never
// propagate back into ledger state.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a publisher. A nil client yields a no-op publisher.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload interface{}) {
	if p == nil || p.rdb == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event payload")
		return
	}

	// Detach from the request context so a cancelled request does not drop
	// the event for an already-committed mutation.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.rdb.Publish(pubCtx, subject, body).Err(); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}

	log.Debug().Str("subject", subject).Msg("Event published")
}
