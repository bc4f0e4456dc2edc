package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const handleTimeout = 30 * time.Second

// HandlerFunc processes one inbound event. Handlers must be idempotent:
// the bus redelivers.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Subscriber consumes inbound subjects and dispatches them to registered
// handlers.
type Subscriber struct {
	rdb      *redis.Client
	handlers map[string]HandlerFunc
}

func NewSubscriber(rdb *redis.Client) *Subscriber {
	return &Subscriber{
		rdb:      rdb,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler for a subject. Must be called before Start.
func (s *Subscriber) Handle(subject string, fn HandlerFunc) {
	s.handlers[subject] = fn
}

// Start begins consuming in a background goroutine until ctx is cancelled.
// With a nil redis client it is a no-op.
func (s *Subscriber) Start(ctx context.Context) {
	if s.rdb == nil || len(s.handlers) == 0 {
		log.Warn().Msg("Event subscriber not started (no redis or no handlers)")
		return
	}

	subjects := make([]string, 0, len(s.handlers))
	for subject := range s.handlers {
		subjects = append(subjects, subject)
	}

	pubsub := s.rdb.Subscribe(ctx, subjects...)
	log.Info().Strs("subjects", subjects).Msg("Event subscriber started")

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Event subscriber stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.dispatch(msg)
			}
		}
	}()
}

func (s *Subscriber) dispatch(msg *redis.Message) {
	fn, ok := s.handlers[msg.Channel]
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := fn(ctx, []byte(msg.Payload)); err != nil {
		log.Error().Err(err).Str("subject", msg.Channel).Msg("Event handler failed")
		return
	}
	log.Debug().Str("subject", msg.Channel).Msg("Event handled")
}
