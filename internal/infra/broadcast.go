package infra

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// EventChannel is the Redis pub/sub channel other mounted POS observers
// subscribe to for register/report refresh signals.
const EventChannel = "pos:events"

// Broadcaster publishes refresh events ("register:refresh", "reports:refresh")
// after register state transitions. Publishing is best-effort: a failed
// broadcast is logged and never blocks the transition that triggered it.
type Broadcaster struct {
	rdb *redis.Client
}

func NewBroadcaster(rdb *redis.Client) *Broadcaster {
	return &Broadcaster{rdb: rdb}
}

func (b *Broadcaster) Publish(ctx context.Context, event string) {
	if err := b.rdb.Publish(ctx, EventChannel, event).Err(); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("broadcast: publish failed")
	}
}
