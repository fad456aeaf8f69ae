// Package notify delivers domain events to live connections on a best-effort basis.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/devhub-community/reputation-engine/internal/events"
	"github.com/devhub-community/reputation-engine/internal/metrics"
	"github.com/devhub-community/reputation-engine/internal/presence"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// Dispatch outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeFailed    = "failed"
)

// DefaultPushTimeout bounds a single push when none is configured.
const DefaultPushTimeout = 250 * time.Millisecond

// ChannelLookup resolves a user's live channel.
type ChannelLookup interface {
	Lookup(userID string) *presence.Channel
}

// Dispatcher pushes events without blocking the caller. Undeliverable events are dropped.
type Dispatcher struct {
	registry    ChannelLookup
	pushTimeout time.Duration
	log         *logger.Logger
	wg          sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry ChannelLookup, pushTimeout time.Duration, log *logger.Logger) *Dispatcher {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	return &Dispatcher{
		registry:    registry,
		pushTimeout: pushTimeout,
		log:         log,
	}
}

// Dispatch delivers evs in order on a background goroutine and returns immediately.
func (d *Dispatcher) Dispatch(evs ...events.Event) {
	if len(evs) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, ev := range evs {
			d.Deliver(ev)
		}
	}()
}

// Deliver makes a single bounded push attempt and reports the outcome.
func (d *Dispatcher) Deliver(ev events.Event) string {
	ch := d.registry.Lookup(ev.Recipient())
	if ch == nil {
		metrics.RecordDispatch(ev.EventName(), OutcomeOffline)
		d.log.Debug().
			Str("user_id", ev.Recipient()).
			Str("event", ev.EventName()).
			Msg("No live channel, event dropped")
		return OutcomeOffline
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout)
	defer cancel()

	if err := ch.Push(ctx, ev); err != nil {
		metrics.RecordDispatch(ev.EventName(), OutcomeFailed)
		d.log.Warn().
			Err(err).
			Str("user_id", ev.Recipient()).
			Str("channel_id", ch.ID()).
			Str("event", ev.EventName()).
			Msg("Failed to push event, dropped")
		return OutcomeFailed
	}

	metrics.RecordDispatch(ev.EventName(), OutcomeDelivered)
	return OutcomeDelivered
}

// Wait blocks until all in-flight dispatches have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
