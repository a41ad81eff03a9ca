package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/infrastructure/cache"
)

// envelope is the wire payload of one PUBLISH: the events of one submission
// from one emission, tagged with the sending instance.
type envelope struct {
	Origin string              `json:"origin"`
	Events []event.ChangeEvent `json:"events"`
}

func Topic(prefix, submissionID string) string {
	return cache.Key(prefix, "submission", submissionID)
}

func topicPattern(prefix string) string { return cache.Key(prefix, "submission", "*") }

type RedisPublisher struct {
	rdb        *redis.Client
	prefix     string
	origin     string
	maxElapsed time.Duration
	log        *slog.Logger
}

var _ event.Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(rdb *redis.Client, prefix, origin string, maxElapsed time.Duration, log *slog.Logger) *RedisPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &RedisPublisher{
		rdb:        rdb,
		prefix:     prefix,
		origin:     origin,
		maxElapsed: maxElapsed,
		log:        log.With("component", "redis-publisher"),
	}
}

// Publish sends one message per submission in the batch, in first-seen order.
func (p *RedisPublisher) Publish(ctx context.Context, events ...event.ChangeEvent) error {
	var errs []error
	for _, group := range groupBySubmission(events) {
		if err := p.publishOne(ctx, group); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *RedisPublisher) publishOne(ctx context.Context, events []event.ChangeEvent) error {
	topic := Topic(p.prefix, events[0].SubmissionID)
	payload, err := json.Marshal(envelope{Origin: p.origin, Events: events})
	if err != nil {
		return fmt.Errorf("pubsub: encode: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = p.maxElapsed
	op := func() error { return p.rdb.Publish(ctx, topic, payload).Err() }
	notify := func(err error, wait time.Duration) {
		p.log.Warn("publish retry", "topic", topic, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", topic, err)
	}
	return nil
}

func groupBySubmission(events []event.ChangeEvent) [][]event.ChangeEvent {
	idx := map[string]int{}
	var out [][]event.ChangeEvent
	for _, ev := range events {
		i, ok := idx[ev.SubmissionID]
		if !ok {
			i = len(out)
			idx[ev.SubmissionID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], ev)
	}
	return out
}

// RedisRelay feeds events published by other instances into the local hub.
// Messages from its own origin are skipped; the local hub already has them.
type RedisRelay struct {
	rdb    *redis.Client
	prefix string
	origin string
	hub    *Hub
	log    *slog.Logger
	ready  chan struct{}
}

func NewRedisRelay(rdb *redis.Client, prefix, origin string, hub *Hub, log *slog.Logger) *RedisRelay {
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{
		rdb:    rdb,
		prefix: prefix,
		origin: origin,
		hub:    hub,
		log:    log.With("component", "redis-relay"),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the pattern subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run blocks until ctx is done or the subscription breaks.
func (r *RedisRelay) Run(ctx context.Context) error {
	pattern := topicPattern(r.prefix)
	ps := r.rdb.PSubscribe(ctx, pattern)
	defer ps.Close()

	// first reply is the subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("pubsub: psubscribe %s: %w", pattern, err)
	}
	close(r.ready)
	r.log.Info("relay subscribed", "pattern", pattern)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.log.Warn("relay: bad payload", "channel", msg.Channel, "err", err)
		return
	}
	if env.Origin == r.origin || len(env.Events) == 0 {
		return
	}
	if err := r.hub.Publish(ctx, env.Events...); err != nil {
		r.log.Warn("relay: local publish failed", "channel", msg.Channel, "err", err)
	}
}
