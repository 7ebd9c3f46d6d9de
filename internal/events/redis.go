package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Envelope is the wire form of every event leaving the process
type Envelope struct {
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload under kind
func NewEnvelope(kind string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	return Envelope{Kind: kind, At: at, Payload: b}, nil
}

// RedisPublisher mirrors events to a Redis stream (durable) and a pub/sub
// channel (live). Publishing is decoupled from the caller by a bounded queue.
type RedisPublisher struct {
	rdb     *redis.Client
	stream  string
	channel string
	queue   chan Envelope
	log     zerolog.Logger
}

// NewRedisPublisher writes to prefix + ":events" (stream) and prefix + ":events:pub" (channel)
func NewRedisPublisher(rdb *redis.Client, prefix string, log zerolog.Logger) *RedisPublisher {
	prefix = strings.TrimSpace(prefix)
	return &RedisPublisher{
		rdb:     rdb,
		stream:  prefix + ":events",
		channel: prefix + ":events:pub",
		queue:   make(chan Envelope, 256),
		log:     log,
	}
}

// Enqueue schedules e for publishing; it never blocks and drops when full
func (p *RedisPublisher) Enqueue(e Envelope) bool {
	select {
	case p.queue <- e:
		return true
	default:
		p.log.Warn().Str("kind", e.Kind).Msg("event queue full, dropping event")
		return false
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left
func (p *RedisPublisher) Run(ctx context.Context) {
	for {
		select {
		case e := <-p.queue:
			p.send(ctx, e)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case e := <-p.queue:
					p.send(flush, e)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisPublisher) send(ctx context.Context, e Envelope) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.Publish(ctx, e); err != nil {
		p.log.Error().Err(err).Str("kind", e.Kind).Msg("publish event failed")
	}
}

// Publish writes e synchronously: XADD to the stream, then PUBLISH on the channel
func (p *RedisPublisher) Publish(ctx context.Context, e Envelope) error {
	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"kind":    e.Kind,
			"at_ms":   e.At.UnixMilli(),
			"payload": string(e.Payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, msg).Err()
}

// Sink accepts encoded events without blocking the publisher
type Sink interface {
	Enqueue(e Envelope) bool
}

// Forward subscribes to b and enqueues every value under kind.
// Values that fail to encode are dropped.
func Forward[T any](b *Broker[T], sink Sink, kind string, now func() time.Time) (cancel func()) {
	return b.Subscribe(func(v T) {
		e, err := NewEnvelope(kind, now(), v)
		if err != nil {
			return
		}
		sink.Enqueue(e)
	})
}
