// Package analytics tracks query and build events. Events are counted by an
// in-process Aggregator and, when Kafka is configured, published
// asynchronously through a circuit breaker so a broker outage never slows
// down a query.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/resilience"
)

var errBufferFull = errors.New("analytics buffer full")

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Options configures a Collector. Query and Build may be nil, in which case
// those events are only aggregated.
type Options struct {
	Query          Publisher
	Build          Publisher
	Aggregator     *Aggregator
	Metrics        *metrics.Metrics
	BufferSize     int
	PublishTimeout time.Duration
	Breaker        resilience.CircuitBreakerConfig
}

type envelope struct {
	typ   EventType
	pub   Publisher
	event kafka.Event
}

type Collector struct {
	opts    Options
	breaker *resilience.CircuitBreaker
	eventCh chan envelope
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

func NewCollector(opts Options) *Collector {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	m := opts.Metrics
	userHook := opts.Breaker.OnStateChange
	opts.Breaker.OnStateChange = func(name string, from, to resilience.State) {
		m.SetBreakerState(name, int(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	return &Collector{
		opts:    opts,
		breaker: resilience.NewCircuitBreaker("kafka-analytics", opts.Breaker),
		eventCh: make(chan envelope, opts.BufferSize),
		logger:  slog.Default().With("component", "analytics-collector"),
		done:    make(chan struct{}),
	}
}

// Start launches the publishing loop. Events still buffered when ctx is
// cancelled are drained before the loop exits.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case env, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, env)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// TrackQuery records a query event. A nil Collector ignores it.
func (c *Collector) TrackQuery(event QueryEvent) {
	if c == nil {
		return
	}
	if event.Type == "" {
		event.Type = EventQuery
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c.opts.Aggregator.RecordQuery(event)
	c.enqueue(event.Type, c.opts.Query, kafka.Event{Key: event.Variant, Type: string(event.Type), Value: event})
}

// TrackBuild records a build event.
func (c *Collector) TrackBuild(event BuildEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c.opts.Aggregator.RecordBuild(event)
	c.enqueue(event.Type, c.opts.Build, kafka.Event{Key: event.Set, Type: string(event.Type), Value: event})
}

func (c *Collector) enqueue(typ EventType, pub Publisher, event kafka.Event) {
	if pub == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- envelope{typ: typ, pub: pub, event: event}:
	default:
		c.opts.Metrics.EventPublished(string(typ), errBufferFull)
		c.logger.Warn("analytics event dropped (buffer full)", "type", typ)
	}
}

// Close stops accepting events and waits for the buffered ones to be
// published. It must only be called after Start.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.eventCh)
		c.mu.Unlock()
		<-c.done
	})
}

func (c *Collector) publish(ctx context.Context, env envelope) {
	err := c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.opts.PublishTimeout, "analytics-publish", func(ctx context.Context) error {
			return env.pub.Publish(ctx, env.event)
		})
	})
	c.opts.Metrics.EventPublished(string(env.typ), err)
	if err != nil {
		c.logger.Debug("failed to publish analytics event", "type", env.typ, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PublishTimeout)
	defer cancel()
	for {
		select {
		case env, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, env)
		default:
			return
		}
	}
}
