package notify

import (
	"fmt"
	"sync"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
)

const defaultSubscriberBuffer = 64

// Notifier receives task status events.
type Notifier interface {
	Publish(ev model.StatusEvent)
}

// Noop notifier discards every event.
const Noop = noop(0)

type noop int

func (noop) Publish(model.StatusEvent) {}

// BrokerConfig is the configuration of the status broker.
type BrokerConfig struct {
	// SubscriberBuffer is the number of events each subscriber can have pending.
	SubscriberBuffer int
	Logger           log.Logger
}

func (c *BrokerConfig) defaults() error {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "notify.Broker"})
	return nil
}

// Broker fans out status events to its subscribers. Publish never blocks, when a
// subscriber buffer is full its oldest pending event is dropped.
type Broker struct {
	bufSize int
	logger  log.Logger

	mu      sync.Mutex
	subs    map[int]chan model.StatusEvent
	nextID  int
	dropped uint64
	closed  bool
}

// NewBroker returns a new status broker.
func NewBroker(cfg BrokerConfig) (*Broker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Broker{
		bufSize: cfg.SubscriberBuffer,
		logger:  cfg.Logger,
		subs:    map[int]chan model.StatusEvent{},
	}, nil
}

// Publish delivers the event to every current subscriber.
func (b *Broker) Publish(ev model.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Full, make room dropping the oldest one and retry.
				select {
				case <-ch:
					b.dropped++
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters it
// and closes the channel, it is safe to call more than once.
func (b *Broker) Subscribe() (<-chan model.StatusEvent, func()) {
	ch := make(chan model.StatusEvent, b.bufSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		close(ch)
	}

	return ch, cancel
}

// Dropped returns the number of events dropped on full subscribers.
func (b *Broker) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close unregisters and closes every subscriber. Later subscribers get a closed
// channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	if b.dropped > 0 {
		b.logger.Debugf("%d status events dropped on slow subscribers", b.dropped)
	}
}
