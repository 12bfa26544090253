package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
)

// DefaultSubject is the subject status events are published on.
const DefaultSubject = "postsched.status"

// Publisher publishes raw messages, *nats.Conn satisfies it.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*natsgo.Conn)(nil)

// Connect opens a NATS connection for the bridge.
func Connect(url string, name string) (*natsgo.Conn, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name(name),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// BridgeConfig is the configuration of the NATS status bridge.
type BridgeConfig struct {
	Publisher Publisher
	Subject   string
	Logger    log.Logger
}

func (c *BridgeConfig) defaults() error {
	if c.Publisher == nil {
		return fmt.Errorf("publisher is required")
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "nats.Bridge"})
	return nil
}

// Bridge forwards status events as JSON messages to a NATS subject.
type Bridge struct {
	pub     Publisher
	subject string
	logger  log.Logger
}

// NewBridge returns a new NATS status bridge.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Bridge{
		pub:     cfg.Publisher,
		subject: cfg.Subject,
		logger:  cfg.Logger,
	}, nil
}

type statusMessage struct {
	TaskID      string    `json:"task_id"`
	Owner       string    `json:"owner,omitempty"`
	Phase       string    `json:"phase"`
	Message     string    `json:"message,omitempty"`
	BytesSent   int64     `json:"bytes_sent,omitempty"`
	BytesTotal  int64     `json:"bytes_total,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	NotRecorded bool      `json:"not_recorded,omitempty"`
	Timestamp   time.Time `json:"ts"`
}

// Forward publishes a single event.
func (b *Bridge) Forward(ev model.StatusEvent) error {
	data, err := json.Marshal(statusMessage{
		TaskID:      ev.TaskID,
		Owner:       ev.Owner,
		Phase:       string(ev.Phase),
		Message:     ev.Message,
		BytesSent:   ev.BytesSent,
		BytesTotal:  ev.BytesTotal,
		ErrorKind:   string(ev.ErrorKind),
		NotRecorded: ev.NotRecorded,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	if err := b.pub.Publish(b.subject, data); err != nil {
		return fmt.Errorf("could not publish event: %w", err)
	}
	return nil
}

// Run forwards every received event until the channel is closed or the context
// is done. Publish failures are logged and do not stop the bridge.
func (b *Bridge) Run(ctx context.Context, events <-chan model.StatusEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.Forward(ev); err != nil {
				b.logger.Warningf("Could not forward %s event of task %s: %s", ev.Phase, ev.TaskID, err)
			}
		}
	}
}
