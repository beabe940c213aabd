package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"beacon-guard/internal/ingest"
	"beacon-guard/internal/observability/metrics"
)

const defaultConnectTimeout = 10 * time.Second

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Subscriber feeds broker messages into a sink.
type Subscriber struct {
	broker   string
	clientID string
	topics   []string
	sink     ingest.Sink
	clock    Clock
	logger   *log.Logger
	timeout  time.Duration

	client paho.Client
}

// Option configures the subscriber.
type Option func(*Subscriber)

// WithClientID sets the client id prefix. A random suffix is always appended.
func WithClientID(id string) Option {
	return func(s *Subscriber) {
		if strings.TrimSpace(id) != "" {
			s.clientID = strings.TrimSpace(id)
		}
	}
}

// WithClock overrides the clock used to stamp messages.
func WithClock(clock Clock) Option {
	return func(s *Subscriber) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConnectTimeout bounds the initial connect.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(s *Subscriber) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewSubscriber constructs a subscriber for the given broker URL.
func NewSubscriber(broker string, topics []string, sink ingest.Sink, opts ...Option) (*Subscriber, error) {
	if strings.TrimSpace(broker) == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	if len(topics) == 0 {
		return nil, errors.New("mqtt: no topics")
	}
	if sink == nil {
		return nil, errors.New("mqtt: nil sink")
	}
	s := &Subscriber{
		broker:   strings.TrimSpace(broker),
		clientID: "beacon-guard",
		topics:   append([]string(nil), topics...),
		sink:     sink,
		clock:    systemClock{},
		logger:   log.Default(),
		timeout:  defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start connects and subscribes. Subscriptions are renewed on every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("mqtt: nil subscriber")
	}
	opts := paho.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(s.clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.Printf("mqtt: connection lost err=%v", err)
		}).
		SetOnConnectHandler(func(c paho.Client) {
			s.subscribeAll(c)
		})
	s.client = paho.NewClient(opts)

	token := s.client.Connect()
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if !token.WaitTimeout(timeout) {
		s.logger.Printf("mqtt: connect pending broker=%s, retrying in background", s.broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", s.broker, err)
	}
	return nil
}

// Close disconnects the client.
func (s *Subscriber) Close() {
	if s == nil || s.client == nil {
		return
	}
	s.client.Disconnect(250)
}

func (s *Subscriber) subscribeAll(c paho.Client) {
	for _, topic := range s.topics {
		token := c.Subscribe(topic, 0, s.handle)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Printf("mqtt: subscribe error topic=%s err=%v", topic, err)
			continue
		}
		s.logger.Printf("mqtt: subscribed topic=%s", topic)
	}
}

func (s *Subscriber) handle(_ paho.Client, m paho.Message) {
	s.Deliver(m.Topic(), m.Payload())
}

// Deliver decodes one payload and submits it. Undecodable payloads are dropped.
func (s *Subscriber) Deliver(topic string, payload []byte) {
	msg, err := ingest.Decode(topic, payload, s.clock.Now())
	if err != nil {
		metrics.IncIngest(metrics.IngestMalformed)
		s.logger.Printf("mqtt: drop message topic=%s err=%v", topic, err)
		return
	}
	s.sink.Submit(msg)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
