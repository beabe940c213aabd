package nats

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"beacon-guard/internal/ingest"
	"beacon-guard/internal/observability/metrics"
)

// Subscriber feeds NATS subjects into a sink. Topics use "/" and are
// mapped to dotted subjects.
type Subscriber struct {
	url      string
	subjects []string
	sink     ingest.Sink
	logger   *log.Logger
	now      func() time.Time

	conn *natsgo.Conn
	subs []*natsgo.Subscription
}

// NewSubscriber constructs a subscriber.
func NewSubscriber(url string, topics []string, sink ingest.Sink, logger *log.Logger) (*Subscriber, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats: empty url")
	}
	if len(topics) == 0 {
		return nil, errors.New("nats: no topics")
	}
	if sink == nil {
		return nil, errors.New("nats: nil sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	subjects := make([]string, 0, len(topics))
	for _, topic := range topics {
		subjects = append(subjects, Subject(topic))
	}
	return &Subscriber{
		url:      strings.TrimSpace(url),
		subjects: subjects,
		sink:     sink,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Subject maps an MQTT-style topic to a NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// Subjects returns the subscribed subjects.
func (s *Subscriber) Subjects() []string {
	return append([]string(nil), s.subjects...)
}

// Start connects and subscribes every subject.
func (s *Subscriber) Start() error {
	if s == nil {
		return errors.New("nats: nil subscriber")
	}
	conn, err := natsgo.Connect(s.url,
		natsgo.Name("beacon-guard"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			s.logger.Printf("nats: disconnected err=%v", err)
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			s.logger.Printf("nats: reconnected url=%s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats: connect %s: %w", s.url, err)
	}
	s.conn = conn
	for _, subject := range s.subjects {
		sub, err := conn.Subscribe(subject, s.handle)
		if err != nil {
			conn.Close()
			return fmt.Errorf("nats: subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Printf("nats: subscribed subject=%s", subject)
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (s *Subscriber) Close() {
	if s == nil || s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.logger.Printf("nats: drain error err=%v", err)
		s.conn.Close()
	}
}

func (s *Subscriber) handle(m *natsgo.Msg) {
	s.Deliver(m.Subject, m.Data)
}

// Deliver decodes one payload and submits it. Undecodable payloads are dropped.
func (s *Subscriber) Deliver(subject string, payload []byte) {
	msg, err := ingest.Decode(subject, payload, s.now())
	if err != nil {
		metrics.IncIngest(metrics.IngestMalformed)
		s.logger.Printf("nats: drop message subject=%s err=%v", subject, err)
		return
	}
	s.sink.Submit(msg)
}
