package feed

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"aero_alerts/internal/adsb"
)

// Subscriber receives snapshots pushed over NATS instead of polling. Each
// message body is a complete aircraft.json payload.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
	sub     *nats.Subscription
}

// NewSubscriber connects to a NATS server.
func NewSubscriber(url, subject string, logger *slog.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.Name("aero_alerts"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Subscriber{conn: conn, subject: subject, logger: logger}, nil
}

// Subscribe starts delivering decoded snapshots to handler. Undecodable
// messages are logged and dropped.
func (s *Subscriber) Subscribe(handler func(*adsb.Snapshot)) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		snap, err := adsb.DecodeSnapshot(msg.Data)
		if err != nil {
			s.logger.Warn("dropping undecodable snapshot message", "error", err)
			return
		}
		handler(snap)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}

	s.sub = sub
	s.logger.Info("subscribed to snapshot feed", "subject", s.subject)
	return nil
}

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.conn.Close()
}
