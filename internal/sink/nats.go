package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "subtitles.transcripts"

// NATS publishes every message as JSON on <subject>.<source>.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// DialNATS connects to the servers in url (comma separated).
func DialNATS(url, subject string) (*NATS, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("subtitles"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats: disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats: reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: connect to nats: %w", err)
	}
	slog.Info("connected to NATS", "url", url, "subject", subject)
	return &NATS{conn: conn, subject: subject}, nil
}

// Name implements [Sink].
func (n *NATS) Name() string { return "nats" }

// Subject returns the subject a message from source is published on.
func (n *NATS) Subject(source string) string { return n.subject + "." + source }

// Deliver implements [Sink].
func (n *NATS) Deliver(_ context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sink: nats: marshal: %w", err)
	}
	if err := n.conn.Publish(n.Subject(m.Source), data); err != nil {
		return fmt.Errorf("sink: nats: publish: %w", err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (n *NATS) Healthy() bool {
	return n != nil && n.conn != nil && n.conn.Status() == nats.CONNECTED
}

// Close drains pending publishes and closes the connection.
func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("sink: nats: drain: %w", err)
	}
	return nil
}
