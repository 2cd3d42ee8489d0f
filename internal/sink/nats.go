package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"

	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes each measurement on <subject>.<MAC>.
type NATS struct {
	log     logr.Logger
	conn    Conn
	subject string
}

// DialNATS connects to url, retrying with exponential backoff until ctx
// is done.
func DialNATS(ctx context.Context, log logr.Logger, url, subject, name string) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Info("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}

	var conn *nats.Conn
	connect := func() error {
		var err error
		conn, err = nats.Connect(url, opts...)
		if err != nil {
			log.Info("NATS connection failed, retrying", "url", url, "error", err)
		}
		return err
	}
	if err := backoff.Retry(connect, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Info("NATS connected", "url", conn.ConnectedUrl(), "subject", subject)
	return NewNATS(log, conn, subject), nil
}

func NewNATS(log logr.Logger, conn Conn, subject string) *NATS {
	return &NATS{log: log, conn: conn, subject: subject}
}

func (n *NATS) Subject(m *ruuvi.Enhanced) string {
	return n.subject + "." + string(m.Address)
}

func (n *NATS) Publish(ctx context.Context, m *ruuvi.Enhanced) error {
	subject := n.Subject(m)
	b, err := json.Marshal(m)
	if err != nil {
		return &PublishError{Address: m.Address, Destination: subject, Err: err}
	}
	if err := n.conn.Publish(subject, b); err != nil {
		return &PublishError{Address: m.Address, Destination: subject, Err: err}
	}
	n.log.V(1).Info("Published", "subject", subject, "size", len(b))
	return nil
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}
