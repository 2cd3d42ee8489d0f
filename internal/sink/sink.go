// Package sink defines where enhanced measurements go once admitted.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

// Publisher forwards measurements downstream. Errors are reported per
// measurement; the caller logs them and carries on.
type Publisher interface {
	Publish(ctx context.Context, m *ruuvi.Enhanced) error
	Close() error
}

// PublishError reports a measurement that did not reach its destination.
type PublishError struct {
	Address     ble.Address
	Destination string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish measurement of %v to %s: %v", e.Address, e.Destination, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Log writes every measurement to the log, which is handy when running
// without a broker.
type Log struct {
	log logr.Logger
}

func NewLog(log logr.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Publish(ctx context.Context, m *ruuvi.Enhanced) error {
	b, err := json.Marshal(m)
	if err != nil {
		return &PublishError{Address: m.Address, Destination: "log", Err: err}
	}
	l.log.Info("Measurement", "mac", m.Address, "name", m.Name, "json", string(b))
	return nil
}

func (l *Log) Close() error {
	return nil
}
