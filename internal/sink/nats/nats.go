// Package nats adapts the shared-memory transport's three batch kinds
// onto github.com/nats-io/nats.go, publishing each batch as JSON to a
// fixed subject. Grounded on the teacher's pkg/nats/client.go connection
// handling (reconnect/error handlers, credentials file support), with the
// cc-lib logger swapped for this module's own pkg/log.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/pkg/log"
)

const publishFlushTimeout = 5 * time.Second

// Config configures the NATS sink (spec.md §6.3's sink is an external
// collaborator; its configuration shape is not part of the core, but
// mirrors the teacher's NatsConfig field names for familiarity).
type Config struct {
	Address        string `json:"address"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	CredsFilePath  string `json:"creds-file-path"`
	LogsSubject    string `json:"logs-subject"`
	SpansSubject   string `json:"spans-subject"`
	MetricsSubject string `json:"metrics-subject"`
}

func (c Config) normalized() Config {
	if c.LogsSubject == "" {
		c.LogsSubject = "otlpshm.logs"
	}
	if c.SpansSubject == "" {
		c.SpansSubject = "otlpshm.spans"
	}
	if c.MetricsSubject == "" {
		c.MetricsSubject = "otlpshm.metrics"
	}
	return c
}

// Sink publishes batches to a NATS server, one JSON message per batch.
type Sink struct {
	conn *natsgo.Conn
	cfg  Config
}

// New connects to the configured NATS server and returns a Sink. The
// returned Sink owns the connection and must be closed by the caller.
func New(cfg Config) (*Sink, error) {
	cfg = cfg.normalized()
	if cfg.Address == "" {
		return nil, fmt.Errorf("nats sink: address is required")
	}

	var opts []natsgo.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, natsgo.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, natsgo.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
		if err != nil {
			log.WarnLog.Printf("nats sink: disconnected: %v", err)
		}
	}))
	opts = append(opts, natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
		log.InfoLog.Printf("nats sink: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, natsgo.ErrorHandler(func(_ *natsgo.Conn, _ *natsgo.Subscription, err error) {
		log.ErrLog.Printf("nats sink: async error: %v", err)
	}))

	conn, err := natsgo.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect: %w", err)
	}
	log.InfoLog.Printf("nats sink: connected to %s", cfg.Address)

	return &Sink{conn: conn, cfg: cfg}, nil
}

// Close closes the underlying connection; it does not drain it first.
func (s *Sink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Sink) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats sink: marshal %s: %w", subject, err)
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats sink: publish %s: %w", subject, err)
	}
	return s.conn.FlushTimeout(publishFlushTimeout)
}

func (s *Sink) SendLogs(_ context.Context, batch sink.LogsBatch) error {
	return s.publish(s.cfg.LogsSubject, batch)
}

func (s *Sink) SendSpans(_ context.Context, batch sink.SpansBatch) error {
	return s.publish(s.cfg.SpansSubject, batch)
}

func (s *Sink) SendMetrics(_ context.Context, batch sink.MetricsBatch) error {
	return s.publish(s.cfg.MetricsSubject, batch)
}
