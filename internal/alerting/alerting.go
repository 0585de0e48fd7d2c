// Package alerting delivers "update available" events to operators and,
// when configured, queues the update itself.
package alerting

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/scheduler"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/update"
)

// Sink receives update events.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev update.Event) error
}

// LogSink writes events to the server log.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Notify(_ context.Context, ev update.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("A new version is available, run /update to install it",
		logfields.Version(ev.Remote), slog.String("running", ev.Running))
	return nil
}

type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSSink publishes events as JSON on a subject.
type NATSSink struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// NewNATSSink connects to url.
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("mcgalaxy"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "connect to NATS").
			WithContext("url", url).Build()
	}
	logger.Info("NATS alerting enabled", logfields.URL(url), slog.String("subject", subject))
	return &NATSSink{conn: conn, pub: conn, subject: subject}, nil
}

func (*NATSSink) Name() string { return "nats" }

type eventMessage struct {
	Running string    `json:"running"`
	Remote  string    `json:"remote"`
	At      time.Time `json:"at"`
}

func (s *NATSSink) Notify(_ context.Context, ev update.Event) error {
	data, err := json.Marshal(eventMessage{Running: ev.Running, Remote: ev.Remote, At: ev.At.UTC()})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "encode update event").Build()
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "publish update event").
			WithContext("subject", s.subject).Build()
	}
	if err := s.pub.FlushTimeout(5 * time.Second); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "flush update event").Retryable().Build()
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Updater performs an update.
type Updater interface {
	PerformUpdate(ctx context.Context, release bool) error
}

// AutoApply queues the update on a scheduler domain when a newer version appears.
type AutoApply struct {
	Domain  *scheduler.Domain
	Updater Updater
	Release bool
}

func (AutoApply) Name() string { return "auto-apply" }

func (a AutoApply) Notify(_ context.Context, ev update.Event) error {
	a.Domain.QueueOnce("auto-update "+ev.Remote, func(ctx context.Context, _ *scheduler.Task) error {
		return a.Updater.PerformUpdate(ctx, a.Release)
	}, 0)
	return nil
}

// Dispatcher forwards events to every sink. A version is forwarded once.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

// NewDispatcher creates a dispatcher over sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger.With(slog.String("component", "alerting"))}
}

// Handle forwards ev unless its version was already forwarded.
func (d *Dispatcher) Handle(ctx context.Context, ev update.Event) {
	d.mu.Lock()
	if ev.Remote == d.last {
		d.mu.Unlock()
		return
	}
	d.last = ev.Remote
	d.mu.Unlock()

	for _, s := range d.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			d.logger.Error("Alert delivery failed", slog.String("sink", s.Name()), logfields.Error(err))
		}
	}
}

// Run handles events until ctx is done or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan update.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Handle(ctx, ev)
		}
	}
}
