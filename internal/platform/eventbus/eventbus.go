// Package eventbus publishes best-effort task lifecycle notifications over
// NATS, with OpenTelemetry trace context propagated on every message. It
// is optional: when no NATS URL is configured, Bus.PublishTaskStatus is a no-op, so
// it never becomes a hard dependency for local runs or tests.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var propagator = propagation.TraceContext{}

// Bus publishes task lifecycle events. A nil-connection Bus degrades to a
// no-op, so callers never need to check whether eventing is enabled.
type Bus struct {
	nc      *nats.Conn
	service string
}

// Connect dials url and returns a Bus. An empty url yields a disabled Bus
// without attempting a connection.
func Connect(url, service string) *Bus {
	if url == "" {
		return &Bus{service: service}
	}
	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("eventbus: connect failed, events disabled", "error", err, "url", url)
		return &Bus{service: service}
	}
	return &Bus{nc: nc, service: service}
}

// TaskEvent is the payload published on each task status transition.
type TaskEvent struct {
	TaskID    string `json:"task_id"`
	Service   string `json:"service"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// PublishTaskStatus publishes a TaskEvent to "wopa.tasks.<service>.<status>".
// Failures are logged and swallowed; task processing never depends on this
// succeeding.
func (b *Bus) PublishTaskStatus(ctx context.Context, ev TaskEvent) {
	if b == nil || b.nc == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := "wopa.tasks." + ev.Service + "." + ev.Status

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	if err := b.nc.PublishMsg(msg); err != nil {
		slog.Warn("eventbus: publish failed", "subject", subject, "error", err)
	}
}

// Subscribe wraps nc.Subscribe, extracting trace context into a child span
// per message before invoking handler. Used by auxiliary audit consumers;
// the Service tier itself never subscribes to its own events.
func (b *Bus) Subscribe(subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, nats.ErrConnectionClosed
	}
	return b.nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		ctx, span := otel.Tracer("wopa").Start(ctx, "eventbus.consume")
		defer span.End()
		handler(ctx, m)
	})
}

// Close closes the underlying connection, if any, without draining it.
func (b *Bus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}
