// Package natsbridge forwards committed chain events to NATS subjects so
// off-node services can follow game activity without polling RPC.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/internal/logger"
)

// DefaultSubjectPrefix is used when Options.SubjectPrefix is empty.
const DefaultSubjectPrefix = "hilo.events"

// Options configures a Bridge.
type Options struct {
	URL           string
	SubjectPrefix string // events publish to <prefix>.<event type>
	Name          string // client connection name
}

// Bridge publishes events to NATS. Publishing is fire-and-forget: a failed
// publish is logged and never affects block production.
type Bridge struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials the NATS server in opts.URL.
func Connect(opts Options) (*Bridge, error) {
	name := opts.Name
	if name == "" {
		name = "hilochain-node"
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Bridge{nc: nc, prefix: prefix, log: logger.For("nats")}, nil
}

// Subject returns the subject ev is published on.
func (b *Bridge) Subject(typ events.EventType) string {
	return b.prefix + "." + string(typ)
}

// Emit publishes ev. It implements events.Sink.
func (b *Bridge) Emit(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("marshal event", "type", ev.Type, "err", err)
		return
	}
	if err := b.nc.Publish(b.Subject(ev.Type), data); err != nil {
		b.log.Warn("publish event", "type", ev.Type, "err", err)
	}
}

// Attach subscribes the bridge to every event on emitter.
func (b *Bridge) Attach(emitter *events.Emitter) {
	emitter.SubscribeAll(b.Emit)
}

// Close flushes pending publishes and closes the connection.
func (b *Bridge) Close() {
	if b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.log.Warn("drain", "err", err)
		b.nc.Close()
	}
}
