package natsbridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/tolelom/hilochain/events"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Port: -1, NoSigs: true, NoLog: true})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestBridgePublishesEmittedEvents(t *testing.T) {
	ns := startServer(t)

	b, err := Connect(Options{URL: ns.ClientURL(), SubjectPrefix: "test.events"})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	if _, err := sub.ChanSubscribe("test.events.>", msgs); err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	emitter := events.NewEmitter()
	b.Attach(emitter)
	emitter.Emit(events.Event{
		Type:        events.EventGameStarted,
		TxID:        "tx1",
		BlockHeight: 3,
		Data:        map[string]any{"player": "alice"},
	})

	select {
	case msg := <-msgs:
		if msg.Subject != "test.events.game_started" {
			t.Errorf("subject: got %s", msg.Subject)
		}
		var ev events.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.TxID != "tx1" || ev.BlockHeight != 3 || ev.Data["player"] != "alice" {
			t.Errorf("event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestSubjectDefaultPrefix(t *testing.T) {
	b := &Bridge{prefix: DefaultSubjectPrefix}
	if got := b.Subject(events.EventMatchCompleted); got != "hilo.events.match_completed" {
		t.Errorf("got %s", got)
	}
}
