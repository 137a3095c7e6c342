package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/natsserver"
	"github.com/loqalabs/loqa-relay/internal/protocol"
	"github.com/nats-io/nats.go"
)

func startBus(t *testing.T, tweaks ...func(*config.BusConfig)) (*Client, *natsserver.EmbeddedServer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	srv, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client, srv
}

func sampleEvent(status string) protocol.ExchangeEvent {
	return protocol.ExchangeEvent{
		ExchangeID: "ex-1",
		Status:     status,
		Transcript: "مرحبا بك",
		ReplyText:  "أهلا",
		StartedAt:  time.Now().UTC(),
	}
}

func TestPublisherCoreNATSStripsText(t *testing.T) {
	client, _ := startBus(t)
	sub, err := client.Conn().SubscribeSync(protocol.SubjectExchangePrefix + ".>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	pub := NewPublisher(client, false)
	pub.ObserveExchange(context.Background(), sampleEvent(protocol.StatusFailed))

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected message: %v", err)
	}
	if msg.Subject != protocol.SubjectExchangeFailed {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	var got protocol.ExchangeEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Transcript != "" || got.ReplyText != "" {
		t.Fatalf("expected conversation text to be stripped, got %+v", got)
	}
}

func TestPublisherJetStreamKeepsTextWhenEnabled(t *testing.T) {
	client, _ := startBus(t)
	pub := NewPublisher(client, true)
	if err := pub.EnsureStream(time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	// second call finds the existing stream
	if err := pub.EnsureStream(time.Hour); err != nil {
		t.Fatalf("ensure stream again: %v", err)
	}

	pub.ObserveExchange(context.Background(), sampleEvent(protocol.StatusCompleted))

	sub, err := client.JetStream().SubscribeSync(protocol.SubjectExchangeCompleted, nats.DeliverAll())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected replayed message: %v", err)
	}
	var got protocol.ExchangeEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Transcript != "مرحبا بك" || got.ReplyText != "أهلا" {
		t.Fatalf("expected text to be kept, got %+v", got)
	}
}

func TestPublisherGivesUpOnStalledJetStream(t *testing.T) {
	client, srv := startBus(t, func(c *config.BusConfig) { c.PublishTimeoutMS = 200 })
	if client.PublishTimeout() != 200*time.Millisecond {
		t.Fatalf("unexpected publish timeout %s", client.PublishTimeout())
	}
	pub := NewPublisher(client, false)
	if err := pub.EnsureStream(time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}

	// the ack can never arrive once the server is gone
	srv.Shutdown()

	done := make(chan struct{})
	start := time.Now()
	go func() {
		pub.ObserveExchange(context.Background(), sampleEvent(protocol.StatusCompleted))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked past its deadline")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("publish took %s, expected about the 200ms publish timeout", elapsed)
	}
}
