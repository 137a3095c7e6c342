package natsserver

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/nats-io/nats.go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartDisabledReturnsNil(t *testing.T) {
	srv, err := Start(config.Default().Bus, testLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server when not embedded, got %v %v", srv, err)
	}
	// nil receivers are safe to shut down
	srv.Shutdown()
}

func TestStartAppliesRelayLimits(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()

	srv, err := Start(cfg, testLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	if !strings.HasPrefix(srv.ClientURL(), "nats://127.0.0.1:") {
		t.Fatalf("expected loopback listener, got %s", srv.ClientURL())
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	if got := nc.MaxPayload(); got != maxPayload {
		t.Fatalf("expected max payload %d, got %d", maxPayload, got)
	}

	jsCfg := srv.ns.JetStreamConfig()
	if jsCfg == nil {
		t.Fatal("expected jetstream to be enabled")
	}
	if jsCfg.MaxStore != int64(cfg.MaxStoreMB)<<20 || jsCfg.MaxMemory != maxMemoryStore {
		t.Fatalf("unexpected jetstream limits store=%d memory=%d", jsCfg.MaxStore, jsCfg.MaxMemory)
	}

	srv.Shutdown()
	srv.Shutdown()
}
