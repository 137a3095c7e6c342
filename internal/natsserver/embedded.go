// Package natsserver runs an in-process NATS server so a single relay binary
// can carry its own exchange-event bus.
package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const (
	serverName = "loqa-relay-bus"
	readyWait  = 5 * time.Second

	// Exchange events are small JSON documents; anything larger is a bug.
	maxPayload = 256 << 10
	// JetStream keeps only the exchanges stream, which lives on disk.
	maxMemoryStore = 16 << 20
)

// EmbeddedServer is the relay's private NATS server. It listens on the
// configured host only and caps JetStream storage.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches the server and waits until it accepts clients. It returns
// nil when cfg.Embedded is off.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	opts := &server.Options{
		ServerName:         serverName,
		Host:               host,
		Port:               cfg.Port,
		MaxPayload:         maxPayload,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: maxMemoryStore,
		NoSigs:             true,
		NoLog:              true,
	}
	if cfg.MaxStoreMB > 0 {
		opts.JetStreamMaxStore = int64(cfg.MaxStoreMB) << 20
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded bus: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyWait) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded bus not ready after %s", readyWait)
	}
	if !ns.JetStreamEnabled() {
		log.Warn("embedded bus started without jetstream, exchange events will not be replayable")
	}

	log.Info("embedded bus started",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", cfg.StoreDir),
		slog.Int("max_store_mb", cfg.MaxStoreMB))

	return &EmbeddedServer{ns: ns, log: log}, nil
}

// ClientURL is the address local clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit. Safe on nil and when
// called more than once.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	if !e.ns.Running() {
		return
	}
	e.log.Info("stopping embedded bus")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
