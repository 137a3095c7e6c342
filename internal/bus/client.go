package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/nats-io/nats.go"
)

const (
	connectionName        = "loqa-relay-exchanges"
	defaultPublishTimeout = 500 * time.Millisecond

	// Events published while reconnecting are buffered up to this size and
	// rejected beyond it.
	reconnectBufSize = 4 << 20
)

// Client is the relay's publish-only NATS connection. Every publish runs
// under the configured publish timeout so a stalled server cannot hold up a
// request.
type Client struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	publishTimeout time.Duration
	log            *slog.Logger
}

// Connect dials the configured servers and prepares a JetStream context. The
// connection reconnects forever; Close is the only way to end it.
func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	publishTimeout := cfg.PublishTimeout()
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}

	options := []nats.Option{
		nats.Name(connectionName),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ReconnectBufSize(reconnectBufSize),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("bus disconnected, exchange events are buffered", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("bus reconnected", slog.String("server", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn("bus async error", slog.String("error", err.Error()))
		}),
	}
	switch {
	case cfg.Token != "":
		options = append(options, nats.Token(cfg.Token))
	case cfg.Username != "" || cfg.Password != "":
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	log.Info("bus connected",
		slog.String("servers", url),
		slog.Duration("publish_timeout", publishTimeout))

	return &Client{
		conn:           conn,
		js:             js,
		publishTimeout: publishTimeout,
		log:            log,
	}, nil
}

// Publish sends one message, on JetStream when durable is set and on core
// NATS otherwise. It returns once the ack arrives or the publish timeout
// expires, whichever is first.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, durable bool) error {
	if !durable {
		return c.conn.Publish(subject, data)
	}
	ctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()
	_, err := c.js.Publish(subject, data, nats.Context(ctx))
	return err
}

// PublishTimeout is the deadline applied to each durable publish.
func (c *Client) PublishTimeout() time.Duration {
	return c.publishTimeout
}

// Close flushes buffered events and closes the connection. Safe on nil.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing bus connection")
	if c.conn.IsConnected() {
		if err := c.conn.FlushTimeout(c.publishTimeout); err != nil {
			c.log.Warn("bus flush failed", slog.String("error", err.Error()))
		}
	}
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

func (c *Client) Logger() *slog.Logger {
	return c.log
}
