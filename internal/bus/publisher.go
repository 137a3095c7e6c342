package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-relay/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Publisher fans exchange events out on the bus. Publishing is fire and
// forget: a broken bus never affects the HTTP response.
type Publisher struct {
	client      *Client
	includeText bool
	jetstream   bool
	log         *slog.Logger
}

func NewPublisher(client *Client, includeText bool) *Publisher {
	return &Publisher{
		client:      client,
		includeText: includeText,
		log:         client.Logger().With(slog.String("component", "exchange-publisher")),
	}
}

// EnsureStream creates the exchange stream when JetStream is available so
// late subscribers can replay events. Without JetStream, events are
// published on core NATS only.
func (p *Publisher) EnsureStream(maxAge time.Duration) error {
	js := p.client.JetStream()
	_, err := js.StreamInfo(protocol.StreamExchanges)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     protocol.StreamExchanges,
			Subjects: []string{protocol.SubjectExchangePrefix + ".>"},
			Storage:  nats.FileStorage,
			MaxAge:   maxAge,
		})
	}
	if err != nil {
		p.log.Warn("jetstream unavailable, publishing on core NATS", slogError(err))
		return err
	}
	p.jetstream = true
	return nil
}

func (p *Publisher) ObserveExchange(ctx context.Context, event protocol.ExchangeEvent) {
	if !p.includeText {
		event = event.WithoutText()
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("failed to marshal exchange event", slogError(err))
		return
	}
	subject := event.Subject()
	if err := p.client.Publish(ctx, subject, data, p.jetstream); err != nil {
		p.log.Warn("failed to publish exchange event",
			slog.String("subject", subject),
			slog.Bool("jetstream", p.jetstream),
			slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
