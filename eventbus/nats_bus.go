// Package eventbus announces served tariffs on NATS.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is what the service needs from a bus.
type Publisher interface {
	Publish(ctx context.Context, evt TariffEvent) error
}

// NATSBus provides a lightweight event bus using NATS core subjects.
type NATSBus struct {
	nc      *nats.Conn
	subject string
}

type NATSConfig struct {
	URL     string
	Subject string
}

func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("cfe-tarifa"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "cfe.tariffs.fetched"
	}
	return &NATSBus{nc: nc, subject: subject}, nil
}

func (b *NATSBus) Publish(ctx context.Context, evt TariffEvent) error {
	if !evt.MinimalValidate() {
		return fmt.Errorf("invalid event: missing required fields")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, data)
}

// Subscribe delivers tariff.fetched events until ctx is done. Messages that
// do not decode or lack required fields are counted as dropped and never
// reach handler.
func (b *NATSBus) Subscribe(ctx context.Context, handler func(TariffEvent)) (*Subscription, error) {
	s := &Subscription{}
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var evt TariffEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil || !evt.MinimalValidate() || evt.Type != TypeTariffFetched {
			s.dropped.Add(1)
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	// Make sure the server has registered interest before returning.
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return s, nil
}

// Subject is the subject events are published on.
func (b *NATSBus) Subject() string { return b.subject }

// Subscription is a live tariff event subscription.
type Subscription struct {
	dropped atomic.Int64
}

// Dropped counts messages that were not valid tariff events.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, TariffEvent) error { return nil }
