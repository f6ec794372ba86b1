package eventbus

import (
	"context"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfetarifa/tariff"
)

func TestNewEventID(t *testing.T) {
	at := time.Date(2025, 7, 1, 23, 0, 0, 0, time.FixedZone("CST", -6*3600))
	id := NewEventID("trf_", at)
	assert.True(t, strings.HasPrefix(id, "trf_20250702_"), id)
	assert.Len(t, id, len("trf_20250702_")+16)
	assert.NotEqual(t, id, NewEventID("trf_", at))
}

func TestNewTariffFetched(t *testing.T) {
	price := 6.1
	req := tariff.Request{Code: tariff.CodeDAC, Year: 2025, Month: 3, SummerStartMonth: 4, IsBimonthly: false}
	evt := NewTariffFetched(req, &tariff.Result{FixedCharge: 120, SinglePriceKWh: &price}, true, "http", time.Now())

	assert.True(t, evt.MinimalValidate())
	assert.Equal(t, TypeTariffFetched, evt.Type)
	assert.Equal(t, tariff.CodeDAC, evt.Payload.Code)
	assert.Equal(t, 0, evt.Payload.Tiers)
	assert.Equal(t, &price, evt.Payload.SinglePriceKWh)
	assert.True(t, evt.Payload.CacheHit)
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	b := &NATSBus{subject: "x"}
	err := b.Publish(context.Background(), TariffEvent{Type: TypeTariffFetched})
	assert.Error(t, err)
}

func runNATS(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	url := runNATS(t)
	pub, err := NewNATSBus(NATSConfig{URL: url})
	require.NoError(t, err)
	defer pub.Close()
	sub, err := NewNATSBus(NATSConfig{URL: url})
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, "cfe.tariffs.fetched", sub.Subject())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan TariffEvent, 4)
	s, err := sub.Subscribe(ctx, func(evt TariffEvent) { received <- evt })
	require.NoError(t, err)

	raw, err := nats.Connect(url)
	require.NoError(t, err)
	defer raw.Close()
	require.NoError(t, raw.Publish(sub.Subject(), []byte("not json")))
	require.NoError(t, raw.Publish(sub.Subject(), []byte(`{"type":"tariff.fetched"}`)))
	require.NoError(t, raw.Flush())

	req := tariff.Request{Code: tariff.Code1D, Year: 2025, Month: 7, SummerStartMonth: 5, IsBimonthly: true}
	res := &tariff.Result{Tiers: []tariff.Tier{{Label: tariff.TierBasic}, {Label: tariff.TierSurplus}}}
	evt := NewTariffFetched(req, res, false, "warmup", time.Now())
	require.NoError(t, pub.Publish(ctx, evt))

	select {
	case got := <-received:
		assert.Equal(t, evt.EventID, got.EventID)
		assert.Equal(t, tariff.Code1D, got.Payload.Code)
		assert.Equal(t, 2, got.Payload.Tiers)
		assert.Equal(t, "warmup", got.Payload.Trigger)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.Eventually(t, func() bool { return s.Dropped() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	bus, err := NewNATSBus(NATSConfig{URL: runNATS(t), Subject: "cfe.test"})
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	evt := NewTariffFetched(tariff.Request{Code: tariff.Code1}, &tariff.Result{}, false, "", time.Now())
	assert.ErrorIs(t, bus.Publish(ctx, evt), context.Canceled)
}
