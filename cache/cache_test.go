package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-openapi/strfmt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfetarifa/tariff"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	c := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func sampleRequest() tariff.Request {
	return tariff.Request{Code: tariff.Code1D, Year: 2025, Month: 7, SummerStartMonth: 5, IsBimonthly: true}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	req := sampleRequest()

	got, err := c.Get(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, got, "empty cache is a miss")

	upTo := 150
	result := &tariff.Result{
		Code:           tariff.Code1D,
		Year:           2025,
		Month:          7,
		IsBimonthly:    true,
		MinKWhPerMonth: tariff.MinKWhPerMonth,
		Tiers:          []tariff.Tier{{Label: tariff.TierBasic, UpToKWh: &upTo, PricePerKWh: 1.0}},
		FetchedAt:      strfmt.DateTime(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)),
		Estimate:       &tariff.Estimate{KWh: 10},
	}
	require.NoError(t, c.Set(ctx, req, result))

	assert.True(t, mr.Exists("cfe:tarifa:1D:2025:7:5:true"))
	assert.Equal(t, time.Hour, mr.TTL("cfe:tarifa:1D:2025:7:5:true"))

	got, err = c.Get(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, result.Tiers, got.Tiers)
	assert.Nil(t, got.Estimate)
	assert.NotNil(t, result.Estimate, "caller's result is untouched")
}

func TestRedisCacheExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	req := sampleRequest()
	require.NoError(t, c.Set(ctx, req, &tariff.Result{Code: tariff.Code1D}))

	mr.FastForward(2 * time.Hour)
	got, err := c.Get(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheKeyIgnoresDebug(t *testing.T) {
	req := sampleRequest()
	dbg := req
	dbg.Debug = true
	assert.Equal(t, Key(req), Key(dbg))
}

func TestRedisCacheCorruptValue(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(Key(sampleRequest()), "{not json"))
	_, err := c.Get(context.Background(), sampleRequest())
	assert.Error(t, err)
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisCache(ctx, "127.0.0.1:1", time.Minute)
	assert.Error(t, err)
}

func TestNopCache(t *testing.T) {
	var c TariffCache = Nop{}
	require.NoError(t, c.Set(context.Background(), sampleRequest(), &tariff.Result{}))
	got, err := c.Get(context.Background(), sampleRequest())
	assert.NoError(t, err)
	assert.Nil(t, got)
}
