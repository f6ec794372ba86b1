package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cfetarifa/cache"
	"cfetarifa/eventbus"
	"cfetarifa/scraper_pkg"
	"cfetarifa/tariff"
)

// Lookup triggers, reported on fetch events.
const (
	TriggerHTTP   = "http"
	TriggerWarmup = "warmup"
	TriggerCLI    = "cli"
)

// tariffFetcher is satisfied by scraper_pkg.Fetcher.
type tariffFetcher interface {
	Fetch(ctx context.Context, req tariff.Request) (*scraper_pkg.Outcome, error)
}

// TariffService puts the result cache, request coalescing and fetch events
// in front of the browser workflow.
type TariffService struct {
	fetcher tariffFetcher
	cache   cache.TariffCache
	events  eventbus.Publisher
	logger  *zap.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewTariffService wires a service. nil cache or events disable them.
func NewTariffService(fetcher tariffFetcher, c cache.TariffCache, events eventbus.Publisher, logger *zap.Logger) *TariffService {
	if c == nil {
		c = cache.Nop{}
	}
	if events == nil {
		events = eventbus.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TariffService{
		fetcher: fetcher,
		cache:   c,
		events:  events,
		logger:  logger.With(zap.String("component", "service")),
		now:     time.Now,
	}
}

// LookupOptions carries per-call extras.
type LookupOptions struct {
	// KWh, when set, attaches a bill estimate to the result.
	KWh     *float64
	Trigger string
	// Refresh skips the cache read; the fresh result is still stored.
	Refresh bool
}

// Lookup returns the tariff for req. Debug requests always hit the portal
// and are never cached. The returned result is owned by the caller.
func (s *TariffService) Lookup(ctx context.Context, req tariff.Request, opts LookupOptions) (*scraper_pkg.Outcome, error) {
	if req.Debug {
		return s.fetcher.Fetch(ctx, req)
	}

	var (
		result *tariff.Result
		hit    bool
	)
	if !opts.Refresh {
		result, hit = s.cached(ctx, req)
	}
	if !hit {
		fetched, err := s.fetchShared(ctx, req)
		if err != nil {
			return nil, err
		}
		result = fetched
	}

	owned := *result
	if opts.KWh != nil {
		est, err := owned.EstimateBill(*opts.KWh)
		if err != nil {
			return nil, err
		}
		owned.Estimate = est
	}

	evt := eventbus.NewTariffFetched(req, &owned, hit, opts.Trigger, s.now())
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("⚠️ Failed to publish tariff event", zap.Error(err))
	}
	return &scraper_pkg.Outcome{Result: &owned}, nil
}

func (s *TariffService) cached(ctx context.Context, req tariff.Request) (*tariff.Result, bool) {
	result, err := s.cache.Get(ctx, req)
	if err != nil {
		s.logger.Warn("⚠️ Cache read failed", zap.String("key", cache.Key(req)), zap.Error(err))
		return nil, false
	}
	if result == nil {
		return nil, false
	}
	s.logger.Debug("cache hit", zap.String("key", cache.Key(req)))
	return result, true
}

// fetchShared runs one browser fetch per key no matter how many callers
// ask concurrently. The shared run is detached from any single caller's
// cancellation.
func (s *TariffService) fetchShared(ctx context.Context, req tariff.Request) (*tariff.Result, error) {
	key := cache.Key(req)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		runCtx := context.WithoutCancel(ctx)
		out, err := s.fetcher.Fetch(runCtx, req)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(runCtx, req, out.Result); err != nil {
			s.logger.Warn("⚠️ Cache write failed", zap.String("key", key), zap.Error(err))
		}
		return out.Result, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("coalesced with in-flight fetch", zap.String("key", key))
		}
		return res.Val.(*tariff.Result), nil
	}
}
