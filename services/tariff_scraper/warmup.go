package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cfetarifa/tariff"
)

const warmupTimeout = 3 * time.Minute

// Warmer refreshes the cache for the current month on a cron schedule.
type Warmer struct {
	lookup      tariffLookup
	codes       []tariff.Code
	summerStart int
	logger      *zap.Logger
	cron        *cron.Cron
	now         func() time.Time

	// root parents every scheduled run; Stop cancels it.
	root   context.Context
	cancel context.CancelFunc
}

func NewWarmer(lookup tariffLookup, codes []tariff.Code, summerStart int, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Warmer{
		lookup:      lookup,
		codes:       codes,
		summerStart: summerStart,
		logger:      logger.With(zap.String("component", "warmup")),
		cron:        cron.New(cron.WithParser(parser)),
		now:         time.Now,
		root:        root,
		cancel:      cancel,
	}
}

// Start registers the schedule and starts the cron runner.
func (w *Warmer) Start(schedule string) error {
	if _, err := w.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(w.root, warmupTimeout*time.Duration(max(1, len(w.codes))))
		defer cancel()
		w.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid warmup schedule %q: %w", schedule, err)
	}
	w.cron.Start()
	w.logger.Info("⏰ Cache warm-up scheduled", zap.String("schedule", schedule), zap.Int("codes", len(w.codes)))
	return nil
}

// Stop halts the schedule, cancels a running warm-up and waits for it to
// return.
func (w *Warmer) Stop() {
	w.cancel()
	<-w.cron.Stop().Done()
}

// RunOnce fetches the current month for every code and returns how many
// succeeded.
func (w *Warmer) RunOnce(ctx context.Context) int {
	ok := 0
	for _, code := range w.codes {
		if ctx.Err() != nil {
			break
		}
		req := tariff.NewRequest(w.now())
		req.Code = code
		req.SummerStartMonth = w.summerStart

		if _, err := w.lookup.Lookup(ctx, req, LookupOptions{Trigger: TriggerWarmup, Refresh: true}); err != nil {
			w.logger.Warn("⚠️ Warm-up fetch failed", zap.String("tarifa", string(code)), zap.Error(err))
			continue
		}
		ok++
	}
	w.logger.Info("✅ Warm-up finished", zap.Int("ok", ok), zap.Int("total", len(w.codes)))
	return ok
}
