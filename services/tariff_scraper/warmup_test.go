package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfetarifa/scraper_pkg"
	"cfetarifa/tariff"
)

type recordingLookup struct {
	mu   sync.Mutex
	reqs []tariff.Request
	opts []LookupOptions
	fail tariff.Code
}

func (l *recordingLookup) Lookup(_ context.Context, req tariff.Request, opts LookupOptions) (*scraper_pkg.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, req)
	l.opts = append(l.opts, opts)
	if req.Code == l.fail {
		return nil, tariff.ErrNoTiersFound
	}
	return &scraper_pkg.Outcome{Result: &tariff.Result{Code: req.Code}}, nil
}

type panickingLookup struct{}

func (panickingLookup) Lookup(context.Context, tariff.Request, LookupOptions) (*scraper_pkg.Outcome, error) {
	panic("kaboom")
}

func TestWarmerRunOnce(t *testing.T) {
	l := &recordingLookup{fail: tariff.CodeDAC}
	w := NewWarmer(l, []tariff.Code{tariff.Code1D, tariff.CodeDAC, tariff.Code1F}, 4, nil)
	w.now = func() time.Time { return time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC) }

	ok := w.RunOnce(context.Background())
	assert.Equal(t, 2, ok)
	require.Len(t, l.reqs, 3)
	for i, req := range l.reqs {
		assert.Equal(t, 2025, req.Year)
		assert.Equal(t, 11, req.Month)
		assert.Equal(t, 4, req.SummerStartMonth)
		assert.False(t, req.Debug)
		assert.True(t, l.opts[i].Refresh)
		assert.Equal(t, TriggerWarmup, l.opts[i].Trigger)
	}
}

func TestWarmerStopsOnCancelledContext(t *testing.T) {
	l := &recordingLookup{}
	w := NewWarmer(l, []tariff.Code{tariff.Code1, tariff.Code1A}, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, w.RunOnce(ctx))
	assert.Empty(t, l.reqs)
}

func TestWarmerSchedule(t *testing.T) {
	w := NewWarmer(&recordingLookup{}, nil, 5, nil)
	assert.Error(t, w.Start("not a schedule"))

	require.NoError(t, w.Start("@every 1h"))
	w.Stop()

	w = NewWarmer(&recordingLookup{}, nil, 5, nil)
	require.NoError(t, w.Start("0 */6 * * *"))
	w.Stop()
}

// blockingLookup holds every call until its context ends.
type blockingLookup struct {
	started chan struct{}
	once    sync.Once
}

func (l *blockingLookup) Lookup(ctx context.Context, _ tariff.Request, _ LookupOptions) (*scraper_pkg.Outcome, error) {
	l.once.Do(func() { close(l.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWarmerStopCancelsRunningWarmup(t *testing.T) {
	l := &blockingLookup{started: make(chan struct{})}
	w := NewWarmer(l, []tariff.Code{tariff.Code1D, tariff.CodeDAC}, 5, nil)
	require.NoError(t, w.Start("@every 1s"))

	select {
	case <-l.started:
	case <-time.After(5 * time.Second):
		t.Fatal("warm-up never ran")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited for the in-flight warm-up")
	}
}
