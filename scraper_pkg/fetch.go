package scraper_pkg

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"cfetarifa/tariff"
)

// PageOpener hands out request-owned pages. SessionManager is the real one.
type PageOpener interface {
	OpenPage(ctx context.Context) (TariffPage, error)
}

// Outcome is what a fetch produced. In debug mode Result is nil and either
// DebugRows or Diagnostics is set.
type Outcome struct {
	Result      *tariff.Result  `json:"result,omitempty" yaml:"result,omitempty"`
	DebugRows   []tariff.RawRow `json:"debugRows,omitempty" yaml:"debugRows,omitempty"`
	Diagnostics *Diagnostics    `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// IsDebug reports whether the outcome carries debug data instead of a result.
func (o *Outcome) IsDebug() bool {
	return o.Result == nil && (o.DebugRows != nil || o.Diagnostics != nil)
}

type diagnosticsBody struct {
	Diagnostics *Diagnostics `json:"debug" yaml:"debug"`
}

type debugRowsBody struct {
	Rows []tariff.RawRow `json:"debugRows" yaml:"debugRows"`
}

// Body is what clients receive: the result, {"debug": frames} after a scope
// miss, or {"debugRows": rows}. A table without rows still yields a list.
func (o *Outcome) Body() interface{} {
	switch {
	case o.Result != nil:
		return o.Result
	case o.Diagnostics != nil:
		return diagnosticsBody{Diagnostics: o.Diagnostics}
	}
	rows := o.DebugRows
	if rows == nil {
		rows = []tariff.RawRow{}
	}
	return debugRowsBody{Rows: rows}
}

// Fetcher runs the full portal workflow for one request.
type Fetcher struct {
	opener  PageOpener
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewFetcher wires a fetcher. An empty baseURL selects the public portal.
func NewFetcher(opener PageOpener, baseURL string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{opener: opener, baseURL: baseURL, logger: logger, now: time.Now}
}

// Fetch loads the tariff page, picks the months, extracts the table and
// classifies it. The page is closed on every path, panics included.
func (f *Fetcher) Fetch(ctx context.Context, req tariff.Request) (out *Outcome, err error) {
	log := f.logger.With(
		zap.String("tarifa", string(req.Code)),
		zap.Int("anio", req.Year),
		zap.Int("mes", req.Month),
		zap.Int("inicioVerano", req.SummerStartMonth),
	)
	start := time.Now()

	page, err := f.opener.OpenPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("❌ Panic during tariff fetch", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out, err = nil, fmt.Errorf("unexpected panic: %v", r)
		}
		if cerr := page.Close(); cerr != nil {
			log.Warn("⚠️ Failed to close page", zap.Error(cerr))
		}
	}()

	url := tariff.URLFor(f.baseURL, req.Code)
	log.Info("[1/8] 📄 Loading tariff page", zap.String("url", url))
	if err := page.Load(ctx, url); err != nil {
		return nil, err
	}

	log.Info("[2/8] 🍪 Dismissing consent overlay")
	page.DismissConsent(ctx)

	log.Info("[3/8] ⏳ Waiting for form controls")
	page.WaitForControls(ctx)

	log.Info("[4/8] ☀️ Selecting summer start month")
	if !page.SelectSummerStart(ctx, req.SummerStartMonth) {
		log.Warn("⚠️ Summer start control not found, continuing")
	}

	log.Info("[5/8] 📅 Selecting query month")
	if !page.SelectQueryMonth(ctx, req.Month) {
		log.Warn("⚠️ Query month control not found, continuing")
	}

	log.Info("[6/8] ⏳ Waiting for tariff table")
	page.Settle(ctx, req.Code)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info("[7/8] 🔍 Locating table scope")
	doc, diag, err := FindScopeWithTables(page.Scopes())
	if err != nil {
		if req.Debug && IsScopeMiss(err) {
			return &Outcome{Diagnostics: diag}, nil
		}
		return nil, err
	}
	ext, err := ExtractRows(doc, req)
	if err != nil {
		if req.Debug && IsScopeMiss(err) {
			return &Outcome{Diagnostics: diag}, nil
		}
		return nil, err
	}
	if ext.Fallback {
		log.Warn("⚠️ No table after season heading, using first table", zap.String("heading", ext.Heading))
	}
	log.Info("✅ Extracted rows", zap.Int("rows", len(ext.Rows)), zap.Int("scope", doc.Index), zap.String("frame", doc.Scope.Name()))
	if req.Debug {
		rows := ext.Rows
		if rows == nil {
			rows = []tariff.RawRow{}
		}
		return &Outcome{DebugRows: rows}, nil
	}

	log.Info("[8/8] 🧮 Classifying rows")
	result, err := tariff.Classify(req.Code, ext.Rows)
	if err != nil {
		return nil, err
	}
	result.Stamp(req, f.now())
	log.Info("✅ Tariff fetched",
		zap.Int("tiers", len(result.Tiers)),
		zap.Float64("fixedCharge", result.FixedCharge),
		zap.Duration("elapsed", time.Since(start)))
	for _, t := range result.Tiers {
		log.Debug("tier", zap.Stringer("tier", t))
	}
	return &Outcome{Result: result}, nil
}
