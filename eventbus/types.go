package eventbus

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"cfetarifa/tariff"
)

const (
	TypeTariffFetched = "tariff.fetched"
	SourceScraper     = "cfe-tarifa"
)

// TariffEvent is published whenever a tariff schedule is served.
type TariffEvent struct {
	EventID   string        `json:"event_id" yaml:"event_id"`
	Source    string        `json:"source" yaml:"source"`
	Type      string        `json:"type" yaml:"type"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Payload   TariffPayload `json:"payload" yaml:"payload"`
}

type TariffPayload struct {
	Code           tariff.Code `json:"code" yaml:"code"`
	Year           int         `json:"year" yaml:"year"`
	Month          int         `json:"month" yaml:"month"`
	SummerStart    int         `json:"summer_start" yaml:"summer_start"`
	IsBimonthly    bool        `json:"is_bimonthly" yaml:"is_bimonthly"`
	Tiers          int         `json:"tiers" yaml:"tiers"`
	FixedCharge    float64     `json:"fixed_charge" yaml:"fixed_charge"`
	SinglePriceKWh *float64    `json:"single_price_kwh,omitempty" yaml:"single_price_kwh,omitempty"`
	CacheHit       bool        `json:"cache_hit" yaml:"cache_hit"`
	Trigger        string      `json:"trigger,omitempty" yaml:"trigger,omitempty"` // http|warmup|cli
}

// NewTariffFetched builds the event for a served result.
func NewTariffFetched(req tariff.Request, result *tariff.Result, cacheHit bool, trigger string, at time.Time) TariffEvent {
	return TariffEvent{
		EventID:   NewEventID("trf_", at),
		Source:    SourceScraper,
		Type:      TypeTariffFetched,
		Timestamp: at.UTC(),
		Payload: TariffPayload{
			Code:           req.Code,
			Year:           req.Year,
			Month:          req.Month,
			SummerStart:    req.SummerStartMonth,
			IsBimonthly:    req.IsBimonthly,
			Tiers:          len(result.Tiers),
			FixedCharge:    result.FixedCharge,
			SinglePriceKWh: result.SinglePriceKWh,
			CacheHit:       cacheHit,
			Trigger:        trigger,
		},
	}
}

// NewEventID generates a compact unique event id with a date prefix.
func NewEventID(prefix string, t time.Time) string {
	// 8 random bytes -> 16 hex chars
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + t.UTC().Format("20060102") + "_" + hex.EncodeToString(b)
}

// MinimalValidate checks required fields.
func (e *TariffEvent) MinimalValidate() bool {
	return e.EventID != "" && e.Source != "" && e.Type != "" && !e.Timestamp.IsZero() && e.Payload.Code != ""
}
