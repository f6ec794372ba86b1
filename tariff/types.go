// Package tariff models CFE residential tariff schedules and turns the rows
// scraped from the portal into a structured result.
package tariff

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
)

// MinKWhPerMonth is the minimum monthly consumption billed by CFE.
const MinKWhPerMonth = 25

// Code identifies a residential tariff (1, 1A..1F, DAC).
type Code string

const (
	Code1   Code = "1"
	Code1A  Code = "1A"
	Code1B  Code = "1B"
	Code1C  Code = "1C"
	Code1D  Code = "1D"
	Code1E  Code = "1E"
	Code1F  Code = "1F"
	CodeDAC Code = "DAC"
)

// ParseCode normalises a user supplied code. Unknown codes are kept as-is;
// the portal lookup falls back to tariff 1 for them.
func ParseCode(s string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(s)))
}

// IsDAC reports whether the tariff is the flat-rate high consumption one.
func (c Code) IsDAC() bool { return c == CodeDAC }

// Request describes one tariff lookup.
type Request struct {
	Code             Code
	Year             int
	Month            int
	SummerStartMonth int
	IsBimonthly      bool
	Debug            bool
}

// NewRequest returns a request with the service defaults applied:
// tariff 1D, the current month and a summer starting in May.
func NewRequest(now time.Time) Request {
	return Request{
		Code:             Code1D,
		Year:             now.Year(),
		Month:            int(now.Month()),
		SummerStartMonth: 5,
		IsBimonthly:      true,
	}
}

// Validate checks the month fields.
func (r Request) Validate() error {
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("mes fuera de rango: %d", r.Month)
	}
	if r.SummerStartMonth < 1 || r.SummerStartMonth > 12 {
		return fmt.Errorf("inicioVerano fuera de rango: %d", r.SummerStartMonth)
	}
	return nil
}

// Key identifies the request for caching and request coalescing. Debug is
// not part of the key; debug requests are never cached.
func (r Request) Key() string {
	return fmt.Sprintf("%s:%d:%d:%d:%t", r.Code, r.Year, r.Month, r.SummerStartMonth, r.IsBimonthly)
}

// InSummer reports whether the requested month falls in the summer season.
func (r Request) InSummer() bool {
	return IsMonthInSummer(r.Month, r.SummerStartMonth)
}

// RawRow is one table row as trimmed cell texts.
type RawRow []string

// Joined returns the lowercase text of the row, cells separated by spaces.
func (r RawRow) Joined() string {
	return strings.ToLower(strings.Join(r, " "))
}

// Cell returns the i-th cell or "" when the row is shorter.
func (r RawRow) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// TierLabel names a consumption block.
type TierLabel string

const (
	TierBasic            TierLabel = "Básico"
	TierIntermediateLow  TierLabel = "Intermedio bajo"
	TierIntermediateHigh TierLabel = "Intermedio alto"
	TierSurplus          TierLabel = "Excedente"
)

// Tier is a consumption bracket. UpToKWh is nil for the open-ended block.
type Tier struct {
	Label       TierLabel `json:"label" yaml:"label"`
	UpToKWh     *int      `json:"upToKWh" yaml:"upToKWh"`
	PricePerKWh float64   `json:"pricePerKWh" yaml:"pricePerKWh"`
}

// Result is the parsed tariff schedule returned to callers.
type Result struct {
	Code           Code            `json:"code" yaml:"code"`
	Year           int             `json:"year" yaml:"year"`
	Month          int             `json:"month" yaml:"month"`
	IsBimonthly    bool            `json:"isBimonthly" yaml:"isBimonthly"`
	FixedCharge    float64         `json:"fixedCharge" yaml:"fixedCharge"`
	MinKWhPerMonth int             `json:"minKWhPerMonth" yaml:"minKWhPerMonth"`
	Tiers          []Tier          `json:"tiers" yaml:"tiers"`
	SinglePriceKWh *float64        `json:"singlePriceKWh,omitempty" yaml:"singlePriceKWh,omitempty"`
	FetchedAt      strfmt.DateTime `json:"fetchedAt" yaml:"fetchedAt"`
	Estimate       *Estimate       `json:"estimate,omitempty" yaml:"estimate,omitempty"`
}

// Stamp fills the request echo fields and the fetch timestamp.
func (r *Result) Stamp(req Request, at time.Time) {
	r.Code = req.Code
	r.Year = req.Year
	r.Month = req.Month
	r.IsBimonthly = req.IsBimonthly
	r.FetchedAt = strfmt.DateTime(at.UTC())
}
