package tariff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	firstBlockRe = regexp.MustCompile(`(?i)primeros?\s+(\d+)`)
	nextBlockRe  = regexp.MustCompile(`(?i)siguientes?\s+(\d+)`)
)

// schedule accumulates what the rules find while walking the rows.
type schedule struct {
	tiers       []Tier
	fixedCharge float64
	singlePrice *float64
}

func (s *schedule) lastBound() int {
	if len(s.tiers) == 0 || s.tiers[len(s.tiers)-1].UpToKWh == nil {
		return 0
	}
	return *s.tiers[len(s.tiers)-1].UpToKWh
}

// rowRule pairs a predicate on the lowercase row text with the handler that
// consumes the row. Rules are evaluated in order and the first match wins.
type rowRule struct {
	name    string
	matches func(joined string) bool
	apply   func(s *schedule, row RawRow)
}

func containsAny(subs ...string) func(string) bool {
	return func(joined string) bool {
		for _, sub := range subs {
			if strings.Contains(joined, sub) {
				return true
			}
		}
		return false
	}
}

var tieredRules = []rowRule{
	{name: "basic", matches: containsAny("consumo básico", "consumo basico"), apply: applyBasic},
	{name: "intermediate-low", matches: containsAny("consumo intermedio bajo"), apply: applyIntermediate(TierIntermediateLow)},
	{name: "intermediate-high", matches: containsAny("consumo intermedio alto"), apply: applyIntermediate(TierIntermediateHigh)},
	{name: "surplus", matches: containsAny("consumo excedente"), apply: applySurplus},
	{name: "fixed-charge", matches: isFixedChargeRow, apply: applyFixedCharge},
}

var (
	isFixedChargeRow = containsAny("cargo fijo", "servicio")
	isEnergyRow      = containsAny("/kwh", "energ")
)

// Classify turns extracted rows into a tariff result. Request echo fields
// and the timestamp are left for the caller to stamp.
func Classify(code Code, rows []RawRow) (*Result, error) {
	if code.IsDAC() {
		return classifyDAC(rows)
	}
	return classifyTiered(rows)
}

func classifyDAC(rows []RawRow) (*Result, error) {
	s := &schedule{}
	for _, row := range rows {
		joined := row.Joined()
		if isEnergyRow(joined) {
			if price, ok := PickPlausiblePrice(ParseCells(row), DefaultMinPrice, DefaultMaxPrice); ok {
				s.singlePrice = &price
			}
		}
		if isFixedChargeRow(joined) {
			applyFixedCharge(s, row)
		}
	}
	if s.singlePrice == nil {
		return nil, ErrNoPriceFound
	}
	return &Result{
		FixedCharge:    s.fixedCharge,
		MinKWhPerMonth: MinKWhPerMonth,
		Tiers:          []Tier{},
		SinglePriceKWh: s.singlePrice,
	}, nil
}

func classifyTiered(rows []RawRow) (*Result, error) {
	s := &schedule{}
	for _, row := range rows {
		joined := row.Joined()
		for _, rule := range tieredRules {
			if rule.matches(joined) {
				rule.apply(s, row)
				break
			}
		}
	}

	valid := make([]Tier, 0, len(s.tiers))
	for _, t := range s.tiers {
		if isFinite(t.PricePerKWh) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoTiersFound
	}
	return &Result{
		FixedCharge:    s.fixedCharge,
		MinKWhPerMonth: MinKWhPerMonth,
		Tiers:          valid,
	}, nil
}

func tierPrice(row RawRow) (float64, bool) {
	v, _ := ParseNumber(row.Cell(1))
	return PickPlausiblePrice([]float64{v}, DefaultMinPrice, DefaultMaxPrice)
}

func blockSize(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func applyBasic(s *schedule, row RawRow) {
	price, ok := tierPrice(row)
	if !ok {
		return
	}
	var upTo *int
	if n := blockSize(firstBlockRe, row.Cell(2)); n > 0 {
		upTo = &n
	}
	s.tiers = append(s.tiers, Tier{Label: TierBasic, UpToKWh: upTo, PricePerKWh: price})
}

func applyIntermediate(label TierLabel) func(*schedule, RawRow) {
	return func(s *schedule, row RawRow) {
		price, ok := tierPrice(row)
		if !ok {
			return
		}
		var upTo *int
		if add := blockSize(nextBlockRe, row.Cell(2)); add > 0 {
			bound := s.lastBound() + add
			upTo = &bound
		}
		s.tiers = append(s.tiers, Tier{Label: label, UpToKWh: upTo, PricePerKWh: price})
	}
}

func applySurplus(s *schedule, row RawRow) {
	if price, ok := tierPrice(row); ok {
		s.tiers = append(s.tiers, Tier{Label: TierSurplus, PricePerKWh: price})
	}
}

// applyFixedCharge keeps the last non-negative number of the row; later
// rows overwrite earlier ones.
func applyFixedCharge(s *schedule, row RawRow) {
	if v, ok := lastNonNegative(ParseCells(row)); ok {
		s.fixedCharge = v
	}
}

// String renders a tier for logs.
func (t Tier) String() string {
	if t.UpToKWh == nil {
		return fmt.Sprintf("%s: $%.3f/kWh", t.Label, t.PricePerKWh)
	}
	return fmt.Sprintf("%s (≤%d kWh): $%.3f/kWh", t.Label, *t.UpToKWh, t.PricePerKWh)
}
