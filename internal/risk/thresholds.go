package risk

import "github.com/shopspring/decimal"

// Thresholds holds the global price impact limit and per-pair overrides
// keyed by canonical pair key.
type Thresholds struct {
	Global decimal.Decimal
	Pairs  map[string]decimal.Decimal
}

// Resolve returns the governing threshold and whether it came from the
// pair override or the global value.
func (t Thresholds) Resolve(pairKey string) (decimal.Decimal, string) {
	if override, ok := t.Pairs[pairKey]; ok {
		return override, "pair"
	}
	return t.Global, "global"
}
