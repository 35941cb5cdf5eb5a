package aster

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	catalogValidity = time.Hour

	// stepEpsilon absorbs float noise when checking step-size alignment.
	stepEpsilon = 1e-7

	defaultQtyPrecision   = 3
	defaultPricePrecision = 4
	defaultMinQty         = 0.001
	defaultMaxQty         = 1000000
	defaultStepSize       = 0.001
	defaultMinNotional    = 5.0
	defaultTickSize       = 0.0001
)

// SymbolPrecision holds the trading rules for one symbol.
type SymbolPrecision struct {
	Symbol            string
	QuantityPrecision int
	PricePrecision    int
	MinQty            float64
	MaxQty            float64
	StepSize          float64
	MinNotional       float64
	TickSize          float64
}

// QuantityCheck is the outcome of validating an order quantity. When the
// check fails, Adjusted carries the nearest usable quantity: the clamped
// bound for a min or max breach, the rounded value for a step misalignment.
type QuantityCheck struct {
	Valid    bool
	Reason   string
	Adjusted float64
}

type exchangeInfoSource interface {
	ExchangeInfo(ctx context.Context) (*ExchangeInfo, error)
}

// PrecisionCatalog caches per-symbol trading rules from exchangeInfo and
// answers formatting and validation queries. Refreshes replace the whole map
// under the write lock; reads share the read lock. A stale catalog keeps
// serving its last snapshot. Unknown symbols format with conservative
// defaults but are never validated against them.
type PrecisionCatalog struct {
	source exchangeInfoSource
	log    zerolog.Logger

	mu        sync.RWMutex
	symbols   map[string]SymbolPrecision
	fetchedAt time.Time
}

// NewPrecisionCatalog builds an empty catalog backed by source. The first
// EnsureFresh call populates it.
func NewPrecisionCatalog(source exchangeInfoSource, log zerolog.Logger) *PrecisionCatalog {
	return &PrecisionCatalog{
		source:  source,
		log:     log.With().Str("component", "precision").Logger(),
		symbols: make(map[string]SymbolPrecision),
	}
}

// EnsureFresh refreshes the catalog when the snapshot is older than an hour.
// A failed refresh is logged and the previous snapshot stays in service.
func (pc *PrecisionCatalog) EnsureFresh(ctx context.Context) {
	pc.mu.RLock()
	fresh := time.Since(pc.fetchedAt) < catalogValidity && len(pc.symbols) > 0
	pc.mu.RUnlock()
	if fresh {
		return
	}

	if err := pc.Refresh(ctx); err != nil {
		pc.log.Warn().Err(err).Msg("precision catalog refresh failed, serving previous snapshot")
	}
}

// Refresh fetches exchangeInfo and replaces the catalog wholesale.
func (pc *PrecisionCatalog) Refresh(ctx context.Context) error {
	info, err := pc.source.ExchangeInfo(ctx)
	if err != nil {
		return err
	}

	symbols := make(map[string]SymbolPrecision, len(info.Symbols))
	for _, s := range info.Symbols {
		symbols[s.Symbol] = parseSymbolInfo(s)
	}

	pc.mu.Lock()
	pc.symbols = symbols
	pc.fetchedAt = time.Now()
	pc.mu.Unlock()

	pc.log.Info().Int("symbols", len(symbols)).Msg("precision catalog refreshed")
	return nil
}

func parseSymbolInfo(s SymbolInfo) SymbolPrecision {
	p := SymbolPrecision{
		Symbol:            s.Symbol,
		QuantityPrecision: defaultQtyPrecision,
		PricePrecision:    defaultPricePrecision,
		MinQty:            defaultMinQty,
		MaxQty:            defaultMaxQty,
		StepSize:          defaultStepSize,
		MinNotional:       defaultMinNotional,
		TickSize:          defaultTickSize,
	}
	if s.QuantityPrecision != nil {
		p.QuantityPrecision = *s.QuantityPrecision
	}
	if s.PricePrecision != nil {
		p.PricePrecision = *s.PricePrecision
	}

	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if v, err := strconv.ParseFloat(f.MinQty, 64); err == nil && v > 0 {
				p.MinQty = v
			}
			if v, err := strconv.ParseFloat(f.MaxQty, 64); err == nil && v > 0 {
				p.MaxQty = v
			}
			if v, err := strconv.ParseFloat(f.StepSize, 64); err == nil && v > 0 {
				p.StepSize = v
				if s.QuantityPrecision == nil {
					p.QuantityPrecision = decimalsOf(f.StepSize)
				}
			}
		case "PRICE_FILTER":
			if v, err := strconv.ParseFloat(f.TickSize, 64); err == nil && v > 0 {
				p.TickSize = v
				if s.PricePrecision == nil {
					p.PricePrecision = decimalsOf(f.TickSize)
				}
			}
		case "MIN_NOTIONAL":
			raw := f.Notional
			if raw == "" {
				raw = f.MinNotional
			}
			if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
				p.MinNotional = v
			}
		}
	}
	return p
}

// decimalsOf counts the significant decimal places of a filter value like
// "0.001000".
func decimalsOf(s string) int {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(s[dot+1:], "0")
	return len(frac)
}

// Rules returns the trading rules for symbol. Unknown symbols get the
// default rules so callers keep functioning while the catalog catches up.
func (pc *PrecisionCatalog) Rules(symbol string) SymbolPrecision {
	pc.mu.RLock()
	p, ok := pc.symbols[symbol]
	pc.mu.RUnlock()
	if ok {
		return p
	}
	pc.log.Debug().Str("symbol", symbol).Msg("symbol not in precision catalog, using defaults")
	return SymbolPrecision{
		Symbol:            symbol,
		QuantityPrecision: defaultQtyPrecision,
		PricePrecision:    defaultPricePrecision,
		MinQty:            defaultMinQty,
		MaxQty:            defaultMaxQty,
		StepSize:          defaultStepSize,
		MinNotional:       defaultMinNotional,
		TickSize:          defaultTickSize,
	}
}

// Known reports whether the catalog holds real exchange rules for symbol.
func (pc *PrecisionCatalog) Known(symbol string) bool {
	pc.mu.RLock()
	_, ok := pc.symbols[symbol]
	pc.mu.RUnlock()
	return ok
}

// FormatQuantity renders qty with the symbol's quantity precision, rounded
// down to the step grid.
func (pc *PrecisionCatalog) FormatQuantity(symbol string, qty float64) string {
	p := pc.Rules(symbol)
	snapped := snapToStep(qty, p.StepSize)
	return strconv.FormatFloat(snapped, 'f', p.QuantityPrecision, 64)
}

// FormatPrice renders price with the symbol's price precision.
func (pc *PrecisionCatalog) FormatPrice(symbol string, price float64) string {
	p := pc.Rules(symbol)
	return strconv.FormatFloat(price, 'f', p.PricePrecision, 64)
}

// snapToStep rounds qty to the nearest multiple of step.
func snapToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Round(qty/step) * step
}

// ValidateQuantity checks qty against the symbol's min, max and step rules,
// in that order. A symbol the catalog has no exchange rules for passes
// unconditionally; there is nothing to check against, and rejecting would
// block every symbol while the catalog catches up.
func (pc *PrecisionCatalog) ValidateQuantity(symbol string, qty float64) QuantityCheck {
	if !pc.Known(symbol) {
		return QuantityCheck{Valid: true}
	}
	p := pc.Rules(symbol)

	if qty < p.MinQty {
		return QuantityCheck{Adjusted: p.MinQty,
			Reason: "quantity " + strconv.FormatFloat(qty, 'f', -1, 64) +
				" below minimum " + strconv.FormatFloat(p.MinQty, 'f', -1, 64)}
	}
	if qty > p.MaxQty {
		return QuantityCheck{Adjusted: p.MaxQty,
			Reason: "quantity " + strconv.FormatFloat(qty, 'f', -1, 64) +
				" above maximum " + strconv.FormatFloat(p.MaxQty, 'f', -1, 64)}
	}

	steps := qty / p.StepSize
	if math.Abs(steps-math.Round(steps)) > stepEpsilon {
		return QuantityCheck{Adjusted: snapToStep(qty, p.StepSize),
			Reason: "quantity must be a multiple of step size " + strconv.FormatFloat(p.StepSize, 'f', -1, 64)}
	}

	return QuantityCheck{Valid: true}
}

// ValidateNotional checks that qty*price clears the symbol's minimum
// notional value. Unknown symbols pass, as in ValidateQuantity.
func (pc *PrecisionCatalog) ValidateNotional(symbol string, qty, price float64) (bool, string) {
	if !pc.Known(symbol) {
		return true, ""
	}
	p := pc.Rules(symbol)
	notional := qty * price
	if notional < p.MinNotional {
		return false, "notional " + strconv.FormatFloat(notional, 'f', 2, 64) +
			" below minimum " + strconv.FormatFloat(p.MinNotional, 'f', 2, 64)
	}
	return true, ""
}

// MinNotionalQuantity returns the smallest step-aligned quantity whose
// notional at price clears the symbol minimum.
func (pc *PrecisionCatalog) MinNotionalQuantity(symbol string, price float64) float64 {
	p := pc.Rules(symbol)
	if price <= 0 {
		return p.MinQty
	}
	qty := p.MinNotional / price
	steps := math.Ceil(qty/p.StepSize - stepEpsilon)
	qty = steps * p.StepSize
	if qty < p.MinQty {
		qty = p.MinQty
	}
	return qty
}
