package aster

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticInfoSource struct {
	info *ExchangeInfo
	err  error
}

func (s *staticInfoSource) ExchangeInfo(context.Context) (*ExchangeInfo, error) {
	return s.info, s.err
}

func intPtr(v int) *int { return &v }

func testExchangeInfo() *ExchangeInfo {
	return &ExchangeInfo{
		Symbols: []SymbolInfo{
			{
				Symbol:            "BTCUSDT",
				QuantityPrecision: intPtr(3),
				PricePrecision:    intPtr(2),
				Filters: []SymbolFilter{
					{FilterType: "LOT_SIZE", MinQty: "0.001", MaxQty: "1000", StepSize: "0.001"},
					{FilterType: "PRICE_FILTER", TickSize: "0.10"},
					{FilterType: "MIN_NOTIONAL", Notional: "5"},
				},
			},
			{
				Symbol: "DOGEUSDT",
				Filters: []SymbolFilter{
					{FilterType: "LOT_SIZE", MinQty: "1", MaxQty: "5000000", StepSize: "1"},
					{FilterType: "PRICE_FILTER", TickSize: "0.000010"},
					{FilterType: "MIN_NOTIONAL", MinNotional: "5"},
				},
			},
		},
	}
}

func newTestCatalog(t *testing.T) *PrecisionCatalog {
	t.Helper()
	pc := NewPrecisionCatalog(&staticInfoSource{info: testExchangeInfo()}, zerolog.Nop())
	require.NoError(t, pc.Refresh(context.Background()))
	return pc
}

func TestCatalogParsesFilters(t *testing.T) {
	pc := newTestCatalog(t)

	btc := pc.Rules("BTCUSDT")
	assert.Equal(t, 3, btc.QuantityPrecision)
	assert.Equal(t, 2, btc.PricePrecision)
	assert.Equal(t, 0.001, btc.MinQty)
	assert.Equal(t, 5.0, btc.MinNotional)

	// Precision derived from filter strings when not sent explicitly.
	doge := pc.Rules("DOGEUSDT")
	assert.Equal(t, 0, doge.QuantityPrecision)
	assert.Equal(t, 5, doge.PricePrecision)
	assert.Equal(t, 5.0, doge.MinNotional)
}

func TestCatalogUnknownSymbolGetsDefaults(t *testing.T) {
	pc := newTestCatalog(t)

	assert.False(t, pc.Known("NEWCOINUSDT"))
	rules := pc.Rules("NEWCOINUSDT")
	assert.Equal(t, 3, rules.QuantityPrecision)
	assert.Equal(t, 4, rules.PricePrecision)
	assert.Equal(t, 0.001, rules.MinQty)
	assert.Equal(t, 5.0, rules.MinNotional)

	// Defaults drive formatting only. With no exchange rules to check
	// against, validation passes rather than failing closed.
	check := pc.ValidateQuantity("NEWCOINUSDT", 0.0004)
	assert.True(t, check.Valid)
	ok, reason := pc.ValidateNotional("NEWCOINUSDT", 0.0004, 1000)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestValidateQuantityOrdering(t *testing.T) {
	pc := newTestCatalog(t)

	// A min or max breach suggests the clamped bound.
	below := pc.ValidateQuantity("BTCUSDT", 0.0001)
	assert.False(t, below.Valid)
	assert.Contains(t, below.Reason, "below minimum")
	assert.Equal(t, 0.001, below.Adjusted)

	above := pc.ValidateQuantity("BTCUSDT", 2000)
	assert.False(t, above.Valid)
	assert.Contains(t, above.Reason, "above maximum")
	assert.Equal(t, 1000.0, above.Adjusted)

	// A step misalignment is invalid with the rounded value, which lands
	// exactly on the step grid.
	misaligned := pc.ValidateQuantity("BTCUSDT", 0.0034)
	assert.False(t, misaligned.Valid)
	assert.Contains(t, misaligned.Reason, "multiple of step size")
	assert.InDelta(t, 0.003, misaligned.Adjusted, 1e-12)
	steps := misaligned.Adjusted / 0.001
	assert.InDelta(t, 3, steps, 1e-7)
	assert.True(t, pc.ValidateQuantity("BTCUSDT", misaligned.Adjusted).Valid)

	exact := pc.ValidateQuantity("BTCUSDT", 0.005)
	assert.True(t, exact.Valid)
}

func TestValidateQuantityToleratesFloatNoise(t *testing.T) {
	pc := newTestCatalog(t)

	// 0.1+0.2 style noise must not fail the step check.
	noisy := 0.003 + 1e-10
	check := pc.ValidateQuantity("BTCUSDT", noisy)
	assert.True(t, check.Valid)
}

func TestFormatQuantityAndPrice(t *testing.T) {
	pc := newTestCatalog(t)

	// Step snapping rounds to the nearest grid point, not down.
	assert.Equal(t, "0.003", pc.FormatQuantity("BTCUSDT", 0.0034))
	assert.Equal(t, "0.004", pc.FormatQuantity("BTCUSDT", 0.0036))
	assert.Equal(t, "0.500", pc.FormatQuantity("BTCUSDT", 0.5))
	assert.Equal(t, "60123.40", pc.FormatPrice("BTCUSDT", 60123.4))
}

func TestValidateNotional(t *testing.T) {
	pc := newTestCatalog(t)

	ok, _ := pc.ValidateNotional("BTCUSDT", 0.001, 60000)
	assert.True(t, ok)

	ok, reason := pc.ValidateNotional("BTCUSDT", 0.001, 3000)
	assert.False(t, ok)
	assert.Contains(t, reason, "below minimum")
}

func TestMinNotionalQuantity(t *testing.T) {
	pc := newTestCatalog(t)

	qty := pc.MinNotionalQuantity("BTCUSDT", 60000)
	ok, _ := pc.ValidateNotional("BTCUSDT", qty, 60000)
	assert.True(t, ok)
	check := pc.ValidateQuantity("BTCUSDT", qty)
	assert.True(t, check.Valid)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	source := &staticInfoSource{info: testExchangeInfo()}
	pc := NewPrecisionCatalog(source, zerolog.Nop())
	require.NoError(t, pc.Refresh(context.Background()))

	source.err = errors.New("exchange down")
	source.info = nil
	require.Error(t, pc.Refresh(context.Background()))

	assert.True(t, pc.Known("BTCUSDT"))
	assert.Equal(t, 0.001, pc.Rules("BTCUSDT").MinQty)
}
