package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// ==================== MARKET DATA ====================

// Ping checks REST connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.publicGet(ctx, c.apiPath("ping"), nil)
	return err
}

// ServerTime returns the exchange clock in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.publicGet(ctx, c.apiPath("time"), nil)
	if err != nil {
		return 0, fmt.Errorf("fetching server time: %w", err)
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parsing server time: %w", err)
	}
	return resp.ServerTime, nil
}

// ExchangeInfo fetches the exchange trading rules and symbol list.
func (c *Client) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	body, err := c.publicGet(ctx, c.apiPath("exchangeInfo"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching exchange info: %w", err)
	}
	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing exchange info: %w", err)
	}
	return &info, nil
}

// MarkPriceFor returns the current mark price snapshot for one symbol.
func (c *Client) MarkPriceFor(ctx context.Context, symbol string) (*MarkPrice, error) {
	body, err := c.publicGet(ctx, c.apiPath("premiumIndex"), map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("fetching mark price for %s: %w", symbol, err)
	}
	var raw premiumIndex
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing mark price for %s: %w", symbol, err)
	}
	mp := markPriceFromRaw(raw)
	return &mp, nil
}

// MarkPrices returns mark price snapshots for every listed symbol.
func (c *Client) MarkPrices(ctx context.Context) ([]MarkPrice, error) {
	body, err := c.publicGet(ctx, c.apiPath("premiumIndex"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching mark prices: %w", err)
	}
	var raws []premiumIndex
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("parsing mark prices: %w", err)
	}
	out := make([]MarkPrice, 0, len(raws))
	for _, raw := range raws {
		out = append(out, markPriceFromRaw(raw))
	}
	return out, nil
}

func markPriceFromRaw(raw premiumIndex) MarkPrice {
	return MarkPrice{
		Symbol:          raw.Symbol,
		MarkPrice:       raw.MarkPrice,
		IndexPrice:      raw.IndexPrice,
		LastFundingRate: raw.LastFundingRate,
		Time:            raw.Time,
	}
}

// FundingRateHistory returns recent funding rate settlements for a symbol.
func (c *Client) FundingRateHistory(ctx context.Context, symbol string, limit int) ([]FundingRate, error) {
	params := map[string]string{"symbol": symbol}
	if limit > 0 {
		params["limit"] = fmt.Sprintf("%d", limit)
	}
	body, err := c.publicGet(ctx, c.apiPath("fundingRate"), params)
	if err != nil {
		return nil, fmt.Errorf("fetching funding rate history for %s: %w", symbol, err)
	}
	var rates []FundingRate
	if err := json.Unmarshal(body, &rates); err != nil {
		return nil, fmt.Errorf("parsing funding rate history for %s: %w", symbol, err)
	}
	return rates, nil
}

// CurrentFundingRate returns the funding rate currently applied to symbol.
func (c *Client) CurrentFundingRate(ctx context.Context, symbol string) (float64, error) {
	mp, err := c.MarkPriceFor(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return mp.LastFundingRate, nil
}

// ==================== ACCOUNT ====================

// AccountInfo returns the account margin and permission summary.
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.signedGet(ctx, c.apiPath("account"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching account info: %w", err)
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing account info: %w", err)
	}
	return &info, nil
}

// Balances returns all asset balances. Key-auth accounts read the v2
// balance endpoint; the v1 shape differs and is not served for new accounts.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	path := "/fapi/v2/balance"
	if c.wallet != nil {
		path = "/fapi/v3/balance"
	}
	body, err := c.signedGet(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching balances: %w", err)
	}
	var balances []Balance
	if err := json.Unmarshal(body, &balances); err != nil {
		return nil, fmt.Errorf("parsing balances: %w", err)
	}
	return balances, nil
}

// AvailableBalance returns the free USDT margin.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return b.AvailableBalance, nil
		}
	}
	return 0, nil
}

// Positions returns open positions, i.e. rows with a nonzero position
// amount. The sign of the raw amount determines the side.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	body, err := c.signedGet(ctx, c.apiPath("positionRisk"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	var raws []positionRisk
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("parsing positions: %w", err)
	}

	positions := make([]Position, 0, len(raws))
	for _, raw := range raws {
		if raw.PositionAmt == 0 {
			continue
		}
		side := PositionLong
		if raw.PositionAmt < 0 {
			side = PositionShort
		}
		positions = append(positions, Position{
			Symbol:           raw.Symbol,
			Side:             side,
			Size:             math.Abs(raw.PositionAmt),
			PositionAmt:      raw.PositionAmt,
			EntryPrice:       raw.EntryPrice,
			MarkPrice:        raw.MarkPrice,
			UnrealizedPnl:    raw.UnRealizedProfit,
			Leverage:         raw.Leverage,
			IsolatedMargin:   raw.IsolatedMargin,
			LiquidationPrice: raw.LiquidationPrice,
			UpdateTime:       raw.UpdateTime,
		})
	}
	return positions, nil
}

// ChangeLeverage sets the leverage for a symbol.
func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	params := map[string]any{
		"symbol":   symbol,
		"leverage": leverage,
	}
	if _, err := c.signedPost(ctx, c.apiPath("leverage"), params); err != nil {
		return fmt.Errorf("changing leverage for %s: %w", symbol, err)
	}
	return nil
}

// UserTrades returns account fills for a symbol within [startTime, endTime].
// The exchange rejects windows older than 7 days, so callers clamp their
// lookback before calling.
func (c *Client) UserTrades(ctx context.Context, symbol string, startTime, endTime int64, limit int) ([]Trade, error) {
	params := map[string]any{"symbol": symbol}
	if startTime > 0 {
		params["startTime"] = startTime
	}
	if endTime > 0 {
		params["endTime"] = endTime
	}
	if limit > 0 {
		params["limit"] = limit
	}
	body, err := c.signedGet(ctx, c.apiPath("userTrades"), params)
	if err != nil {
		return nil, fmt.Errorf("fetching trades for %s: %w", symbol, err)
	}
	var trades []Trade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("parsing trades for %s: %w", symbol, err)
	}
	return trades, nil
}

// CommissionRates returns the account maker/taker commission for a symbol.
func (c *Client) CommissionRates(ctx context.Context, symbol string) (*CommissionRate, error) {
	body, err := c.signedGet(ctx, c.apiPath("commissionRate"), map[string]any{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("fetching commission rates for %s: %w", symbol, err)
	}
	var rate CommissionRate
	if err := json.Unmarshal(body, &rate); err != nil {
		return nil, fmt.Errorf("parsing commission rates for %s: %w", symbol, err)
	}
	return &rate, nil
}

// AccountTradeVolume aggregates fill volume across symbols over the window.
// Symbols that fail to fetch are logged and skipped.
func (c *Client) AccountTradeVolume(ctx context.Context, symbols []string, startTime, endTime int64) TradeVolume {
	var vol TradeVolume
	for _, symbol := range symbols {
		trades, err := c.UserTrades(ctx, symbol, startTime, endTime, 1000)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("skipping symbol in trade volume aggregation")
			continue
		}
		for _, t := range trades {
			vol.TotalVolume += t.Qty
			vol.TotalQuoteVolume += t.QuoteQty
			vol.TradeCount++
		}
	}
	return vol
}
