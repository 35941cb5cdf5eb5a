package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// PlaceOrder submits an order as-is. Callers wanting precision checks use
// PlaceOrderValidated.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	params := map[string]any{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"type":   string(req.Type),
	}
	if req.Quantity != "" {
		params["quantity"] = req.Quantity
	}
	if req.Price != "" {
		params["price"] = req.Price
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = req.TimeInForce
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	body, err := c.signedPost(ctx, c.apiPath("order"), params)
	if err != nil {
		return nil, fmt.Errorf("placing %s %s order for %s: %w", req.Side, req.Type, req.Symbol, err)
	}
	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing order response for %s: %w", req.Symbol, err)
	}

	c.log.Info().Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Str("type", string(req.Type)).Str("qty", req.Quantity).
		Int64("order_id", resp.OrderID).Msg("order placed")
	return &resp, nil
}

// PlaceOrderValidated runs the symbol's precision rules before submitting.
// A failed quantity check that offers an adjusted value is applied and the
// order placed with it; a request that cannot be made valid is rejected
// before any network call.
func (c *Client) PlaceOrderValidated(ctx context.Context, req OrderRequest, refPrice float64) (*OrderResponse, error) {
	c.catalog.EnsureFresh(ctx)

	qty, err := strconv.ParseFloat(req.Quantity, 64)
	if err != nil {
		return nil, &ValidationError{Symbol: req.Symbol, Failures: []string{"unparseable quantity " + req.Quantity}}
	}

	var failures []string
	if check := c.catalog.ValidateQuantity(req.Symbol, qty); !check.Valid {
		if check.Adjusted > 0 {
			c.log.Warn().Str("symbol", req.Symbol).Float64("requested", qty).
				Float64("adjusted", check.Adjusted).Str("reason", check.Reason).
				Msg("order quantity adjusted")
			qty = check.Adjusted
		} else {
			failures = append(failures, check.Reason)
		}
	}

	price := refPrice
	if req.Price != "" {
		if p, err := strconv.ParseFloat(req.Price, 64); err == nil {
			price = p
		}
	}
	if price > 0 {
		if ok, reason := c.catalog.ValidateNotional(req.Symbol, qty, price); !ok {
			failures = append(failures, reason)
		}
	}

	if len(failures) > 0 {
		return nil, &ValidationError{Symbol: req.Symbol, Failures: failures}
	}

	req.Quantity = c.catalog.FormatQuantity(req.Symbol, qty)
	if req.Price != "" {
		if p, err := strconv.ParseFloat(req.Price, 64); err == nil {
			req.Price = c.catalog.FormatPrice(req.Symbol, p)
		}
	}
	return c.PlaceOrder(ctx, req)
}

// CancelOrder cancels one order by exchange order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := map[string]any{
		"symbol":  symbol,
		"orderId": orderID,
	}
	if _, err := c.signedDelete(ctx, c.apiPath("order"), params); err != nil {
		return fmt.Errorf("cancelling order %d for %s: %w", orderID, symbol, err)
	}
	return nil
}

// GetOrder fetches the current state of one order.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error) {
	params := map[string]any{
		"symbol":  symbol,
		"orderId": orderID,
	}
	body, err := c.signedGet(ctx, c.apiPath("order"), params)
	if err != nil {
		return nil, fmt.Errorf("fetching order %d for %s: %w", orderID, symbol, err)
	}
	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing order %d for %s: %w", orderID, symbol, err)
	}
	return &resp, nil
}

// OpenOrders lists open orders, optionally restricted to one symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OrderResponse, error) {
	params := map[string]any{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	body, err := c.signedGet(ctx, c.apiPath("openOrders"), params)
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}
	var orders []OrderResponse
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("parsing open orders: %w", err)
	}
	return orders, nil
}

// CancelAllOpenOrders cancels every open order for a symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := map[string]any{"symbol": symbol}
	if _, err := c.signedDelete(ctx, c.apiPath("allOpenOrders"), params); err != nil {
		return fmt.Errorf("cancelling open orders for %s: %w", symbol, err)
	}
	return nil
}

// CloseAllPositions flattens every open position with reduce-only market
// orders. Best effort: a position that fails to close is logged and skipped,
// the rest still close. Returns the positions successfully closed.
func (c *Client) CloseAllPositions(ctx context.Context) ([]Position, error) {
	positions, err := c.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing positions to close: %w", err)
	}

	closed := make([]Position, 0, len(positions))
	for _, pos := range positions {
		side := SideSell
		if pos.Side == PositionShort {
			side = SideBuy
		}
		req := OrderRequest{
			Symbol:     pos.Symbol,
			Side:       side,
			Type:       OrderTypeMarket,
			Quantity:   c.catalog.FormatQuantity(pos.Symbol, pos.Size),
			ReduceOnly: true,
		}
		if _, err := c.PlaceOrder(ctx, req); err != nil {
			c.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to close position")
			continue
		}
		closed = append(closed, pos)
	}
	return closed, nil
}
