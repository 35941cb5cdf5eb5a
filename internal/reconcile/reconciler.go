// Package reconcile joins exchange state back to the decisions that caused
// it. The exchange knows positions and fills, the decision store knows why
// orders were placed; the join key is the exchange order ID carried by both.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/alohamonius/aster-vibe-trader/internal/aster"
	"github.com/alohamonius/aster-vibe-trader/internal/database"
)

const (
	// positionLookbackPad widens the trade search behind a position's last
	// update, since the opening fill predates later updates (funding, adds).
	positionLookbackPad = 24 * time.Hour

	// maxTradeHistory is the exchange-side retention of the userTrades
	// endpoint; queries older than this are rejected.
	maxTradeHistory = 7 * 24 * time.Hour

	tradeFetchLimit = 1000
)

// TradeSource supplies account fills for one agent.
type TradeSource interface {
	UserTrades(ctx context.Context, symbol string, startTime, endTime int64, limit int) ([]aster.Trade, error)
}

// DecisionStore supplies recorded decisions for one agent.
type DecisionStore interface {
	DecisionsByOrderIDs(ctx context.Context, agentID string, orderIDs []int64) ([]database.Decision, error)
}

// PositionMatch is one open position annotated with its opening trade and
// the decisions that produced that trade's order. OpeningTrade is nil when
// no fill in the retention window explains the position.
type PositionMatch struct {
	Position     aster.Position      `json:"position"`
	OpeningTrade *aster.Trade        `json:"openingTrade,omitempty"`
	Decisions    []database.Decision `json:"decisions,omitempty"`
}

// TradeMatch is one fill annotated with the decisions behind its order.
type TradeMatch struct {
	Trade     aster.Trade         `json:"trade"`
	Decisions []database.Decision `json:"decisions,omitempty"`
}

// Reconciler matches one agent's exchange state against its decision store.
type Reconciler struct {
	agentID string
	trades  TradeSource
	store   DecisionStore
	log     zerolog.Logger
}

// New builds a reconciler for one agent.
func New(agentID string, trades TradeSource, store DecisionStore, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		agentID: agentID,
		trades:  trades,
		store:   store,
		log:     log.With().Str("component", "reconcile").Str("agent", agentID).Logger(),
	}
}

// MatchPositions joins each open position to the trade that opened it and
// the decisions behind that trade. Symbols whose trade fetch fails are
// returned unannotated rather than sinking the batch.
func (r *Reconciler) MatchPositions(ctx context.Context, positions []aster.Position) ([]PositionMatch, error) {
	if len(positions) == 0 {
		return nil, nil
	}

	startTime, endTime := r.lookbackWindow(positions, time.Now())
	tradesBySymbol := r.fetchTrades(ctx, distinctSymbols(positions), startTime, endTime)

	matches := make([]PositionMatch, 0, len(positions))
	var orderIDs []int64
	for _, pos := range positions {
		match := PositionMatch{Position: pos}
		if opening := openingTrade(pos, tradesBySymbol[pos.Symbol]); opening != nil {
			match.OpeningTrade = opening
			orderIDs = append(orderIDs, opening.OrderID)
		} else {
			r.log.Debug().Str("symbol", pos.Symbol).Msg("no opening trade found for position")
		}
		matches = append(matches, match)
	}

	decisionsByOrder, err := r.decisionsByOrder(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if matches[i].OpeningTrade != nil {
			matches[i].Decisions = decisionsByOrder[matches[i].OpeningTrade.OrderID]
		}
	}
	return matches, nil
}

// MatchTrades annotates fills with the decisions behind their orders. The
// join is direct: every fill carries its order ID.
func (r *Reconciler) MatchTrades(ctx context.Context, trades []aster.Trade) ([]TradeMatch, error) {
	if len(trades) == 0 {
		return nil, nil
	}

	orderIDs := make([]int64, 0, len(trades))
	for _, t := range trades {
		orderIDs = append(orderIDs, t.OrderID)
	}

	decisionsByOrder, err := r.decisionsByOrder(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	matches := make([]TradeMatch, 0, len(trades))
	for _, t := range trades {
		matches = append(matches, TradeMatch{Trade: t, Decisions: decisionsByOrder[t.OrderID]})
	}
	return matches, nil
}

// lookbackWindow computes the trade search window: from the oldest position
// update minus the pad, clamped to the exchange's retention limit.
func (r *Reconciler) lookbackWindow(positions []aster.Position, now time.Time) (int64, int64) {
	oldest := positions[0].UpdateTime
	for _, p := range positions[1:] {
		if p.UpdateTime < oldest {
			oldest = p.UpdateTime
		}
	}

	start := oldest - positionLookbackPad.Milliseconds()
	floor := now.Add(-maxTradeHistory).UnixMilli()
	if start < floor {
		start = floor
	}
	return start, now.UnixMilli()
}

func (r *Reconciler) fetchTrades(ctx context.Context, symbols []string, startTime, endTime int64) map[string][]aster.Trade {
	out := make(map[string][]aster.Trade, len(symbols))
	for _, symbol := range symbols {
		trades, err := r.trades.UserTrades(ctx, symbol, startTime, endTime, tradeFetchLimit)
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("trade fetch failed, position left unannotated")
			continue
		}
		out[symbol] = trades
	}
	return out
}

func (r *Reconciler) decisionsByOrder(ctx context.Context, orderIDs []int64) (map[int64][]database.Decision, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	decisions, err := r.store.DecisionsByOrderIDs(ctx, r.agentID, orderIDs)
	if err != nil {
		return nil, err
	}

	// Store order is oldest first, which each per-order slice inherits.
	byOrder := make(map[int64][]database.Decision)
	for _, d := range decisions {
		if d.OrderID == nil {
			continue
		}
		byOrder[*d.OrderID] = append(byOrder[*d.OrderID], d)
	}
	return byOrder, nil
}

// openingTrade picks the most recent fill that could have opened pos: same
// symbol, the side implied by the position sign, and no later than the
// position's update time.
func openingTrade(pos aster.Position, trades []aster.Trade) *aster.Trade {
	expectedSide := aster.SideBuy
	if pos.PositionAmt < 0 {
		expectedSide = aster.SideSell
	}

	var best *aster.Trade
	for i := range trades {
		t := &trades[i]
		if t.Side != expectedSide || t.Time > pos.UpdateTime {
			continue
		}
		if best == nil || t.Time > best.Time {
			best = t
		}
	}
	return best
}

func distinctSymbols(positions []aster.Position) []string {
	seen := make(map[string]struct{}, len(positions))
	var symbols []string
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		symbols = append(symbols, p.Symbol)
	}
	return symbols
}
