package reconcile

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alohamonius/aster-vibe-trader/internal/aster"
	"github.com/alohamonius/aster-vibe-trader/internal/database"
)

type fakeTradeSource struct {
	trades map[string][]aster.Trade
	errs   map[string]error

	gotStart int64
	gotEnd   int64
}

func (f *fakeTradeSource) UserTrades(_ context.Context, symbol string, startTime, endTime int64, _ int) ([]aster.Trade, error) {
	f.gotStart, f.gotEnd = startTime, endTime
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.trades[symbol], nil
}

type fakeDecisionStore struct {
	decisions []database.Decision
	err       error
}

func (f *fakeDecisionStore) DecisionsByOrderIDs(_ context.Context, agentID string, orderIDs []int64) ([]database.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	wanted := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}
	var out []database.Decision
	for _, d := range f.decisions {
		if d.OrderID != nil && wanted[*d.OrderID] {
			out = append(out, d)
		}
	}
	// The real store returns oldest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func orderRef(id int64) *int64 { return &id }

func decisionAt(orderID int64, action string, at time.Time) database.Decision {
	return database.Decision{
		ID:        action + "-" + at.Format(time.RFC3339Nano),
		AgentID:   "agent-1",
		Symbol:    "BTCUSDT",
		OrderID:   orderRef(orderID),
		Action:    action,
		Executed:  true,
		CreatedAt: at,
	}
}

func TestMatchPositionsJoinsOpeningTradeAndDecisions(t *testing.T) {
	now := time.Now()
	updateTime := now.Add(-2 * time.Hour).UnixMilli()

	position := aster.Position{
		Symbol:      "BTCUSDT",
		Side:        aster.PositionLong,
		PositionAmt: 0.5,
		Size:        0.5,
		UpdateTime:  updateTime,
	}

	trades := &fakeTradeSource{trades: map[string][]aster.Trade{
		"BTCUSDT": {
			// Wrong side, ignored even though it is the most recent.
			{ID: 4, OrderID: 104, Symbol: "BTCUSDT", Side: aster.SideSell, Time: updateTime - 600000},
			// Right side but after the position update, ignored.
			{ID: 3, OrderID: 103, Symbol: "BTCUSDT", Side: aster.SideBuy, Time: updateTime + 60000},
			// The opening trade: most recent BUY at or before the update.
			{ID: 2, OrderID: 102, Symbol: "BTCUSDT", Side: aster.SideBuy, Time: updateTime - 1800000},
			{ID: 1, OrderID: 101, Symbol: "BTCUSDT", Side: aster.SideBuy, Time: updateTime - 3600000},
		},
	}}

	base := now.Add(-3 * time.Hour)
	store := &fakeDecisionStore{decisions: []database.Decision{
		decisionAt(102, "hold", base.Add(10*time.Minute)),
		decisionAt(102, "buy", base),
		decisionAt(102, "increase", base.Add(20*time.Minute)),
		decisionAt(999, "sell", base),
	}}

	r := New("agent-1", trades, store, zerolog.Nop())
	matches, err := r.MatchPositions(context.Background(), []aster.Position{position})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	require.NotNil(t, m.OpeningTrade)
	assert.Equal(t, int64(102), m.OpeningTrade.OrderID)

	// Decisions arrive oldest first.
	require.Len(t, m.Decisions, 3)
	assert.Equal(t, "buy", m.Decisions[0].Action)
	assert.Equal(t, "hold", m.Decisions[1].Action)
	assert.Equal(t, "increase", m.Decisions[2].Action)
}

func TestMatchPositionsShortSideExpectsSell(t *testing.T) {
	updateTime := time.Now().Add(-time.Hour).UnixMilli()
	position := aster.Position{
		Symbol:      "ETHUSDT",
		Side:        aster.PositionShort,
		PositionAmt: -2,
		Size:        2,
		UpdateTime:  updateTime,
	}

	trades := &fakeTradeSource{trades: map[string][]aster.Trade{
		"ETHUSDT": {
			{ID: 1, OrderID: 201, Symbol: "ETHUSDT", Side: aster.SideBuy, Time: updateTime - 1000},
			{ID: 2, OrderID: 202, Symbol: "ETHUSDT", Side: aster.SideSell, Time: updateTime - 2000},
		},
	}}

	r := New("agent-1", trades, &fakeDecisionStore{}, zerolog.Nop())
	matches, err := r.MatchPositions(context.Background(), []aster.Position{position})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NotNil(t, matches[0].OpeningTrade)
	assert.Equal(t, int64(202), matches[0].OpeningTrade.OrderID)
}

func TestMatchPositionsLookbackWindow(t *testing.T) {
	now := time.Now()

	t.Run("recent position pads 24h behind its update", func(t *testing.T) {
		updateTime := now.Add(-2 * time.Hour).UnixMilli()
		trades := &fakeTradeSource{}
		r := New("agent-1", trades, &fakeDecisionStore{}, zerolog.Nop())

		_, err := r.MatchPositions(context.Background(), []aster.Position{
			{Symbol: "BTCUSDT", PositionAmt: 1, UpdateTime: updateTime},
		})
		require.NoError(t, err)
		assert.Equal(t, updateTime-positionLookbackPad.Milliseconds(), trades.gotStart)
	})

	t.Run("old position clamps to exchange retention", func(t *testing.T) {
		updateTime := now.Add(-30 * 24 * time.Hour).UnixMilli()
		trades := &fakeTradeSource{}
		r := New("agent-1", trades, &fakeDecisionStore{}, zerolog.Nop())

		_, err := r.MatchPositions(context.Background(), []aster.Position{
			{Symbol: "BTCUSDT", PositionAmt: 1, UpdateTime: updateTime},
		})
		require.NoError(t, err)

		floor := now.Add(-maxTradeHistory).UnixMilli()
		assert.InDelta(t, floor, trades.gotStart, 5000)
	})
}

func TestMatchPositionsTradeFetchFailureLeavesPositionUnannotated(t *testing.T) {
	updateTime := time.Now().Add(-time.Hour).UnixMilli()
	trades := &fakeTradeSource{
		trades: map[string][]aster.Trade{
			"ETHUSDT": {{ID: 1, OrderID: 301, Symbol: "ETHUSDT", Side: aster.SideBuy, Time: updateTime - 1000}},
		},
		errs: map[string]error{"BTCUSDT": errors.New("exchange timeout")},
	}

	r := New("agent-1", trades, &fakeDecisionStore{}, zerolog.Nop())
	matches, err := r.MatchPositions(context.Background(), []aster.Position{
		{Symbol: "BTCUSDT", PositionAmt: 1, UpdateTime: updateTime},
		{Symbol: "ETHUSDT", PositionAmt: 1, UpdateTime: updateTime},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Nil(t, matches[0].OpeningTrade)
	require.NotNil(t, matches[1].OpeningTrade)
	assert.Equal(t, int64(301), matches[1].OpeningTrade.OrderID)
}

func TestMatchPositionsEmptyInput(t *testing.T) {
	r := New("agent-1", &fakeTradeSource{}, &fakeDecisionStore{}, zerolog.Nop())
	matches, err := r.MatchPositions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchTradesJoinsByOrderID(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	store := &fakeDecisionStore{decisions: []database.Decision{
		decisionAt(401, "buy", base),
		decisionAt(403, "sell", base.Add(time.Minute)),
	}}

	trades := []aster.Trade{
		{ID: 1, OrderID: 401, Symbol: "BTCUSDT", Side: aster.SideBuy},
		{ID: 2, OrderID: 402, Symbol: "BTCUSDT", Side: aster.SideSell},
		{ID: 3, OrderID: 403, Symbol: "ETHUSDT", Side: aster.SideSell},
	}

	r := New("agent-1", &fakeTradeSource{}, store, zerolog.Nop())
	matches, err := r.MatchTrades(context.Background(), trades)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	require.Len(t, matches[0].Decisions, 1)
	assert.Equal(t, "buy", matches[0].Decisions[0].Action)
	assert.Empty(t, matches[1].Decisions)
	require.Len(t, matches[2].Decisions, 1)
	assert.Equal(t, "sell", matches[2].Decisions[0].Action)
}

func TestMatchTradesStoreErrorPropagates(t *testing.T) {
	store := &fakeDecisionStore{err: errors.New("db down")}
	r := New("agent-1", &fakeTradeSource{}, store, zerolog.Nop())

	_, err := r.MatchTrades(context.Background(), []aster.Trade{{ID: 1, OrderID: 1}})
	require.Error(t, err)
}
