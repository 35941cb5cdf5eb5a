package arena

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alohamonius/aster-vibe-trader/config"
	"github.com/alohamonius/aster-vibe-trader/internal/aster"
	"github.com/alohamonius/aster-vibe-trader/internal/database"
	"github.com/alohamonius/aster-vibe-trader/internal/reconcile"
)

type fakeClient struct {
	mode      string
	balance   float64
	positions []aster.Position
	trades    map[string][]aster.Trade
	pnl       map[int]*aster.PnLSummary
	err       error

	balanceCalls atomic.Int32
}

func (f *fakeClient) AuthMode() string { return f.mode }

func (f *fakeClient) AvailableBalance(context.Context) (float64, error) {
	f.balanceCalls.Add(1)
	return f.balance, f.err
}

func (f *fakeClient) Positions(context.Context) ([]aster.Position, error) {
	return f.positions, f.err
}

func (f *fakeClient) UserTrades(_ context.Context, symbol string, _, _ int64, _ int) ([]aster.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.trades[symbol], nil
}

func (f *fakeClient) SummarizePnLByDays(_ context.Context, days int, _ string, _ bool) (*aster.PnLSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pnl[days], nil
}

type passthroughMatcher struct {
	decisions map[int64][]database.Decision
	err       error
}

func (m *passthroughMatcher) MatchPositions(_ context.Context, positions []aster.Position) ([]reconcile.PositionMatch, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]reconcile.PositionMatch, 0, len(positions))
	for _, p := range positions {
		out = append(out, reconcile.PositionMatch{Position: p})
	}
	return out, nil
}

func (m *passthroughMatcher) MatchTrades(_ context.Context, trades []aster.Trade) ([]reconcile.TradeMatch, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]reconcile.TradeMatch, 0, len(trades))
	for _, t := range trades {
		out = append(out, reconcile.TradeMatch{Trade: t, Decisions: m.decisions[t.OrderID]})
	}
	return out, nil
}

type fakeReader struct {
	decisions map[string][]database.Decision
	err       error
}

func (f *fakeReader) RecentDecisions(_ context.Context, agentID string, _ int) ([]database.Decision, error) {
	return f.decisions[agentID], f.err
}

func arenaConfig() config.ArenaConfig {
	return config.ArenaConfig{
		TopTokens:        []string{"BTCUSDT", "ETHUSDT"},
		SnapshotTTL:      time.Minute,
		ConfigViewTTL:    time.Minute,
		RecentTradeLimit: 3,
	}
}

func newAgent(name string, client *fakeClient, matcher Matcher) *Agent {
	return &Agent{Name: name, Symbols: []string{"BTCUSDT", "ETHUSDT"}, Client: client, Reconciler: matcher}
}

func TestAgentsSkipsFailedAgents(t *testing.T) {
	healthy := &fakeClient{
		mode:    "key",
		balance: 1000,
		positions: []aster.Position{
			{Symbol: "BTCUSDT", UnrealizedPnl: 50},
			{Symbol: "ETHUSDT", UnrealizedPnl: -20},
		},
		pnl: map[int]*aster.PnLSummary{
			1: {NetPnL: 10, Period: "1d"},
			7: {NetPnL: 70, Period: "7d"},
		},
	}
	broken := &fakeClient{err: errors.New("exchange timeout")}

	svc := NewService([]*Agent{
		newAgent("alpha", healthy, &passthroughMatcher{}),
		newAgent("beta", broken, &passthroughMatcher{}),
	}, &fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	summaries, err := svc.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "alpha", s.Name)
	assert.Equal(t, "key", s.AuthMode)
	assert.Equal(t, 1000.0, s.AvailableBalance)
	assert.Equal(t, 30.0, s.UnrealizedPnL)
	assert.Equal(t, 2, s.OpenPositions)
	require.NotNil(t, s.PnL1d)
	assert.Equal(t, "1d", s.PnL1d.Period)
	require.NotNil(t, s.PnL7d)
}

func TestAgentsViewIsCached(t *testing.T) {
	client := &fakeClient{mode: "key", balance: 100}
	svc := NewService([]*Agent{newAgent("alpha", client, &passthroughMatcher{})},
		&fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	_, err := svc.Agents(context.Background())
	require.NoError(t, err)
	_, err = svc.Agents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), client.balanceCalls.Load())
}

func TestRefreshDropsCachedViews(t *testing.T) {
	client := &fakeClient{mode: "key", balance: 100}
	svc := NewService([]*Agent{newAgent("alpha", client, &passthroughMatcher{})},
		&fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	_, err := svc.Agents(context.Background())
	require.NoError(t, err)
	svc.Refresh()
	_, err = svc.Agents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), client.balanceCalls.Load())
}

func TestPositionsDerivesTradingFigures(t *testing.T) {
	client := &fakeClient{
		mode: "key",
		positions: []aster.Position{{
			Symbol:        "BTCUSDT",
			Side:          aster.PositionLong,
			Size:          0.5,
			PositionAmt:   0.5,
			EntryPrice:    60000,
			MarkPrice:     62000,
			UnrealizedPnl: 1000,
			Leverage:      10,
		}},
	}
	svc := NewService([]*Agent{newAgent("alpha", client, &passthroughMatcher{})},
		&fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	views, err := svc.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Len(t, views[0].Positions, 1)

	v := views[0].Positions[0]
	assert.InDelta(t, 31000, v.Notional, 1e-9)  // 0.5 * 62000
	assert.InDelta(t, 3000, v.MarginUsed, 1e-9) // 0.5 * 60000 / 10
	assert.InDelta(t, 33.333, v.ROI, 0.001)     // 1000 / 3000 * 100
}

func TestPositionsServesBarePositionsWhenReconcileFails(t *testing.T) {
	client := &fakeClient{
		mode:      "key",
		positions: []aster.Position{{Symbol: "BTCUSDT", Size: 1, PositionAmt: 1, MarkPrice: 100}},
	}
	svc := NewService([]*Agent{newAgent("alpha", client, &passthroughMatcher{err: errors.New("db down")})},
		&fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	views, err := svc.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Len(t, views[0].Positions, 1)
	assert.Nil(t, views[0].Positions[0].OpeningTrade)
	assert.Empty(t, views[0].Positions[0].Decisions)
}

func TestRecentTradesMergesSortsAndLimits(t *testing.T) {
	orderID := int64(7)
	alpha := &fakeClient{mode: "key", trades: map[string][]aster.Trade{
		"BTCUSDT": {
			{ID: 1, OrderID: orderID, Symbol: "BTCUSDT", Time: 100},
			{ID: 2, Symbol: "BTCUSDT", Time: 400},
		},
		"ETHUSDT": {{ID: 3, Symbol: "ETHUSDT", Time: 300}},
	}}
	beta := &fakeClient{mode: "solana", trades: map[string][]aster.Trade{
		"BTCUSDT": {{ID: 4, Symbol: "BTCUSDT", Time: 200}},
	}}

	matcher := &passthroughMatcher{decisions: map[int64][]database.Decision{
		orderID: {{ID: "d1", Action: "buy"}},
	}}

	svc := NewService([]*Agent{
		newAgent("alpha", alpha, matcher),
		newAgent("beta", beta, &passthroughMatcher{}),
	}, &fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	trades, err := svc.RecentTrades(context.Background())
	require.NoError(t, err)

	// Four fills exist; the limit keeps the three newest.
	require.Len(t, trades, 3)
	assert.Equal(t, int64(400), trades[0].Trade.Time)
	assert.Equal(t, int64(300), trades[1].Trade.Time)
	assert.Equal(t, int64(200), trades[2].Trade.Time)
	assert.Equal(t, "beta", trades[2].Agent)
}

func TestRecentTradesAnnotatesDecisions(t *testing.T) {
	orderID := int64(7)
	client := &fakeClient{mode: "key", trades: map[string][]aster.Trade{
		"BTCUSDT": {{ID: 1, OrderID: orderID, Symbol: "BTCUSDT", Time: 100}},
	}}
	matcher := &passthroughMatcher{decisions: map[int64][]database.Decision{
		orderID: {{ID: "d1", Action: "buy"}},
	}}

	svc := NewService([]*Agent{newAgent("alpha", client, matcher)},
		&fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	trades, err := svc.RecentTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Len(t, trades[0].Decisions, 1)
	assert.Equal(t, "buy", trades[0].Decisions[0].Action)
}

func TestRecentDecisionsGroupsByAgent(t *testing.T) {
	reader := &fakeReader{decisions: map[string][]database.Decision{
		"alpha": {{ID: "d1", AgentID: "alpha", Action: "buy"}},
		"beta":  {{ID: "d2", AgentID: "beta", Action: "sell"}},
	}}

	svc := NewService([]*Agent{
		newAgent("alpha", &fakeClient{mode: "key"}, &passthroughMatcher{}),
		newAgent("beta", &fakeClient{mode: "key"}, &passthroughMatcher{}),
	}, reader, arenaConfig(), nil, zerolog.Nop())

	decisions, err := svc.RecentDecisions(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "alpha", decisions[0].Agent)
	assert.Equal(t, "buy", decisions[0].Decisions[0].Action)
}

func TestConfigView(t *testing.T) {
	svc := NewService([]*Agent{
		newAgent("alpha", &fakeClient{mode: "key"}, &passthroughMatcher{}),
	}, &fakeReader{}, arenaConfig(), nil, zerolog.Nop())

	view, err := svc.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, view.TopTokens)
	assert.Equal(t, []string{"alpha"}, view.Agents)
}
