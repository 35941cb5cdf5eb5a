// Package arena aggregates account state, PnL and decision history across a
// fleet of trading agents into cached read views.
package arena

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/alohamonius/aster-vibe-trader/config"
	"github.com/alohamonius/aster-vibe-trader/internal/aster"
	"github.com/alohamonius/aster-vibe-trader/internal/database"
	"github.com/alohamonius/aster-vibe-trader/internal/reconcile"
	"github.com/alohamonius/aster-vibe-trader/internal/snapshot"
)

const tradeHistoryWindow = 7 * 24 * time.Hour

// ExchangeClient is the slice of the aster client the arena reads from.
type ExchangeClient interface {
	AuthMode() string
	AvailableBalance(ctx context.Context) (float64, error)
	Positions(ctx context.Context) ([]aster.Position, error)
	UserTrades(ctx context.Context, symbol string, startTime, endTime int64, limit int) ([]aster.Trade, error)
	SummarizePnLByDays(ctx context.Context, days int, symbol string, includeUnrealized bool) (*aster.PnLSummary, error)
}

// Matcher joins exchange state to decisions for one agent.
type Matcher interface {
	MatchPositions(ctx context.Context, positions []aster.Position) ([]reconcile.PositionMatch, error)
	MatchTrades(ctx context.Context, trades []aster.Trade) ([]reconcile.TradeMatch, error)
}

// DecisionReader reads recorded decisions.
type DecisionReader interface {
	RecentDecisions(ctx context.Context, agentID string, limit int) ([]database.Decision, error)
}

// Agent bundles one account's client and reconciler.
type Agent struct {
	Name       string
	Symbols    []string
	Client     ExchangeClient
	Reconciler Matcher
}

// AgentSummary is the per-agent overview row.
type AgentSummary struct {
	Name             string            `json:"name"`
	AuthMode         string            `json:"authMode"`
	AvailableBalance float64           `json:"availableBalance"`
	UnrealizedPnL    float64           `json:"unrealizedPnl"`
	OpenPositions    int               `json:"openPositions"`
	PnL1d            *aster.PnLSummary `json:"pnl1d,omitempty"`
	PnL7d            *aster.PnLSummary `json:"pnl7d,omitempty"`
}

// PositionView is one reconciled position with derived trading figures.
type PositionView struct {
	reconcile.PositionMatch
	Notional   float64 `json:"notional"`
	MarginUsed float64 `json:"marginUsed"`
	ROI        float64 `json:"roi"`
}

// AgentPositions groups one agent's reconciled positions.
type AgentPositions struct {
	Agent     string         `json:"agent"`
	Positions []PositionView `json:"positions"`
}

// AgentTrade is one reconciled fill tagged with its agent.
type AgentTrade struct {
	Agent string `json:"agent"`
	reconcile.TradeMatch
}

// AgentDecisions groups one agent's recent decisions.
type AgentDecisions struct {
	Agent     string              `json:"agent"`
	Decisions []database.Decision `json:"decisions"`
}

// ConfigView is the static arena configuration exposed to readers.
type ConfigView struct {
	TopTokens []string `json:"topTokens"`
	Agents    []string `json:"agents"`
}

// Service serves cached aggregate views across all agents. Every view is a
// best-effort aggregation: an agent that fails to answer is logged and left
// out, the rest of the fleet still renders.
type Service struct {
	agents []*Agent
	store  DecisionReader
	cfg    config.ArenaConfig
	warm   *snapshot.RedisStore
	log    zerolog.Logger

	summaries  *snapshot.Cache[[]AgentSummary]
	positions  *snapshot.Cache[[]AgentPositions]
	trades     *snapshot.Cache[[]AgentTrade]
	decisions  *snapshot.Cache[[]AgentDecisions]
	configView *snapshot.Cache[ConfigView]
}

// NewService builds the arena over the given agents. warm may be nil.
func NewService(agents []*Agent, store DecisionReader, cfg config.ArenaConfig, warm *snapshot.RedisStore, log zerolog.Logger) *Service {
	return &Service{
		agents:     agents,
		store:      store,
		cfg:        cfg,
		warm:       warm,
		log:        log.With().Str("component", "arena").Logger(),
		summaries:  snapshot.NewCache[[]AgentSummary](cfg.SnapshotTTL),
		positions:  snapshot.NewCache[[]AgentPositions](cfg.SnapshotTTL),
		trades:     snapshot.NewCache[[]AgentTrade](cfg.SnapshotTTL),
		decisions:  snapshot.NewCache[[]AgentDecisions](cfg.SnapshotTTL),
		configView: snapshot.NewCache[ConfigView](cfg.ConfigViewTTL),
	}
}

// Agents returns the per-agent overview: balance, unrealized PnL and the 1d
// and 7d day-boundary PnL summaries.
func (s *Service) Agents(ctx context.Context) ([]AgentSummary, error) {
	return s.summaries.GetOrFetch(ctx, "agents", func(ctx context.Context) ([]AgentSummary, error) {
		out := make([]AgentSummary, 0, len(s.agents))
		for _, agent := range s.agents {
			summary, err := s.agentSummary(ctx, agent)
			if err != nil {
				s.log.Warn().Err(err).Str("agent", agent.Name).Msg("agent summary failed, excluded from view")
				continue
			}
			out = append(out, summary)
		}
		s.storeWarm(ctx, "agents", out)
		return out, nil
	})
}

func (s *Service) agentSummary(ctx context.Context, agent *Agent) (AgentSummary, error) {
	balance, err := agent.Client.AvailableBalance(ctx)
	if err != nil {
		return AgentSummary{}, fmt.Errorf("balance: %w", err)
	}
	positions, err := agent.Client.Positions(ctx)
	if err != nil {
		return AgentSummary{}, fmt.Errorf("positions: %w", err)
	}

	summary := AgentSummary{
		Name:             agent.Name,
		AuthMode:         agent.Client.AuthMode(),
		AvailableBalance: balance,
		OpenPositions:    len(positions),
	}
	for _, p := range positions {
		summary.UnrealizedPnL += p.UnrealizedPnl
	}

	// PnL windows degrade independently of the core figures.
	if pnl, err := agent.Client.SummarizePnLByDays(ctx, 1, "", false); err == nil {
		summary.PnL1d = pnl
	} else {
		s.log.Warn().Err(err).Str("agent", agent.Name).Msg("1d pnl unavailable")
	}
	if pnl, err := agent.Client.SummarizePnLByDays(ctx, 7, "", false); err == nil {
		summary.PnL7d = pnl
	} else {
		s.log.Warn().Err(err).Str("agent", agent.Name).Msg("7d pnl unavailable")
	}
	return summary, nil
}

// Positions returns every agent's open positions reconciled against their
// decisions, with notional, margin and ROI derived from the exchange state.
func (s *Service) Positions(ctx context.Context) ([]AgentPositions, error) {
	return s.positions.GetOrFetch(ctx, "positions", func(ctx context.Context) ([]AgentPositions, error) {
		out := make([]AgentPositions, 0, len(s.agents))
		for _, agent := range s.agents {
			positions, err := agent.Client.Positions(ctx)
			if err != nil {
				s.log.Warn().Err(err).Str("agent", agent.Name).Msg("positions unavailable, agent excluded")
				continue
			}
			matches, err := agent.Reconciler.MatchPositions(ctx, positions)
			if err != nil {
				s.log.Warn().Err(err).Str("agent", agent.Name).Msg("reconciliation failed, serving bare positions")
				matches = bareMatches(positions)
			}

			views := make([]PositionView, 0, len(matches))
			for _, m := range matches {
				views = append(views, positionView(m))
			}
			out = append(out, AgentPositions{Agent: agent.Name, Positions: views})
		}
		s.storeWarm(ctx, "positions", out)
		return out, nil
	})
}

func bareMatches(positions []aster.Position) []reconcile.PositionMatch {
	matches := make([]reconcile.PositionMatch, 0, len(positions))
	for _, p := range positions {
		matches = append(matches, reconcile.PositionMatch{Position: p})
	}
	return matches
}

func positionView(m reconcile.PositionMatch) PositionView {
	v := PositionView{PositionMatch: m}
	p := m.Position
	v.Notional = p.Size * p.MarkPrice
	if p.Leverage > 0 {
		v.MarginUsed = p.Size * p.EntryPrice / p.Leverage
	}
	if v.MarginUsed > 0 {
		v.ROI = p.UnrealizedPnl / v.MarginUsed * 100
	}
	return v
}

// RecentTrades returns the fleet's fills over the exchange retention window,
// reconciled against decisions, newest first, capped at the configured limit.
func (s *Service) RecentTrades(ctx context.Context) ([]AgentTrade, error) {
	return s.trades.GetOrFetch(ctx, "trades", func(ctx context.Context) ([]AgentTrade, error) {
		endTime := time.Now().UnixMilli()
		startTime := time.Now().Add(-tradeHistoryWindow).UnixMilli()

		var out []AgentTrade
		for _, agent := range s.agents {
			var trades []aster.Trade
			for _, symbol := range agent.Symbols {
				fills, err := agent.Client.UserTrades(ctx, symbol, startTime, endTime, 1000)
				if err != nil {
					s.log.Warn().Err(err).Str("agent", agent.Name).Str("symbol", symbol).
						Msg("trade fetch failed, symbol skipped")
					continue
				}
				trades = append(trades, fills...)
			}

			matches, err := agent.Reconciler.MatchTrades(ctx, trades)
			if err != nil {
				s.log.Warn().Err(err).Str("agent", agent.Name).Msg("trade reconciliation failed, agent excluded")
				continue
			}
			for _, m := range matches {
				out = append(out, AgentTrade{Agent: agent.Name, TradeMatch: m})
			}
		}

		sort.Slice(out, func(i, j int) bool { return out[i].Trade.Time > out[j].Trade.Time })
		if limit := s.cfg.RecentTradeLimit; limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		s.storeWarm(ctx, "trades", out)
		return out, nil
	})
}

// RecentDecisions returns the latest recorded decisions per agent, newest
// first as the store serves them.
func (s *Service) RecentDecisions(ctx context.Context) ([]AgentDecisions, error) {
	return s.decisions.GetOrFetch(ctx, "decisions", func(ctx context.Context) ([]AgentDecisions, error) {
		out := make([]AgentDecisions, 0, len(s.agents))
		for _, agent := range s.agents {
			decisions, err := s.store.RecentDecisions(ctx, agent.Name, s.cfg.RecentTradeLimit)
			if err != nil {
				s.log.Warn().Err(err).Str("agent", agent.Name).Msg("decision fetch failed, agent excluded")
				continue
			}
			out = append(out, AgentDecisions{Agent: agent.Name, Decisions: decisions})
		}
		return out, nil
	})
}

// Config returns the arena's static configuration view.
func (s *Service) Config(ctx context.Context) (ConfigView, error) {
	return s.configView.GetOrFetch(ctx, "config", func(context.Context) (ConfigView, error) {
		names := make([]string, 0, len(s.agents))
		for _, agent := range s.agents {
			names = append(names, agent.Name)
		}
		return ConfigView{TopTokens: s.cfg.TopTokens, Agents: names}, nil
	})
}

// Refresh drops every cached view so the next read hits the exchange.
func (s *Service) Refresh() {
	s.summaries.InvalidateAll()
	s.positions.InvalidateAll()
	s.trades.InvalidateAll()
	s.decisions.InvalidateAll()
}

// RunPoller re-warms the aggregate views on the configured interval until
// ctx is cancelled. Failures are logged; the next tick retries.
func (s *Service) RunPoller(ctx context.Context) {
	if s.cfg.PollInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
			if _, err := s.Agents(ctx); err != nil {
				s.log.Warn().Err(err).Msg("agent summary warmup failed")
			}
			if _, err := s.Positions(ctx); err != nil {
				s.log.Warn().Err(err).Msg("position warmup failed")
			}
			if _, err := s.RecentTrades(ctx); err != nil {
				s.log.Warn().Err(err).Msg("trade warmup failed")
			}
		}
	}
}

func (s *Service) storeWarm(ctx context.Context, key string, value any) {
	if s.warm == nil {
		return
	}
	s.warm.SetJSON(ctx, key, value, s.cfg.SnapshotTTL)
}
