package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const maxIncomeLimit = 1000

// IncomeQuery filters the income ledger. Zero fields are omitted from the
// request.
type IncomeQuery struct {
	Symbol     string
	IncomeType string
	StartTime  int64
	EndTime    int64
	Limit      int
}

// IncomeHistory returns raw income ledger entries. The exchange does no
// aggregation; every bucket in PnLSummary is computed client-side.
func (c *Client) IncomeHistory(ctx context.Context, q IncomeQuery) ([]IncomeRecord, error) {
	params := map[string]any{}
	if q.Symbol != "" {
		params["symbol"] = q.Symbol
	}
	if q.IncomeType != "" {
		params["incomeType"] = q.IncomeType
	}
	if q.StartTime > 0 {
		params["startTime"] = q.StartTime
	}
	if q.EndTime > 0 {
		params["endTime"] = q.EndTime
	}
	limit := q.Limit
	if limit <= 0 || limit > maxIncomeLimit {
		limit = maxIncomeLimit
	}
	params["limit"] = limit

	body, err := c.signedGet(ctx, c.apiPath("income"), params)
	if err != nil {
		return nil, fmt.Errorf("fetching income history: %w", err)
	}
	var records []IncomeRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("parsing income history: %w", err)
	}
	return records, nil
}

// PnLQuery shapes a PnL summary request. Symbol narrows the ledger to one
// symbol; IncludeUnrealized adds the current open-position unrealized PnL
// to the totals.
type PnLQuery struct {
	Hours             int
	Symbol            string
	IncludeUnrealized bool
}

// SummarizePnL aggregates the income ledger over a rolling window of the
// last q.Hours hours. The summary's time bounds are the observed min and max
// record timestamps, not the query bounds, so callers see the span the data
// actually covers.
func (c *Client) SummarizePnL(ctx context.Context, q PnLQuery) (*PnLSummary, error) {
	now := time.Now()
	start := now.Add(-time.Duration(q.Hours) * time.Hour)

	records, err := c.IncomeHistory(ctx, IncomeQuery{
		Symbol:    q.Symbol,
		StartTime: start.UnixMilli(),
		EndTime:   now.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	summary := bucketIncome(records, c.optionalUnrealized(ctx, q.IncludeUnrealized))
	summary.Period = hoursLabel(q.Hours)
	for _, r := range records {
		if summary.StartTime == 0 || r.Time < summary.StartTime {
			summary.StartTime = r.Time
		}
		if r.Time > summary.EndTime {
			summary.EndTime = r.Time
		}
	}
	return summary, nil
}

// SummarizePnLByDays aggregates the income ledger over the last `days` whole
// UTC days, ending at yesterday 23:59:59.999. Day-boundary windows make 1d
// and 7d figures comparable across queries issued at different times of day,
// and line up with the exchange's own daily reporting.
func (c *Client) SummarizePnLByDays(ctx context.Context, days int, symbol string, includeUnrealized bool) (*PnLSummary, error) {
	start, end := dayBounds(time.Now().UTC(), days)

	records, err := c.IncomeHistory(ctx, IncomeQuery{
		Symbol:    symbol,
		StartTime: start.UnixMilli(),
		EndTime:   end.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	summary := bucketIncome(records, c.optionalUnrealized(ctx, includeUnrealized))
	summary.Period = fmt.Sprintf("D_%d", days)
	summary.StartTime = start.UnixMilli()
	summary.EndTime = end.UnixMilli()
	return summary, nil
}

func hoursLabel(hours int) string {
	if hours == 24 {
		return "24H"
	}
	return fmt.Sprintf("%dD", hours/24)
}

// dayBounds returns the UTC window covering the `days` whole days before
// today: [today−days 00:00:00.000, yesterday 23:59:59.999].
func dayBounds(now time.Time, days int) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := today.Add(-time.Millisecond)
	start := today.AddDate(0, 0, -days)
	return start, end
}

// optionalUnrealized sums open-position unrealized PnL when requested. A
// failed positions fetch degrades to zero with a warning; the realized
// summary is still worth returning.
func (c *Client) optionalUnrealized(ctx context.Context, include bool) float64 {
	if !include {
		return 0
	}
	positions, err := c.Positions(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to fetch unrealized pnl, reporting zero")
		return 0
	}
	var total float64
	for _, p := range positions {
		total += p.UnrealizedPnl
	}
	return total
}

// bucketIncome folds raw ledger records into the PnL buckets. Transfers are
// split by sign into deposits and withdrawals; unrecognized income types
// count toward RecordCount but no bucket.
func bucketIncome(records []IncomeRecord, unrealized float64) *PnLSummary {
	s := &PnLSummary{RecordCount: len(records), UnrealizedPnL: unrealized}

	for _, r := range records {
		switch r.IncomeType {
		case IncomeRealizedPnl:
			s.RealizedPnL += r.Income
		case IncomeFundingFee:
			s.FundingFees += r.Income
		case IncomeCommission:
			s.Commissions += r.Income
		case IncomeAutoExchange:
			s.AutoExchange += r.Income
		case IncomeRebate, IncomeReferralRebate, IncomeApolloxDexRebate:
			s.Rebates += r.Income
		case IncomeTransfer, IncomeTransferSpotFuture, IncomeTransferFutureSpot:
			if r.Income >= 0 {
				s.Deposits += r.Income
			} else {
				s.Withdrawals += r.Income
			}
		}
	}

	s.TradingPnL = s.RealizedPnL + s.FundingFees + s.Commissions + s.AutoExchange + s.Rebates
	s.TotalPnL = s.TradingPnL + s.UnrealizedPnL
	s.NetTransfers = s.Deposits + s.Withdrawals
	s.NetPnL = s.TotalPnL + s.Deposits + s.Withdrawals
	return s
}
