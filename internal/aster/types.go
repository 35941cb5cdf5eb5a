package aster

import "fmt"

// ==================== ENUMS ====================

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// OrderType covers the order types the engine places.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStop       OrderType = "STOP"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// Income ledger entry types. The exchange reports more than these; anything
// unrecognized is counted but not bucketed.
const (
	IncomeRealizedPnl        = "REALIZED_PNL"
	IncomeFundingFee         = "FUNDING_FEE"
	IncomeCommission         = "COMMISSION"
	IncomeAutoExchange       = "AUTO_EXCHANGE"
	IncomeRebate             = "REBATE"
	IncomeReferralRebate     = "REFERRAL_REBATE"
	IncomeApolloxDexRebate   = "APOLLOX_DEX_REBATE"
	IncomeTransfer           = "TRANSFER"
	IncomeTransferSpotFuture = "TRANSFER_SPOT_TO_FUTURE"
	IncomeTransferFutureSpot = "TRANSFER_FUTURE_TO_SPOT"
)

// ==================== ACCOUNT TYPES ====================

// AccountInfo is the authenticated account endpoint response.
type AccountInfo struct {
	FeeTier               int     `json:"feeTier"`
	CanTrade              bool    `json:"canTrade"`
	CanDeposit            bool    `json:"canDeposit"`
	CanWithdraw           bool    `json:"canWithdraw"`
	UpdateTime            int64   `json:"updateTime"`
	TotalWalletBalance    float64 `json:"totalWalletBalance,string"`
	TotalUnrealizedProfit float64 `json:"totalUnrealizedProfit,string"`
	TotalMarginBalance    float64 `json:"totalMarginBalance,string"`
	AvailableBalance      float64 `json:"availableBalance,string"`
	MaxWithdrawAmount     float64 `json:"maxWithdrawAmount,string"`
}

// Balance is one asset row of the balance endpoint response.
type Balance struct {
	AccountAlias       string  `json:"accountAlias"`
	Asset              string  `json:"asset"`
	Balance            float64 `json:"balance,string"`
	CrossWalletBalance float64 `json:"crossWalletBalance,string"`
	CrossUnPnl         float64 `json:"crossUnPnl,string"`
	AvailableBalance   float64 `json:"availableBalance,string"`
	MaxWithdrawAmount  float64 `json:"maxWithdrawAmount,string"`
	MarginAvailable    bool    `json:"marginAvailable"`
	UpdateTime         int64   `json:"updateTime"`
}

// positionRisk is the raw positionRisk row.
type positionRisk struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnRealizedProfit float64 `json:"unRealizedProfit,string"`
	LiquidationPrice float64 `json:"liquidationPrice,string"`
	Leverage         float64 `json:"leverage,string"`
	IsolatedMargin   float64 `json:"isolatedMargin,string"`
	UpdateTime       int64   `json:"updateTime"`
}

// Position is an immutable snapshot of one open position. The engine never
// mutates it, only annotates copies with joined decision data.
type Position struct {
	Symbol           string
	Side             PositionSide
	Size             float64 // absolute position amount
	PositionAmt      float64 // signed raw amount; sign determines opening side
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPnl    float64
	Leverage         float64
	IsolatedMargin   float64
	LiquidationPrice float64
	UpdateTime       int64 // ms
}

// Trade is one fill from the userTrades endpoint. Append-only from the engine's
// point of view.
type Trade struct {
	ID              int64   `json:"id"`
	Symbol          string  `json:"symbol"`
	OrderID         int64   `json:"orderId"`
	Side            Side    `json:"side"`
	Price           float64 `json:"price,string"`
	Qty             float64 `json:"qty,string"`
	QuoteQty        float64 `json:"quoteQty,string"`
	Commission      float64 `json:"commission,string"`
	CommissionAsset string  `json:"commissionAsset"`
	RealizedPnl     float64 `json:"realizedPnl,string"`
	Time            int64   `json:"time"`
}

// IncomeRecord is one entry of the raw income ledger.
type IncomeRecord struct {
	Symbol     string  `json:"symbol"`
	IncomeType string  `json:"incomeType"`
	Income     float64 `json:"income,string"`
	Asset      string  `json:"asset"`
	Info       string  `json:"info"`
	Time       int64   `json:"time"`
	TranID     int64   `json:"tranId"`
	TradeID    string  `json:"tradeId"`
}

// PnLSummary is the derived aggregation of the income ledger. Never persisted
// by this engine.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realizedPnl"`
	FundingFees   float64 `json:"fundingFees"`
	Commissions   float64 `json:"commissions"`
	AutoExchange  float64 `json:"autoExchange"`
	Rebates       float64 `json:"rebates"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	TradingPnL    float64 `json:"tradingPnl"`
	TotalPnL      float64 `json:"totalPnl"`
	Deposits      float64 `json:"deposits"`
	Withdrawals   float64 `json:"withdrawals"`
	NetTransfers  float64 `json:"netTransfers"`
	NetPnL        float64 `json:"netPnl"`
	RecordCount   int     `json:"recordCount"`
	StartTime     int64   `json:"startTime"`
	EndTime       int64   `json:"endTime"`
	Period        string  `json:"period"`
}

// OrderRequest is the payload for placing an order.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    string
	Price       string
	TimeInForce string
	ReduceOnly  bool
}

// OrderResponse is the exchange acknowledgement for a placed order.
type OrderResponse struct {
	OrderID       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderID string  `json:"clientOrderId"`
	Side          Side    `json:"side"`
	Type          string  `json:"type"`
	OrigQty       float64 `json:"origQty,string"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	UpdateTime    int64   `json:"updateTime"`
}

// FundingRate is one funding settlement row.
type FundingRate struct {
	Symbol      string  `json:"symbol"`
	FundingRate float64 `json:"fundingRate,string"`
	FundingTime int64   `json:"fundingTime"`
}

// premiumIndex is the raw mark-price response.
type premiumIndex struct {
	Symbol          string  `json:"symbol"`
	MarkPrice       float64 `json:"markPrice,string"`
	IndexPrice      float64 `json:"indexPrice,string"`
	LastFundingRate float64 `json:"lastFundingRate,string"`
	NextFundingTime int64   `json:"nextFundingTime"`
	Time            int64   `json:"time"`
}

// MarkPrice is the parsed mark-price snapshot for one symbol.
type MarkPrice struct {
	Symbol          string
	MarkPrice       float64
	IndexPrice      float64
	LastFundingRate float64
	Time            int64
}

// CommissionRate is the account commission schedule for one symbol.
type CommissionRate struct {
	Symbol              string  `json:"symbol"`
	MakerCommissionRate float64 `json:"makerCommissionRate,string"`
	TakerCommissionRate float64 `json:"takerCommissionRate,string"`
}

// TradeVolume aggregates account fill volume over a window.
type TradeVolume struct {
	TotalVolume      float64
	TotalQuoteVolume float64
	TradeCount       int
}

// ==================== EXCHANGE METADATA ====================

// ExchangeInfo is the exchangeInfo metadata snapshot.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one listed symbol and its trading filters.
type SymbolInfo struct {
	Symbol            string         `json:"symbol"`
	Status            string         `json:"status"`
	BaseAsset         string         `json:"baseAsset"`
	QuoteAsset        string         `json:"quoteAsset"`
	QuantityPrecision *int           `json:"quantityPrecision,omitempty"`
	PricePrecision    *int           `json:"pricePrecision,omitempty"`
	Filters           []SymbolFilter `json:"filters"`
}

// SymbolFilter is one exchange trading filter. Fields are strings on the
// wire; only the ones the precision catalog reads are declared.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	TickSize    string `json:"tickSize"`
	Notional    string `json:"notional"`
	MinNotional string `json:"minNotional"`
}

// ==================== ERRORS ====================

// APIError is a non-2xx exchange response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aster api error: status %d: %s", e.StatusCode, e.Body)
}

// ValidationError rejects an order before any network call: the requested
// quantity or notional failed precision rules and no usable adjustment was
// available.
type ValidationError struct {
	Symbol   string
	Failures []string
}

func (e *ValidationError) Error() string {
	msg := "order validation failed for " + e.Symbol + ":"
	for _, f := range e.Failures {
		msg += " " + f + ";"
	}
	return msg[:len(msg)-1]
}
