package database

import "time"

// Decision is one recorded trading decision. OrderID is nil until the
// decision is executed and the exchange assigns an order; unexecuted
// decisions stay joinable only by agent and time.
type Decision struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agentId"`
	Symbol          string    `json:"symbol"`
	OrderID         *int64    `json:"orderId,omitempty"`
	Action          string    `json:"action"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	Executed        bool      `json:"executed"`
	ExecutionReason string    `json:"executionReason,omitempty"`
	TradingCycleID  string    `json:"tradingCycleId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
