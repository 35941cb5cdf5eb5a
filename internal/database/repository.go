package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Repository provides decision persistence on top of DB.
type Repository struct {
	db *DB
}

// NewRepository creates a repository bound to db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveDecision inserts a decision. An empty ID gets a fresh UUID; CreatedAt
// is assigned by the database when zero.
func (r *Repository) SaveDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	query := `
		INSERT INTO ai_decisions (
			id, agent_id, symbol, order_id, action, confidence, reasoning,
			executed, execution_reason, trading_cycle_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		d.ID,
		d.AgentID,
		d.Symbol,
		d.OrderID,
		d.Action,
		d.Confidence,
		d.Reasoning,
		d.Executed,
		d.ExecutionReason,
		d.TradingCycleID,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving decision for %s: %w", d.Symbol, err)
	}
	return nil
}

// MarkExecuted records that a decision was executed and binds it to the
// exchange order it produced.
func (r *Repository) MarkExecuted(ctx context.Context, id string, orderID int64, reason string) error {
	query := `
		UPDATE ai_decisions
		SET executed = TRUE, order_id = $2, execution_reason = $3
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, orderID, reason)
	if err != nil {
		return fmt.Errorf("marking decision %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marking decision %s executed: no such decision", id)
	}
	return nil
}

const decisionColumns = `
	id, agent_id, symbol, order_id, action, confidence, reasoning,
	executed, execution_reason, trading_cycle_id, created_at`

// DecisionsByOrderIDs returns every decision of one agent bound to any of
// the given order IDs, oldest first so callers see the decision sequence in
// the order it happened.
func (r *Repository) DecisionsByOrderIDs(ctx context.Context, agentID string, orderIDs []int64) ([]Decision, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + decisionColumns + `
		FROM ai_decisions
		WHERE agent_id = $1 AND order_id = ANY($2)
		ORDER BY created_at ASC`

	rows, err := r.db.Pool.Query(ctx, query, agentID, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("querying decisions by order ids: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// RecentDecisions returns the newest decisions of one agent, newest first.
func (r *Repository) RecentDecisions(ctx context.Context, agentID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + decisionColumns + `
		FROM ai_decisions
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanDecisions(rows pgxRows) ([]Decision, error) {
	var decisions []Decision
	for rows.Next() {
		var d Decision
		err := rows.Scan(
			&d.ID, &d.AgentID, &d.Symbol, &d.OrderID, &d.Action, &d.Confidence,
			&d.Reasoning, &d.Executed, &d.ExecutionReason, &d.TradingCycleID, &d.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
