package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/ibkr-bridge/internal/database"
)

// SQLiteStore implements Store against the bridge sqlite database: each
// method wraps *database.DB, issues raw SQL, and returns wrapped errors.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore wraps an already-migrated *database.DB.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// InsertAlert inserts an alert row, enforcing uniqueness on (symbol, alert_time, exit_time).
// A duplicate insert attempt reports duplicate=true instead of erroring.
func (s *SQLiteStore) InsertAlert(a *Alert) (int64, bool, error) {
	exitTime := sql.NullString{}
	if a.ExitTime != nil {
		exitTime = sql.NullString{String: fmtTime(*a.ExitTime), Valid: true}
	}

	// The table's UNIQUE constraint treats NULL exit_time values as distinct,
	// so an existing row is looked up first (exit_time IS ? matches NULL).
	var existingID int64
	err := s.db.QueryRow(
		`SELECT id FROM alerts WHERE symbol = ? AND alert_time = ? AND (exit_time IS ? OR exit_time = ?)`,
		strings.ToUpper(a.Symbol), fmtTime(a.AlertTime), exitTime, exitTime,
	).Scan(&existingID)
	if err == nil {
		return existingID, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("lookup existing alert: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO alerts (symbol, strategy, entry_price, stop_price, shares, last_price, alert_time, exit_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(a.Symbol), a.Strategy, a.EntryPrice, a.StopPrice, a.Shares, a.LastPrice, fmtTime(a.AlertTime), exitTime,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert alert rows affected: %w", err)
	}
	if affected == 0 {
		// Duplicate: look up the existing row id.
		var id int64
		row := s.db.QueryRow(
			`SELECT id FROM alerts WHERE symbol = ? AND alert_time = ? AND (exit_time IS ? OR exit_time = ?)`,
			strings.ToUpper(a.Symbol), fmtTime(a.AlertTime), exitTime, exitTime,
		)
		if err := row.Scan(&id); err != nil {
			return 0, true, fmt.Errorf("lookup duplicate alert: %w", err)
		}
		return id, true, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert alert last insert id: %w", err)
	}
	return id, false, nil
}

func (s *SQLiteStore) QueryRecentAlerts(limit int) ([]Alert, error) {
	rows, err := s.db.Query(
		`SELECT id, symbol, strategy, entry_price, stop_price, shares, last_price, alert_time, exit_time
		 FROM alerts ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var strategy, exitTime sql.NullString
		var entryPrice, stopPrice, shares, lastPrice sql.NullFloat64
		var alertTime string
		if err := rows.Scan(&a.ID, &a.Symbol, &strategy, &entryPrice, &stopPrice, &shares, &lastPrice, &alertTime, &exitTime); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.AlertTime = parseTime(alertTime)
		if strategy.Valid {
			a.Strategy = &strategy.String
		}
		if entryPrice.Valid {
			a.EntryPrice = &entryPrice.Float64
		}
		if stopPrice.Valid {
			a.StopPrice = &stopPrice.Float64
		}
		if shares.Valid {
			a.Shares = &shares.Float64
		}
		if lastPrice.Valid {
			a.LastPrice = &lastPrice.Float64
		}
		if exitTime.Valid {
			t := parseTime(exitTime.String)
			a.ExitTime = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertEvaluation(e *Evaluation) (int64, error) {
	providerJSON, err := json.Marshal(e.ProviderOutputs)
	if err != nil {
		return 0, fmt.Errorf("marshal provider outputs: %w", err)
	}
	featureJSON, err := json.Marshal(e.FeatureVector)
	if err != nil {
		return 0, fmt.Errorf("marshal feature vector: %w", err)
	}
	weightsJSON, err := json.Marshal(e.WeightsUsed)
	if err != nil {
		return 0, fmt.Errorf("marshal weights used: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO evaluations (alert_id, trade_score, median_score, expected_rr, confidence, score_spread,
		 disagreement_penalty, unanimous, majority, should_trade, regime, provider_outputs, feature_vector, weights_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AlertID, e.TradeScore, e.Median, e.ExpectedRR, e.Confidence, e.ScoreSpread,
		e.DisagreementPenalty, e.Unanimous, e.Majority, e.ShouldTrade, e.Regime, string(providerJSON), string(featureJSON), string(weightsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert evaluation: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) InsertOutcome(o *Outcome) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO outcomes (evaluation_id, trade_taken, realized_rr, confidence_percentile, entry_time, exit_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.EvaluationID, o.TradeTaken, o.RealizedRR, o.ConfidencePercentile,
		nullableTime(o.EntryTime), nullableTime(o.ExitTime),
	)
	if err != nil {
		return 0, fmt.Errorf("insert outcome: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) InsertSignal(sig *Signal) error {
	detail, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO analytics_jobs (job_name, status, started_at, detail) VALUES (?, 'signal', ?, ?)`,
		fmt.Sprintf("signal:%s", sig.Symbol), fmtTime(sig.CreatedAt), string(detail),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryRecentSignals(limit int) ([]Signal, error) {
	rows, err := s.db.Query(
		`SELECT detail FROM analytics_jobs WHERE status = 'signal' ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		var sig Signal
		if err := json.Unmarshal([]byte(detail), &sig); err == nil {
			out = append(out, sig)
		}
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func (s *SQLiteStore) InsertOrder(o *Order) error {
	_, err := s.db.Exec(
		`INSERT INTO orders (order_id, symbol, side, order_type, quantity, limit_price, stop_price, trailing_pct,
		 tif, parent_order_id, oca_group, correlation_id, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.Symbol, o.Side, o.Type, o.Quantity, o.LimitPrice, o.StopPrice, o.TrailingPct,
		o.TIF, o.ParentOrderID, o.OCAGroup, o.CorrelationID, o.Status,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateOrderStatus(orderID int64, status OrderStatus) error {
	res, err := s.db.Exec(
		`UPDATE orders SET status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE order_id = ?`,
		status, orderID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update order status: order %d not found", orderID)
	}
	return nil
}

func (s *SQLiteStore) GetOrderByBrokerID(orderID int64) (*Order, error) {
	row := s.db.QueryRow(
		`SELECT order_id, symbol, side, order_type, quantity, limit_price, stop_price, trailing_pct,
		 tif, parent_order_id, oca_group, correlation_id, status, created_at, updated_at
		 FROM orders WHERE order_id = ?`, orderID,
	)

	var o Order
	var limitPrice, stopPrice, trailingPct sql.NullFloat64
	var parentOrderID sql.NullInt64
	var ocaGroup sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&o.OrderID, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &limitPrice, &stopPrice, &trailingPct,
		&o.TIF, &parentOrderID, &ocaGroup, &o.CorrelationID, &o.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order by broker id: %w", err)
	}

	if limitPrice.Valid {
		o.LimitPrice = &limitPrice.Float64
	}
	if stopPrice.Valid {
		o.StopPrice = &stopPrice.Float64
	}
	if trailingPct.Valid {
		o.TrailingPct = &trailingPct.Float64
	}
	if parentOrderID.Valid {
		o.ParentOrderID = &parentOrderID.Int64
	}
	if ocaGroup.Valid {
		o.OCAGroup = &ocaGroup.String
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)

	return &o, nil
}

func (s *SQLiteStore) InsertExecution(e *Execution) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO executions (exec_id, order_id, side, shares, price, cum_qty, avg_price, commission, realized_pnl, exec_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExecID, e.OrderID, e.Side, e.Shares, e.Price, e.CumQty, e.AvgPrice, e.Commission, e.RealizedPnL, fmtTime(e.ExecTime),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateExecutionCommission(execID string, commission, realizedPnL float64) error {
	_, err := s.db.Exec(
		`UPDATE executions SET commission = ?, realized_pnl = ? WHERE exec_id = ?`,
		commission, realizedPnL, execID,
	)
	if err != nil {
		return fmt.Errorf("update execution commission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRiskConfig(key string) (float64, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM risk_config WHERE key = ?`, key)
	var value float64
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get risk config %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetRiskConfig(key string, value float64) error {
	_, err := s.db.Exec(
		`INSERT INTO risk_config (key, value, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set risk config %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) AppendAnalyticsJob(j *AnalyticsJob) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO analytics_jobs (job_name, status, started_at, detail) VALUES (?, ?, ?, ?)`,
		j.JobName, j.Status, fmtTime(j.StartedAt), j.Detail,
	)
	if err != nil {
		return 0, fmt.Errorf("append analytics job: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateAnalyticsJob(id int64, status string, detail string) error {
	_, err := s.db.Exec(
		`UPDATE analytics_jobs SET status = ?, finished_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), detail = ? WHERE id = ?`,
		status, detail, id,
	)
	if err != nil {
		return fmt.Errorf("update analytics job: %w", err)
	}
	return nil
}

// SaveTickerSnapshot upserts the single-row ticker cache blob.
func (s *SQLiteStore) SaveTickerSnapshot(data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO ticker_snapshots (id, data, updated_at) VALUES (1, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		data,
	)
	if err != nil {
		return fmt.Errorf("save ticker snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadTickerSnapshot() ([]byte, bool, error) {
	row := s.db.QueryRow(`SELECT data FROM ticker_snapshots WHERE id = 1`)
	var data []byte
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load ticker snapshot: %w", err)
	}
	return data, true, nil
}

var _ Store = (*SQLiteStore)(nil)
