package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDSN keeps the ledger in memory; it lives exactly as long as the
// process.
const DefaultDSN = "file:timebooth-usage?mode=memory&cache=shared"

const schema = `
CREATE TABLE IF NOT EXISTS usage_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    image_count INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL,
    error TEXT,
    cost REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_log_operation ON usage_log(operation);
CREATE INDEX IF NOT EXISTS idx_usage_log_created_at ON usage_log(created_at);
`

type Operation string

const (
	OperationAnalyze  Operation = "analyze"
	OperationGenerate Operation = "generate"
	OperationEdit     Operation = "edit"
)

type Record struct {
	Operation    Operation
	Model        string
	PromptTokens int
	OutputTokens int
	TotalTokens  int
	Images       int
	Duration     time.Duration
	Success      bool
	Error        string
	CostUSD      float64
	CreatedAt    time.Time
}

type OperationSummary struct {
	Operation    Operation `json:"operation,omitempty"`
	Calls        int       `json:"calls"`
	Failures     int       `json:"failures"`
	PromptTokens int       `json:"promptTokens"`
	OutputTokens int       `json:"outputTokens"`
	Images       int       `json:"images"`
	CostUSD      float64   `json:"costUsd"`
}

type Summary struct {
	ByOperation []OperationSummary `json:"byOperation"`
	Total       OperationSummary   `json:"total"`
}

type Ledger struct {
	db   *sql.DB
	calc *Calculator
}

func NewLedger(dsn string) (*Ledger, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}
	// The shared in-memory database only lives while a connection is open.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Ledger{db: db, calc: NewCalculator()}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores rec, filling in the image count and cost estimate when the
// caller left them unset.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	if rec.Images == 0 && rec.Success && rec.Operation != OperationAnalyze {
		rec.Images = 1
	}
	if rec.CostUSD == 0 && rec.Success {
		rec.CostUSD = l.calc.Calculate(rec)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_log (operation, model, prompt_tokens, output_tokens, total_tokens, image_count, duration_ms, success, error, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Operation), rec.Model, rec.PromptTokens, rec.OutputTokens, rec.TotalTokens,
		rec.Images, rec.Duration.Milliseconds(), rec.Success, nullString(rec.Error), rec.CostUSD,
		rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (l *Ledger) Summary(ctx context.Context) (*Summary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT operation, COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(image_count), 0), COALESCE(SUM(cost), 0)
		 FROM usage_log GROUP BY operation ORDER BY operation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &Summary{}
	for rows.Next() {
		var ops OperationSummary
		var op string
		if err := rows.Scan(&op, &ops.Calls, &ops.Failures, &ops.PromptTokens, &ops.OutputTokens, &ops.Images, &ops.CostUSD); err != nil {
			return nil, err
		}
		ops.Operation = Operation(op)
		summary.ByOperation = append(summary.ByOperation, ops)

		summary.Total.Calls += ops.Calls
		summary.Total.Failures += ops.Failures
		summary.Total.PromptTokens += ops.PromptTokens
		summary.Total.OutputTokens += ops.OutputTokens
		summary.Total.Images += ops.Images
		summary.Total.CostUSD += ops.CostUSD
	}
	return summary, rows.Err()
}

// Recent returns up to n records, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT operation, model, prompt_tokens, output_tokens, total_tokens, image_count, duration_ms, success, error, cost, created_at
		 FROM usage_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var op string
		var durationMS, createdAt int64
		var errText sql.NullString
		if err := rows.Scan(&op, &rec.Model, &rec.PromptTokens, &rec.OutputTokens, &rec.TotalTokens,
			&rec.Images, &durationMS, &rec.Success, &errText, &rec.CostUSD, &createdAt); err != nil {
			return nil, err
		}
		rec.Operation = Operation(op)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = errText.String
		rec.CreatedAt = time.Unix(0, createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
