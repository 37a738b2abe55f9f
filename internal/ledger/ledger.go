package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sensorsplit/sensorsplit/pkg/types"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("ledger: run not found")

// Ledger stores the history of runs.
type Ledger interface {
	// BeginRun registers a new run.
	BeginRun(ctx context.Context, run Run) error

	// RecordOutcome appends one pipeline outcome and its artifacts to a run.
	RecordOutcome(ctx context.Context, runID string, o types.PipelineOutcome) error

	// FinishRun stores the run's summary and marks it finished. A non-nil
	// runErr marks the run failed.
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, summary types.RunSummary, runErr error) error

	// GetRun retrieves a single run.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// Summary returns the stored summary of a run.
	Summary(ctx context.Context, runID string) (types.RunSummary, error)

	// LatestSummary returns the summary of the most recently finished run.
	LatestSummary(ctx context.Context) (string, types.RunSummary, error)

	// Outcomes returns a run's outcomes in insertion order.
	Outcomes(ctx context.Context, runID string) ([]types.PipelineOutcome, error)

	// Close closes the database connections.
	Close() error
}

// Run describes a run at the time it starts.
type Run struct {
	ID        string
	StartedAt time.Time
	Tenants   []string

	// Config is an opaque JSON rendering of the run configuration
	Config json.RawMessage
}

// Run states stored in the status column.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is a run as stored in the ledger.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Tenants    []string
	Config     json.RawMessage
	Status     string
	Error      string
	Outcomes   int
	Failures   int
}

// Finished reports whether FinishRun was called for the run.
func (r *RunRecord) Finished() bool {
	return r.FinishedAt != nil
}

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Write-only lock

	insertOutcomeStmt  *sql.Stmt
	insertArtifactStmt *sql.Stmt
}

// Open opens (creating if needed) the ledger at dbPath.
func Open(dbPath string) (*SQLiteLedger, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=true")
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &SQLiteLedger{db: db, dbPath: dbPath}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: failed to initialize schema: %w", err)
	}

	// Read pool opened after the schema exists
	readDB, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_query_only=true")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	l.readDB = readDB

	l.insertOutcomeStmt, err = db.Prepare(`
		INSERT INTO outcomes (
			run_id, tenant_id, kind, iteration, status,
			execution_time_ms, memory_used, memory_bytes, utility_json,
			error_kind, message, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("ledger: failed to prepare outcome statement: %w", err)
	}

	l.insertArtifactStmt, err = db.Prepare(`
		INSERT INTO artifacts (outcome_id, kind, path, object_key, size_bytes, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("ledger: failed to prepare artifact statement: %w", err)
	}

	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (l *SQLiteLedger) Path() string {
	return l.dbPath
}

// BeginRun registers a new run.
func (l *SQLiteLedger) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("ledger: run has no ID")
	}
	cfg := run.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO runs (run_id, started_at, tenants, config_json) VALUES (?, ?, ?, ?)",
		run.ID, run.StartedAt.UnixMilli(), strings.Join(run.Tenants, ","), string(cfg),
	)
	if err != nil {
		return fmt.Errorf("ledger: failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// RecordOutcome appends one pipeline outcome and its artifacts to a run in
// a single transaction.
func (l *SQLiteLedger) RecordOutcome(ctx context.Context, runID string, o types.PipelineOutcome) error {
	var utility sql.NullString
	if o.UtilityCheck != nil {
		data, err := json.Marshal(o.UtilityCheck)
		if err != nil {
			return fmt.Errorf("ledger: failed to marshal utility check: %w", err)
		}
		utility = sql.NullString{String: string(data), Valid: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.StmtContext(ctx, l.insertOutcomeStmt).ExecContext(ctx,
		runID, o.Tenant, string(o.Kind), o.Iteration, string(o.Status),
		o.ExecutionTimeMS, o.MemoryUsed, o.MemoryBytes, utility,
		o.ErrorKind, o.Message, o.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ledger: failed to insert outcome: %w", err)
	}
	outcomeID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ledger: failed to read outcome id: %w", err)
	}

	artStmt := tx.StmtContext(ctx, l.insertArtifactStmt)
	for _, a := range o.Artifacts {
		if _, err := artStmt.ExecContext(ctx,
			outcomeID, string(a.Kind), a.Path, a.ObjectKey(), a.SizeBytes, a.Fingerprint,
		); err != nil {
			return fmt.Errorf("ledger: failed to insert artifact %s: %w", a.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: failed to commit outcome: %w", err)
	}
	return nil
}

// FinishRun stores the summary and marks the run finished.
func (l *SQLiteLedger) FinishRun(ctx context.Context, runID string, finishedAt time.Time, summary types.RunSummary, runErr error) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("ledger: failed to marshal summary: %w", err)
	}

	status, message := RunStatusCompleted, ""
	if runErr != nil {
		status, message = RunStatusFailed, runErr.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE run_id = ?",
		finishedAt.UnixMilli(), status, message, runID,
	)
	if err != nil {
		return fmt.Errorf("ledger: failed to update run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO summaries (run_id, summary_json, created_at) VALUES (?, ?, ?)",
		runID, string(data), finishedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("ledger: failed to insert summary for %s: %w", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: failed to commit run %s: %w", runID, err)
	}
	return nil
}

const selectRunSQL = `
	SELECT r.run_id, r.started_at, r.finished_at, r.tenants, r.config_json,
	       COALESCE(r.status, ''), COALESCE(r.error, ''),
	       (SELECT COUNT(*) FROM outcomes o WHERE o.run_id = r.run_id),
	       (SELECT COUNT(*) FROM outcomes o WHERE o.run_id = r.run_id AND o.status = 'error')
	FROM runs r`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec      RunRecord
		started  int64
		finished sql.NullInt64
		tenants  string
		cfg      string
	)
	if err := row.Scan(&rec.ID, &started, &finished, &tenants, &cfg,
		&rec.Status, &rec.Error, &rec.Outcomes, &rec.Failures); err != nil {
		return nil, err
	}
	rec.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		rec.FinishedAt = &t
	}
	if tenants != "" {
		rec.Tenants = strings.Split(tenants, ",")
	}
	rec.Config = json.RawMessage(cfg)
	return &rec, nil
}

// GetRun retrieves a single run.
func (l *SQLiteLedger) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rec, err := scanRun(l.readDB.QueryRowContext(ctx, selectRunSQL+" WHERE r.run_id = ?", runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("ledger: failed to get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (l *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := selectRunSQL + " ORDER BY r.started_at DESC, r.run_id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Summary returns the stored summary of a run.
func (l *SQLiteLedger) Summary(ctx context.Context, runID string) (types.RunSummary, error) {
	var data string
	err := l.readDB.QueryRowContext(ctx,
		"SELECT summary_json FROM summaries WHERE run_id = ?", runID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RunSummary{}, fmt.Errorf("%w: no summary for %s", ErrRunNotFound, runID)
		}
		return types.RunSummary{}, fmt.Errorf("ledger: failed to get summary %s: %w", runID, err)
	}
	return decodeSummary(data)
}

// LatestSummary returns the most recently finished run's ID and summary.
func (l *SQLiteLedger) LatestSummary(ctx context.Context) (string, types.RunSummary, error) {
	var runID, data string
	err := l.readDB.QueryRowContext(ctx,
		"SELECT run_id, summary_json FROM summaries ORDER BY created_at DESC, rowid DESC LIMIT 1",
	).Scan(&runID, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", types.RunSummary{}, fmt.Errorf("%w: ledger has no finished runs", ErrRunNotFound)
		}
		return "", types.RunSummary{}, fmt.Errorf("ledger: failed to get latest summary: %w", err)
	}
	s, err := decodeSummary(data)
	return runID, s, err
}

func decodeSummary(data string) (types.RunSummary, error) {
	var s types.RunSummary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return types.RunSummary{}, fmt.Errorf("ledger: failed to unmarshal summary: %w", err)
	}
	return s, nil
}

// Outcomes returns a run's outcomes, with artifacts, in insertion order.
func (l *SQLiteLedger) Outcomes(ctx context.Context, runID string) ([]types.PipelineOutcome, error) {
	rows, err := l.readDB.QueryContext(ctx, `
		SELECT outcome_id, tenant_id, kind, iteration, status, execution_time_ms,
		       memory_used, memory_bytes, utility_json, error_kind, message, started_at
		FROM outcomes WHERE run_id = ? ORDER BY outcome_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var (
		outcomes []types.PipelineOutcome
		index    = make(map[int64]int)
	)
	for rows.Next() {
		var (
			o       types.PipelineOutcome
			id      int64
			kind    string
			status  string
			utility sql.NullString
			started int64
		)
		if err := rows.Scan(&id, &o.Tenant, &kind, &o.Iteration, &status, &o.ExecutionTimeMS,
			&o.MemoryUsed, &o.MemoryBytes, &utility, &o.ErrorKind, &o.Message, &started); err != nil {
			return nil, fmt.Errorf("ledger: failed to scan outcome: %w", err)
		}
		o.Kind = types.PipelineKind(kind)
		o.Status = types.Status(status)
		o.StartedAt = time.UnixMilli(started)
		if utility.Valid {
			if err := json.Unmarshal([]byte(utility.String), &o.UtilityCheck); err != nil {
				return nil, fmt.Errorf("ledger: failed to unmarshal utility check: %w", err)
			}
		}
		index[id] = len(outcomes)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	artRows, err := l.readDB.QueryContext(ctx, `
		SELECT a.outcome_id, a.kind, a.path, a.size_bytes, a.fingerprint
		FROM artifacts a JOIN outcomes o ON o.outcome_id = a.outcome_id
		WHERE o.run_id = ? ORDER BY a.rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to query artifacts: %w", err)
	}
	defer artRows.Close()

	for artRows.Next() {
		var (
			id   int64
			kind string
			a    types.Artifact
		)
		if err := artRows.Scan(&id, &kind, &a.Path, &a.SizeBytes, &a.Fingerprint); err != nil {
			return nil, fmt.Errorf("ledger: failed to scan artifact: %w", err)
		}
		a.Kind = types.ArtifactKind(kind)
		if i, ok := index[id]; ok {
			outcomes[i].Artifacts = append(outcomes[i].Artifacts, a)
		}
	}
	return outcomes, artRows.Err()
}

// Close closes prepared statements and both connections.
func (l *SQLiteLedger) Close() error {
	if l.insertOutcomeStmt != nil {
		l.insertOutcomeStmt.Close()
	}
	if l.insertArtifactStmt != nil {
		l.insertArtifactStmt.Close()
	}
	var firstErr error
	if l.readDB != nil {
		if err := l.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := l.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

var _ Ledger = (*SQLiteLedger)(nil)
