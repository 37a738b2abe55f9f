// Package ledger records run history (runs, pipeline outcomes, artifacts
// and summaries) in a SQLite database.
package ledger

// CreateRunsTableSQL creates the runs table. finished_at and status stay
// NULL until FinishRun is called, so an interrupted run is visible as such.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    tenants TEXT NOT NULL,
    config_json TEXT NOT NULL DEFAULT '{}',
    status TEXT,
    error TEXT
)`

// CreateOutcomesTableSQL creates the outcomes table, one row per pipeline
// invocation.
const CreateOutcomesTableSQL = `
CREATE TABLE IF NOT EXISTS outcomes (
    outcome_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    status TEXT NOT NULL,
    execution_time_ms REAL NOT NULL DEFAULT 0,
    memory_used TEXT NOT NULL DEFAULT '',
    memory_bytes INTEGER NOT NULL DEFAULT 0,
    utility_json TEXT,
    error_kind TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateArtifactsTableSQL creates the artifacts table.
const CreateArtifactsTableSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
    outcome_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    object_key TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (outcome_id) REFERENCES outcomes(outcome_id)
)`

// CreateSummariesTableSQL creates the summaries table holding the final
// RunSummary JSON per run.
const CreateSummariesTableSQL = `
CREATE TABLE IF NOT EXISTS summaries (
    run_id TEXT PRIMARY KEY,
    summary_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateIndexesSQL creates lookup indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, tenant_id, kind)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_outcome ON artifacts(outcome_id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the ledger.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRunsTableSQL,
		CreateOutcomesTableSQL,
		CreateArtifactsTableSQL,
		CreateSummariesTableSQL,
	}
	return append(statements, CreateIndexesSQL...)
}
