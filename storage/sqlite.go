package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"realty_pipeline/models"
)

// OpsStore is the local operational database: a mirror of pipeline
// runs, structured log lines, and the command queue the daemon polls.
// Canonical listing data never lives here.
type OpsStore struct {
	db *sql.DB
}

func NewOpsStore(dbPath string) (*OpsStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &OpsStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *OpsStore) Close() error {
	return s.db.Close()
}

func (s *OpsStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY,
		pg_run_id INTEGER,
		source TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		fetched INTEGER DEFAULT 0,
		inserted INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		unchanged INTEGER DEFAULT 0,
		records_failed INTEGER DEFAULT 0,
		zips_failed INTEGER DEFAULT 0,
		error_message TEXT,
		metadata JSON
	);

	CREATE TABLE IF NOT EXISTS pipeline_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		scope TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON pipeline_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun mirrors the start of a pipeline run. pgRunID links the
// mirror to the Postgres row when one was written.
func (s *OpsStore) CreateRun(run *models.PipelineRun, pgRunID *int64) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO runs (pg_run_id, source, started_at, status)
		VALUES (?, ?, ?, ?)`,
		pgRunID, run.Source, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *OpsStore) UpdateRun(localID int64, run *models.PipelineRun) error {
	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, fetched = ?, inserted = ?,
			updated = ?, unchanged = ?, records_failed = ?, zips_failed = ?,
			error_message = ?, metadata = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Fetched, run.Inserted,
		run.Updated, run.Unchanged, run.RecordsFailed, run.ZipsFailed,
		run.ErrorMessage, string(run.Metadata), localID)
	return err
}

func (s *OpsStore) Log(runID *int64, level models.LogLevel, message, scope string) error {
	_, err := s.db.Exec(`
		INSERT INTO pipeline_logs (run_id, timestamp, level, message, scope)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, scope)
	return err
}

func (s *OpsStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *OpsStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *OpsStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if len(cmd.Params) == 0 || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// EnqueueCommand lets tooling drop a command for the daemon to pick
// up on its next poll.
func (s *OpsStore) EnqueueCommand(command models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, command, string(raw))
	return err
}
