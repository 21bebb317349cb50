package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverPureGo = "sqlite"  // modernc.org/sqlite
	DriverCgo    = "sqlite3" // github.com/mattn/go-sqlite3
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Store wraps SQLite-backed persistence for runs and per-file results.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(driver, path string) (*Store, error) {
	switch driver {
	case "":
		driver = DriverPureGo
	case DriverPureGo, DriverCgo:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            mode TEXT NOT NULL,
            status TEXT NOT NULL,
            input_dir TEXT,
            output_dir TEXT,
            width INTEGER,
            height INTEGER,
            model_path TEXT,
            total INTEGER DEFAULT 0,
            succeeded INTEGER DEFAULT 0,
            failed INTEGER DEFAULT 0,
            started_at TIMESTAMP NOT NULL,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS file_results (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            job_id TEXT NOT NULL,
            input_path TEXT NOT NULL,
            output_path TEXT,
            status TEXT NOT NULL,
            stage TEXT,
            error_message TEXT,
            width INTEGER,
            height INTEGER,
            duration_ms INTEGER,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_file_results_run_id ON file_results(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures one invocation of the batch or watch command.
type RunRecord struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	InputDir    string     `json:"input_dir"`
	OutputDir   string     `json:"output_dir"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	ModelPath   string     `json:"model_path"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// FileRecord captures the outcome of one image.
type FileRecord struct {
	RunID      string    `json:"run_id"`
	JobID      string    `json:"job_id"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordRunStart inserts a running run.
func (s *Store) RecordRunStart(rec RunRecord) error {
	if s == nil {
		return nil
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = "running"
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO runs (id, mode, status, input_dir, output_dir, width, height, model_path, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Mode, rec.Status, rec.InputDir, rec.OutputDir, rec.Width, rec.Height, rec.ModelPath, rec.StartedAt)
	return err
}

// RecordRunResult finalizes a run with its status and counters.
func (s *Store) RecordRunResult(id, status string, total, succeeded, failed int, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE runs SET status=?, total=?, succeeded=?, failed=?, completed_at=?, error_message=? WHERE id=?;`,
		status, total, succeeded, failed, time.Now().UTC(), errMsg, id)
	return err
}

// RecordFileResult appends the outcome of one image.
func (s *Store) RecordFileResult(rec FileRecord) error {
	if s == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.Exec(`INSERT INTO file_results (run_id, job_id, input_path, output_path, status, stage, error_message, width, height, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.RunID, rec.JobID, rec.InputPath, rec.OutputPath, rec.Status, rec.Stage, rec.Error, rec.Width, rec.Height, rec.DurationMS, rec.CreatedAt)
	return err
}

const runColumns = `id, mode, status, input_dir, output_dir, width, height, model_path, total, succeeded, failed, started_at, completed_at, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var completed sql.NullTime
	var errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.Mode, &rec.Status, &rec.InputDir, &rec.OutputDir, &rec.Width, &rec.Height, &rec.ModelPath,
		&rec.Total, &rec.Succeeded, &rec.Failed, &rec.StartedAt, &completed, &errorMsg); err != nil {
		return RunRecord{}, err
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	return rec, nil
}

// RecentRuns returns the latest runs up to limit, newest first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Run fetches one run by id.
func (s *Store) Run(id string) (RunRecord, error) {
	if s == nil {
		return RunRecord{}, errors.New("store not initialized")
	}
	rec, err := scanRun(s.DB.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// RunFiles returns the file results of a run in processing order.
func (s *Store) RunFiles(runID string) ([]FileRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT run_id, job_id, input_path, output_path, status, stage, error_message, width, height, duration_ms, created_at FROM file_results WHERE run_id=? ORDER BY id;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []FileRecord
	for rows.Next() {
		var rec FileRecord
		var output, stage, errMsg sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.JobID, &rec.InputPath, &output, &rec.Status, &stage, &errMsg,
			&rec.Width, &rec.Height, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.OutputPath = output.String
		rec.Stage = stage.String
		rec.Error = errMsg.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
