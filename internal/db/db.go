package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)

	// Performance tuning
	_, err = db.Exec("PRAGMA journal_mode=WAL;")
	if err != nil {
		return nil, fmt.Errorf("setting wal mode: %w", err)
	}
	_, err = db.Exec("PRAGMA foreign_keys=ON;")
	if err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA busy_timeout=5000;")
	if err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &DB{conn: db}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		deadline DATETIME,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS printers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'IDLE',
		compatible_material_types TEXT NOT NULL DEFAULT '',
		bed_size_x_mm REAL NOT NULL DEFAULT 0,
		bed_size_y_mm REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS time_windows (
		id TEXT PRIMARY KEY,
		printer_id TEXT NOT NULL,
		day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (printer_id) REFERENCES printers(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS spools (
		id TEXT PRIMARY KEY,
		printer_id TEXT,
		material_type TEXT NOT NULL,
		remaining_g REAL NOT NULL DEFAULT 0,
		is_in_use INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (printer_id) REFERENCES printers(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 5,
		priority_score REAL NOT NULL DEFAULT 0,
		deadline DATETIME,
		is_on_critical_path INTEGER NOT NULL DEFAULT 0,
		estimated_start_time DATETIME,
		estimated_end_time DATETIME,
		estimated_duration INTEGER NOT NULL DEFAULT 0,
		material_needed_g REAL NOT NULL DEFAULT 0,
		dimensions_x_mm REAL NOT NULL DEFAULT 0,
		dimensions_y_mm REAL NOT NULL DEFAULT 0,
		required_material TEXT NOT NULL DEFAULT '',
		printer_id TEXT,
		project_id TEXT,
		parent_job_id TEXT,
		created_at DATETIME NOT NULL,
		start_time DATETIME,
		reason TEXT,
		FOREIGN KEY (printer_id) REFERENCES printers(id) ON DELETE SET NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE SET NULL,
		FOREIGN KEY (parent_job_id) REFERENCES jobs(id) ON DELETE SET NULL DEFERRABLE INITIALLY DEFERRED
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id);

	CREATE TABLE IF NOT EXISTS job_dependencies (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		depends_on_job_id TEXT NOT NULL,
		dependency_type TEXT NOT NULL DEFAULT 'FINISH_TO_START',
		created_at DATETIME NOT NULL,
		UNIQUE (job_id, depends_on_job_id),
		CHECK (job_id != depends_on_job_id),
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS printer_status_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		printer_id TEXT NOT NULL,
		status TEXT NOT NULL,
		at DATETIME NOT NULL,
		FOREIGN KEY (printer_id) REFERENCES printers(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at DATETIME NOT NULL,
		type TEXT NOT NULL,
		job_id TEXT,
		printer_id TEXT,
		payload_json TEXT
	);
	`

	_, err := d.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	return nil
}

func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	return d.conn.Exec(query, args...)
}

func (d *DB) QueryRow(query string, args ...any) *sql.Row {
	return d.conn.QueryRow(query, args...)
}

func (d *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(query, args...)
}

func (d *DB) Begin() (*sql.Tx, error) {
	return d.conn.Begin()
}
