package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"advision/internal/config"
	"advision/internal/models"
)

// Open connects to the history database for the configured driver.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				file_name TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				status TEXT NOT NULL,
				video_ref TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at DATETIME NOT NULL,
				level TEXT NOT NULL,
				message TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id VARCHAR(64) NOT NULL PRIMARY KEY,
				file_name VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				status VARCHAR(32) NOT NULL,
				video_ref VARCHAR(255) NOT NULL DEFAULT '',
				INDEX idx_jobs_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS logs (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				created_at DATETIME NOT NULL,
				level VARCHAR(16) NOT NULL,
				message MEDIUMTEXT NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// JobRecord is one row of the job-history list.
type JobRecord struct {
	ID       string
	FileName string
	Date     time.Time
	Status   models.JobStatus
	VideoRef string
}

// Store persists the job-history and session-log lists. It satisfies the
// orchestrator's History capability.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveJob rewrites the record for the job, inserting it on first write.
func (s *Store) SaveJob(ctx context.Context, rec JobRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET file_name = ?, created_at = ?, status = ?, video_ref = ? WHERE id = ?`,
		rec.FileName, rec.Date, string(rec.Status), rec.VideoRef, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update job record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, file_name, created_at, status, video_ref) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, rec.Date, string(rec.Status), rec.VideoRef,
	); err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

// ListJobs returns job records, most recent first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, created_at, status, video_ref FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.FileName, &rec.Date, &status, &rec.VideoRef); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		rec.Status = models.JobStatus(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Append adds one session log line.
func (s *Store) Append(ctx context.Context, level models.LogLevel, message string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (created_at, level, message) VALUES (?, ?, ?)`,
		time.Now(), string(level), message,
	); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// ReadAll returns every stored session log line in append order.
func (s *Store) ReadAll(ctx context.Context) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, level, message FROM logs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query log history: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var level string
		if err := rows.Scan(&e.ID, &e.CreatedAt, &level, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Level = models.LogLevel(level)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
