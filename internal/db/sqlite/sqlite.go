package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

// SQLite implements the SQL database interface for SQLite
type SQLite struct {
	db     *sql.DB
	config *models.Config
}

// New creates a new SQLite database instance
func New(config *models.Config) *SQLite {
	return &SQLite{
		config: config,
	}
}

// ResolvePath expands ~ and relative paths in a database URI
func ResolvePath(uri string) (string, error) {
	dbPath := uri
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, dbPath[1:]), nil
	}
	if !filepath.IsAbs(dbPath) {
		absPath, err := filepath.Abs(dbPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		dbPath = absPath
	}
	return dbPath, nil
}

// Connect establishes connection to SQLite and brings the schema up to date
func (s *SQLite) Connect(ctx context.Context) error {
	dbPath, err := ResolvePath(s.config.URI)
	if err != nil {
		return err
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open SQLite database at path '%s': %w", dbPath, err)
	}
	// Upload goroutines and push events write concurrently; a single
	// connection serialises them instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping SQLite database at path '%s': %w", dbPath, err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return err
	}

	s.db = db
	return nil
}

// DB exposes the underlying handle for migration tooling
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Disconnect closes the SQLite connection
func (s *SQLite) Disconnect(ctx context.Context) error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection
func (s *SQLite) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("not connected to database")
	}
	return s.db.PingContext(ctx)
}

// Ad config operations

// GetAdConfig returns the ad config saved by a session
func (s *SQLite) GetAdConfig(ctx context.Context, sessionID string) (*models.AdConfig, error) {
	query := `
		SELECT facebook_page_id, headline, link, utm_parameters
		FROM ad_configs WHERE session_id = ?`

	var cfg models.AdConfig
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&cfg.FacebookPageID,
		&cfg.Headline,
		&cfg.Link,
		&cfg.UTMParameters,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ad config for session %s: %w", sessionID, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveAdConfig inserts or replaces the ad config of a session
func (s *SQLite) SaveAdConfig(ctx context.Context, sessionID string, cfg *models.AdConfig) error {
	query := `
		INSERT INTO ad_configs (session_id, facebook_page_id, headline, link, utm_parameters, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			facebook_page_id = excluded.facebook_page_id,
			headline = excluded.headline,
			link = excluded.link,
			utm_parameters = excluded.utm_parameters,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		sessionID,
		cfg.FacebookPageID,
		cfg.Headline,
		cfg.Link,
		cfg.UTMParameters,
		time.Now().UTC(),
	)
	return err
}

// Task operations

const taskColumns = `id, session_id, mode, campaign_name, campaign_id, status, progress, step, message,
	file_count, total_bytes, created_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var finishedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.SessionID,
		&task.Mode,
		&task.CampaignName,
		&task.CampaignID,
		&task.Status,
		&task.Progress,
		&task.Step,
		&task.Message,
		&task.FileCount,
		&task.TotalBytes,
		&task.CreatedAt,
		&task.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		task.FinishedAt = &t
	}
	return &task, nil
}

// CreateTask inserts a new task
func (s *SQLite) CreateTask(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.SessionID,
		task.Mode,
		task.CampaignName,
		task.CampaignID,
		task.Status,
		task.Progress,
		task.Step,
		task.Message,
		task.FileCount,
		task.TotalBytes,
		task.CreatedAt,
		task.UpdatedAt,
		task.FinishedAt,
	)
	return err
}

// GetTask retrieves a task by ID
func (s *SQLite) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks lists tasks newest first, optionally filtered by session and status
func (s *SQLite) ListTasks(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var where []string
	args := []interface{}{}

	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// UpdateTask persists the mutable fields of a task
func (s *SQLite) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE tasks
		SET status = ?, progress = ?, step = ?, message = ?, file_count = ?, total_bytes = ?, updated_at = ?, finished_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		task.Status,
		task.Progress,
		task.Step,
		task.Message,
		task.FileCount,
		task.TotalBytes,
		task.UpdatedAt,
		task.FinishedAt,
		task.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("task %s: %w", task.ID, shared.ErrNotFound)
	}

	return nil
}

// DeleteTasksBefore removes terminal tasks last updated before the cutoff
func (s *SQLite) DeleteTasksBefore(ctx context.Context, before time.Time) (int, error) {
	query := `DELETE FROM tasks WHERE updated_at < ? AND status IN (?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		before.UTC(),
		models.TaskCompleted,
		models.TaskFailed,
		models.TaskCanceled,
	)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(rowsAffected), nil
}

// CountTasksByStatus returns how many tasks are in each status
func (s *SQLite) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
