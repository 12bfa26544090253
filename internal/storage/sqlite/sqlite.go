package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite result repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.ResultRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository, applying pending migrations.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	// synchronous(FULL) so a committed insert survives a crash right after Append returns.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// Append inserts a result row.
func (r *Repository) Append(ctx context.Context, e model.LogEntry) error {
	platforms := e.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	platformsJSON, err := json.Marshal(platforms)
	if err != nil {
		return fmt.Errorf("could not marshal platforms: %w", err)
	}

	success := 0
	if e.Outcome.Success {
		success = 1
	}

	query := `
		INSERT INTO results (
			task_id, owner, media_ref, caption, platforms, attempt,
			success, status_code, error_kind, message, response,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		e.TaskID,
		e.Owner,
		e.MediaRef,
		e.Caption,
		string(platformsJSON),
		e.Attempt,
		success,
		e.Outcome.StatusCode,
		string(e.Outcome.ErrorKind),
		e.Outcome.Message,
		string(e.Outcome.Response),
		e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("could not insert result: %w", err)
	}

	r.logger.Debugf("Stored result for task %s", e.TaskID)
	return nil
}

// ListResults returns all results in insertion order.
func (r *Repository) ListResults(ctx context.Context) ([]model.LogEntry, error) {
	query := `
		SELECT
			task_id, owner, media_ref, caption, platforms, attempt,
			success, status_code, error_kind, message, response,
			created_at
		FROM results
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query results: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

func scanRow(rows *sql.Rows) (model.LogEntry, error) {
	var (
		e             model.LogEntry
		platformsJSON string
		success       int
		errorKind     string
		response      string
		createdAt     int64
	)

	err := rows.Scan(
		&e.TaskID,
		&e.Owner,
		&e.MediaRef,
		&e.Caption,
		&platformsJSON,
		&e.Attempt,
		&success,
		&e.Outcome.StatusCode,
		&errorKind,
		&e.Outcome.Message,
		&response,
		&createdAt,
	)
	if err != nil {
		return e, err
	}

	var platforms []string
	if err := json.Unmarshal([]byte(platformsJSON), &platforms); err != nil {
		return e, fmt.Errorf("invalid platforms column: %w", err)
	}
	if len(platforms) > 0 {
		e.Platforms = platforms
	}

	e.Outcome.Success = success == 1
	e.Outcome.ErrorKind = model.ErrorKind(errorKind)
	if response != "" {
		e.Outcome.Response = json.RawMessage(response)
	}
	e.Timestamp = time.Unix(0, createdAt).UTC()

	return e, nil
}
