package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
)

const (
	statusOK    = "ok"
	statusError = "error"

	maxLineSize = 4 * 1024 * 1024
)

// ResultLogConfig is the configuration for the JSON lines result log.
type ResultLogConfig struct {
	Path   string
	Logger log.Logger
}

func (c *ResultLogConfig) defaults() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.JSONL"})
	return nil
}

// ResultLog appends one JSON object per line to a file, syncing every record to
// disk before returning.
type ResultLog struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	logger log.Logger
}

// NewResultLog opens (or creates) the log file in append mode.
func NewResultLog(cfg ResultLogConfig) (*ResultLog, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open result log: %w", err)
	}

	cfg.Logger.Debugf("JSONL result log opened at %s", cfg.Path)
	return &ResultLog{path: cfg.Path, file: f, logger: cfg.Logger}, nil
}

// Close closes the underlying file.
func (r *ResultLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// Append writes the entry as a single line and syncs it.
func (r *ResultLog) Append(ctx context.Context, entry model.LogEntry) error {
	data, err := json.Marshal(fromModel(entry))
	if err != nil {
		return fmt.Errorf("could not marshal entry: %w", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.Write(data); err != nil {
		return fmt.Errorf("could not write entry: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("could not sync result log: %w", err)
	}

	r.logger.Debugf("Appended result for task %s", entry.TaskID)
	return nil
}

// ListResults reads every record from the log. Lines that can't be decoded are
// returned as entries with only Raw set.
func (r *ResultLog) ListResults(ctx context.Context) ([]model.LogEntry, error) {
	return ReadFile(ctx, r.path)
}

// ReadFile reads a JSON lines result log. A missing file is an empty log.
func ReadFile(ctx context.Context, path string) ([]model.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not open result log: %w", err)
	}
	defer f.Close()

	var entries []model.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Timestamp.IsZero() {
			entries = append(entries, model.LogEntry{Raw: line})
			continue
		}
		entries = append(entries, rec.toModel())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read result log: %w", err)
	}

	return entries, nil
}

// record is the on-disk shape of a log entry.
type record struct {
	Timestamp  time.Time       `json:"timestamp"`
	TaskID     string          `json:"task_id"`
	User       string          `json:"user"`
	Video      string          `json:"video"`
	Caption    string          `json:"caption"`
	Platforms  []string        `json:"platforms,omitempty"`
	Attempt    int             `json:"attempt"`
	Status     string          `json:"status"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
}

func fromModel(e model.LogEntry) record {
	rec := record{
		Timestamp:  e.Timestamp.UTC(),
		TaskID:     e.TaskID,
		User:       e.Owner,
		Video:      e.MediaRef,
		Caption:    e.Caption,
		Platforms:  e.Platforms,
		Attempt:    e.Attempt,
		Status:     statusOK,
		StatusCode: e.Outcome.StatusCode,
	}
	if len(e.Outcome.Response) > 0 && json.Valid(e.Outcome.Response) {
		rec.Response = e.Outcome.Response
	}
	if !e.Outcome.Success {
		rec.Status = statusError
		rec.ErrorKind = string(e.Outcome.ErrorKind)
		rec.Error = e.Outcome.Message
	}
	return rec
}

func (r record) toModel() model.LogEntry {
	return model.LogEntry{
		TaskID:    r.TaskID,
		Owner:     r.User,
		MediaRef:  r.Video,
		Caption:   r.Caption,
		Platforms: r.Platforms,
		Attempt:   r.Attempt,
		Timestamp: r.Timestamp,
		Outcome: model.UploadOutcome{
			Success:    r.Status == statusOK,
			Response:   r.Response,
			StatusCode: r.StatusCode,
			ErrorKind:  model.ErrorKind(r.ErrorKind),
			Message:    r.Error,
		},
	}
}
