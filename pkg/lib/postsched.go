package lib

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/client-go/util/homedir"

	"github.com/slok/postsched/internal/app/history"
	"github.com/slok/postsched/internal/conventions"
	"github.com/slok/postsched/internal/engine"
	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/storage"
	"github.com/slok/postsched/internal/storage/jsonl"
	"github.com/slok/postsched/internal/storage/sqlite"
	"github.com/slok/postsched/internal/upload"
	"github.com/slok/postsched/internal/upload/fake"
)

// Config configures the SDK client.
//
// Only APIKey is required, unless DryRun is set.
type Config struct {
	// APIKey is the upload API credential.
	APIKey string
	// AuthScheme prefixes the API key in the Authorization header.
	// Default: "Apikey".
	AuthScheme string
	// Endpoint is the upload API URL.
	// Default: https://api.upload-post.com/api/upload.
	Endpoint string
	// UploadTimeout bounds a single upload.
	// Default: 10m.
	UploadTimeout time.Duration

	// DataDir is the directory of the result log.
	// Default: ~/.postsched.
	DataDir string
	// ResultsBackend selects the result log storage.
	// Default: [ResultsBackendJSONL].
	ResultsBackend ResultsBackend

	// MaxConcurrent is the maximum number of uploads in flight.
	// Default: 4.
	MaxConcurrent int
	// IdlePoll is the maximum time between queue checks.
	// Default: 1s.
	IdlePoll time.Duration

	// DryRun simulates the uploads, the upload API is never called.
	DryRun bool
	// DryRunDuration is how long a simulated upload takes.
	// Default: 0, simulated uploads finish right away.
	DryRunDuration time.Duration

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.APIKey == "" && !c.DryRun {
		return fmt.Errorf("api key is required: %w", ErrNotValid)
	}

	if c.DataDir == "" {
		c.DataDir = filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	}

	switch c.ResultsBackend {
	case "":
		c.ResultsBackend = ResultsBackendJSONL
	case ResultsBackendJSONL, ResultsBackendSQLite:
	default:
		return fmt.Errorf("unknown results backend %q: %w", c.ResultsBackend, ErrNotValid)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point for scheduling uploads.
//
// Create a Client with [New], start it with [Client.Start] and release its
// resources with [Client.Shutdown] and [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	engine  *engine.Engine
	results storage.ResultRepository
	logger  log.Logger
	closeFn func() error
}

// New creates a new SDK client. Tasks submitted before [Client.Start] wait
// until the client is started.
//
// The caller must call [Client.Close] when done to release the result log.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	results, closeFn, err := newResultRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	uploader, err := newUploader(cfg)
	if err != nil {
		_ = closeFn()
		return nil, mapError(fmt.Errorf("could not create uploader: %w", err))
	}

	eng, err := engine.New(engine.Config{
		Uploader:      uploader,
		Results:       results,
		MaxConcurrent: cfg.MaxConcurrent,
		IdlePoll:      cfg.IdlePoll,
		Logger:        cfg.Logger,
	})
	if err != nil {
		_ = closeFn()
		return nil, mapError(fmt.Errorf("could not create engine: %w", err))
	}

	return &Client{
		engine:  eng,
		results: results,
		logger:  cfg.Logger,
		closeFn: closeFn,
	}, nil
}

func newResultRepository(ctx context.Context, cfg Config) (storage.ResultRepository, func() error, error) {
	if cfg.ResultsBackend == ResultsBackendSQLite {
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: conventions.ResultsDBPath(cfg.DataDir),
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create result log: %w", err)
		}
		return repo, repo.Close, nil
	}

	repo, err := jsonl.NewResultLog(jsonl.ResultLogConfig{
		Path:   conventions.ResultsJSONLPath(cfg.DataDir),
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create result log: %w", err)
	}
	return repo, repo.Close, nil
}

func newUploader(cfg Config) (upload.Uploader, error) {
	if cfg.DryRun {
		return fake.NewUploader(fake.UploaderConfig{Duration: cfg.DryRunDuration, Logger: cfg.Logger})
	}

	return upload.NewClient(upload.ClientConfig{
		APIKey:     cfg.APIKey,
		AuthScheme: cfg.AuthScheme,
		Endpoint:   cfg.Endpoint,
		Timeout:    cfg.UploadTimeout,
		Logger:     cfg.Logger,
	})
}

// Start starts firing the due tasks in the background. A client can only be
// started once.
func (c *Client) Start(ctx context.Context) error {
	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("could not start: %w: %w", err, ErrNotValid)
	}
	return nil
}

// Shutdown stops firing new tasks and waits until the in-flight uploads finish
// or ctx ends. Subscriber channels are closed afterwards.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.engine.Shutdown(ctx)
}

// Close releases the result log. After Close returns, the client must not be
// used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

// Submit schedules a new upload and returns its task ID.
//
// Returns [ErrNotValid] when the media or the owner are missing.
func (c *Client) Submit(ctx context.Context, desc TaskDescriptor) (string, error) {
	id, err := c.engine.Submit(ctx, toInternalTaskDescriptor(desc))
	if err != nil {
		return "", mapError(err)
	}
	return id, nil
}

// Cancel cancels a pending task. It returns false when the task had already
// fired or finished.
//
// Returns [ErrNotFound] if the task does not exist.
func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := c.engine.Cancel(ctx, id)
	if err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

// GetTask returns a task by ID.
//
// Returns [ErrNotFound] if the task does not exist.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := c.engine.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	task := fromInternalTask(*t)
	return &task, nil
}

// ListTasks returns every task ordered by scheduled time.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	ts, err := c.engine.Snapshot(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return fromInternalTaskList(ts), nil
}

// Subscribe returns a stream of status events and the func that ends it. The
// stream is closed on cancel and on [Client.Shutdown].
func (c *Client) Subscribe() (<-chan StatusEvent, func()) {
	in, cancelIn := c.engine.Subscribe()
	out := make(chan StatusEvent, cap(in))
	stop := make(chan struct{})

	go func() {
		defer close(out)
		for ev := range in {
			select {
			case <-stop:
				return
			default:
			}
			relay(out, fromInternalStatusEvent(ev))
		}
	}()

	var once sync.Once
	cancel := func() {
		cancelIn()
		once.Do(func() { close(stop) })
	}

	return out, cancel
}

// relay sends ev without blocking, when out is full its oldest event is
// dropped. The caller must be the only sender on out.
func relay(out chan StatusEvent, ev StatusEvent) {
	for {
		select {
		case out <- ev:
			return
		default:
		}

		select {
		case <-out:
		default:
		}
	}
}

// History returns the recorded uploads in the order they finished. opts is
// optional.
func (c *Client) History(ctx context.Context, opts *HistoryOpts) ([]LogEntry, error) {
	svc, err := history.NewService(history.ServiceConfig{Results: c.results, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	req := history.Request{}
	if opts != nil {
		req = history.Request{Owner: opts.Owner, FailedOnly: opts.FailedOnly, Last: opts.Last}
	}

	entries, err := svc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	return fromInternalLogEntries(entries), nil
}
