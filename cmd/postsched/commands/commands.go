package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/postsched/internal/conventions"
	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/media/s3"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/printer"
	"github.com/slok/postsched/internal/storage"
	"github.com/slok/postsched/internal/storage/jsonl"
	"github.com/slok/postsched/internal/storage/sqlite"
	"github.com/slok/postsched/internal/upload"
	"github.com/slok/postsched/internal/upload/fake"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// ResultsBackendJSONL stores results as JSON lines.
	ResultsBackendJSONL = "jsonl"
	// ResultsBackendSQLite stores results in a SQLite database.
	ResultsBackendSQLite = "sqlite"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug          bool
	NoLog          bool
	NoColor        bool
	LoggerType     string
	DataDir        string
	ResultsBackend string
	APIKey         string
	AuthScheme     string
	Endpoint       string
	UploadTimeout  time.Duration
	NATSURL        string
	DryRun         bool
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3SSL          bool

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory where the upload results are stored.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("results-backend", "Storage of the upload results.").Default(ResultsBackendJSONL).EnumVar(&c.ResultsBackend, ResultsBackendJSONL, ResultsBackendSQLite)
	app.Flag("api-key", "Upload API key.").StringVar(&c.APIKey)
	app.Flag("auth-scheme", "Authorization header scheme the API key is sent with.").Default(upload.DefaultAuthScheme).StringVar(&c.AuthScheme)
	app.Flag("endpoint", "Upload API endpoint.").Default(upload.DefaultEndpoint).StringVar(&c.Endpoint)
	app.Flag("upload-timeout", "Maximum duration of a single upload.").Default(upload.DefaultTimeout.String()).DurationVar(&c.UploadTimeout)
	app.Flag("nats-url", "When set, status events are also published to this NATS server.").StringVar(&c.NATSURL)
	app.Flag("dry-run", "Simulate the uploads without calling the upload API.").BoolVar(&c.DryRun)
	app.Flag("s3-endpoint", "S3 compatible server (host:port) that serves s3://bucket/key media.").StringVar(&c.S3Endpoint)
	app.Flag("s3-access-key", "S3 access key ID.").StringVar(&c.S3AccessKey)
	app.Flag("s3-secret-key", "S3 secret access key.").StringVar(&c.S3SecretKey)
	app.Flag("s3-ssl", "Use TLS to connect to the S3 server.").Default("true").BoolVar(&c.S3SSL)

	return c
}

// newResultRepository opens the configured result log. The returned func closes it.
func (r *RootCommand) newResultRepository(ctx context.Context) (storage.ResultRepository, func() error, error) {
	switch r.ResultsBackend {
	case ResultsBackendSQLite:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: conventions.ResultsDBPath(r.DataDir),
			Logger: r.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create sqlite result log: %w", err)
		}
		return repo, repo.Close, nil
	default:
		repo, err := jsonl.NewResultLog(jsonl.ResultLogConfig{
			Path:   conventions.ResultsJSONLPath(r.DataDir),
			Logger: r.Logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create jsonl result log: %w", err)
		}
		return repo, repo.Close, nil
	}
}

// newResultReader opens the configured result log for reading only.
func (r *RootCommand) newResultReader(ctx context.Context) (storage.ResultReader, func() error, error) {
	if r.ResultsBackend == ResultsBackendJSONL {
		return jsonlFileReader(conventions.ResultsJSONLPath(r.DataDir)), func() error { return nil }, nil
	}
	return r.newResultRepository(ctx)
}

type jsonlFileReader string

func (p jsonlFileReader) ListResults(ctx context.Context) ([]model.LogEntry, error) {
	return jsonl.ReadFile(ctx, string(p))
}

// newMediaSource returns the source media references are opened with.
func (r *RootCommand) newMediaSource() (media.Source, error) {
	remote := map[string]media.Source{}
	if r.S3Endpoint != "" {
		src, err := s3.NewSource(s3.SourceConfig{
			Endpoint:        r.S3Endpoint,
			AccessKeyID:     r.S3AccessKey,
			SecretAccessKey: r.S3SecretKey,
			UseSSL:          r.S3SSL,
			Logger:          r.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create S3 media source: %w", err)
		}
		remote[s3.Scheme] = src
	}

	return media.NewRouter(media.RouterConfig{Remote: remote, Logger: r.Logger})
}

// newUploader returns the upload client, or a simulated one on dry runs.
func (r *RootCommand) newUploader() (upload.Uploader, error) {
	src, err := r.newMediaSource()
	if err != nil {
		return nil, err
	}

	if r.DryRun {
		return fake.NewUploader(fake.UploaderConfig{Duration: 2 * time.Second, Media: src, Logger: r.Logger})
	}

	if r.APIKey == "" {
		return nil, fmt.Errorf("an API key is required, use --api-key or POSTSCHED_API_KEY")
	}

	return upload.NewClient(upload.ClientConfig{
		APIKey:     r.APIKey,
		AuthScheme: r.AuthScheme,
		Endpoint:   r.Endpoint,
		Timeout:    r.UploadTimeout,
		Media:      src,
		Logger:     r.Logger,
	})
}

func newPrinter(format string, w io.Writer) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}
