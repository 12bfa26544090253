package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
)

// Media is an opened media ready to be streamed.
type Media struct {
	io.ReadCloser
	// Name is the file name sent to the upload API.
	Name string
	// Size is the exact length of the content in bytes.
	Size int64
}

// Source opens media references.
type Source interface {
	Open(ctx context.Context, ref string) (*Media, error)
}

//go:generate mockery --case underscore --output mediamock --outpkg mediamock --name Source

// Scheme returns the scheme of a media reference, empty for local paths.
func Scheme(ref string) string {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" || strings.ContainsAny(scheme, `/\`) {
		return ""
	}
	return strings.ToLower(scheme)
}

// IsRemote returns true when the reference is not a local path.
func IsRemote(ref string) bool {
	return Scheme(ref) != ""
}

// Local opens media from the local filesystem.
var Local Source = localSource{}

type localSource struct{}

func (localSource) Open(ctx context.Context, ref string) (*Media, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory: %w", ref, model.ErrNotValid)
	}

	return &Media{ReadCloser: f, Name: filepath.Base(ref), Size: info.Size()}, nil
}

// RouterConfig is the configuration of the media router.
type RouterConfig struct {
	// Local opens references without scheme. Defaults to the local filesystem.
	Local Source
	// Remote maps a reference scheme to its source.
	Remote map[string]Source
	Logger log.Logger
}

func (c *RouterConfig) defaults() error {
	if c.Local == nil {
		c.Local = Local
	}

	remote := make(map[string]Source, len(c.Remote))
	for scheme, src := range c.Remote {
		if src == nil {
			return fmt.Errorf("source for scheme %q is nil", scheme)
		}
		remote[strings.ToLower(scheme)] = src
	}
	c.Remote = remote

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "media.Router"})
	return nil
}

// Router opens each reference with the source registered for its scheme.
type Router struct {
	local  Source
	remote map[string]Source
	logger log.Logger
}

// NewRouter returns a new media router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Router{
		local:  cfg.Local,
		remote: cfg.Remote,
		logger: cfg.Logger,
	}, nil
}

// Open opens the reference with the source of its scheme.
func (r *Router) Open(ctx context.Context, ref string) (*Media, error) {
	scheme := Scheme(ref)
	if scheme == "" {
		return r.local.Open(ctx, ref)
	}

	src, ok := r.remote[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported media scheme %q: %w", scheme, model.ErrNotValid)
	}

	r.logger.Debugf("Opening %s media %s", scheme, ref)
	return src.Open(ctx, ref)
}
