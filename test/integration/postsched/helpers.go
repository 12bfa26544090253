package postsched

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slok/postsched/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
	// NATSURL enables the status bridge tests when set.
	NATSURL string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "postsched"
	}

	// go test changes the CWD to the test package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("POSTSCHED_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("postsched binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "POSTSCHED_INTEGRATION"
		envBinary     = "POSTSCHED_INTEGRATION_BINARY"
		envNATSURL    = "POSTSCHED_INTEGRATION_NATS_URL"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary:  os.Getenv(envBinary),
		NATSURL: os.Getenv(envNATSURL),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// env is an isolated postsched environment with its own data dir.
type env struct {
	t       *testing.T
	config  Config
	dataDir string
	global  []string
}

func newEnv(t *testing.T, config Config, extraGlobal ...string) *env {
	t.Helper()

	dataDir := t.TempDir()
	return &env{
		t:       t,
		config:  config,
		dataDir: dataDir,
		global:  append([]string{"--data-dir", dataDir}, extraGlobal...),
	}
}

func (e *env) run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	e.t.Helper()
	return testutils.RunPostschedArgs(ctx, nil, e.config.Binary, append(append([]string{}, e.global...), args...), true)
}

func writeFile(t *testing.T, path, data string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

// fakeAPI is an upload API that accepts a single API key.
type fakeAPI struct {
	*httptest.Server

	mu      sync.Mutex
	uploads []string
}

func newFakeAPI(t *testing.T, apiKey string) *fakeAPI {
	t.Helper()

	api := &fakeAPI{}
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Apikey "+apiKey {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, h, err := r.FormFile("video")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		api.mu.Lock()
		api.uploads = append(api.uploads, h.Filename)
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"results":{"tiktok":{"success":true}}}`)
	}))
	t.Cleanup(api.Close)

	return api
}

func (a *fakeAPI) Uploads() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.uploads...)
}
