package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/upload"
)

// UploaderConfig is the configuration for the fake uploader.
type UploaderConfig struct {
	// Duration is how long a simulated upload takes.
	Duration time.Duration
	// Steps is the number of progress reports of a simulated upload.
	Steps int
	// Media opens the media references. Defaults to the local filesystem.
	Media  media.Source
	Logger log.Logger
}

func (c *UploaderConfig) defaults() error {
	if c.Duration < 0 {
		return fmt.Errorf("duration can't be negative")
	}
	if c.Steps <= 0 {
		c.Steps = 10
	}
	if c.Media == nil {
		c.Media = media.Local
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "upload.Fake"})
	return nil
}

// Uploader is a fake implementation of the upload.Uploader interface.
// It checks the media can be opened and simulates the transfer without any
// network call.
type Uploader struct {
	duration time.Duration
	steps    int
	media    media.Source
	logger   log.Logger
}

var _ upload.Uploader = (*Uploader)(nil)

// NewUploader creates a new fake uploader.
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Uploader{
		duration: cfg.Duration,
		steps:    cfg.Steps,
		media:    cfg.Media,
		logger:   cfg.Logger,
	}, nil
}

// Upload simulates an upload of the request media.
func (u *Uploader) Upload(ctx context.Context, req model.UploadRequest, onProgress upload.ProgressFunc) model.UploadOutcome {
	m, err := u.media.Open(ctx, req.MediaRef)
	if err != nil {
		return model.FailedOutcome(model.ErrorKindLocal, 0, "could not open media: %s", err)
	}
	m.Close()

	total := m.Size
	step := u.duration / time.Duration(u.steps)
	for i := 1; i <= u.steps; i++ {
		if step > 0 {
			select {
			case <-ctx.Done():
				return model.FailedOutcome(model.ErrorKindLocal, 0, "upload interrupted: %s", ctx.Err())
			case <-time.After(step):
			}
		}
		if onProgress != nil {
			onProgress(total*int64(i)/int64(u.steps), total)
		}
	}

	results := map[string]any{}
	for _, p := range req.Platforms {
		results[p] = map[string]any{"success": true}
	}
	resp, _ := json.Marshal(map[string]any{
		"success": true,
		"dry_run": true,
		"results": results,
	})

	u.logger.Infof("Fake upload of %s (%d bytes) as %s", req.MediaRef, total, req.Owner)
	return model.UploadOutcome{Success: true, StatusCode: 200, Response: resp}
}
