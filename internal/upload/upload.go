package upload

import (
	"context"

	"github.com/slok/postsched/internal/model"
)

// Uploader performs a single upload attempt of a task media.
type Uploader interface {
	Upload(ctx context.Context, req model.UploadRequest, onProgress ProgressFunc) model.UploadOutcome
}

var _ Uploader = (*Client)(nil)

//go:generate mockery --case underscore --output uploadmock --outpkg uploadmock --name Uploader
