package s3

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/model"
)

// Scheme is the media reference scheme served by this source, as in
// `s3://bucket/path/video.mp4`.
const Scheme = "s3"

const defaultRegion = "us-east-1"

// SourceConfig is the configuration of the S3 media source.
type SourceConfig struct {
	// Endpoint is the S3 compatible server host, without scheme.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	// Region skips the bucket location lookup when set. Defaults to us-east-1.
	Region string
	Logger log.Logger
}

func (c *SourceConfig) defaults() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Region == "" {
		c.Region = defaultRegion
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "media.S3Source"})
	return nil
}

// Source streams media objects from an S3 compatible storage.
type Source struct {
	client *minio.Client
	logger log.Logger
}

// NewSource returns a new S3 media source.
func NewSource(cfg SourceConfig) (*Source, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create S3 client: %w", err)
	}

	return &Source{client: client, logger: cfg.Logger}, nil
}

var _ media.Source = (*Source)(nil)

// Open opens an `s3://bucket/key` reference. The object size is known before
// any content is read.
func (s *Source) Open(ctx context.Context, ref string) (*media.Media, error) {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		switch minio.ToErrorResponse(err).Code {
		case minio.NoSuchKey, minio.NoSuchBucket:
			return nil, fmt.Errorf("object %s: %w", ref, model.ErrNotFound)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	s.logger.Debugf("Opened %s (%d bytes)", ref, st.Size)
	return &media.Media{ReadCloser: obj, Name: path.Base(key), Size: st.Size}, nil
}

// ParseRef splits an S3 media reference into bucket and object key.
func ParseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%q is not an %s reference: %w", ref, Scheme, model.ErrNotValid)
	}

	bucket, key, _ = strings.Cut(rest, "/")
	key = strings.TrimLeft(key, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%q must be %s://<bucket>/<key>: %w", ref, Scheme, model.ErrNotValid)
	}

	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("invalid object key %q: %w", key, model.ErrNotValid)
	}

	return bucket, clean, nil
}
