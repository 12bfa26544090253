package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/model"
)

const (
	// DefaultEndpoint is the Upload-Post video upload endpoint.
	DefaultEndpoint = "https://api.upload-post.com/api/upload"
	// DefaultAuthScheme is the Authorization scheme the credential is sent with.
	DefaultAuthScheme = "Apikey"
	// DefaultTimeout bounds a single upload attempt, large media included.
	DefaultTimeout = 10 * time.Minute

	defaultMaxResponseBytes = 1 << 20
	defaultFileField        = "video"
	defaultContentType      = "video/mp4"
)

var mediaContentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
}

// ClientConfig is the configuration of the upload client.
type ClientConfig struct {
	// APIKey is the credential, sent opaque in the Authorization header.
	APIKey string
	// AuthScheme prefixes the credential in the Authorization header.
	AuthScheme string
	Endpoint   string
	HTTPClient *http.Client
	// Timeout bounds each upload attempt, expiring as a local error.
	Timeout time.Duration
	// MaxResponseBytes caps how much of the response body is read.
	MaxResponseBytes int64
	// Media opens the media references. Defaults to the local filesystem.
	Media  media.Source
	Logger log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.AuthScheme == "" {
		c.AuthScheme = DefaultAuthScheme
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultMaxResponseBytes
	}
	if c.Media == nil {
		c.Media = media.Local
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "upload.Client"})
	return nil
}

// Client uploads media to the publishing API. It is stateless and safe for
// concurrent use.
type Client struct {
	authHeader   string
	endpoint     string
	httpClient   *http.Client
	timeout      time.Duration
	maxRespBytes int64
	media        media.Source
	logger       log.Logger
}

// NewClient returns a new upload client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		authHeader:   cfg.AuthScheme + " " + cfg.APIKey,
		endpoint:     cfg.Endpoint,
		httpClient:   cfg.HTTPClient,
		timeout:      cfg.Timeout,
		maxRespBytes: cfg.MaxResponseBytes,
		media:        cfg.Media,
		logger:       cfg.Logger,
	}, nil
}

// Upload performs one multipart upload. Every failure is returned as a failed
// outcome, onProgress is optional.
func (c *Client) Upload(ctx context.Context, req model.UploadRequest, onProgress ProgressFunc) model.UploadOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m, err := c.media.Open(ctx, req.MediaRef)
	if err != nil {
		return model.FailedOutcome(model.ErrorKindLocal, 0, "could not open media: %s", err)
	}
	defer m.Close()

	head, tail, contentType, err := multipartEnvelope(req, m.Name)
	if err != nil {
		return model.FailedOutcome(model.ErrorKindLocal, 0, "could not build request body: %s", err)
	}

	total := int64(len(head)) + m.Size + int64(len(tail))
	var body io.Reader = io.MultiReader(bytes.NewReader(head), m, bytes.NewReader(tail))
	if onProgress != nil {
		body = newProgressReader(body, total, onProgress)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return model.FailedOutcome(model.ErrorKindLocal, 0, "could not create request: %s", err)
	}
	httpReq.ContentLength = total
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", c.authHeader)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debugf("Uploading %s (%d bytes) as %s", req.MediaRef, total, req.Owner)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.FailedOutcome(model.ErrorKindLocal, 0, "upload timed out after %s", c.timeout)
		}
		return model.FailedOutcome(model.ErrorKindLocal, 0, "upload request failed: %s", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxRespBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.FailedOutcome(model.ErrorKindLocal, resp.StatusCode, "upload timed out after %s", c.timeout)
		}
		return model.FailedOutcome(model.ErrorKindLocal, resp.StatusCode, "could not read response: %s", err)
	}

	return classify(resp.StatusCode, respBody)
}

// apiResponse is the subset of the upload API response the client inspects.
type apiResponse struct {
	Success *bool                     `json:"success"`
	Message string                    `json:"message"`
	Error   string                    `json:"error"`
	Results map[string]platformResult `json:"results"`
}

type platformResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func classify(status int, body []byte) model.UploadOutcome {
	switch {
	case status == http.StatusUnauthorized:
		return model.FailedOutcome(model.ErrorKindUnauthorized, status, "upload API unauthorized (401), check the API key")
	case status < 200 || status > 299:
		return model.FailedOutcome(model.ErrorKindRemote, status, "upload API returned %s: %s", http.StatusText(status), bodyDetail(body))
	}

	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.FailedOutcome(model.ErrorKindRemote, status, "invalid response payload: %s", bodyDetail(body))
	}

	if payload.Success == nil || !*payload.Success {
		msg := payload.Error
		if msg == "" {
			msg = payload.Message
		}
		if msg == "" {
			msg = bodyDetail(body)
		}
		return model.FailedOutcome(model.ErrorKindRemote, status, "upload not successful: %s", msg)
	}

	// A successful request may still have been rejected by some platforms.
	var platformErrs []string
	for platform, res := range payload.Results {
		if res.Success {
			continue
		}
		msg := res.Error
		if msg == "" {
			msg = "unknown platform error"
		}
		platformErrs = append(platformErrs, platform+": "+msg)
	}
	if len(platformErrs) > 0 {
		sort.Strings(platformErrs)
		return model.FailedOutcome(model.ErrorKindRemote, status, "%s", strings.Join(platformErrs, "; "))
	}

	return model.UploadOutcome{
		Success:    true,
		StatusCode: status,
		Response:   json.RawMessage(body),
	}
}

func bodyDetail(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty body"
	}
	return s
}

// multipartEnvelope returns the encoded form fields plus the file part header
// (head), and the closing boundary (tail). The file content goes between both.
func multipartEnvelope(req model.UploadRequest, name string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("title", req.Caption); err != nil {
		return nil, nil, "", err
	}
	if err := mw.WriteField("user", req.Owner); err != nil {
		return nil, nil, "", err
	}
	for _, p := range req.Platforms {
		if err := mw.WriteField("platform[]", p); err != nil {
			return nil, nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, defaultFileField, escapeQuotes(name)))
	h.Set("Content-Type", mediaContentType(name))
	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", err
	}
	headLen := buf.Len()

	if err := mw.Close(); err != nil {
		return nil, nil, "", err
	}

	data := buf.Bytes()
	return data[:headLen], data[headLen:], mw.FormDataContentType(), nil
}

func mediaContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mediaContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
