package upload_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/media/mediamock"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/upload"
)

type receivedRequest struct {
	auth          string
	title         string
	user          string
	platforms     []string
	platformSent  bool
	fileName      string
	fileType      string
	fileData      []byte
	contentLength int64
}

func newTestClient(t *testing.T, handler http.Handler, timeout time.Duration) *upload.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := upload.NewClient(upload.ClientConfig{
		APIKey:   "secret-key",
		Endpoint: srv.URL + "/api/upload",
		Timeout:  timeout,
		Logger:   log.Noop,
	})
	require.NoError(t, err)
	return c
}

func writeMedia(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func capturingHandler(t *testing.T, got *receivedRequest, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.auth = r.Header.Get("Authorization")
		got.contentLength = r.ContentLength
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("invalid multipart body: %s", err)
			return
		}
		got.title = r.FormValue("title")
		got.user = r.FormValue("user")
		got.platforms, got.platformSent = r.MultipartForm.Value["platform[]"]

		f, h, err := r.FormFile("video")
		if err == nil {
			got.fileName = h.Filename
			got.fileType = h.Header.Get("Content-Type")
			got.fileData, _ = io.ReadAll(f)
			f.Close()
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestNewClient(t *testing.T) {
	_, err := upload.NewClient(upload.ClientConfig{})
	assert.Error(t, err, "missing api key should fail")

	c, err := upload.NewClient(upload.ClientConfig{APIKey: "k"})
	assert.NoError(t, err)
	assert.NotNil(t, c)
}

func TestClientUploadRequest(t *testing.T) {
	tests := map[string]struct {
		req          model.UploadRequest
		expPlatforms []string
		expFileType  string
	}{
		"Fields and file should be sent with repeated platforms.": {
			req: model.UploadRequest{
				Caption:   "my caption",
				Owner:     "alice",
				Platforms: []string{"tiktok", "instagram"},
			},
			expPlatforms: []string{"tiktok", "instagram"},
			expFileType:  "video/mp4",
		},
		"Empty platforms should send no platform field.": {
			req: model.UploadRequest{
				Caption: "no platforms",
				Owner:   "bob",
			},
			expFileType: "video/mp4",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			var got receivedRequest
			c := newTestClient(t, capturingHandler(t, &got, http.StatusOK, `{"success":true}`), time.Minute)

			content := []byte("fake-video-bytes")
			test.req.MediaRef = writeMedia(t, "clip.mp4", content)

			outcome := c.Upload(context.Background(), test.req, nil)

			assert.True(outcome.Success, "%+v", outcome)
			assert.Equal("Apikey secret-key", got.auth)
			assert.Equal(test.req.Caption, got.title)
			assert.Equal(test.req.Owner, got.user)
			assert.Equal(test.expPlatforms, got.platforms)
			assert.Equal(len(test.expPlatforms) > 0, got.platformSent)
			assert.Equal("clip.mp4", got.fileName)
			assert.Equal(test.expFileType, got.fileType)
			assert.Equal(content, got.fileData)
			assert.Greater(got.contentLength, int64(len(content)))
			assert.JSONEq(`{"success":true}`, string(outcome.Response))
		})
	}
}

func TestClientUploadOutcomes(t *testing.T) {
	tests := map[string]struct {
		status     int
		body       string
		expSuccess bool
		expKind    model.ErrorKind
		expMsg     string
	}{
		"A 2xx success payload should succeed.": {
			status:     http.StatusOK,
			body:       `{"success":true,"results":{"tiktok":{"success":true}}}`,
			expSuccess: true,
		},
		"A 401 should be unauthorized.": {
			status:  http.StatusUnauthorized,
			body:    `{"message":"invalid key"}`,
			expKind: model.ErrorKindUnauthorized,
			expMsg:  "check the API key",
		},
		"A 500 should be a remote error with the body.": {
			status:  http.StatusInternalServerError,
			body:    `database exploded`,
			expKind: model.ErrorKindRemote,
			expMsg:  "database exploded",
		},
		"A 400 should be a remote error.": {
			status:  http.StatusBadRequest,
			body:    `{"error":"caption too long"}`,
			expKind: model.ErrorKindRemote,
			expMsg:  "caption too long",
		},
		"A 2xx non JSON payload should be a remote error.": {
			status:  http.StatusOK,
			body:    `<html>ok</html>`,
			expKind: model.ErrorKindRemote,
			expMsg:  "invalid response payload",
		},
		"A 2xx payload with success false should be a remote error.": {
			status:  http.StatusOK,
			body:    `{"success":false,"error":"quota exceeded"}`,
			expKind: model.ErrorKindRemote,
			expMsg:  "quota exceeded",
		},
		"A 2xx payload with failed platforms should be a remote error.": {
			status:  http.StatusOK,
			body:    `{"success":true,"results":{"tiktok":{"success":false,"error":"video too short"},"youtube":{"success":true}}}`,
			expKind: model.ErrorKindRemote,
			expMsg:  "tiktok: video too short",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(test.status)
				_, _ = w.Write([]byte(test.body))
			})
			c := newTestClient(t, h, time.Minute)
			req := model.UploadRequest{MediaRef: writeMedia(t, "a.mp4", []byte("x")), Owner: "alice"}

			outcome := c.Upload(context.Background(), req, nil)

			assert.Equal(test.expSuccess, outcome.Success)
			assert.Equal(test.status, outcome.StatusCode)
			if !test.expSuccess {
				assert.Equal(test.expKind, outcome.ErrorKind)
				assert.Contains(outcome.Message, test.expMsg)
			}
		})
	}
}

func TestClientUploadLocalErrors(t *testing.T) {
	t.Run("Missing media should be a local error without network call.", func(t *testing.T) {
		called := false
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }), time.Minute)

		outcome := c.Upload(context.Background(), model.UploadRequest{MediaRef: "/does/not/exist.mp4", Owner: "a"}, nil)

		assert.False(t, outcome.Success)
		assert.Equal(t, model.ErrorKindLocal, outcome.ErrorKind)
		assert.Contains(t, outcome.Message, "could not open media")
		assert.False(t, called)
	})

	t.Run("A directory as media should be a local error.", func(t *testing.T) {
		c := newTestClient(t, http.NotFoundHandler(), time.Minute)
		outcome := c.Upload(context.Background(), model.UploadRequest{MediaRef: t.TempDir(), Owner: "a"}, nil)
		assert.Equal(t, model.ErrorKindLocal, outcome.ErrorKind)
	})

	t.Run("Connection failure should be a local error.", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, err := upload.NewClient(upload.ClientConfig{APIKey: "k", Endpoint: url})
		require.NoError(t, err)
		outcome := c.Upload(context.Background(), model.UploadRequest{MediaRef: writeMedia(t, "a.mp4", []byte("x")), Owner: "a"}, nil)

		assert.False(t, outcome.Success)
		assert.Equal(t, model.ErrorKindLocal, outcome.ErrorKind)
		assert.Contains(t, outcome.Message, "upload request failed")
	})

	t.Run("A hung server should time out as a local error.", func(t *testing.T) {
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		c := newTestClient(t, h, 50*time.Millisecond)

		outcome := c.Upload(context.Background(), model.UploadRequest{MediaRef: writeMedia(t, "a.mp4", []byte("x")), Owner: "a"}, nil)

		assert.False(t, outcome.Success)
		assert.Equal(t, model.ErrorKindLocal, outcome.ErrorKind)
		assert.Contains(t, outcome.Message, "timed out")
	})
}

func TestClientUploadProgress(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var got receivedRequest
	c := newTestClient(t, capturingHandler(t, &got, http.StatusOK, `{"success":true}`), time.Minute)

	content := make([]byte, 512*1024)
	for i := range content {
		content[i] = byte(i)
	}

	var mu sync.Mutex
	var sents []int64
	var totals []int64
	outcome := c.Upload(context.Background(), model.UploadRequest{
		MediaRef: writeMedia(t, "big.mov", content),
		Owner:    "alice",
	}, func(sent, total int64) {
		mu.Lock()
		defer mu.Unlock()
		sents = append(sents, sent)
		totals = append(totals, total)
	})

	require.True(outcome.Success, "%+v", outcome)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(sents)
	assert.Greater(len(sents), 1)
	for i := 1; i < len(sents); i++ {
		assert.GreaterOrEqual(sents[i], sents[i-1])
	}
	assert.Equal(got.contentLength, sents[len(sents)-1])
	for _, total := range totals {
		assert.Equal(got.contentLength, total)
	}
	assert.Equal("video/quicktime", got.fileType)
	assert.Equal(content, got.fileData)
}

func TestClientUploadRemoteMedia(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	content := "remote-video-bytes"
	src := mediamock.NewMockSource(t)
	src.On("Open", mock.Anything, "s3://videos/2026/launch.mov").Once().Return(&media.Media{
		ReadCloser: io.NopCloser(strings.NewReader(content)),
		Name:       "launch.mov",
		Size:       int64(len(content)),
	}, nil)

	var got receivedRequest
	srv := httptest.NewServer(capturingHandler(t, &got, http.StatusOK, `{"success":true}`))
	defer srv.Close()

	c, err := upload.NewClient(upload.ClientConfig{APIKey: "k", Endpoint: srv.URL, Media: src})
	require.NoError(err)

	outcome := c.Upload(context.Background(), model.UploadRequest{MediaRef: "s3://videos/2026/launch.mov", Owner: "alice"}, nil)

	require.True(outcome.Success, outcome.Message)
	assert.Equal("launch.mov", got.fileName)
	assert.Equal("video/quicktime", got.fileType)
	assert.Equal(content, string(got.fileData))
}
