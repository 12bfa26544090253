package upload

import (
	"io"
	"sync"
)

// ProgressFunc receives the bytes of the request body sent so far and the body
// total size. Calls are monotonic on sent.
type ProgressFunc func(sent, total int64)

// progressReader wraps the request body reporting every read to a ProgressFunc.
type progressReader struct {
	src   io.Reader
	total int64
	fn    ProgressFunc

	mu   sync.Mutex
	sent int64
}

func newProgressReader(src io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{src: src, total: total, fn: fn}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.src.Read(p)
	if n > 0 {
		pr.mu.Lock()
		pr.sent += int64(n)
		sent := pr.sent
		pr.fn(sent, pr.total)
		pr.mu.Unlock()
	}
	return n, err
}
