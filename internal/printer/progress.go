package printer

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const progressBarWidth = 40

// ProgressBar renders upload progress on a single terminal line.
type ProgressBar struct {
	w     io.Writer
	label string

	mu      sync.Mutex
	lastPct int
}

// NewProgressBar creates a new progress bar writing to w.
func NewProgressBar(w io.Writer, label string) *ProgressBar {
	return &ProgressBar{w: w, label: label, lastPct: -1}
}

// Update redraws the bar, it matches upload.ProgressFunc. Only whole percent
// changes are drawn.
func (p *ProgressBar) Update(sent, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if total <= 0 {
		fmt.Fprintf(p.w, "\r  %s %s sent", p.label, FormatBytes(sent))
		return
	}

	pct := int(sent * 100 / total)
	if pct == p.lastPct {
		return
	}
	p.lastPct = pct

	filled := min(pct*progressBarWidth/100, progressBarWidth)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", progressBarWidth-filled)
	fmt.Fprintf(p.w, "\r  %s [%s] %3d%% %s / %s", p.label, bar, pct, FormatBytes(sent), FormatBytes(total))
}

// Finish ends the progress line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
}
