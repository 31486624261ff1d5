package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/poiesic/kbingest"
	"github.com/poiesic/kbingest/core"
)

// ProgressTracker prints a one-line summary of a pipeline run whenever its
// stage or counters change.
type ProgressTracker struct {
	writer    io.Writer
	pageLimit int
	last      core.Progress
	lastStage core.Stage
	reported  bool
	startTime time.Time
	started   bool
	mu        sync.Mutex
}

// NewProgressTracker creates a tracker writing to writer. pageLimit is the
// most pages the run may fetch; 0 hides the page percentage.
func NewProgressTracker(writer io.Writer, pageLimit int) *ProgressTracker {
	return &ProgressTracker{
		writer:    writer,
		pageLimit: pageLimit,
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.reported = false
}

// Update reports the run's state if it changed since the last report.
func (p *ProgressTracker) Update(status *kbingest.PipelineStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	if p.reported && status.Stage == p.lastStage && status.Progress == p.last {
		return
	}
	p.report(status)
}

// Finish prints the final state followed by a newline.
func (p *ProgressTracker) Finish(status *kbingest.PipelineStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.report(status)
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report(status *kbingest.PipelineStatus) {
	p.last = status.Progress
	p.lastStage = status.Stage
	p.reported = true

	pr := status.Progress
	elapsed := time.Since(p.startTime).Seconds()

	var line string
	switch status.Stage {
	case core.StageEmbed, core.StageIndex:
		percentage := 0.0
		if pr.ChunksTotal > 0 {
			percentage = float64(pr.ChunksEmbedded) / float64(pr.ChunksTotal) * 100.0
		}
		line = fmt.Sprintf("[%s] chunks: %d/%d embedded (%.1f%%), %d indexed, %d failed",
			status.Stage, pr.ChunksEmbedded, pr.ChunksTotal, percentage, pr.ChunksIndexed, pr.ChunksFailed)
	default:
		done := pr.PagesDone + pr.PagesSkipped
		rate := 0.0
		if elapsed > 0 {
			rate = float64(pr.PagesDone) / elapsed
		}
		if p.pageLimit > 0 {
			line = fmt.Sprintf("[%s] pages: %d/%d (%.1f%%), %d failed - %.1f pages/s",
				status.Stage, done, p.pageLimit, float64(done)/float64(p.pageLimit)*100.0, pr.PagesFailed, rate)
		} else {
			line = fmt.Sprintf("[%s] pages: %d, %d failed - %.1f pages/s",
				status.Stage, done, pr.PagesFailed, rate)
		}
	}
	fmt.Fprintf(p.writer, "\r%s: %s", status.Status, line)
}
