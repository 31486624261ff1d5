package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
)

// runState serializes every mutation of a run and writes it through to
// storage while holding the lock, so concurrent page workers never lose each
// other's checkpoints.
type runState struct {
	runID string
	kbID  string

	mu        sync.Mutex
	run       *core.PipelineRun
	runs      storage.RunRepository
	cancelled atomic.Bool
	done      chan struct{}
}

func newRunState(run *core.PipelineRun, runs storage.RunRepository) *runState {
	s := &runState{
		runID: run.ID,
		kbID:  run.KBID,
		run:   run,
		runs:  runs,
		done:  make(chan struct{}),
	}
	if run.CancelRequested {
		s.cancelled.Store(true)
	}
	return s
}

// update applies fn to the run and persists the result. When the write
// fails the change is rolled back, so the in-memory run never holds a
// checkpoint that storage does not.
func (s *runState) update(ctx context.Context, fn func(run *core.PipelineRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := cloneRun(s.run)
	fn(s.run)
	if err := s.runs.UpdateRun(ctx, s.run); err != nil {
		*s.run = prev
		return err
	}
	return nil
}

// modify applies fn without persisting; the change is written with the next
// update.
func (s *runState) modify(fn func(run *core.PipelineRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.run)
}

// snapshot returns a copy of the run.
func (s *runState) snapshot() core.PipelineRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRun(s.run)
}

func cloneRun(run *core.PipelineRun) core.PipelineRun {
	cp := *run
	cp.CompletedPageURLs = append([]string(nil), run.CompletedPageURLs...)
	cp.ErrorLog = append([]core.ErrorEntry(nil), run.ErrorLog...)
	return cp
}

func (s *runState) hasCompleted(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.HasCompleted(url)
}

// transition moves the run to status after checking the move is legal.
func (s *runState) transition(ctx context.Context, status core.RunStatus, fn func(run *core.PipelineRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := core.ValidateTransition(s.run.Status, status); err != nil {
		return err
	}
	s.run.Status = status
	now := time.Now().UTC()
	switch {
	case status == core.RunRunning:
		s.run.StartedAt = now
	case status.IsTerminal():
		s.run.FinishedAt = now
	}
	if fn != nil {
		fn(s.run)
	}
	return s.runs.UpdateRun(ctx, s.run)
}

func (s *runState) requestCancel() {
	s.cancelled.Store(true)
}

func (s *runState) isCancelled() bool {
	return s.cancelled.Load()
}
