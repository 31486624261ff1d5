package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/kbingest/core"
	bstore "github.com/poiesic/kbingest/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunState_UpdateRollsBackFailedWrite(t *testing.T) {
	store, err := bstore.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	run := &core.PipelineRun{ID: core.NewID(), KBID: "kb1", Status: core.RunQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Runs().CreateRun(ctx, run))

	runs := &checkpointFailingRuns{RunRepository: store.Runs()}
	state := newRunState(run, runs)
	require.NoError(t, state.transition(ctx, core.RunRunning, nil))

	err = state.update(ctx, func(run *core.PipelineRun) {
		run.MarkPageCompleted("https://example.com/")
		run.Progress.PagesDone++
	})
	require.Error(t, err)

	got := state.snapshot()
	assert.Empty(t, got.CompletedPageURLs)
	assert.Zero(t, got.Progress.PagesDone)
	assert.Equal(t, core.RunRunning, got.Status)

	stored, err := store.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CompletedPageURLs)

	require.NoError(t, state.update(ctx, func(run *core.PipelineRun) { run.Stage = core.StageEmbed }))
	assert.Equal(t, core.StageEmbed, state.snapshot().Stage)
}
