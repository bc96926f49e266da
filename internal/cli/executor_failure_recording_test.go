package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"trainpipe/internal/state"
)

func TestFailureRecording_StepFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.failStep("train_image_classifier", "3")
	t.Setenv("MOCK_CKPT_DIR", h.trainDir)

	require.Equal(t, 3, h.exec(h.args("run")...).code)

	ctx := context.Background()
	s := openHistory(t, h)
	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]

	assert.Equal(t, state.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.ExitCode)
	assert.Equal(t, "train", run.FailedStep)
	assert.False(t, run.FinishedAt.IsZero())
	require.NotNil(t, run.Failure)
	assert.Equal(t, state.FailureClassExecution, run.Failure.Class)
	assert.True(t, run.Failure.Resumable)

	steps, err := s.LoadSteps(ctx, run.ID)
	require.NoError(t, err)
	got := map[string]string{}
	for _, st := range steps {
		got[st.Name] = st.Status
	}
	assert.Equal(t, map[string]string{"download": "SUCCEEDED", "train": "FAILED", "evaluate": "SKIPPED"}, got)

	cps, err := s.LoadCheckpoints(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, int64(100), cps[0].GlobalStep)
	assert.Equal(t, "train", cps[0].Step)
}

func TestFailureRecording_InterruptIsResumableSystemFailure(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, 130, h.run(ctx, nil, h.args("run")...).code)

	runs, err := openHistory(t, h).ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusInterrupted, runs[0].Status)
	require.NotNil(t, runs[0].Failure)
	assert.Equal(t, state.FailureClassSystem, runs[0].Failure.Class)
}

func TestHistory_ListAndShow(t *testing.T) {
	h := newHarness(t)
	t.Setenv("MOCK_CKPT_DIR", h.trainDir)
	require.Equal(t, ExitSuccess, h.exec(h.args("run")...).code)
	h.failStep("eval_image_classifier", "4")
	require.Equal(t, 4, h.exec(h.args("run")...).code)

	list := h.exec(h.args("history")...)
	require.Equal(t, ExitSuccess, list.code, list.stderr)
	lines := strings.Split(strings.TrimSpace(list.stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "RUN ID"))
	assert.Contains(t, lines[1], "failed")
	assert.Contains(t, lines[1], "evaluate")
	assert.Contains(t, lines[2], "succeeded")

	limited := h.exec(h.args("history", "--limit", "1")...)
	require.Equal(t, ExitSuccess, limited.code)
	assert.Len(t, strings.Split(strings.TrimSpace(limited.stdout), "\n"), 2)

	runID := strings.Fields(lines[2])[0]
	show := h.exec(h.args("history", "show", runID)...)
	require.Equal(t, ExitSuccess, show.code, show.stderr)
	assert.Contains(t, show.stdout, "id: "+runID)
	assert.Contains(t, show.stdout, "status: succeeded")
	assert.Contains(t, show.stdout, "name: evaluate")
	assert.Contains(t, show.stdout, "global_step: 100")

	missing := h.exec(h.args("history", "show", "no-such-run")...)
	assert.Equal(t, ExitInvalidInvocation, missing.code)
}

func TestFailureRecording_CancelWhileStepStartsIsInterruption(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel between the scheduling decision and the process start.
	logger := zaptest.NewLogger(t, zaptest.WrapOptions(zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "step started" {
			cancel()
		}
		return nil
	})))

	out := h.run(ctx, &App{Logger: logger}, h.args("run")...)
	require.Equal(t, 130, out.code, out.stderr)
	assert.Empty(t, h.invocations())

	s := openHistory(t, h)
	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusInterrupted, runs[0].Status)
	assert.Equal(t, 130, runs[0].ExitCode)

	steps, err := s.LoadSteps(context.Background(), runs[0].ID)
	require.NoError(t, err)
	for _, st := range steps {
		assert.Equal(t, "SKIPPED", st.Status, st.Name)
	}
}

func TestFailureRecording_UnusableLogDirIsConfigFailure(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(h.dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	out := h.exec(append(h.args("run"), "--log-dir="+filepath.Join(blocker, "logs"))...)
	assert.Equal(t, ExitConfigError, out.code)
	assert.Empty(t, h.invocations())

	runs, err := openHistory(t, h).ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Failure)
	assert.Equal(t, state.FailureClassConfig, runs[0].Failure.Class)
	assert.False(t, runs[0].Failure.Resumable)
}

func TestHistory_NoRunsCreatesNothing(t *testing.T) {
	h := newHarness(t)

	list := h.exec(h.args("history")...)
	require.Equal(t, ExitSuccess, list.code, list.stderr)
	assert.Equal(t, 1, len(strings.Split(strings.TrimSpace(list.stdout), "\n")))

	show := h.exec(h.args("history", "show", "abc")...)
	assert.Equal(t, ExitInvalidInvocation, show.code)

	_, err := os.Stat(h.trainDir)
	assert.True(t, os.IsNotExist(err), "history must not create the train dir")
}
