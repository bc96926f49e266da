package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainpipe/internal/dag"
)

type panicExecutor struct{}

func (panicExecutor) Run(context.Context, *dag.Graph, dag.StepRunner, *dag.Plan, dag.Observer) (*dag.Result, error) {
	panic("boom")
}

func TestRun_AllStepsSucceed_InOrderWithExactArgs(t *testing.T) {
	h := newHarness(t)

	out := h.exec(h.args("run")...)
	require.Equal(t, ExitSuccess, out.code, out.stderr)

	want := [][]string{
		{
			"download_and_convert_data",
			"--dataset_name=cifar10",
			"--dataset_dir=" + h.datasetDir,
		},
		{
			"train_image_classifier",
			"--train_dir=" + h.trainDir,
			"--dataset_name=cifar10",
			"--dataset_split_name=train",
			"--dataset_dir=" + h.datasetDir,
			"--model_name=cifarnet",
			"--preprocessing_name=cifarnet",
			"--max_number_of_steps=100000",
			"--batch_size=128",
			"--save_interval_secs=120",
			"--save_summaries_secs=120",
			"--log_every_n_steps=100",
			"--optimizer=sgd",
			"--learning_rate=0.1",
			"--learning_rate_decay_factor=0.1",
			"--num_epochs_per_decay=200",
			"--weight_decay=0.004",
		},
		{
			"eval_image_classifier",
			"--checkpoint_path=" + h.trainDir,
			"--eval_dir=" + h.trainDir,
			"--dataset_name=cifar10",
			"--dataset_split_name=test",
			"--dataset_dir=" + h.datasetDir,
			"--model_name=cifarnet",
		},
	}
	if diff := cmp.Diff(want, h.invocations()); diff != "" {
		t.Fatalf("invocations mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, out.stdout, "running download_and_convert_data\n")
	assert.Empty(t, out.stderr)
}

func TestRun_PathsWithSpacesPassedUnchanged(t *testing.T) {
	h := newHarness(t)
	h.trainDir = filepath.Join(h.dir, "my model")

	out := h.exec(h.args("run")...)
	require.Equal(t, ExitSuccess, out.code, out.stderr)
	invs := h.invocations()
	require.Len(t, invs, 3)
	assert.Equal(t, "--train_dir="+h.trainDir, invs[1][1])
}

func TestRun_HaltsOnFailure_ReturnsStepCode(t *testing.T) {
	h := newHarness(t)
	h.failStep("train_image_classifier", "3")

	out := h.exec(h.args("run")...)
	assert.Equal(t, 3, out.code)
	assert.Equal(t, []string{"download_and_convert_data", "train_image_classifier"}, h.scripts())
	assert.Contains(t, out.stderr, "step=train")
}

func TestRun_FirstStepFailure_StopsImmediately(t *testing.T) {
	h := newHarness(t)
	h.failStep("download_and_convert_data", "7")

	out := h.exec(h.args("run")...)
	assert.Equal(t, 7, out.code)
	assert.Equal(t, []string{"download_and_convert_data"}, h.scripts())
}

func TestRun_LastStepFailure(t *testing.T) {
	h := newHarness(t)
	h.failStep("eval_image_classifier", "1")

	out := h.exec(h.args("run")...)
	assert.Equal(t, 1, out.code)
	assert.Len(t, h.invocations(), 3)
}

func TestRun_MissingInterpreter_ExitsNotFound(t *testing.T) {
	h := newHarness(t)
	h.python = filepath.Join(h.dir, "no-such-python")

	out := h.exec(h.args("run")...)
	assert.Equal(t, 127, out.code)
	assert.Empty(t, h.invocations())
}

func TestRun_CancelledContext_RunsNothing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.run(ctx, nil, h.args("run")...)
	assert.Equal(t, dag.ExitInterrupted, out.code)
	assert.Empty(t, h.invocations())
}

func TestRun_DryRun_PrintsCommandsOnly(t *testing.T) {
	h := newHarness(t)

	out := h.exec(h.args("run", "--dry-run")...)
	require.Equal(t, ExitSuccess, out.code, out.stderr)
	assert.Empty(t, h.invocations())

	lines := strings.Split(strings.TrimSpace(out.stdout), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "# plan "))
	assert.Equal(t, "# download", lines[1])
	assert.Equal(t, h.python+" download_and_convert_data.py --dataset_name=cifar10 --dataset_dir="+h.datasetDir, lines[2])
	assert.Equal(t, "# train", lines[3])
	assert.Equal(t, "# evaluate", lines[5])
}

func TestPlan_MatchesDryRun(t *testing.T) {
	h := newHarness(t)
	plan := h.exec(h.args("plan")...)
	dry := h.exec(h.args("run", "--dry-run")...)
	require.Equal(t, ExitSuccess, plan.code, plan.stderr)
	assert.Equal(t, dry.stdout, plan.stdout)
}

func TestPlan_StructuredFormats(t *testing.T) {
	h := newHarness(t)

	js := h.exec(h.args("plan", "--format=json")...)
	require.Equal(t, ExitSuccess, js.code, js.stderr)
	var doc struct {
		PlanHash string `json:"plan_hash"`
		Steps    []struct {
			Name     string   `json:"name"`
			Program  string   `json:"program"`
			Args     []string `json:"args"`
			WatchDir string   `json:"watch_dir"`
		} `json:"steps"`
		Edges []dag.Edge `json:"edges"`
	}
	require.NoError(t, json.Unmarshal([]byte(js.stdout), &doc))
	assert.NotEmpty(t, doc.PlanHash)
	require.Len(t, doc.Steps, 3)
	assert.Equal(t, h.trainDir, doc.Steps[1].WatchDir)
	assert.Equal(t, []dag.Edge{{From: "download", To: "train"}, {From: "train", To: "evaluate"}}, doc.Edges)

	y := h.exec(h.args("plan", "-o", "yaml")...)
	require.Equal(t, ExitSuccess, y.code, y.stderr)
	assert.Contains(t, y.stdout, "plan_hash: "+doc.PlanHash)

	bad := h.exec(h.args("plan", "--format=xml")...)
	assert.Equal(t, ExitInvalidInvocation, bad.code)
}

func TestRun_TraceWrittenOnFailure(t *testing.T) {
	h := newHarness(t)
	h.failStep("train_image_classifier", "3")
	tracePath := filepath.Join(h.dir, "out", "trace.json")

	out := h.exec(h.args("run", "--trace", tracePath)...)
	require.Equal(t, 3, out.code)

	b, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	var decoded struct {
		PlanHash string `json:"planHash"`
		Events   []struct {
			Kind        string `json:"kind"`
			StepID      string `json:"stepId"`
			ExitCode    int    `json:"exitCode"`
			Reason      string `json:"reason"`
			CauseStepID string `json:"causeStepId"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.NotEmpty(t, decoded.PlanHash)
	require.Len(t, decoded.Events, 3)
	assert.Equal(t, "StepExecuted", decoded.Events[0].Kind)
	assert.Equal(t, "download", decoded.Events[0].StepID)
	assert.Equal(t, "StepSkipped", decoded.Events[1].Kind)
	assert.Equal(t, "evaluate", decoded.Events[1].StepID)
	assert.Equal(t, "train", decoded.Events[1].CauseStepID)
	assert.Equal(t, "StepFailed", decoded.Events[2].Kind)
	assert.Equal(t, 3, decoded.Events[2].ExitCode)
}

func TestRun_TraceIsByteStableAcrossRuns(t *testing.T) {
	h := newHarness(t)
	first := filepath.Join(h.dir, "t1.json")
	second := filepath.Join(h.dir, "t2.json")

	require.Equal(t, ExitSuccess, h.exec(h.args("run", "--trace", first)...).code)
	require.Equal(t, ExitSuccess, h.exec(h.args("run", "--trace", second)...).code)

	b1, err := os.ReadFile(first)
	require.NoError(t, err)
	b2, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestRun_Panic_ExitsInternalAndWritesTrace(t *testing.T) {
	h := newHarness(t)
	tracePath := filepath.Join(h.dir, "trace.json")

	out := h.run(context.Background(), &App{Executor: panicExecutor{}}, h.args("run", "--trace", tracePath)...)
	assert.Equal(t, ExitInternalError, out.code)
	assert.Contains(t, out.stderr, "panic: boom")

	b, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.NotEmpty(t, decoded["planHash"])
}

func TestRun_LogDirReceivesStepOutput(t *testing.T) {
	h := newHarness(t)
	logDir := filepath.Join(h.dir, "logs")

	out := h.exec(h.args("run", "--log-dir", logDir)...)
	require.Equal(t, ExitSuccess, out.code, out.stderr)

	for step, script := range map[string]string{
		"download": "download_and_convert_data",
		"train":    "train_image_classifier",
		"evaluate": "eval_image_classifier",
	} {
		b, err := os.ReadFile(filepath.Join(logDir, step+".log"))
		require.NoError(t, err, step)
		assert.Equal(t, "running "+script+"\n", string(b))
	}
}

func TestRun_ConfigFileAndIsolatedEnv(t *testing.T) {
	h := newHarness(t)
	t.Setenv("LEAKED", "host")
	marker := filepath.Join(h.dir, "env.txt")
	script := "#!/bin/sh\necho \"LEAKED=${LEAKED:-unset} MOCK_LOG=$MOCK_LOG\" > \"" + marker + "\"\n"
	require.NoError(t, os.WriteFile(h.python, []byte(script), 0o755))

	cfgPath := filepath.Join(h.dir, "trainpipe.yaml")
	doc := "inherit_env: false\nenv:\n  MOCK_LOG: /declared\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	out := h.exec(h.args("run", "--config", cfgPath)...)
	require.Equal(t, ExitSuccess, out.code, out.stderr)

	b, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "LEAKED=unset MOCK_LOG=/declared\n", string(b))
}
