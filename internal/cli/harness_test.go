package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

// mockPython stands in for the interpreter. It logs the script name and
// arguments (tab separated) to $MOCK_LOG, then exits with $MOCK_FAIL_CODE
// when the script is $MOCK_FAIL.
const mockPython = `#!/bin/sh
name=$(basename "$1" .py)
shift
{
  printf '%s' "$name"
  for a in "$@"; do printf '\t%s' "$a"; done
  printf '\n'
} >> "$MOCK_LOG"
echo "running $name"
if [ "$name" = "train_image_classifier" ] && [ -n "$MOCK_CKPT_DIR" ]; then
  : > "$MOCK_CKPT_DIR/model.ckpt-100.index"
fi
if [ "$name" = "$MOCK_FAIL" ]; then
  exit "${MOCK_FAIL_CODE:-1}"
fi
exit 0
`

type harness struct {
	t          *testing.T
	dir        string
	trainDir   string
	datasetDir string
	python     string
	log        string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:          t,
		dir:        dir,
		trainDir:   filepath.Join(dir, "cifarnet-model"),
		datasetDir: filepath.Join(dir, "cifar10"),
		python:     filepath.Join(dir, "python"),
		log:        filepath.Join(dir, "invocations.log"),
	}
	if err := os.WriteFile(h.python, []byte(mockPython), 0o755); err != nil {
		t.Fatalf("write mock python: %v", err)
	}
	for _, k := range []string{"TRAIN_DIR", "DATASET_DIR", "TRAINPIPE_TRAIN_DIR", "TRAINPIPE_DATASET_DIR", "TRAINPIPE_CONFIG", "MOCK_FAIL", "MOCK_FAIL_CODE", "MOCK_CKPT_DIR"} {
		t.Setenv(k, "")
	}
	t.Setenv("MOCK_LOG", h.log)
	return h
}

func (h *harness) failStep(script string, code string) {
	h.t.Setenv("MOCK_FAIL", script)
	h.t.Setenv("MOCK_FAIL_CODE", code)
}

func (h *harness) args(command ...string) []string {
	return append(command,
		"--train-dir="+h.trainDir,
		"--dataset-dir="+h.datasetDir,
		"--python="+h.python,
		"--grace-period=2s",
	)
}

type cliOutput struct {
	code   int
	stdout string
	stderr string
}

func (h *harness) run(ctx context.Context, app *App, args ...string) cliOutput {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	if app == nil {
		app = &App{}
	}
	app.Stdout = &stdout
	app.Stderr = &stderr
	if app.Logger == nil {
		app.Logger = zaptest.NewLogger(h.t)
	}
	code := app.Run(ctx, args)
	return cliOutput{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func (h *harness) exec(args ...string) cliOutput {
	h.t.Helper()
	return h.run(context.Background(), nil, args...)
}

// invocations returns the logged mock calls as [script, args...].
func (h *harness) invocations() [][]string {
	h.t.Helper()
	b, err := os.ReadFile(h.log)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		h.t.Fatalf("read invocation log: %v", err)
	}
	var out [][]string
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if line == "" {
			continue
		}
		out = append(out, strings.Split(line, "\t"))
	}
	return out
}

func (h *harness) scripts() []string {
	var names []string
	for _, inv := range h.invocations() {
		names = append(names, inv[0])
	}
	return names
}

func (h *harness) resetLog() {
	h.t.Helper()
	if err := os.Remove(h.log); err != nil && !os.IsNotExist(err) {
		h.t.Fatalf("reset log: %v", err)
	}
}
