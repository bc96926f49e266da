package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSONDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := New(Options{OutputPaths: []string{path}})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("step started")
	_ = logger.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "{"), "expected JSON, got %q", b)
	assert.Contains(t, string(b), `"msg":"step started"`)
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatConsole} {
		logger, err := New(Options{Format: format, Verbose: true, OutputPaths: []string{filepath.Join(t.TempDir(), "log")}})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), format)
	}
}

func TestNew_ConsoleIsInfoByDefault(t *testing.T) {
	logger, err := New(Options{Format: FormatConsole, OutputPaths: []string{filepath.Join(t.TempDir(), "log")}})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	require.Error(t, err)
}
