package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testOutput captures entries in memory for assertions.
type testOutput struct {
	entries []LogEntry
}

func (o *testOutput) Write(e LogEntry) error {
	o.entries = append(o.entries, e)
	return nil
}

func (o *testOutput) Sync() error  { return nil }
func (o *testOutput) Close() error { return nil }

func TestLoggerSeverityFiltering(t *testing.T) {
	out := &testOutput{}
	logger := NewLogger(Config{Severity: WARN, Outputs: []Output{out}})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	require.Len(t, out.entries, 2)
	assert.Equal(t, WARN, out.entries[0].Severity)
	assert.Equal(t, ERROR, out.entries[1].Severity)
}

func TestLoggerRunContext(t *testing.T) {
	out := &testOutput{}
	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{out}})

	ctx := WithRun(context.Background(), "XYZ-2026-001", "DM")
	ctx = WithStage(ctx, "compare")
	ctx = WithAttempt(ctx, 3)

	logger.Info(ctx, "comparing candidate datasets")

	require.Len(t, out.entries, 1)
	e := out.entries[0]
	assert.Equal(t, "XYZ-2026-001", e.Study)
	assert.Equal(t, "DM", e.Domain)
	assert.Equal(t, "compare", e.Stage)
	assert.Equal(t, 3, e.Attempt)
}

func TestLoggerDefaultFields(t *testing.T) {
	out := &testOutput{}
	logger := NewLogger(Config{
		Severity:      INFO,
		Outputs:       []Output{out},
		DefaultFields: map[string]interface{}{"component": "orchestrator"},
	})

	logger.Info(context.Background(), "starting")

	require.Len(t, out.entries, 1)
	assert.Equal(t, "orchestrator", out.entries[0].Fields["component"])
}

func TestConsoleOutputFormat(t *testing.T) {
	var buf bytes.Buffer
	out := &ConsoleOutput{writer: &buf, color: false}

	logger := NewLogger(Config{Severity: INFO, Outputs: []Output{out}})
	ctx := WithRun(context.Background(), "STUDY-A", "AE")
	ctx = WithStage(ctx, "production")
	logger.Info(ctx, "generated script")

	line := buf.String()
	assert.Contains(t, line, "generated script")
	assert.Contains(t, line, "[STUDY-A/AE]")
	assert.Contains(t, line, "[stage=production]")
	assert.NotContains(t, line, "\033[", "colors disabled")
}

func TestFileOutputWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	out, err := NewFileOutput(path)
	require.NoError(t, err)

	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{out}})
	ctx := WithRun(context.Background(), "STUDY-A", "DM")
	logger.Info(ctx, "first")
	logger.Warn(ctx, "second")
	require.NoError(t, out.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}

	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0]["message"])
	assert.Equal(t, "INFO", lines[0]["severity"])
	assert.Equal(t, "WARN", lines[1]["severity"])
	assert.Equal(t, "STUDY-A", lines[0]["study"])
}

func TestGetLoggerReturnsSingleton(t *testing.T) {
	// Reset and verify the lazily created default logger is reused.
	SetLogger(nil)
	l1 := GetLogger()
	l2 := GetLogger()
	assert.Same(t, l1, l2)
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, DEBUG, ParseSeverity("DEBUG"))
	assert.Equal(t, ERROR, ParseSeverity("ERROR"))
	assert.Equal(t, INFO, ParseSeverity("bogus"))
	assert.True(t, strings.EqualFold("warn", WARN.String()))
}
