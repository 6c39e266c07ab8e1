package generate

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
	"github.com/vikasgaddu1/sdtmforge/pkg/pipeline"
)

// DefaultExecTimeout bounds one program execution.
const DefaultExecTimeout = 10 * time.Minute

// ScriptExecutor runs generated programs under the configured interpreter
// (Rscript by default) and captures their output for diagnostics.
type ScriptExecutor struct {
	Interpreter string
	WorkDir     string
	Timeout     time.Duration
}

// LanguageForInterpreter maps a configured interpreter to the language the
// generation prompt requests. The program file extension follows the same
// rule, so a python3 interpreter gets .py files containing Python.
func LanguageForInterpreter(interpreter string) string {
	if strings.Contains(strings.ToLower(interpreter), "python") {
		return "Python"
	}
	return "R"
}

func NewScriptExecutor(interpreter, workDir string) *ScriptExecutor {
	if interpreter == "" {
		interpreter = "Rscript"
	}
	return &ScriptExecutor{Interpreter: interpreter, WorkDir: workDir, Timeout: DefaultExecTimeout}
}

// Execute runs one program. On failure the returned ExecResult still carries
// the captured stderr, which feeds the pitfall record.
func (e *ScriptExecutor) Execute(ctx context.Context, programPath string) (*pipeline.ExecResult, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.Interpreter, programPath)
	cmd.Dir = e.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.GetLogger().Debug(ctx, "executing %s %s", e.Interpreter, programPath)
	err := cmd.Run()
	result := &pipeline.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		code := errors.ExecutionFailed
		if runCtx.Err() == context.DeadlineExceeded {
			code = errors.Timeout
		}
		return result, errors.WithFields(
			errors.Wrap(err, code, "program execution failed"),
			errors.Fields{
				"interpreter": e.Interpreter,
				"program":     programPath,
			},
		)
	}
	return result, nil
}
