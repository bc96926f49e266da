package cli

import (
	"context"
	"fmt"
	"io"
)

// Run is the trainpipe entrypoint. It accepts the argument slice (excluding
// argv[0]) and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return (&App{Stdout: stdout, Stderr: stderr}).Run(ctx, args)
}

// Run executes the command line args against app.
func (a *App) Run(ctx context.Context, args []string) int {
	root := NewRootCommand(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.sync()
	if err == nil {
		return ExitSuccess
	}

	fmt.Fprintf(a.Stderr, "trainpipe: %v\n", err)
	code := ExitCode(err)
	if code == ExitInternalError && !a.started {
		// Unknown commands and bad arguments fail before any command runs.
		code = ExitInvalidInvocation
	}
	return code
}
