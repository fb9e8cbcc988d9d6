package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// How long to wait for output pipes to drain after the collector was killed.
const killGrace = 5 * time.Second

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs a command and captures its output. When ctx expires the
// process must be stopped and the partial output returned together with the
// context error.
type Runner func(ctx context.Context, argv []string) (Result, error)

func defaultRunner(ctx context.Context, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("missing command")
	}

	command := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- argv is built by the executor
	command.WaitDelay = killGrace
	// the collector forks ssh workers; they must die with it
	killGroupOnCancel(command)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
