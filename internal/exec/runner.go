package exec

import (
	"context"
	"strings"
	"time"

	"roomsync/internal/models"
)

// Runner is the container-backed Dispatcher.
type Runner struct {
	limits SandboxLimits
}

func NewRunner(limits SandboxLimits) *Runner { return &Runner{limits: limits} }

func DefaultLimits() SandboxLimits {
	return SandboxLimits{
		WallTime: 10 * time.Second,
		MemoryB:  512 * 1024 * 1024,
		NanoCPUs: 1_000_000_000,
	}
}

func (r *Runner) Dispatch(ctx context.Context, code string, lang models.Language) (Result, error) {
	_, image, fileName, cmds, err := langSpec(lang)
	if err != nil {
		return Result{}, err
	}

	sbx, err := NewSandbox(image, r.limits)
	if err != nil {
		return Result{}, err
	}

	var out, errS strings.Builder
	exit, timedOut, runErr := sbx.Run(ctx, fileName, []byte(code), cmds,
		func(p []byte) { out.Write(p) },
		func(p []byte) { errS.Write(p) },
	)
	if runErr != nil && !timedOut {
		return Result{}, runErr
	}

	return Result{
		Stdout:   out.String(),
		Stderr:   errS.String(),
		Exit:     exit,
		TimedOut: timedOut,
	}, nil
}
