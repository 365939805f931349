package control

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// Function variables for substitution in tests.
var (
	osExecutable = os.Executable
	execCommand  = exec.Command
)

// ProcessInjector starts `<executable> agent` as a detached background
// process. The agent outlives the command that started it.
type ProcessInjector struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are appended after the agent subcommand, e.g. --config.
	Args   []string
	Logger *zap.Logger
}

// Inject starts the agent and returns once the process is launched.
func (p *ProcessInjector) Inject(_ context.Context) error {
	exe := p.Executable
	if exe == "" {
		var err error
		if exe, err = osExecutable(); err != nil {
			return fmt.Errorf("failed to find executable path: %w", err)
		}
	}
	args := append([]string{"agent"}, p.Args...)
	cmd := execCommand(exe, args...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start page agent: %w", err)
	}
	if p.Logger != nil {
		p.Logger.Info("Page agent started.", zap.Int("pid", cmd.Process.Pid))
	}
	return cmd.Process.Release()
}
