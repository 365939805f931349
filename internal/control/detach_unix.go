//go:build unix

package control

import (
	"os/exec"
	"syscall"
)

// detach puts the agent in its own session so terminal signals aimed at the
// caller do not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
