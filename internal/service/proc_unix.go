//go:build unix

package service

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// the worker gets its own process group, so browsers or helpers it spawns
// receive the same signals
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks the worker to exit. It returns os.ErrProcessDone when the
// worker has already been reaped.
func terminate(p *os.Process) error {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	signalGroup(p.Pid, syscall.SIGTERM)
	return nil
}

func kill(p *os.Process) error {
	signalGroup(p.Pid, syscall.SIGKILL)
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func signalGroup(pid int, sig syscall.Signal) {
	// ESRCH just means nothing is left in the group
	_ = syscall.Kill(-pid, sig)
}
