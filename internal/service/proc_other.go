//go:build !unix

package service

import (
	"errors"
	"os"
	"os/exec"
)

func setProcAttr(_ *exec.Cmd) {}

// there is no portable graceful termination, so terminate kills
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
