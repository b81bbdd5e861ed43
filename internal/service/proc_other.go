//go:build !unix

package service

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

// terminate kills right away, there is no portable graceful signal.
func terminate(p *os.Process) error {
	return kill(p)
}

func kill(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return ErrProcessDone
	}
	return err
}
