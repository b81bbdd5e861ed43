//go:build unix

package service

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the process into its own group, so signals reach
// everything it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func kill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return ErrProcessDone
	}
	return err
}
