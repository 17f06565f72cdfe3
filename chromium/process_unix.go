//go:build !windows

package chromium

import "syscall"

// Terminate implements common.Process with a SIGTERM.
func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill implements common.Process.
func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
