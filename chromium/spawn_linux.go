//go:build linux

package chromium

import (
	"os/exec"
	"syscall"
)

// killAfterParent makes the kernel kill the browser if this process dies
// without running its shutdown sequence.
func killAfterParent(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
