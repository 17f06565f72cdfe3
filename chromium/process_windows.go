//go:build windows

package chromium

import (
	"errors"
	"os/exec"
	"strconv"
)

// Terminate implements common.Process. Windows has no signal to ask a
// process to exit, so the soft-kill stage is reported unsupported and the
// caller escalates to Kill.
func (p *execProcess) Terminate() error {
	return errors.New("termination signals are not supported on windows")
}

// Kill implements common.Process by force-terminating the whole process
// tree by pid.
func (p *execProcess) Kill() error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(p.Pid())).Run()
}
