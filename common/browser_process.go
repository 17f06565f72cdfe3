package common

import (
	"time"

	"github.com/ndrezn/devtools-protocol/log"
	"github.com/ndrezn/devtools-protocol/storage"
)

// Process is the handle of a spawned browser wrapper process. The chromium
// package provides the os/exec implementation; tests substitute fakes.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int
	// Done is closed once the process has been confirmed exited.
	Done() <-chan struct{}
	// Terminate asks the process to exit (SIGTERM where signals exist).
	Terminate() error
	// Kill forcefully ends the process.
	Kill() error
}

// BrowserProcess pairs the spawned process with the profile directory it
// writes to. Both are exclusively owned by one Browser for its lifetime.
type BrowserProcess struct {
	proc    Process
	dataDir *storage.Dir
	logger  *log.Logger
}

// NewBrowserProcess wraps a spawned process and its data directory.
func NewBrowserProcess(proc Process, dataDir *storage.Dir, logger *log.Logger) *BrowserProcess {
	return &BrowserProcess{
		proc:    proc,
		dataDir: dataDir,
		logger:  logger,
	}
}

// Pid returns the browser process id.
func (p *BrowserProcess) Pid() int {
	return p.proc.Pid()
}

// Exited reports whether the process has been confirmed exited.
func (p *BrowserProcess) Exited() bool {
	select {
	case <-p.proc.Done():
		return true
	default:
		return false
	}
}

// WaitExit waits up to timeout for the process to exit and reports whether
// it did.
func (p *BrowserProcess) WaitExit(timeout time.Duration) bool {
	select {
	case <-p.proc.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Terminate sends the platform's soft termination signal.
func (p *BrowserProcess) Terminate() error {
	return p.proc.Terminate()
}

// Kill forcefully ends the process.
func (p *BrowserProcess) Kill() error {
	return p.proc.Kill()
}

// Cleanup removes the profile directory. Removal failures are downgraded to
// warnings: a left-behind temp directory must never fail a shutdown that
// already confirmed process exit.
func (p *BrowserProcess) Cleanup() {
	if err := p.dataDir.Cleanup(); err != nil {
		p.logger.Warnf("browser", "could not remove the user data directory, execution will continue: %v", err)
	}
}
