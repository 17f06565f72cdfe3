package pipetest

import (
	"sync"
	"sync/atomic"
)

// StubProcess implements common.Process for shutdown tests. The flags
// decide which signal, if any, makes the fake process exit.
type StubProcess struct {
	ExitOnTerminate bool
	ExitOnKill      bool

	terminateCalls int32
	killCalls      int32

	exitOnce sync.Once
	done     chan struct{}
}

// NewStubProcess returns a running stub process.
func NewStubProcess() *StubProcess {
	return &StubProcess{done: make(chan struct{})}
}

// Exit marks the process exited; safe to call more than once.
func (p *StubProcess) Exit() {
	p.exitOnce.Do(func() { close(p.done) })
}

func (p *StubProcess) Pid() int { return 99999 }

func (p *StubProcess) Done() <-chan struct{} { return p.done }

func (p *StubProcess) Terminate() error {
	atomic.AddInt32(&p.terminateCalls, 1)
	if p.ExitOnTerminate {
		p.Exit()
	}
	return nil
}

func (p *StubProcess) Kill() error {
	atomic.AddInt32(&p.killCalls, 1)
	if p.ExitOnKill {
		p.Exit()
	}
	return nil
}

// TerminateCalls reports how many soft-kill signals were sent.
func (p *StubProcess) TerminateCalls() int {
	return int(atomic.LoadInt32(&p.terminateCalls))
}

// KillCalls reports how many hard-kill signals were sent.
func (p *StubProcess) KillCalls() int {
	return int(atomic.LoadInt32(&p.killCalls))
}
