package common

import (
	"bufio"
	"io"
	"sync"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/ndrezn/devtools-protocol/log"
)

// testPeer plays the browser's side of the pipe framing inside the test
// process.
type testPeer struct {
	t         testing.TB
	transport *PipeTransport

	in  *io.PipeReader
	out *io.PipeWriter

	writeMu sync.Mutex

	cmdsMu sync.Mutex
	cmds   []*cdproto.Message

	closeOnce sync.Once
}

func newTestPeer(t testing.TB, handler func(p *testPeer, msg *cdproto.Message)) *testPeer {
	t.Helper()

	libReader, peerWriter := io.Pipe()
	peerReader, libWriter := io.Pipe()

	p := &testPeer{
		t:         t,
		transport: NewPipeTransport(libReader, libWriter, log.NewNullLogger()),
		in:        peerReader,
		out:       peerWriter,
	}
	go func() {
		br := bufio.NewReader(p.in)
		for {
			frame, err := br.ReadBytes(0x00)
			if err != nil {
				return
			}
			frame = frame[:len(frame)-1]
			if len(frame) == 0 {
				continue
			}
			var msg cdproto.Message
			decoder := jlexer.Lexer{Data: frame}
			msg.UnmarshalEasyJSON(&decoder)
			if err := decoder.Error(); err != nil {
				p.t.Errorf("test peer: unmarshaling message: %v", err)
				return
			}
			p.cmdsMu.Lock()
			p.cmds = append(p.cmds, &msg)
			p.cmdsMu.Unlock()
			if handler != nil {
				handler(p, &msg)
			}
		}
	}()
	t.Cleanup(p.close)
	return p
}

func (p *testPeer) write(msg *cdproto.Message) {
	encoder := jwriter.Writer{}
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		p.t.Errorf("test peer: marshaling message: %v", err)
		return
	}
	buf, _ := encoder.BuildBytes()
	buf = append(buf, 0x00)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.out.Write(buf); err != nil && err != io.ErrClosedPipe {
		p.t.Errorf("test peer: writing message: %v", err)
	}
}

func (p *testPeer) respond(msg *cdproto.Message, result string) {
	p.write(&cdproto.Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Result:    easyjson.RawMessage(result),
	})
}

func (p *testPeer) emit(sessionID target.SessionID, method, params string) {
	p.write(&cdproto.Message{
		SessionID: sessionID,
		Method:    cdproto.MethodType(method),
		Params:    easyjson.RawMessage(params),
	})
}

func (p *testPeer) commands() []*cdproto.Message {
	p.cmdsMu.Lock()
	defer p.cmdsMu.Unlock()
	return append([]*cdproto.Message(nil), p.cmds...)
}

func (p *testPeer) close() {
	p.closeOnce.Do(func() {
		_ = p.out.Close()
		_ = p.in.Close()
	})
}

// targetHandler answers the target domain commands a Browser issues while
// initializing and managing tabs.
func targetHandler(p *testPeer, msg *cdproto.Message) {
	switch msg.Method {
	case cdproto.MethodType(target.CommandGetTargets):
		p.respond(msg, `{"targetInfos":[
			{"targetId":"default_tab","type":"page","title":"","url":"about:blank","attached":false},
			{"targetId":"background_worker","type":"service_worker","title":"","url":"","attached":false}
		]}`)
	case cdproto.MethodType(target.CommandCreateTarget):
		p.respond(msg, `{"targetId":"created_tab"}`)
	case cdproto.MethodType(target.CommandAttachToTarget):
		var params target.AttachToTargetParams
		if err := easyjson.Unmarshal(msg.Params, &params); err != nil {
			p.t.Errorf("test peer: unmarshaling attach params: %v", err)
			return
		}
		p.respond(msg, `{"sessionId":"session_for_`+string(params.TargetID)+`"}`)
	case cdproto.MethodType(target.CommandAttachToBrowserTarget):
		p.respond(msg, `{"sessionId":"browser_session"}`)
	case cdproto.MethodType(target.CommandCloseTarget):
		p.respond(msg, `{"success":true}`)
	default:
		if msg.ID != 0 {
			p.respond(msg, `{}`)
		}
	}
}

// stubProcess implements Process for shutdown tests.
type stubProcess struct {
	exitOnTerminate bool
	exitOnKill      bool

	mu             sync.Mutex
	terminateCalls int
	killCalls      int

	exitOnce sync.Once
	done     chan struct{}
}

func newStubProcess() *stubProcess {
	return &stubProcess{done: make(chan struct{})}
}

func (p *stubProcess) exit() {
	p.exitOnce.Do(func() { close(p.done) })
}

func (p *stubProcess) Pid() int { return 99999 }

func (p *stubProcess) Done() <-chan struct{} { return p.done }

func (p *stubProcess) Terminate() error {
	p.mu.Lock()
	p.terminateCalls++
	p.mu.Unlock()
	if p.exitOnTerminate {
		p.exit()
	}
	return nil
}

func (p *stubProcess) Kill() error {
	p.mu.Lock()
	p.killCalls++
	p.mu.Unlock()
	if p.exitOnKill {
		p.exit()
	}
	return nil
}

func (p *stubProcess) signalCounts() (terminates, kills int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminateCalls, p.killCalls
}
