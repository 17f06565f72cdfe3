// Package pipetest provides an in-process substitute for a CDP-compatible
// browser on the other end of the pipe transport, for use in tests.
package pipetest

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

	"github.com/ndrezn/devtools-protocol/common"
	"github.com/ndrezn/devtools-protocol/log"
)

// Handler reacts to one decoded message from the library under test,
// usually by writing responses or events back through the peer.
type Handler func(p *Peer, msg *cdproto.Message)

// Peer speaks the NUL-delimited JSON framing from the browser's side of
// the pipe. Transport returns the library-facing end.
type Peer struct {
	t       testing.TB
	handler Handler

	transport *common.PipeTransport

	in  *io.PipeReader // what the library wrote
	out *io.PipeWriter // what the peer writes back

	writeMu sync.Mutex

	cmdsMu sync.Mutex
	cmds   []cdproto.MethodType

	closeOnce sync.Once
}

// NewPeer wires two in-memory pipes between the library transport and the
// fake browser and starts the peer's read loop with the given handler.
func NewPeer(t testing.TB, handler Handler) *Peer {
	t.Helper()

	libReader, peerWriter := io.Pipe()
	peerReader, libWriter := io.Pipe()

	p := &Peer{
		t:         t,
		handler:   handler,
		transport: common.NewPipeTransport(libReader, libWriter, log.NewNullLogger()),
		in:        peerReader,
		out:       peerWriter,
	}
	go p.readLoop()
	t.Cleanup(p.Close)
	return p
}

// Transport returns the library-facing end of the pipe.
func (p *Peer) Transport() *common.PipeTransport {
	return p.transport
}

// Commands returns the command methods received so far, in arrival order.
func (p *Peer) Commands() []cdproto.MethodType {
	p.cmdsMu.Lock()
	defer p.cmdsMu.Unlock()
	return append([]cdproto.MethodType(nil), p.cmds...)
}

// Write sends one message from the browser side.
func (p *Peer) Write(msg *cdproto.Message) {
	encoder := jwriter.Writer{}
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		p.t.Errorf("pipetest: marshaling message: %v", err)
		return
	}
	buf, _ := encoder.BuildBytes()
	buf = append(buf, 0x00)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.out.Write(buf); err != nil && err != io.ErrClosedPipe {
		p.t.Errorf("pipetest: writing message: %v", err)
	}
}

// Respond sends the response to msg with the given raw result.
func (p *Peer) Respond(msg *cdproto.Message, result string) {
	p.Write(&cdproto.Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Result:    easyjson.RawMessage(result),
	})
}

// Emit sends an event into the session identified by sessionID; empty
// means the root session.
func (p *Peer) Emit(sessionID target.SessionID, method, params string) {
	p.Write(&cdproto.Message{
		SessionID: sessionID,
		Method:    cdproto.MethodType(method),
		Params:    easyjson.RawMessage(params),
	})
}

// Close ends the fake browser: both pipe directions are closed and the
// library observes EOF, as it would when the process exits.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		_ = p.out.Close()
		_ = p.in.Close()
	})
}

func (p *Peer) readLoop() {
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
			p.t.Errorf("pipetest: unmarshaling message: %v", err)
			return
		}

		if msg.Method != "" {
			p.cmdsMu.Lock()
			p.cmds = append(p.cmds, msg.Method)
			p.cmdsMu.Unlock()
		}

		if p.handler != nil {
			p.handler(p, &msg)
		}
	}
}

// DefaultHandler answers the target domain commands a Browser issues while
// initializing and managing tabs, with fixed well-known ids.
func DefaultHandler(p *Peer, msg *cdproto.Message) {
	switch msg.Method {
	case cdproto.MethodType(target.CommandGetTargets):
		p.Respond(msg, `{"targetInfos":[
			{"targetId":"default_tab_0123456789","type":"page","title":"","url":"about:blank","attached":false},
			{"targetId":"worker_0123456789","type":"service_worker","title":"","url":"","attached":false}
		]}`)
	case cdproto.MethodType(target.CommandCreateTarget):
		p.Respond(msg, `{"targetId":"created_tab_0123456789"}`)
	case cdproto.MethodType(target.CommandAttachToTarget):
		var params target.AttachToTargetParams
		if err := easyjson.Unmarshal(msg.Params, &params); err != nil {
			p.t.Errorf("pipetest: unmarshaling attach params: %v", err)
			return
		}
		p.Respond(msg, `{"sessionId":"session_for_`+string(params.TargetID)+`"}`)
	case cdproto.MethodType(target.CommandAttachToBrowserTarget):
		p.Respond(msg, `{"sessionId":"browser_session_0123456789"}`)
	case cdproto.MethodType(target.CommandCloseTarget):
		p.Respond(msg, `{"success":true}`)
	default:
		p.Respond(msg, `{}`)
	}
}
