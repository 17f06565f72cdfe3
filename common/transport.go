package common

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/ndrezn/devtools-protocol/log"
)

// Each JSON message on the wire is terminated by a single NUL byte.
const messageDelimiter byte = 0x00

// Transport is a duplex channel carrying CDP messages to and from the
// browser process.
type Transport interface {
	// Send serializes and writes one complete message.
	Send(msg *cdproto.Message) error
	// Recv blocks until a full message is available and returns it. Once the
	// peer end is closed and buffered data is drained it returns an error
	// wrapping ErrTransportClosed.
	Recv() (*cdproto.Message, error)
	// Close closes both directions. It is idempotent.
	Close() error
}

// Ensure PipeTransport implements the Transport interface.
var _ Transport = &PipeTransport{}

// PipeTransport frames CDP messages over the standard streams of a spawned
// browser process: NUL-delimited JSON, no newlines. The reader retains
// partial frame data between Recv calls.
//
// At most one goroutine may call Recv at a time; the Connection enforces
// this single-reader discipline.
type PipeTransport struct {
	r  io.ReadCloser
	w  io.WriteCloser
	br *bufio.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	logger *log.Logger
}

// NewPipeTransport creates a transport reading messages from r (the
// process's stdout) and writing them to w (the process's stdin).
func NewPipeTransport(r io.ReadCloser, w io.WriteCloser, logger *log.Logger) *PipeTransport {
	return &PipeTransport{
		r:      r,
		w:      w,
		br:     bufio.NewReader(r),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// Send implements the Transport interface. The payload and its terminator
// go out in a single write so messages are never interleaved on the wire.
func (t *PipeTransport) Send(msg *cdproto.Message) error {
	if t.isClosed() {
		return fmt.Errorf("writing message: %w", ErrTransportClosed)
	}

	encoder := jwriter.Writer{}
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	buf, _ := encoder.BuildBytes()
	buf = append(buf, messageDelimiter)

	t.logger.Tracef("cdp:send", "-> %s", buf[:len(buf)-1])

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(buf); err != nil {
		if t.isClosed() {
			return fmt.Errorf("writing message: %w", ErrTransportClosed)
		}
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Recv implements the Transport interface.
func (t *PipeTransport) Recv() (*cdproto.Message, error) {
	for {
		frame, err := t.br.ReadBytes(messageDelimiter)
		if err != nil {
			if len(frame) > 0 && !errors.Is(err, io.EOF) {
				t.logger.Debugf("cdp:recv", "discarding %d bytes of partial frame", len(frame))
			}
			return nil, fmt.Errorf("reading message: %w: %v", ErrTransportClosed, err)
		}
		frame = frame[:len(frame)-1]
		if len(frame) == 0 {
			continue
		}

		t.logger.Tracef("cdp:recv", "<- %s", frame)

		var msg cdproto.Message
		decoder := jlexer.Lexer{Data: frame}
		msg.UnmarshalEasyJSON(&decoder)
		if err := decoder.Error(); err != nil {
			return nil, fmt.Errorf("unmarshaling message: %w", err)
		}
		return &msg, nil
	}
}

// Close implements the Transport interface.
func (t *PipeTransport) Close() error {
	var errW, errR error
	t.closeOnce.Do(func() {
		close(t.closed)
		errW = t.w.Close()
		errR = t.r.Close()
	})
	if errW != nil {
		return fmt.Errorf("closing transport write end: %w", errW)
	}
	if errR != nil {
		return fmt.Errorf("closing transport read end: %w", errR)
	}
	return nil
}

func (t *PipeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
