package common

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/ndrezn/devtools-protocol/log"
)

/*
	Connection routes CDP messages between the pipe Transport and the
	Sessions attached to it.

	Exactly one reader of the Transport exists at any instant. In background
	mode that reader is a goroutine owned by the Connection that drains the
	transport for the connection's whole lifetime. In direct mode there is no
	goroutine: the call issuing a command drives message consumption itself,
	under a mutex, until its own response arrives, dispatching any
	interleaved events along the way.

	Responses are matched to callers through the pending table, keyed by
	(session id, message id). Message ids are assigned per session, so the
	session id must be part of the key: two sessions issuing commands
	concurrently can produce colliding ids.
*/
type Connection struct {
	transport  Transport
	background bool
	logger     *log.Logger

	pendingMu sync.Mutex
	pending   map[pendingKey]chan pendingResult

	sessionsMu sync.RWMutex
	sessions   map[target.SessionID]*Session

	// Serializes drivers of Transport.Recv in direct mode.
	driveMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

type pendingKey struct {
	sessionID target.SessionID
	id        int64
}

type pendingResult struct {
	msg *cdproto.Message
	err error
}

// unpack turns a resolved pending entry into the caller-facing outcome. A
// response carrying an error payload becomes a *cdp.Error, surfaced only to
// the caller waiting on this entry.
func (r pendingResult) unpack() (easyjson.RawMessage, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.msg.Error != nil {
		return nil, r.msg.Error
	}
	return r.msg.Result, nil
}

// NewConnection creates a connection on top of the given transport. With
// background set, a reader goroutine drains the transport until it closes
// and any number of commands may be in flight concurrently; without it, each
// command call consumes messages on the calling goroutine and callers must
// not issue commands from multiple goroutines at once.
func NewConnection(transport Transport, background bool, logger *log.Logger) *Connection {
	c := Connection{
		transport:  transport,
		background: background,
		logger:     logger,
		pending:    make(map[pendingKey]chan pendingResult),
		sessions:   make(map[target.SessionID]*Session),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	if background {
		go c.readLoop()
	} else {
		close(c.done)
	}
	return &c
}

// send writes msg and blocks until the matching response arrives, the
// transport closes, or ctx is done. The result payload is returned as raw
// JSON; an error payload in the response is returned as *cdp.Error to this
// caller only.
func (c *Connection) send(ctx context.Context, msg *cdproto.Message) (easyjson.RawMessage, error) {
	key := pendingKey{msg.SessionID, msg.ID}
	ch := make(chan pendingResult, 1)

	c.pendingMu.Lock()
	if c.isClosed() {
		c.pendingMu.Unlock()
		return nil, ErrTransportClosed
	}
	c.pending[key] = ch
	c.pendingMu.Unlock()

	if err := c.transport.Send(msg); err != nil {
		c.removePending(key)
		if errors.Is(err, ErrTransportClosed) {
			c.terminate(err)
		}
		return nil, err
	}

	if c.background {
		select {
		case r := <-ch:
			return r.unpack()
		case <-ctx.Done():
			c.removePending(key)
			return nil, ctx.Err()
		}
	}
	return c.drive(ctx, key, ch)
}

// sendAsync writes msg without allocating a pending entry; no response is
// expected or waited for.
func (c *Connection) sendAsync(msg *cdproto.Message) error {
	return c.transport.Send(msg)
}

// drive consumes transport messages on the calling goroutine until the
// caller's own pending entry resolves. Events and other sessions' responses
// observed along the way are dispatched in arrival order.
func (c *Connection) drive(ctx context.Context, key pendingKey, ch chan pendingResult) (easyjson.RawMessage, error) {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	for {
		// A previous driver may have routed our response already.
		select {
		case r := <-ch:
			return r.unpack()
		default:
		}
		if err := ctx.Err(); err != nil {
			c.removePending(key)
			return nil, err
		}

		msg, err := c.transport.Recv()
		if err != nil {
			// Resolves every pending entry, ours included.
			c.terminate(err)
			r := <-ch
			return r.unpack()
		}
		c.route(msg)
	}
}

// readLoop is the background-mode reader. It is the only goroutine touching
// Transport.Recv for the lifetime of the connection.
func (c *Connection) readLoop() {
	defer close(c.done)
	for {
		msg, err := c.transport.Recv()
		if err != nil {
			c.logger.Debugf("cdp", "read loop ending: %v", err)
			c.terminate(err)
			return
		}
		c.route(msg)
	}
}

// route classifies one incoming message: a response resolves the pending
// entry keyed by (session id, message id); an event is delivered to the
// owning session's subscribers. Strict arrival order is preserved because
// route is only ever called by the single active reader.
func (c *Connection) route(msg *cdproto.Message) {
	switch {
	case msg.ID != 0:
		key := pendingKey{msg.SessionID, msg.ID}
		c.pendingMu.Lock()
		ch, ok := c.pending[key]
		if ok {
			delete(c.pending, key)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debugf("cdp", "response with no pending request: sid:%v id:%d", msg.SessionID, msg.ID)
			return
		}
		ch <- pendingResult{msg: msg}

	case msg.Method != "":
		session := c.getSession(msg.SessionID)
		if session == nil {
			c.logger.Debugf("cdp", "event %s for unknown session %q", msg.Method, msg.SessionID)
			return
		}
		session.dispatch(Event{Method: string(msg.Method), Params: msg.Params})

	default:
		c.logger.Errorf("cdp", "ignoring malformed incoming message (missing id and method): %#v", msg)
	}
}

// terminate marks the connection closed, closes the transport and resolves
// every outstanding pending request with a transport-closed failure. No
// pending request is ever left unresolved.
func (c *Connection) terminate(cause error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.transport.Close()

		err := cause
		if !errors.Is(err, ErrTransportClosed) {
			err = fmt.Errorf("%w: %v", ErrTransportClosed, cause)
		}

		c.pendingMu.Lock()
		for key, ch := range c.pending {
			delete(c.pending, key)
			ch <- pendingResult{err: err}
		}
		c.pendingMu.Unlock()
	})
}

// Close closes the transport and fails all in-flight commands with
// ErrTransportClosed. It is idempotent.
func (c *Connection) Close() error {
	c.terminate(ErrTransportClosed)
	return nil
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Connection) removePending(key pendingKey) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

func (c *Connection) registerSession(s *Session) {
	c.sessionsMu.Lock()
	c.sessions[s.id] = s
	c.sessionsMu.Unlock()
}

// deleteSession drops a session from the registry, typically when a target
// detached notification names it. Entries must be removed on detach or the
// registry grows without bound across tab churn.
func (c *Connection) deleteSession(id target.SessionID) {
	c.sessionsMu.Lock()
	delete(c.sessions, id)
	c.sessionsMu.Unlock()
}

func (c *Connection) getSession(id target.SessionID) *Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}
