package common

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/ndrezn/devtools-protocol/log"
)

// Event is a protocol notification as delivered to subscribers.
type Event struct {
	Method string
	Params easyjson.RawMessage
}

// EventHandler receives matching events. Handlers run on the goroutine that
// reads the transport: the background reader, or the command caller in
// direct mode. A slow handler delays all further message processing.
type EventHandler func(Event)

type subscription struct {
	handler   EventHandler
	repeating bool
}

// Session is a routing context scoping commands and events to one target.
// The root browser session has the empty id. Message ids are assigned from
// a counter local to the session.
type Session struct {
	conn  *Connection
	id    target.SessionID
	msgID int64

	subsMu sync.Mutex
	subs   map[string]subscription

	logger *log.Logger
}

// NewSession creates a new session. The caller registers it on the
// connection so events carrying its id can be routed to it.
func NewSession(conn *Connection, id target.SessionID, logger *log.Logger) *Session {
	s := Session{
		conn:   conn,
		id:     id,
		subs:   make(map[string]subscription),
		logger: logger,
	}
	s.logger.Debugf("Session:NewSession", "sid:%v", id)
	return &s
}

// ID returns the session id; empty for the root browser session.
func (s *Session) ID() target.SessionID {
	return s.id
}

// Send issues a command and blocks (or, on a background connection, waits)
// until its response arrives. The session id is included on the wire only
// when non-empty. A response error payload is returned as *cdp.Error.
func (s *Session) Send(ctx context.Context, method string, params easyjson.Marshaler) (easyjson.RawMessage, error) {
	msg, err := s.buildMessage(method, params)
	if err != nil {
		return nil, err
	}
	return s.conn.send(ctx, msg)
}

// SendAsync issues a command without waiting for, or routing, a response.
// Used for commands whose response may never arrive, such as the graceful
// browser close.
func (s *Session) SendAsync(method string, params easyjson.Marshaler) error {
	msg, err := s.buildMessage(method, params)
	if err != nil {
		return err
	}
	return s.conn.sendAsync(msg)
}

func (s *Session) buildMessage(method string, params easyjson.Marshaler) (*cdproto.Message, error) {
	id := atomic.AddInt64(&s.msgID, 1)

	var buf easyjson.RawMessage
	if params != nil {
		b, err := easyjson.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", method, err)
		}
		buf = b
	}
	return &cdproto.Message{
		ID:        id,
		SessionID: s.id,
		Method:    cdproto.MethodType(method),
		Params:    buf,
	}, nil
}

// Subscribe registers handler for events whose method name exactly matches
// event. With repeating unset the subscription fires once and is removed
// before any further message is processed. Subscribing to an already
// registered name fails with ErrDuplicateSubscription.
func (s *Session) Subscribe(event string, handler EventHandler, repeating bool) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[event]; ok {
		return fmt.Errorf("%w: %q on session %q", ErrDuplicateSubscription, event, s.id)
	}
	s.subs[event] = subscription{handler: handler, repeating: repeating}
	return nil
}

// Unsubscribe removes the subscription for event, failing with
// ErrUnknownSubscription if none is registered.
func (s *Session) Unsubscribe(event string) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[event]; !ok {
		return fmt.Errorf("%w: %q on session %q", ErrUnknownSubscription, event, s.id)
	}
	delete(s.subs, event)
	return nil
}

// SubscribeOnce registers a one-shot subscription for event and returns a
// channel fulfilled with the first matching event, after which the
// subscription is gone. It goes through the same path as Subscribe and is
// subject to the same duplicate check.
func (s *Session) SubscribeOnce(event string) (<-chan Event, error) {
	ch := make(chan Event, 1)
	err := s.Subscribe(event, func(ev Event) {
		ch <- ev
		close(ch)
	}, false)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// dispatch delivers an event to the matching subscriber, if any. One-shot
// subscriptions are removed from the table before the handler is invoked,
// so they can never fire twice.
func (s *Session) dispatch(ev Event) {
	s.subsMu.Lock()
	sub, ok := s.subs[ev.Method]
	if ok && !sub.repeating {
		delete(s.subs, ev.Method)
	}
	s.subsMu.Unlock()

	if !ok {
		s.logger.Tracef("Session:dispatch", "sid:%v no subscriber for %s", s.id, ev.Method)
		return
	}
	sub.handler(ev)
}
