package common

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndrezn/devtools-protocol/log"
)

func newSessionPair(t *testing.T, handler func(p *testPeer, msg *cdproto.Message)) (*testPeer, *Session) {
	t.Helper()
	p := newTestPeer(t, handler)
	conn := NewConnection(p.transport, true, log.NewNullLogger())
	t.Cleanup(func() { _ = conn.Close() })
	s := NewSession(conn, "session_one", log.NewNullLogger())
	conn.registerSession(s)
	return p, s
}

func TestSessionMessageIDsPerSession(t *testing.T) {
	t.Parallel()

	p := newTestPeer(t, func(p *testPeer, msg *cdproto.Message) {
		p.respond(msg, `{}`)
	})
	conn := NewConnection(p.transport, true, log.NewNullLogger())
	defer conn.Close()

	s1 := NewSession(conn, "session_one", log.NewNullLogger())
	s2 := NewSession(conn, "session_two", log.NewNullLogger())
	conn.registerSession(s1)
	conn.registerSession(s2)

	for _, s := range []*Session{s1, s2} {
		for i := 0; i < 3; i++ {
			_, err := s.Send(context.Background(), "Custom.cmd", nil)
			require.NoError(t, err)
		}
	}

	// Each session numbers its own commands from 1.
	seen := make(map[string][]int64)
	for _, msg := range p.commands() {
		sid := string(msg.SessionID)
		seen[sid] = append(seen[sid], msg.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, seen["session_one"])
	assert.Equal(t, []int64{1, 2, 3}, seen["session_two"])
}

func TestSessionSubscribeDuplicate(t *testing.T) {
	t.Parallel()

	_, s := newSessionPair(t, nil)

	require.NoError(t, s.Subscribe("Custom.event", func(Event) {}, true))
	err := s.Subscribe("Custom.event", func(Event) {}, false)
	assert.ErrorIs(t, err, ErrDuplicateSubscription)
}

func TestSessionUnsubscribeUnknown(t *testing.T) {
	t.Parallel()

	_, s := newSessionPair(t, nil)

	err := s.Unsubscribe("Custom.event")
	assert.ErrorIs(t, err, ErrUnknownSubscription)

	require.NoError(t, s.Subscribe("Custom.event", func(Event) {}, true))
	require.NoError(t, s.Unsubscribe("Custom.event"))
	assert.ErrorIs(t, s.Unsubscribe("Custom.event"), ErrUnknownSubscription)
}

func TestSessionOneShotFiresOnce(t *testing.T) {
	t.Parallel()

	fired := make(chan Event, 3)
	_, s := newSessionPair(t, nil)
	require.NoError(t, s.Subscribe("Custom.event", func(ev Event) {
		fired <- ev
	}, false))

	s.dispatch(Event{Method: "Custom.event"})
	s.dispatch(Event{Method: "Custom.event"})
	s.dispatch(Event{Method: "Custom.event"})

	assert.Len(t, fired, 1)

	// The slot is free again once the one-shot has fired.
	require.NoError(t, s.Subscribe("Custom.event", func(Event) {}, false))
}

func TestSessionRepeatingFiresUntilUnsubscribed(t *testing.T) {
	t.Parallel()

	fired := 0
	_, s := newSessionPair(t, nil)
	require.NoError(t, s.Subscribe("Custom.event", func(Event) {
		fired++
	}, true))

	s.dispatch(Event{Method: "Custom.event"})
	s.dispatch(Event{Method: "Custom.event"})
	require.NoError(t, s.Unsubscribe("Custom.event"))
	s.dispatch(Event{Method: "Custom.event"})

	assert.Equal(t, 2, fired)
}

func TestSessionDispatchExactMatchOnly(t *testing.T) {
	t.Parallel()

	fired := 0
	_, s := newSessionPair(t, nil)
	require.NoError(t, s.Subscribe("Custom.event", func(Event) {
		fired++
	}, true))

	s.dispatch(Event{Method: "Custom.eventExtra"})
	s.dispatch(Event{Method: "custom.event"})
	s.dispatch(Event{Method: "Custom.event"})

	assert.Equal(t, 1, fired)
}

func TestSessionSubscribeOnce(t *testing.T) {
	t.Parallel()

	p, s := newSessionPair(t, nil)

	ch, err := s.SubscribeOnce("Custom.event")
	require.NoError(t, err)

	// Subject to the same duplicate check as Subscribe.
	_, err = s.SubscribeOnce("Custom.event")
	assert.ErrorIs(t, err, ErrDuplicateSubscription)

	p.emit("session_one", "Custom.event", `{"n":1}`)

	select {
	case ev := <-ch:
		assert.Equal(t, "Custom.event", ev.Method)
		assert.JSONEq(t, `{"n":1}`, string(ev.Params))
	case <-time.After(time.Second):
		t.Fatal("one-shot event not delivered")
	}

	// Channel is closed after the single delivery.
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSessionEventForOtherSessionNotDelivered(t *testing.T) {
	t.Parallel()

	p, s := newSessionPair(t, func(p *testPeer, msg *cdproto.Message) {
		p.respond(msg, `{}`)
	})

	fired := make(chan Event, 1)
	require.NoError(t, s.Subscribe("Custom.event", func(ev Event) {
		fired <- ev
	}, true))

	p.emit("session_other", "Custom.event", `{}`)
	// A command round-trip fences the event delivery above.
	_, err := s.Send(context.Background(), "Custom.cmd", nil)
	require.NoError(t, err)

	assert.Len(t, fired, 0)
}
