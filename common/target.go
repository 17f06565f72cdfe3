package common

import (
	"github.com/chromedp/cdproto/target"
)

// Target is an addressable remote object: a page, a worker, or the browser
// itself. The browser reference is non-owning; the Browser's registry is
// the sole owner of each Tab.
type Target struct {
	id      target.ID
	browser *Browser
	session *Session
}

// ID returns the target id, unique across the live registry.
func (t *Target) ID() target.ID {
	return t.id
}

// Session returns the session attached to this target.
func (t *Target) Session() *Session {
	return t.session
}

// Tab is a page-kind target with an attached session. The session is
// attached when the Tab is created, never deferred.
type Tab struct {
	Target
}
