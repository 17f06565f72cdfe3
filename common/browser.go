package common

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/ndrezn/devtools-protocol/log"
)

const (
	BrowserStateOpen int64 = iota
	BrowserStateClosing
	BrowserStateClosed
)

// Browser composes the spawned process, the root session and the tab
// registry. It is the entry point for tab and session lifecycle operations
// and owns the shutdown sequence.
type Browser struct {
	conn    *Connection
	process *BrowserProcess
	opts    *LaunchOptions
	root    *Session

	state int64

	tabsMu sync.RWMutex
	tabs   map[target.ID]*Tab
	// Enumeration preserves insertion order.
	tabOrder []target.ID

	logger *log.Logger
}

// NewBrowser assembles a browser handle on an already-connected transport
// and spawned process, discovers the initial page targets and attaches a
// session to each. The returned handle is fully initialized: both launch
// modes go through here and no tab or session operation is permitted
// earlier.
func NewBrowser(ctx context.Context, conn *Connection, process *BrowserProcess, opts *LaunchOptions, logger *log.Logger) (*Browser, error) {
	b := Browser{
		conn:    conn,
		process: process,
		opts:    opts,
		state:   BrowserStateOpen,
		tabs:    make(map[target.ID]*Tab),
		logger:  logger,
	}
	b.root = NewSession(conn, "", logger)
	conn.registerSession(b.root)

	if err := b.initEvents(); err != nil {
		return nil, err
	}
	if err := b.PopulateTargets(ctx); err != nil {
		return nil, fmt.Errorf("discovering initial targets: %w", err)
	}
	return &b, nil
}

// initEvents installs the connection's built-in bookkeeping: a repeating
// subscription on the detach notification that drops the detached session
// from the registry, and the tab that owned it. Installed once for the
// lifetime of the handle.
func (b *Browser) initEvents() error {
	return b.root.Subscribe(string(cdproto.EventTargetDetachedFromTarget), func(ev Event) {
		// cdproto's EventDetachedFromTarget omits the deprecated targetId
		// wire field, which the browser still sends and we rely on.
		var params struct {
			SessionID target.SessionID `json:"sessionId"`
			TargetID  target.ID        `json:"targetId"`
		}
		if err := json.Unmarshal(ev.Params, &params); err != nil {
			b.logger.Errorf("Browser:initEvents", "unmarshaling detach params: %v", err)
			return
		}
		b.logger.Debugf("Browser:initEvents", "target detached: sid:%v tid:%v", params.SessionID, params.TargetID)
		b.conn.deleteSession(params.SessionID)
		if params.TargetID != "" {
			b.removeTab(params.TargetID)
		}
	}, true)
}

// RootSession returns the session with the empty id, scoped to the browser
// target itself.
func (b *Browser) RootSession() *Session {
	return b.root
}

// CreateTab opens a new page at url and returns its Tab, registered and
// with a session attached before the call returns. Width and height apply
// only in headless mode; otherwise they are dropped with an advisory.
func (b *Browser) CreateTab(ctx context.Context, url string, width, height int64) (*Tab, error) {
	if !b.opts.Headless && (width != 0 || height != 0) {
		b.logger.Warnf("Browser:CreateTab",
			"width and height only work in headless mode, they will be ignored")
		width, height = 0, 0
	}

	params := target.CreateTargetParams{URL: url, Width: width, Height: height}
	res, err := b.root.Send(ctx, target.CommandCreateTarget, &params)
	if err != nil {
		return nil, fmt.Errorf("creating target: %w", err)
	}
	var ret target.CreateTargetReturns
	if err := easyjson.Unmarshal(res, &ret); err != nil {
		return nil, fmt.Errorf("unmarshaling create target result: %w", err)
	}

	tab := &Tab{Target{id: ret.TargetID, browser: b}}
	b.addTab(tab)
	if err := b.attachSession(ctx, &tab.Target); err != nil {
		b.removeTab(tab.id)
		return nil, err
	}
	return tab, nil
}

// CloseTab closes the page target. The registry entry is removed whether or
// not the remote close succeeds; registry consistency does not depend on
// the remote acknowledgment. A protocol error still propagates.
func (b *Browser) CloseTab(ctx context.Context, id target.ID) error {
	params := target.CloseTargetParams{TargetID: id}
	_, err := b.root.Send(ctx, target.CommandCloseTarget, &params)
	b.removeTab(id)
	if err != nil {
		return fmt.Errorf("closing target %s: %w", id, err)
	}
	return nil
}

// PopulateTargets enumerates existing targets and registers a Tab, with an
// attached session, for every page-kind target not yet known. Idempotent;
// used once at startup to pick up the browser's default tab(s).
func (b *Browser) PopulateTargets(ctx context.Context) error {
	res, err := b.root.Send(ctx, target.CommandGetTargets, nil)
	if err != nil {
		return fmt.Errorf("getting targets: %w", err)
	}
	var ret target.GetTargetsReturns
	if err := easyjson.Unmarshal(res, &ret); err != nil {
		return fmt.Errorf("unmarshaling get targets result: %w", err)
	}

	for _, info := range ret.TargetInfos {
		if info.Type != "page" || b.GetTab(info.TargetID) != nil {
			continue
		}
		tab := &Tab{Target{id: info.TargetID, browser: b}}
		if err := b.attachSession(ctx, &tab.Target); err != nil {
			return err
		}
		b.addTab(tab)
		b.logger.Debugf("Browser:PopulateTargets", "target %s added", info.TargetID)
	}
	return nil
}

// CreateBrowserSession attaches a session directly to the browser target.
// Experimental: some browser versions reject the attach command.
func (b *Browser) CreateBrowserSession(ctx context.Context) (*Session, error) {
	b.logger.Warnf("Browser:CreateBrowserSession",
		"attaching sessions to the browser target is experimental and only works with some browser versions")

	res, err := b.root.Send(ctx, target.CommandAttachToBrowserTarget, nil)
	if err != nil {
		return nil, fmt.Errorf("attaching to browser target: %w", err)
	}
	var ret target.AttachToBrowserTargetReturns
	if err := easyjson.Unmarshal(res, &ret); err != nil {
		return nil, fmt.Errorf("unmarshaling attach result: %w", err)
	}

	session := NewSession(b.conn, ret.SessionID, b.logger)
	b.conn.registerSession(session)
	return session, nil
}

// attachSession attaches a flattened session to the target and registers it
// on the connection. Attachment is a required follow-up to target creation,
// never implicit.
func (b *Browser) attachSession(ctx context.Context, t *Target) error {
	params := target.AttachToTargetParams{TargetID: t.id, Flatten: true}
	res, err := b.root.Send(ctx, target.CommandAttachToTarget, &params)
	if err != nil {
		return fmt.Errorf("attaching to target %s: %w", t.id, err)
	}
	var ret target.AttachToTargetReturns
	if err := easyjson.Unmarshal(res, &ret); err != nil {
		return fmt.Errorf("unmarshaling attach result: %w", err)
	}

	session := NewSession(b.conn, ret.SessionID, b.logger)
	b.conn.registerSession(session)
	t.session = session
	return nil
}

// GetTab returns the registered tab for id, or nil.
func (b *Browser) GetTab(id target.ID) *Tab {
	b.tabsMu.RLock()
	defer b.tabsMu.RUnlock()
	return b.tabs[id]
}

// Tabs returns the live tabs in insertion order.
func (b *Browser) Tabs() []*Tab {
	b.tabsMu.RLock()
	defer b.tabsMu.RUnlock()
	tabs := make([]*Tab, 0, len(b.tabOrder))
	for _, id := range b.tabOrder {
		if tab, ok := b.tabs[id]; ok {
			tabs = append(tabs, tab)
		}
	}
	return tabs
}

// DefaultTab returns the first live tab, usually the browser's initial
// page, or nil when none remain.
func (b *Browser) DefaultTab() *Tab {
	if tabs := b.Tabs(); len(tabs) > 0 {
		return tabs[0]
	}
	return nil
}

func (b *Browser) addTab(tab *Tab) {
	b.tabsMu.Lock()
	defer b.tabsMu.Unlock()
	if _, ok := b.tabs[tab.id]; !ok {
		b.tabOrder = append(b.tabOrder, tab.id)
	}
	b.tabs[tab.id] = tab
}

func (b *Browser) removeTab(id target.ID) {
	b.tabsMu.Lock()
	defer b.tabsMu.Unlock()
	if _, ok := b.tabs[id]; !ok {
		return
	}
	delete(b.tabs, id)
	for i, oid := range b.tabOrder {
		if oid == id {
			b.tabOrder = append(b.tabOrder[:i], b.tabOrder[i+1:]...)
			break
		}
	}
}

// Close shuts the browser down, escalating until the process is confirmed
// exited: graceful browser close, transport close, soft termination,
// forceful kill. The sequence short-circuits at the first confirmed exit;
// if even the kill does not take, ErrShutdownFailed is returned. Calling
// Close again never errors and sends no further signals; it only makes sure
// the profile directory is gone.
func (b *Browser) Close() error {
	if !atomic.CompareAndSwapInt64(&b.state, BrowserStateOpen, BrowserStateClosing) {
		b.logger.Debugf("Browser:Close", "already closing or closed")
		b.process.Cleanup()
		return nil
	}
	defer func() {
		_ = b.conn.Close()
		b.process.Cleanup()
		atomic.StoreInt64(&b.state, BrowserStateClosed)
	}()

	if b.process.Exited() {
		b.logger.Debugf("Browser:Close", "browser was already closed")
		return nil
	}

	// Stage 1: ask the browser to close itself. The response may never
	// arrive, so nothing waits for one.
	if err := b.root.SendAsync(browser.CommandClose, nil); err != nil {
		b.logger.Debugf("Browser:Close", "sending %s: %v", browser.CommandClose, err)
	}
	if b.process.WaitExit(b.opts.CloseGraceTimeout) {
		b.logger.Debugf("Browser:Close", "%s closed the browser", browser.CommandClose)
		return nil
	}

	// Stage 2: close the pipe; EOF on its input normally makes the browser
	// exit.
	_ = b.conn.Close()
	if b.process.WaitExit(b.opts.CloseGraceTimeout) {
		b.logger.Debugf("Browser:Close", "transport close ended the browser")
		return nil
	}

	// Stage 3: soft kill.
	if err := b.process.Terminate(); err != nil {
		b.logger.Debugf("Browser:Close", "terminating browser process: %v", err)
	}
	if b.process.WaitExit(b.opts.CloseGraceTimeout) {
		b.logger.Debugf("Browser:Close", "termination signal ended the browser")
		return nil
	}

	// Stage 4: hard kill.
	if err := b.process.Kill(); err != nil {
		b.logger.Debugf("Browser:Close", "killing browser process: %v", err)
	}
	if b.process.WaitExit(b.opts.KillTimeout) {
		b.logger.Debugf("Browser:Close", "kill ended the browser")
		return nil
	}

	return fmt.Errorf("%w (pid %d)", ErrShutdownFailed, b.process.Pid())
}
