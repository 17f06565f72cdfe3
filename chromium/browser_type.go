package chromium

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/ndrezn/devtools-protocol/common"
	"github.com/ndrezn/devtools-protocol/log"
	"github.com/ndrezn/devtools-protocol/storage"
)

// BrowserType launches Chromium-family browser instances. It is the entry
// point for interacting with the library.
type BrowserType struct {
	fs     afero.Fs
	spawn  Spawner
	logger *log.Logger
}

// NewBrowserType returns a launcher using the real filesystem and the
// default os/exec spawner.
func NewBrowserType(logger *log.Logger) *BrowserType {
	return &BrowserType{
		fs:     afero.NewOsFs(),
		spawn:  execSpawner,
		logger: logger,
	}
}

// WithSpawner replaces the process spawner; tests use it to substitute a
// fake browser.
func (b *BrowserType) WithSpawner(spawn Spawner) *BrowserType {
	b.spawn = spawn
	return b
}

// WithFs replaces the filesystem used for the profile directory.
func (b *BrowserType) WithFs(fs afero.Fs) *BrowserType {
	b.fs = fs
	return b
}

// Launch starts a browser synchronously in direct mode: no background
// reader exists and each command call drives message consumption on the
// calling goroutine. The returned handle is immediately usable, with the
// initial page targets already discovered.
func (b *BrowserType) Launch(ctx context.Context, opts *common.LaunchOptions) (*common.Browser, error) {
	return b.launch(ctx, opts, false)
}

// LaunchDeferred schedules spawning and initial target discovery in a
// separate goroutine and returns immediately. The caller must await the
// future before using the browser, which then runs in background mode: a
// reader goroutine drains the transport for the browser's lifetime and any
// number of commands may be in flight concurrently. The awaited handle is
// in the same fully-initialized state Launch produces.
func (b *BrowserType) LaunchDeferred(ctx context.Context, opts *common.LaunchOptions) *BrowserFuture {
	f := BrowserFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.browser, f.err = b.launch(ctx, opts, true)
	}()
	return &f
}

func (b *BrowserType) launch(ctx context.Context, opts *common.LaunchOptions, background bool) (*common.Browser, error) {
	if opts == nil {
		opts = common.NewLaunchOptions()
	}
	if err := opts.ApplyEnv(); err != nil {
		return nil, err
	}

	logger := b.logger
	if err := logger.SetCategoryFilter(opts.LogCategoryFilter); err != nil {
		return nil, err
	}
	if opts.Debug {
		_ = logger.SetLevel("debug")
	}

	path, err := ResolveExecutablePath(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	dataDir, err := storage.NewDir(b.fs, "", "browser-profile-")
	if err != nil {
		return nil, err
	}
	logger.Debugf("BrowserType:launch", "path:%s dataDir:%s headless:%t", path, dataDir.Path, opts.Headless)

	env := BuildEnv(path, dataDir.Path, opts.Headless)
	transport, proc, err := b.spawn(ctx, path, env, opts.Debug, logger)
	if err != nil {
		if cerr := dataDir.Cleanup(); cerr != nil {
			logger.Warnf("BrowserType:launch", "could not remove the user data directory: %v", cerr)
		}
		return nil, fmt.Errorf("spawning browser process: %w", err)
	}

	conn := common.NewConnection(transport, background, logger)
	process := common.NewBrowserProcess(proc, dataDir, logger)

	browser, err := common.NewBrowser(ctx, conn, process, opts, logger)
	if err != nil {
		// The handle never became usable; tear the process down hard.
		_ = conn.Close()
		_ = proc.Kill()
		process.Cleanup()
		return nil, err
	}
	return browser, nil
}

// BrowserFuture is a deferred launch in flight.
type BrowserFuture struct {
	done    chan struct{}
	browser *common.Browser
	err     error
}

// Browser awaits launch completion and returns the initialized handle.
func (f *BrowserFuture) Browser(ctx context.Context) (*common.Browser, error) {
	select {
	case <-f.done:
		return f.browser, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
