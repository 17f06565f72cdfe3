package common

import (
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
)

// Default wait applied between close escalation stages, and for the final
// forceful kill to take effect.
const (
	DefaultCloseGraceTimeout = time.Second
	DefaultKillTimeout       = 2 * time.Second
)

// LaunchOptions stores browser launch options.
type LaunchOptions struct {
	// ExecutablePath points at the browser executable. When empty the
	// BROWSER_PATH environment variable and then the platform lookup are
	// consulted.
	ExecutablePath string
	// Headless runs the browser without a visible window. Width and height
	// of created tabs are only honored in this mode.
	Headless bool
	// Debug turns on debug logging and keeps the browser's stderr attached.
	Debug bool
	// LogCategoryFilter restricts log lines to matching categories.
	LogCategoryFilter string

	// CloseGraceTimeout bounds the wait after each close stage before
	// escalating to the next one.
	CloseGraceTimeout time.Duration
	// KillTimeout bounds the wait for the final forceful kill; if the
	// process is still alive afterwards, shutdown fails with
	// ErrShutdownFailed.
	KillTimeout time.Duration
}

// NewLaunchOptions returns options with defaults applied.
func NewLaunchOptions() *LaunchOptions {
	return &LaunchOptions{
		Headless:          true,
		LogCategoryFilter: ".*",
		CloseGraceTimeout: DefaultCloseGraceTimeout,
		KillTimeout:       DefaultKillTimeout,
	}
}

// ApplyEnv fills unset options from the environment. An explicitly set
// executable path always wins over BROWSER_PATH.
func (l *LaunchOptions) ApplyEnv() error {
	var env struct {
		Path     string `envconfig:"BROWSER_PATH"`
		Headless *bool  `envconfig:"BROWSER_HEADLESS"`
		Debug    bool   `envconfig:"BROWSER_DEBUG"`
	}
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}
	if l.ExecutablePath == "" {
		l.ExecutablePath = env.Path
	}
	if env.Headless != nil {
		l.Headless = *env.Headless
	}
	l.Debug = l.Debug || env.Debug
	return nil
}
