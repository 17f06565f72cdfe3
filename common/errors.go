package common

import "errors"

var (
	// ErrNoExecutablePath is returned when no browser executable could be
	// resolved from the explicit option, the BROWSER_PATH environment
	// variable or the platform lookup.
	ErrNoExecutablePath = errors.New(
		"no usable browser executable found; set the BROWSER_PATH environment " +
			"variable or pass an explicit executable path in the launch options")

	// ErrTransportClosed is returned for commands that were in flight, or
	// are issued, after the pipe to the browser process is gone.
	ErrTransportClosed = errors.New("transport closed")

	// ErrDuplicateSubscription is returned when subscribing to an event name
	// that already has a subscription on the session.
	ErrDuplicateSubscription = errors.New("duplicate subscription")

	// ErrUnknownSubscription is returned when unsubscribing an event name
	// that has no subscription on the session.
	ErrUnknownSubscription = errors.New("unknown subscription")

	// ErrShutdownFailed is returned when the browser process did not exit
	// after every close stage up to and including a forceful kill.
	ErrShutdownFailed = errors.New("browser process did not exit after kill")
)
