// Command cdpdump launches a browser, opens a page and prints the protocol
// events it emits. It exists for poking at the wire behavior of a browser
// build without writing a program against the library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ndrezn/devtools-protocol/chromium"
	"github.com/ndrezn/devtools-protocol/common"
	"github.com/ndrezn/devtools-protocol/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		browserPath    string
		headless       bool
		debug          bool
		categoryFilter string
		url            string
		events         []string
		duration       time.Duration
	)

	cmd := &cobra.Command{
		Use:           "cdpdump",
		Short:         "Dump DevTools protocol events from a live browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := common.NewLaunchOptions()
			opts.ExecutablePath = browserPath
			opts.Headless = headless
			opts.Debug = debug
			opts.LogCategoryFilter = categoryFilter
			return dump(cmd.Context(), opts, url, events, duration)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&browserPath, "browser-path", "", "browser executable (defaults to BROWSER_PATH, then a platform lookup)")
	flags.BoolVar(&headless, "headless", true, "run the browser without a visible window")
	flags.BoolVar(&debug, "debug", false, "enable debug logging and keep the browser's stderr attached")
	flags.StringVar(&categoryFilter, "log-category-filter", ".*", "regex restricting log lines by category")
	flags.StringVar(&url, "url", "about:blank", "page to open")
	flags.StringArrayVar(&events, "event", []string{"Page.frameNavigated"}, "protocol event to subscribe to (repeatable)")
	flags.DurationVar(&duration, "duration", 10*time.Second, "how long to listen before closing the browser")

	return cmd
}

func dump(ctx context.Context, opts *common.LaunchOptions, url string, events []string, duration time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ll := logrus.New()
	ll.SetOutput(os.Stderr)
	logger := log.New(ll, opts.Debug)

	bt := chromium.NewBrowserType(logger)
	b, err := bt.LaunchDeferred(ctx, opts).Browser(ctx)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Errorf("cdpdump", "closing browser: %v", cerr)
		}
	}()

	tab, err := b.CreateTab(ctx, url, 0, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}

	method := color.New(color.FgMagenta).SprintFunc()
	for _, name := range events {
		if err := tab.Session().Subscribe(name, func(ev common.Event) {
			fmt.Printf("%s %s\n", method(ev.Method), string(ev.Params))
		}, true); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
	return nil
}
