// Package chromium launches a Chromium-family browser and connects its
// standard streams to the pipe transport.
package chromium

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ndrezn/devtools-protocol/common"
	"github.com/ndrezn/devtools-protocol/log"
)

// Spawner starts the browser wrapper process with the control pipe
// endpoints attached to its standard streams and the given environment. It
// returns the transport speaking to the process and a handle for it. The
// platform mechanics of the wrapper are the spawner's business; the default
// one is execSpawner.
type Spawner func(ctx context.Context, path string, env []string, debug bool, logger *log.Logger) (common.Transport, common.Process, error)

// ResolveExecutablePath resolves the browser executable: the explicit path
// when given, then a platform lookup of well-known names and locations.
// Environment overrides are applied earlier, by LaunchOptions.ApplyEnv.
// Resolution happens per launch; nothing is cached at package level.
func ResolveExecutablePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if path := findExecPath(); path != "" {
		return path, nil
	}
	return "", common.ErrNoExecutablePath
}

// BuildEnv constructs the child environment: the parent environment plus
// the variables the wrapper contract requires.
func BuildEnv(execPath, dataDir string, headless bool) []string {
	env := append(os.Environ(),
		"BROWSER_PATH="+execPath,
		"USER_DATA_DIR="+dataDir,
	)
	if headless {
		env = append(env, "HEADLESS=--headless")
	}
	return env
}

// execSpawner is the default Spawner: it runs the executable directly with
// its stdin/stdout wired to the control pipe. Stderr is discarded unless
// debug is set.
func execSpawner(ctx context.Context, path string, env []string, debug bool, logger *log.Logger) (common.Transport, common.Process, error) {
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = env
	if debug {
		cmd.Stderr = os.Stderr
	}
	killAfterParent(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("piping stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("piping stdout: %w", err)
	}

	// Start must precede Wait or the two race.
	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("browser executable does not exist: %s", path)
		}
		return nil, nil, fmt.Errorf("starting browser executable: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := cmd.Wait(); err != nil {
			logger.Debugf("browser", "process with PID %d ended: %v", cmd.Process.Pid, err)
		}
	}()

	proc := &execProcess{cmd: cmd, done: done}
	return common.NewPipeTransport(stdout, stdin, logger), proc, nil
}

// execProcess adapts an exec.Cmd to the common.Process interface.
type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

// findExecPath looks for a compatible browser executable in well-known
// names and locations and returns the first hit, or empty.
func findExecPath() string {
	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe", // in case PATHEXT is misconfigured
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}

	return ""
}
