//go:build !linux

package chromium

import "os/exec"

// killAfterParent is a no-op where parent-death signals don't exist.
func killAfterParent(*exec.Cmd) {}
