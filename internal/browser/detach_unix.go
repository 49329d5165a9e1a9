//go:build !windows

package browser

import (
	"os/exec"
	"syscall"
)

// setDetachedProcess configures cmd to run in its own session so the
// headless Chromium subprocess can be cleanly killed as a group on Close.
func setDetachedProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
