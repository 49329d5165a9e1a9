//go:build windows

package browser

import (
	"os/exec"
	"syscall"
)

// setDetachedProcess configures cmd to run in its own process group so the
// headless Chromium subprocess can be cleanly terminated on Close.
func setDetachedProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
