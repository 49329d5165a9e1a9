package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/webtestkit/improve/internal/errs"
)

// launchTimeout bounds how long Launch waits for the browser's DevTools
// endpoint to become reachable after the process starts.
const (
	launchTimeout      = 10 * time.Second
	launchPollInterval = 100 * time.Millisecond
)

// chromiumCandidates is the search list for a headless-capable Chromium
// binary, checked in order.
var chromiumCandidates = []string{
	"chromium", "chromium-browser", "google-chrome", "google-chrome-stable",
}

// processHandle owns the subprocess and its DevTools endpoint discovery.
// It is the concrete thing CDPFacade.Launch starts and CDPFacade.Close tears
// down.
type processHandle struct {
	cmd         *exec.Cmd
	debugPort   int
	userDataDir string
}

func locateChromiumBinary() (string, error) {
	if override := os.Getenv("IMPROVE_CHROMIUM_PATH"); override != "" {
		if _, err := exec.LookPath(override); err == nil {
			return override, nil
		}
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		return "", errs.NewChromiumNotInstalledError(fmt.Sprintf("IMPROVE_CHROMIUM_PATH=%q is not executable", override))
	}
	for _, candidate := range chromiumCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", errs.NewChromiumNotInstalledError(
		"no headless-capable Chromium binary found on PATH; install one or set IMPROVE_CHROMIUM_PATH")
}

// launchChromium starts a headless Chromium subprocess listening for
// DevTools connections on an OS-assigned port, detached into its own
// process group via setDetachedProcess (detach_unix.go /
// detach_windows.go). It is started with exec.CommandContext, so
// cancelling ctx kills it.
func launchChromium(ctx context.Context, userDataDir string) (*processHandle, error) {
	binary, err := locateChromiumBinary()
	if err != nil {
		return nil, err
	}

	args := []string{
		"--headless=new",
		"--remote-debugging-port=0",
		"--remote-debugging-address=127.0.0.1",
		"--no-first-run",
		"--disable-gpu",
		"--user-data-dir=" + userDataDir,
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: create stderr pipe: %w", errs.CodeLaunchFailed, err)
	}
	setDetachedProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: start chromium: %w", errs.CodeLaunchFailed, err)
	}

	port, err := waitForDevToolsPort(stderrPipe, launchTimeout)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("%s: %w", errs.CodeLaunchFailed, err)
	}

	return &processHandle{cmd: cmd, debugPort: port, userDataDir: userDataDir}, nil
}

// waitForDevToolsPort scans Chromium's stderr for the
// "DevTools listening on ws://127.0.0.1:<port>/..." banner it prints once
// its debug server is ready, bounded by timeout.
func waitForDevToolsPort(stderr interface{ Read([]byte) (int, error) }, timeout time.Duration) (int, error) {
	type result struct {
		port int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 4096)
		accumulated := ""
		for {
			n, err := stderr.Read(buf)
			if n > 0 {
				accumulated += string(buf[:n])
				if port, ok := extractDevToolsPort(accumulated); ok {
					done <- result{port: port}
					return
				}
			}
			if err != nil {
				done <- result{err: fmt.Errorf("chromium exited before DevTools was ready: %w", err)}
				return
			}
		}
	}()

	select {
	case r := <-done:
		return r.port, r.err
	case <-time.After(timeout):
		return 0, fmt.Errorf("timed out after %s waiting for DevTools endpoint", timeout)
	}
}

const devToolsBanner = "DevTools listening on ws://"

func extractDevToolsPort(text string) (int, bool) {
	idx := strings.Index(text, devToolsBanner)
	if idx < 0 {
		return 0, false
	}
	rest := text[idx+len(devToolsBanner):]
	colonIdx := strings.IndexByte(rest, ':')
	if colonIdx < 0 {
		return 0, false
	}
	rest = rest[colonIdx+1:]
	slashIdx := strings.IndexByte(rest, '/')
	if slashIdx < 0 {
		return 0, false
	}
	port, err := strconv.Atoi(rest[:slashIdx])
	if err != nil {
		return 0, false
	}
	return port, true
}

func (p *processHandle) close() error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
	return nil
}
