//go:build unix

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// alive reports whether pid is still running. Zombies waiting for a reaper
// count as dead.
func alive(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	// the state follows the parenthesised command name
	i := bytes.LastIndexByte(stat, ')')
	return i < 0 || i+2 >= len(stat) || stat[i+2] != 'Z'
}

type runnerTester struct {
	script  string
	timeout time.Duration

	expectCode   int
	expectErr    error
	expectStdout string
	expectStderr string
}

func (t *runnerTester) runTest(test *testing.T, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	res, err := defaultRunner(ctx, []string{"sh", "-c", t.script})
	if !errors.Is(err, t.expectErr) {
		test.Errorf("[%s] expected error %v, got %v", name, t.expectErr, err)
	}
	if res.ExitCode != t.expectCode {
		test.Errorf("[%s] expected exit code %d, got %d", name, t.expectCode, res.ExitCode)
	}
	if !strings.HasPrefix(res.Stdout, t.expectStdout) {
		test.Errorf("[%s] expected stdout %q, got %q", name, t.expectStdout, res.Stdout)
	}
	if !strings.HasPrefix(res.Stderr, t.expectStderr) {
		test.Errorf("[%s] expected stderr %q, got %q", name, t.expectStderr, res.Stderr)
	}
}

var runnerTests = map[string]*runnerTester{
	"success": {
		script:       "echo out; echo err >&2",
		timeout:      10 * time.Second,
		expectStdout: "out\n",
		expectStderr: "err\n",
	},
	"exit code": {
		script:       "echo partial; exit 3",
		timeout:      10 * time.Second,
		expectCode:   3,
		expectStdout: "partial\n",
	},
	"deadline keeps output": {
		script:       "echo partial; sleep 30",
		timeout:      200 * time.Millisecond,
		expectErr:    context.DeadlineExceeded,
		expectStdout: "partial\n",
	},
}

func TestDefaultRunner(t *testing.T) {
	requireShell(t)
	for tname, cfg := range runnerTests {
		cfg.runTest(t, tname)
	}
}

func TestDefaultRunnerMissingBinary(t *testing.T) {
	if _, err := defaultRunner(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected an error for a missing binary")
	}
	if _, err := defaultRunner(context.Background(), nil); err == nil {
		t.Error("expected an error for an empty command")
	}
}

// Children of the collector hold its output pipes open. They are killed with
// it, so a deadline returns promptly and leaves nothing behind.
func TestDefaultRunnerKillsProcessGroup(t *testing.T) {
	requireShell(t)

	pidfile := filepath.Join(t.TempDir(), "child.pid")
	script := fmt.Sprintf("echo partial; sleep 30 & echo $! > %s; wait", pidfile)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	started := time.Now()
	res, err := defaultRunner(ctx, []string{"sh", "-c", script})
	elapsed := time.Since(started)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed >= killGrace {
		t.Errorf("runner waited %s for the orphaned child", elapsed)
	}
	if !strings.HasPrefix(res.Stdout, "partial") {
		t.Errorf("partial output lost, got %q", res.Stdout)
	}

	data, err := os.ReadFile(pidfile)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for alive(pid) {
		if time.Now().After(deadline) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
			t.Fatalf("child %d survived the collector", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
