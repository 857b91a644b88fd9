//go:build !windows

package executor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

func shellLauncher(t *testing.T, script string, extra ...string) *ProcessLauncher {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	args := append([]string{"-c", script}, extra...)
	return NewProcessLauncher(LauncherConfig{
		Command:        "sh",
		Args:           args,
		PayloadDir:     t.TempDir(),
		PayloadEnv:     "BOOKING_CONFIG",
		DryRunArg:      "--dry-run",
		TerminateGrace: 500 * time.Millisecond,
	})
}

func readAll(t *testing.T, h Handle) (string, string) {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	errCh := make(chan result, 1)
	go func() {
		b, err := io.ReadAll(h.Stderr())
		errCh <- result{b, err}
	}()
	out, err := io.ReadAll(h.Stdout())
	require.NoError(t, err)
	r := <-errCh
	require.NoError(t, r.err)
	return string(out), string(r.data)
}

func TestProcessLauncher_StreamsAndExitCode(t *testing.T) {
	l := shellLauncher(t, `echo "looking for slots"; echo "RESERVATION SUCCESS"; echo "captcha slow" >&2; exit 0`)

	h, err := l.Launch(context.Background(), "r1", domain.WorkerPayload{ReservationID: "r1"})
	require.NoError(t, err)

	stdout, stderr := readAll(t, h)
	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "looking for slots\nRESERVATION SUCCESS\n", stdout)
	assert.Equal(t, "captcha slow\n", stderr)
	assert.False(t, h.Terminated())
}

func TestProcessLauncher_NonZeroExit(t *testing.T) {
	l := shellLauncher(t, `exit 7`)
	h, err := l.Launch(context.Background(), "r1", domain.WorkerPayload{})
	require.NoError(t, err)

	readAll(t, h)
	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestProcessLauncher_PayloadFile(t *testing.T) {
	l := shellLauncher(t, `cat "$BOOKING_CONFIG"; echo; echo "arg=$0"; echo "extra=$1"`, "{config}", "--dry-run-check")

	payload := domain.WorkerPayload{ReservationID: "../r1", Locations: []string{"Carnot"}, DryRun: true}
	h, err := l.Launch(context.Background(), "../r1", payload)
	require.NoError(t, err)

	stdout, _ := readAll(t, h)
	_, err = h.Wait()
	require.NoError(t, err)

	assert.Contains(t, stdout, `"reservationId": "../r1"`)
	assert.Contains(t, stdout, `"Carnot"`)
	assert.Contains(t, stdout, "extra=--dry-run-check")

	// {config} was replaced by a path inside the payload directory
	var argPath string
	for _, line := range splitLines(stdout) {
		if len(line) > 4 && line[:4] == "arg=" {
			argPath = line[4:]
		}
	}
	require.NotEmpty(t, argPath)
	assert.Equal(t, l.cfg.PayloadDir, filepath.Dir(argPath))

	// The file is removed once the worker has exited
	_, err = os.Stat(argPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessLauncher_DryRunArg(t *testing.T) {
	l := shellLauncher(t, `echo "last=${1:-none}"`, "x")
	for _, tt := range []struct {
		dryRun bool
		want   string
	}{
		{false, "last=none\n"},
		{true, "last=--dry-run\n"},
	} {
		h, err := l.Launch(context.Background(), "r", domain.WorkerPayload{DryRun: tt.dryRun})
		require.NoError(t, err)
		stdout, _ := readAll(t, h)
		_, err = h.Wait()
		require.NoError(t, err)
		assert.Equal(t, tt.want, stdout)
	}
}

func TestProcessLauncher_Terminate(t *testing.T) {
	l := shellLauncher(t, `echo started; sleep 30; echo never`)
	h, err := l.Launch(context.Background(), "r1", domain.WorkerPayload{})
	require.NoError(t, err)

	done := make(chan string)
	go func() {
		out, _ := io.ReadAll(h.Stdout())
		_, _ = io.ReadAll(h.Stderr())
		done <- string(out)
	}()

	time.Sleep(100 * time.Millisecond)
	h.Terminate()
	h.Terminate()

	select {
	case out := <-done:
		assert.Equal(t, "started\n", out)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	code, err := h.Wait()
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
	assert.True(t, h.Terminated())
}

func TestProcessLauncher_TerminateAfterWaitIsIgnored(t *testing.T) {
	l := shellLauncher(t, `echo "RESERVATION SUCCESS"`)
	h, err := l.Launch(context.Background(), "r1", domain.WorkerPayload{})
	require.NoError(t, err)

	readAll(t, h)
	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	// A late cancel must not relabel a run that already exited cleanly
	h.Terminate()
	assert.False(t, h.Terminated())
}

func TestProcessLauncher_ContextCancelTerminates(t *testing.T) {
	l := shellLauncher(t, `sleep 30`)
	ctx, cancel := context.WithCancel(context.Background())
	h, err := l.Launch(ctx, "r1", domain.WorkerPayload{})
	require.NoError(t, err)

	cancel()
	readAll(t, h)
	_, err = h.Wait()
	require.NoError(t, err)
	assert.True(t, h.Terminated())
}

func TestProcessLauncher_LaunchError(t *testing.T) {
	l := NewProcessLauncher(LauncherConfig{
		Command:    filepath.Join(t.TempDir(), "no-such-worker"),
		PayloadDir: t.TempDir(),
	})
	_, err := l.Launch(context.Background(), "r1", domain.WorkerPayload{})
	require.Error(t, err)
	assert.True(t, errors.IsLaunch(err))

	entries, err := os.ReadDir(l.cfg.PayloadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "payload file should be cleaned up")
}

func TestExecute_RealWorker(t *testing.T) {
	l := shellLauncher(t, `echo "slot found"; echo "RESERVATION SUCCESS"`)
	h := newHarness(t, fakeWorker{})
	h.exec.launcher = l

	res := h.exec.Execute(context.Background(), Request{RunID: "r1", Origin: domain.OriginCLI, Cancellable: true})
	assert.Equal(t, domain.OutcomeSucceeded, res.Outcome)
	assert.True(t, res.MarkerSeen)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
