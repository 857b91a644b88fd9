package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

// ConfigPlaceholder in worker arguments is replaced by the payload file path
const ConfigPlaceholder = "{config}"

// Handle is a live worker process.
//
// Stdout and Stderr must be read to EOF before Wait is called.
type Handle interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process has exited and returns its exit code.
	Wait() (exitCode int, err error)
	// Terminate asks the process to stop. It may be called more than once
	// and does nothing once Wait has returned.
	Terminate()
	// Terminated reports whether Terminate signalled the process before
	// Wait returned.
	Terminated() bool
}

// Launcher starts booking workers
type Launcher interface {
	Launch(ctx context.Context, runID string, payload domain.WorkerPayload) (Handle, error)
}

// LauncherConfig describes the worker command line
type LauncherConfig struct {
	Command string
	Args    []string
	Dir     string
	// PayloadDir receives one JSON payload file per run.
	PayloadDir string
	// PayloadEnv names the environment variable carrying the payload path.
	PayloadEnv string
	DryRunArg  string
	// TerminateGrace is how long a terminated worker gets before SIGKILL.
	TerminateGrace time.Duration
	Env            []string
}

// ProcessLauncher runs the worker as a child process
type ProcessLauncher struct {
	cfg LauncherConfig
}

// NewProcessLauncher creates a launcher for the given command line
func NewProcessLauncher(cfg LauncherConfig) *ProcessLauncher {
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = 5 * time.Second
	}
	if cfg.PayloadDir == "" {
		cfg.PayloadDir = os.TempDir()
	}
	return &ProcessLauncher{cfg: cfg}
}

// Launch writes the payload file and starts the worker. It returns as soon
// as the process is running. Any failure is marked as a launch error.
func (l *ProcessLauncher) Launch(ctx context.Context, runID string, payload domain.WorkerPayload) (Handle, error) {
	payloadPath, err := l.writePayload(runID, payload)
	if err != nil {
		return nil, errors.MarkLaunch(err, "write worker payload")
	}

	args := make([]string, 0, len(l.cfg.Args)+1)
	for _, a := range l.cfg.Args {
		args = append(args, strings.ReplaceAll(a, ConfigPlaceholder, payloadPath))
	}
	if payload.DryRun && l.cfg.DryRunArg != "" {
		args = append(args, l.cfg.DryRunArg)
	}

	cmd := exec.Command(l.cfg.Command, args...)
	cmd.Dir = l.cfg.Dir
	cmd.Env = append(os.Environ(), l.cfg.Env...)
	if l.cfg.PayloadEnv != "" {
		cmd.Env = append(cmd.Env, l.cfg.PayloadEnv+"="+payloadPath)
	}
	configureProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(payloadPath)
		return nil, errors.MarkLaunch(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(payloadPath)
		return nil, errors.MarkLaunch(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		os.Remove(payloadPath)
		return nil, errors.MarkLaunch(err, fmt.Sprintf("starting %s", l.cfg.Command))
	}

	h := &processHandle{
		cmd:         cmd,
		stdout:      stdout,
		stderr:      stderr,
		payloadPath: payloadPath,
		grace:       l.cfg.TerminateGrace,
		exited:      make(chan struct{}),
	}

	// Stop the worker if the caller goes away before it exits
	go func() {
		select {
		case <-ctx.Done():
			h.Terminate()
		case <-h.exited:
		}
	}()

	return h, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (l *ProcessLauncher) writePayload(runID string, payload domain.WorkerPayload) (string, error) {
	if err := os.MkdirAll(l.cfg.PayloadDir, 0o700); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}

	name := unsafeFileChars.ReplaceAllString(runID, "_")
	f, err := os.CreateTemp(l.cfg.PayloadDir, name+"-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}

type processHandle struct {
	cmd         *exec.Cmd
	stdout      io.ReadCloser
	stderr      io.ReadCloser
	payloadPath string
	grace       time.Duration

	mu         sync.Mutex
	terminated bool
	reaped     bool
	exited     chan struct{}
}

func (h *processHandle) Stdout() io.Reader { return h.stdout }
func (h *processHandle) Stderr() io.Reader { return h.stderr }

func (h *processHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Terminate sends SIGTERM to the worker's process group and SIGKILL once
// the grace period has passed. A reaped worker is left alone.
func (h *processHandle) Terminate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated || h.reaped {
		return
	}
	h.terminated = true
	terminateProcess(h.cmd)
	go func() {
		select {
		case <-h.exited:
		case <-time.After(h.grace):
			killProcess(h.cmd)
		}
	}()
}

func (h *processHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.reaped = true
	h.mu.Unlock()
	close(h.exited)
	os.Remove(h.payloadPath)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return h.cmd.ProcessState.ExitCode(), nil
}
