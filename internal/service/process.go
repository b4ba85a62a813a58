package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/logging"
	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

// pkexec exits 126 when the authorization dialog is dismissed and 127 when
// authorization fails. Shells use the same codes for "not executable" and
// "not found", which are start failures too.
const (
	exitDismissed = 126
	exitNotFound  = 127
)

// elevationMarkers prefix lines written by the elevation wrapper itself.
// They never reach the log and become the failure reason instead.
var elevationMarkers = []string{
	"Error executing command as another user",
	"==== AUTHENTICATING FOR",
	"==== AUTHENTICATION FAILED",
	"polkit-agent-helper-1:",
}

// elevatedSignalTimeout bounds the wait for the authorization dialog when a
// signal has to be sent through the elevation wrapper.
const elevatedSignalTimeout = 2 * time.Minute

// stopSignal is the signal Cancel sends to the process group.
type stopSignal int

const (
	sigTerm stopSignal = iota
	sigKill
)

func (s stopSignal) String() string {
	if s == sigKill {
		return "KILL"
	}
	return "TERM"
}

// RunnerOptions configures how processes are spawned
type RunnerOptions struct {
	StreamMode  string        // config.StreamModePipe or config.StreamModePTY
	GracePeriod time.Duration // SIGTERM to SIGKILL delay on cancel
	// Elevation re-sends signals the elevated process group refuses from
	// the unprivileged user, as "<Elevation> kill -TERM -- -<pgid>".
	Elevation string
	Logger    *slog.Logger
}

// Runner spawns one privileged process per Run call and streams its output.
type Runner struct {
	streamMode  string
	gracePeriod time.Duration
	elevation   string
	signal      func(cmd *exec.Cmd, sig stopSignal) error
	log         *slog.Logger
}

// NewRunner creates a runner. Zero options mean pipe capture and a 10s grace period.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		streamMode:  opts.StreamMode,
		gracePeriod: opts.GracePeriod,
		elevation:   opts.Elevation,
		signal:      signalGroup,
		log:         logging.OrDiscard(opts.Logger),
	}
	if r.streamMode == "" {
		r.streamMode = config.StreamModePipe
	}
	if r.gracePeriod <= 0 {
		r.gracePeriod = 10 * time.Second
	}
	return r
}

// Handle is a running (or finished) process.
type Handle struct {
	lines   chan string
	done    chan struct{}
	outcome model.Outcome
	pid     int

	mu              sync.Mutex
	cmd             *exec.Cmd
	cancelRequested bool
	cancelDelivered bool
	grace           time.Duration
	elevation       string
	signalFn        func(cmd *exec.Cmd, sig stopSignal) error
	log             *slog.Logger
}

// Lines yields each output line, stdout and stderr merged in emission
// order. It is closed once the process output ends. Callers must drain it.
func (h *Handle) Lines() <-chan string { return h.lines }

// Done is closed after the outcome is known.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the process has exited and its output is drained.
func (h *Handle) Wait() model.Outcome {
	<-h.done
	return h.outcome
}

// PID of the spawned process, 0 if it never started.
func (h *Handle) PID() int { return h.pid }

// Cancel asks the process group to terminate, escalating to SIGKILL after
// the grace period. It returns an error when the signal could not be
// delivered, in which case the process keeps running and Cancel may be
// retried. Calling it again after a delivered signal, or after exit, is a no-op.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	if h.cancelRequested || h.cmd == nil {
		h.mu.Unlock()
		return nil
	}
	h.cancelRequested = true
	cmd := h.cmd
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.signal(cmd, sigTerm); err != nil {
		h.mu.Lock()
		h.cancelRequested = false
		h.mu.Unlock()
		h.log.Error("failed to terminate process", "pid", h.pid, "error", err)
		return err
	}
	h.mu.Lock()
	h.cancelDelivered = true
	h.mu.Unlock()

	go func() {
		select {
		case <-h.done:
		case <-time.After(h.grace):
			h.log.Warn("process ignored SIGTERM, killing", "pid", h.pid)
			if err := h.signal(cmd, sigKill); err != nil {
				h.log.Warn("failed to kill process", "pid", h.pid, "error", err)
			}
		}
	}()
	return nil
}

// signal delivers sig to the process group. A group owned by root refuses
// signals from the unprivileged user; those are re-sent through the
// elevation wrapper.
func (h *Handle) signal(cmd *exec.Cmd, sig stopSignal) error {
	err := h.signalFn(cmd, sig)
	if err == nil || !errors.Is(err, os.ErrPermission) || h.elevation == "" {
		return err
	}
	h.log.Info("process refused signal, retrying through elevation wrapper", "pid", h.pid, "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), elevatedSignalTimeout)
	defer cancel()
	kill := exec.CommandContext(ctx, h.elevation, "kill", "-"+sig.String(), "--", "-"+strconv.Itoa(processGroup(cmd)))
	kill.Env = envForElevation()
	if out, kerr := kill.CombinedOutput(); kerr != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = kerr.Error()
		}
		return fmt.Errorf("%w; elevated kill failed: %s", err, msg)
	}
	return nil
}

// Run starts cmd asynchronously. Cancelling ctx is equivalent to Handle.Cancel.
func (r *Runner) Run(ctx context.Context, cmd mirror.Command) *Handle {
	h := &Handle{
		lines:     make(chan string, 64),
		done:      make(chan struct{}),
		grace:     r.gracePeriod,
		elevation: r.elevation,
		signalFn:  r.signal,
		log:       r.log,
	}

	argv := cmd.Argv()
	if len(argv) == 0 {
		h.fail("empty command")
		return h
	}

	c := exec.Command(argv[0], argv[1:]...)
	c.Env = envForElevation()

	output, err := r.start(c)
	if err != nil {
		r.log.Error("failed to start process", "command", argv[0], "error", err)
		h.fail(err.Error())
		return h
	}

	h.mu.Lock()
	h.cmd = c
	h.pid = c.Process.Pid
	h.mu.Unlock()
	r.log.Info("process started", "pid", h.pid, "command", cmd.String())

	go func() {
		select {
		case <-ctx.Done():
			_ = h.Cancel()
		case <-h.done:
		}
	}()

	go h.monitor(c, output, r.streamMode == config.StreamModePTY)
	return h
}

// start spawns c with stdout and stderr merged into one reader.
func (r *Runner) start(c *exec.Cmd) (io.ReadCloser, error) {
	if r.streamMode == config.StreamModePTY {
		// pty.Start puts the child in its own session, which is also its process group.
		ptmx, err := pty.Start(c)
		if err != nil {
			return nil, fmt.Errorf("failed to start process on pty: %w", err)
		}
		return ptmx, nil
	}

	setSysProcAttr(c)
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	c.Stdout = pw
	c.Stderr = pw
	if err := c.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The child holds its own copy; ours must go so EOF arrives at exit.
	pw.Close()
	return pr, nil
}

func (h *Handle) fail(reason string) {
	h.outcome = model.Outcome{Kind: model.OutcomeFailedToStart, ExitCode: -1, Reason: reason}
	close(h.lines)
	close(h.done)
}

// monitor captures output until EOF, reaps the process and records the outcome.
func (h *Handle) monitor(c *exec.Cmd, output io.ReadCloser, isPTY bool) {
	denial, scanErr := h.captureOutput(output)
	if scanErr != nil && isPTY && isPTYClosed(scanErr) {
		scanErr = nil
	}
	if scanErr != nil {
		// keep the child from blocking on a full pipe
		_, _ = io.Copy(io.Discard, output)
	}
	close(h.lines)

	waitErr := c.Wait()
	output.Close()

	h.mu.Lock()
	cancelled := h.cancelDelivered
	h.mu.Unlock()

	h.outcome = classify(waitErr, scanErr, denial, cancelled)
	h.log.Info("process exited", "pid", h.pid, "outcome", h.outcome.Kind, "exit_code", h.outcome.ExitCode)
	close(h.done)
}

// captureOutput reads lines and forwards them, holding back elevation
// wrapper diagnostics. It returns the first such diagnostic.
func (h *Handle) captureOutput(reader io.Reader) (string, error) {
	scanner := bufio.NewScanner(reader)
	// Increase buffer size for long lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var denial string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if isElevationDiagnostic(line) {
			if denial == "" {
				denial = line
			}
			continue
		}
		h.lines <- line
	}
	return denial, scanner.Err()
}

func isElevationDiagnostic(line string) bool {
	for _, m := range elevationMarkers {
		if strings.HasPrefix(line, m) {
			return true
		}
	}
	return false
}

func classify(waitErr, scanErr error, denial string, cancelled bool) model.Outcome {
	code := 0
	if waitErr != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	switch {
	case cancelled:
		return model.Outcome{Kind: model.OutcomeCancelled, ExitCode: code}
	case code == exitDismissed || code == exitNotFound || (denial != "" && code != 0):
		reason := denial
		if reason == "" {
			reason = "authorization was dismissed or the command could not be executed"
		}
		return model.Outcome{Kind: model.OutcomeFailedToStart, ExitCode: code, Reason: reason}
	case scanErr != nil:
		return model.Outcome{Kind: model.OutcomeStreamInterrupted, ExitCode: code, Reason: scanErr.Error()}
	case code != 0:
		reason := ""
		if waitErr != nil {
			reason = waitErr.Error()
		}
		return model.Outcome{Kind: model.OutcomeExitedWithError, ExitCode: code, Reason: reason}
	default:
		return model.Outcome{Kind: model.OutcomeExitedOK}
	}
}
