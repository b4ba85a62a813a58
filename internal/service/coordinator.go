package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/eventbus"
	"github.com/arch-linux-gui/alg-welcome/internal/logging"
	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

var (
	// ErrRunInProgress is returned when an update is triggered while one is running.
	ErrRunInProgress = errors.New("a mirror-list update is already running")
	// ErrNoActiveRun is returned by Cancel when nothing is running.
	ErrNoActiveRun = errors.New("no mirror-list update is running")
)

// ProcessRunner starts a process and streams its output
type ProcessRunner interface {
	Run(ctx context.Context, cmd mirror.Command) *Handle
}

// Notifier receives run lifecycle notifications. Notifications for one run
// are delivered in order and never concurrently.
type Notifier interface {
	StatusChanged(state model.RunState)
	RunFinished(result model.RunResult)
}

// NotifierFuncs adapts plain functions to Notifier; nil fields are skipped.
type NotifierFuncs struct {
	Status   func(model.RunState)
	Finished func(model.RunResult)
}

func (n NotifierFuncs) StatusChanged(state model.RunState) {
	if n.Status != nil {
		n.Status(state)
	}
}

func (n NotifierFuncs) RunFinished(result model.RunResult) {
	if n.Finished != nil {
		n.Finished(result)
	}
}

// CoordinatorOptions wires the coordinator's collaborators
type CoordinatorOptions struct {
	Build      mirror.BuildOptions
	LogClear   string // config.LogClearOnFinish (default) or config.LogClearOnStart
	Runner     ProcessRunner
	Bus        *eventbus.Bus
	Aggregator *Aggregator
	Form       *Form
	Logger     *slog.Logger
}

// Coordinator owns the run state: at most one update runs at a time and
// every run is finalized exactly once.
type Coordinator struct {
	build    mirror.BuildOptions
	logClear string
	runner   ProcessRunner
	bus      *eventbus.Bus
	agg      *Aggregator
	form     *Form
	log      *slog.Logger

	mu      sync.Mutex
	state   model.RunState
	current *run
	last    *model.RunResult

	obsMu     sync.RWMutex
	observers map[*Notifier]struct{}
}

type run struct {
	id      string
	cmd     mirror.Command
	started time.Time
	handle  *Handle
	cancel  context.CancelFunc
	done    chan struct{}
	result  model.RunResult

	// notifyMu orders phase changes with their notifications. Lock it
	// before Coordinator.mu.
	notifyMu   sync.Mutex
	finalizing bool
}

// NewCoordinator creates an idle coordinator. The aggregator follows the bus
// for the coordinator's lifetime.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		build:     opts.Build,
		logClear:  opts.LogClear,
		runner:    opts.Runner,
		bus:       opts.Bus,
		agg:       opts.Aggregator,
		form:      opts.Form,
		log:       logging.OrDiscard(opts.Logger),
		state:     model.RunState{Phase: model.PhaseIdle},
		observers: make(map[*Notifier]struct{}),
	}
	if c.logClear == "" {
		c.logClear = config.LogClearOnFinish
	}
	if c.bus == nil {
		c.bus = eventbus.New(c.log)
	}
	if c.agg == nil {
		c.agg = NewAggregator()
	}
	if c.runner == nil {
		c.runner = NewRunner(RunnerOptions{Logger: c.log})
	}
	c.bus.Follow(c.agg.Append)
	return c
}

// Bus is the log bus the coordinator publishes to.
func (c *Coordinator) Bus() *eventbus.Bus { return c.bus }

// Aggregator holds the lines of the current run.
func (c *Coordinator) Aggregator() *Aggregator { return c.agg }

// Form is the selection reset after every run, nil if none was configured.
func (c *Coordinator) Form() *Form { return c.form }

// Observe registers n until the returned func is called.
func (c *Coordinator) Observe(n Notifier) (remove func()) {
	key := &n
	c.obsMu.Lock()
	c.observers[key] = struct{}{}
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, key)
		c.obsMu.Unlock()
	}
}

func (c *Coordinator) notifyStatus(state model.RunState) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for n := range c.observers {
		(*n).StatusChanged(state)
	}
}

func (c *Coordinator) notifyFinished(result model.RunResult) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for n := range c.observers {
		(*n).RunFinished(result)
	}
}

// State returns a snapshot of the run state
func (c *Coordinator) State() model.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastResult returns the most recently finalized run, if any
func (c *Coordinator) LastResult() (model.RunResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return model.RunResult{}, false
	}
	return *c.last, true
}

// Start validates req and launches the update. It returns ErrRunInProgress
// while a run is active and the builder's error for an invalid request; in
// both cases nothing is spawned.
func (c *Coordinator) Start(ctx context.Context, req model.MirrorUpdateRequest) (model.RunState, error) {
	_, state, err := c.start(ctx, req)
	return state, err
}

// Run is Start followed by waiting for the run to be finalized.
func (c *Coordinator) Run(ctx context.Context, req model.MirrorUpdateRequest) (model.RunResult, error) {
	r, _, err := c.start(ctx, req)
	if err != nil {
		return model.RunResult{}, err
	}
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return model.RunResult{}, ctx.Err()
	}
}

func (c *Coordinator) start(ctx context.Context, req model.MirrorUpdateRequest) (*run, model.RunState, error) {
	r, state, err := c.launch(ctx, req)
	if err != nil {
		return nil, state, err
	}
	c.notifyStatus(state)
	r.notifyMu.Unlock()

	go c.monitor(r)
	return r, state, nil
}

// launch spawns the process and returns with r.notifyMu held so that no
// other notification for the run can precede the running one.
func (c *Coordinator) launch(ctx context.Context, req model.MirrorUpdateRequest) (*run, model.RunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Busy {
		return nil, c.state, ErrRunInProgress
	}
	cmd, err := mirror.Build(req, c.build)
	if err != nil {
		return nil, c.state, err
	}

	r := &run{
		id:      uuid.NewString(),
		cmd:     cmd,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	if c.logClear == config.LogClearOnStart {
		c.agg.Clear()
	}
	if err := c.bus.BeginRun(r.id); err != nil {
		return nil, c.state, fmt.Errorf("failed to open log run: %w", err)
	}

	// The run outlives the request that triggered it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.handle = c.runner.Run(runCtx, cmd)

	// r is not visible to Cancel yet, so this cannot block.
	r.notifyMu.Lock()
	c.current = r
	c.state = model.RunState{
		ID:        r.id,
		Phase:     model.PhaseRunning,
		Busy:      true,
		Command:   cmd.String(),
		StartedAt: r.started,
	}
	state := c.state
	c.log.Info("mirror-list update started", "run_id", r.id, "command", cmd.String())
	return r, state, nil
}

// monitor publishes the run's output and finalizes it once the process is gone.
func (c *Coordinator) monitor(r *run) {
	var seq uint64
	for text := range r.handle.Lines() {
		seq++
		if err := c.bus.Publish(model.LogLine{Seq: seq, Text: text}); err != nil {
			c.log.Error("failed to publish log line", "run_id", r.id, "error", err)
		}
	}
	outcome := r.handle.Wait()
	r.cancel()

	c.finalize(r, outcome)
}

func (c *Coordinator) finalize(r *run, outcome model.Outcome) {
	r.notifyMu.Lock()
	c.mu.Lock()
	r.finalizing = true
	announced := c.state.Phase == model.PhaseFinalizing
	c.state.Phase = model.PhaseFinalizing
	finalizing := c.state
	c.mu.Unlock()
	// A cancelled run already announced the phase.
	if !announced {
		c.notifyStatus(finalizing)
	}
	r.notifyMu.Unlock()

	c.bus.EndRun()

	r.result = model.RunResult{
		RunID:      r.id,
		Outcome:    outcome,
		Success:    outcome.Success(),
		Message:    outcome.Message(),
		Command:    r.cmd.String(),
		Log:        c.agg.Snapshot(),
		StartedAt:  r.started,
		FinishedAt: time.Now(),
	}

	c.mu.Lock()
	c.state = model.RunState{Phase: model.PhaseIdle}
	if c.form != nil {
		c.form.Reset()
	}
	if c.logClear == config.LogClearOnFinish {
		c.agg.Clear()
	}
	result := r.result
	c.last = &result
	c.current = nil
	idle := c.state
	c.mu.Unlock()

	if outcome.Success() {
		c.log.Info("mirror-list update finished", "run_id", r.id, "lines", len(result.Log))
	} else {
		c.log.Warn("mirror-list update failed", "run_id", r.id, "outcome", outcome.Kind,
			"exit_code", outcome.ExitCode, "reason", outcome.Reason)
	}
	c.notifyStatus(idle)
	c.notifyFinished(result)
	close(r.done)
}

// Cancel terminates the active run. The run moves to the finalizing phase
// at once and stays busy until the process has been reaped. If the signal
// cannot be delivered the run returns to the running phase and the error is
// returned. ErrNoActiveRun means there was nothing to cancel.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return ErrNoActiveRun
	}
	c.log.Info("cancelling mirror-list update", "run_id", r.id)

	c.setCancelPhase(r, model.PhaseRunning, model.PhaseFinalizing)
	if err := r.handle.Cancel(); err != nil {
		c.log.Error("failed to cancel mirror-list update", "run_id", r.id, "error", err)
		c.setCancelPhase(r, model.PhaseFinalizing, model.PhaseRunning)
		return fmt.Errorf("failed to cancel mirror-list update: %w", err)
	}
	return nil
}

// setCancelPhase moves r from one phase to another and notifies observers,
// unless r has finished or is already being finalized by its monitor.
func (c *Coordinator) setCancelPhase(r *run, from, to model.RunPhase) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	c.mu.Lock()
	if c.current != r || r.finalizing || c.state.Phase != from {
		c.mu.Unlock()
		return
	}
	c.state.Phase = to
	state := c.state
	c.mu.Unlock()
	c.notifyStatus(state)
}

// Wait blocks until the active run is finalized and returns its result. When
// idle it returns the last result, or false if there has been no run.
func (c *Coordinator) Wait(ctx context.Context) (model.RunResult, bool, error) {
	c.mu.Lock()
	r := c.current
	last := c.last
	c.mu.Unlock()

	if r == nil {
		if last == nil {
			return model.RunResult{}, false, nil
		}
		return *last, true, nil
	}
	select {
	case <-r.done:
		return r.result, true, nil
	case <-ctx.Done():
		return model.RunResult{}, false, ctx.Err()
	}
}

// Shutdown cancels an in-flight run and waits for it to be finalized.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.Cancel(); err != nil {
		if errors.Is(err, ErrNoActiveRun) {
			return nil
		}
		return err
	}
	_, _, err := c.Wait(ctx)
	return err
}
