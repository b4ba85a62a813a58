//go:build !windows

package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	phases   []model.RunPhase
	finished []model.RunResult
}

func (r *recorder) StatusChanged(state model.RunState) {
	r.mu.Lock()
	r.phases = append(r.phases, state.Phase)
	r.mu.Unlock()
}

func (r *recorder) RunFinished(result model.RunResult) {
	r.mu.Lock()
	r.finished = append(r.finished, result)
	r.mu.Unlock()
}

func newTestCoordinator(t *testing.T, build mirror.BuildOptions, logClear string) (*Coordinator, *Form) {
	t.Helper()
	form := NewForm(config.Default().Mirrors.Defaults())
	c := NewCoordinator(CoordinatorOptions{
		Build:    build,
		LogClear: logClear,
		Runner:   NewRunner(RunnerOptions{GracePeriod: time.Second}),
		Form:     form,
	})
	return c, form
}

func runWithTimeout(t *testing.T, c *Coordinator, req model.MirrorUpdateRequest) model.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := c.Run(ctx, req)
	require.NoError(t, err)
	return result
}

func TestCoordinatorThreeLineRun(t *testing.T) {
	build := fakeTools(t, passthroughElevation, `echo "[2024-05-01 10:00:00] INFO: rating mirrors"
echo "[2024-05-01 10:00:01] INFO: https://a.example/ 1.00 MiB/s 0.50 s"
echo "[2024-05-01 10:00:02] INFO: https://b.example/ 2.00 MiB/s 0.25 s"
`)
	c, form := newTestCoordinator(t, build, config.LogClearOnFinish)
	rec := &recorder{}
	c.Observe(rec)

	var followed []model.LogLine
	var mu sync.Mutex
	c.Bus().Follow(func(line model.LogLine) {
		mu.Lock()
		followed = append(followed, line)
		mu.Unlock()
	})

	_, err := form.ToggleCountry("Norway")
	require.NoError(t, err)
	form.IncrementMaxMirrors()

	result := runWithTimeout(t, c, validRequest())
	require.True(t, result.Success)
	require.Equal(t, "Mirrorlist updated successfully!", result.Message)
	require.Len(t, result.Log, 3)
	for i, line := range result.Log {
		require.Equal(t, uint64(i+1), line.Seq)
	}
	require.Contains(t, result.Log[2].Text, "https://b.example/")

	mu.Lock()
	require.Equal(t, result.Log, followed)
	mu.Unlock()

	state := c.State()
	require.False(t, state.Busy)
	require.Equal(t, model.PhaseIdle, state.Phase)
	require.True(t, c.Aggregator().IsEmpty())
	require.False(t, form.CanSubmit())
	require.Equal(t, 20, form.Params().MaxMirrors)

	last, ok := c.LastResult()
	require.True(t, ok)
	require.Equal(t, result.RunID, last.RunID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []model.RunPhase{model.PhaseRunning, model.PhaseFinalizing, model.PhaseIdle}, rec.phases)
	require.Len(t, rec.finished, 1)
}

func TestCoordinatorBackToBackTriggersSpawnOnce(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "spawns")
	t.Setenv("ALG_TEST_COUNTER", counter)
	build := fakeTools(t, passthroughElevation, "echo x >> \"$ALG_TEST_COUNTER\"\nsleep 1\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnFinish)

	state, err := c.Start(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, state.Busy)

	busy, err := c.Start(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrRunInProgress)
	require.Equal(t, state.ID, busy.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, ok, err := c.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, result.Success)

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "x"))
}

func TestCoordinatorElevationDismissed(t *testing.T) {
	build := fakeTools(t, dismissingElevation, "echo never\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnFinish)

	var published int
	c.Bus().Follow(func(model.LogLine) { published++ })

	result := runWithTimeout(t, c, validRequest())
	require.False(t, result.Success)
	require.Equal(t, model.OutcomeFailedToStart, result.Outcome.Kind)
	require.Empty(t, result.Log)
	require.Zero(t, published)
	require.False(t, c.State().Busy)
}

func TestCoordinatorFinalizesOnError(t *testing.T) {
	build := fakeTools(t, passthroughElevation, "echo \"[2024-05-01 10:00:00] ERROR: no mirrors\"\nexit 1\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnFinish)

	result := runWithTimeout(t, c, validRequest())
	require.False(t, result.Success)
	require.Equal(t, model.OutcomeExitedWithError, result.Outcome.Kind)
	require.Len(t, result.Log, 1)
	require.False(t, c.State().Busy)
	require.True(t, c.Aggregator().IsEmpty())
}

func TestCoordinatorCancel(t *testing.T) {
	build := fakeTools(t, passthroughElevation, "echo started\nsleep 30\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnFinish)

	started := make(chan struct{}, 1)
	unfollow := c.Bus().Follow(func(model.LogLine) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	defer unfollow()

	_, err := c.Start(context.Background(), validRequest())
	require.NoError(t, err)
	<-started
	require.NoError(t, c.Cancel())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, _, err := c.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCancelled, result.Outcome.Kind)
	require.Equal(t, "Mirrorlist update cancelled.", result.Message)
	require.False(t, c.State().Busy)
	require.True(t, c.Aggregator().IsEmpty())
	require.ErrorIs(t, c.Cancel(), ErrNoActiveRun)
}

func TestCoordinatorCancelEntersFinalizingUntilReaped(t *testing.T) {
	// The script ignores SIGTERM so the run stays alive for the grace period.
	build := fakeTools(t, passthroughElevation, "trap '' TERM\necho started\nsleep 30\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnFinish)
	rec := &recorder{}
	c.Observe(rec)

	started := make(chan struct{}, 1)
	unfollow := c.Bus().Follow(func(model.LogLine) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	defer unfollow()

	_, err := c.Start(context.Background(), validRequest())
	require.NoError(t, err)
	<-started
	require.NoError(t, c.Cancel())

	state := c.State()
	require.Equal(t, model.PhaseFinalizing, state.Phase)
	require.True(t, state.Busy)
	rec.mu.Lock()
	require.Equal(t, []model.RunPhase{model.PhaseRunning, model.PhaseFinalizing}, rec.phases)
	rec.mu.Unlock()

	_, err = c.Start(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrRunInProgress)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, _, err := c.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCancelled, result.Outcome.Kind)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []model.RunPhase{model.PhaseRunning, model.PhaseFinalizing, model.PhaseIdle}, rec.phases)
}

func TestCoordinatorCancelRefusedKeepsRunning(t *testing.T) {
	build := fakeTools(t, passthroughElevation, "echo started\nsleep 1\necho finished\n")
	c := NewCoordinator(CoordinatorOptions{
		Build:  build,
		Runner: refusingRunner(writeScript(t, t.TempDir(), "elevate-dismiss", dismissingElevation)),
	})
	rec := &recorder{}
	c.Observe(rec)

	started := make(chan struct{}, 1)
	unfollow := c.Bus().Follow(func(model.LogLine) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	defer unfollow()

	_, err := c.Start(context.Background(), validRequest())
	require.NoError(t, err)
	<-started
	err = c.Cancel()
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoActiveRun)
	require.Equal(t, model.PhaseRunning, c.State().Phase)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, _, err := c.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeExitedOK, result.Outcome.Kind)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []model.RunPhase{
		model.PhaseRunning, model.PhaseFinalizing, model.PhaseRunning,
		model.PhaseFinalizing, model.PhaseIdle,
	}, rec.phases)
}

func TestCoordinatorRejectsInvalidRequest(t *testing.T) {
	build := fakeTools(t, passthroughElevation, "echo never\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnFinish)

	req := validRequest()
	req.Countries = nil
	state, err := c.Start(context.Background(), req)
	require.ErrorIs(t, err, mirror.ErrInvalidParameter)
	require.False(t, state.Busy)
	require.Equal(t, model.PhaseIdle, c.State().Phase)

	_, ok := c.LastResult()
	require.False(t, ok)
}

func TestCoordinatorClearOnStartKeepsLogs(t *testing.T) {
	build := fakeTools(t, passthroughElevation, "echo kept\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnStart)

	runWithTimeout(t, c, validRequest())
	require.Equal(t, 1, c.Aggregator().Len())

	runWithTimeout(t, c, validRequest())
	require.Equal(t, 1, c.Aggregator().Len())
}

func TestCoordinatorShutdown(t *testing.T) {
	build := fakeTools(t, passthroughElevation, "sleep 30\n")
	c, _ := newTestCoordinator(t, build, config.LogClearOnFinish)
	require.NoError(t, c.Shutdown(context.Background()))

	_, err := c.Start(context.Background(), validRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	require.False(t, c.State().Busy)
}
