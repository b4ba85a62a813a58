package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/desktop"
	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/arch-linux-gui/alg-welcome/internal/service"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Events emitted to the frontend
const (
	eventLog          = "log"
	eventMirrorSample = "mirrors:sample"
	eventMirrorStatus = "mirrors:status"
	eventMirrorDone   = "mirrors:done"
)

// emitFunc matches runtime.EventsEmit
type emitFunc func(ctx context.Context, eventName string, optionalData ...interface{})

// App struct holds the application state and dependencies
type App struct {
	ctx     context.Context
	cfg     *config.Config
	coord   *service.Coordinator
	desktop *desktop.Service
	log     *slog.Logger
	emit    emitFunc

	// Bus and coordinator subscriptions, released on shutdown
	subsMu sync.Mutex
	unsubs []func()
}

// NewApp creates a new App instance
func NewApp(cfg *config.Config, coord *service.Coordinator, desk *desktop.Service, log *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		coord:   coord,
		desktop: desk,
		log:     log,
		emit:    runtime.EventsEmit,
	}
}

// Startup is called when the app starts
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx

	unfollow := a.coord.Bus().Follow(func(line model.LogLine) {
		a.emit(ctx, eventLog, line.Text)
		if sample, ok := mirror.ParseLine(line.Text); ok {
			a.emit(ctx, eventMirrorSample, sample)
		}
	})
	unobserve := a.coord.Observe(service.NotifierFuncs{
		Status:   func(state model.RunState) { a.emit(ctx, eventMirrorStatus, state) },
		Finished: func(result model.RunResult) { a.emit(ctx, eventMirrorDone, result) },
	})

	a.subsMu.Lock()
	a.unsubs = append(a.unsubs, unfollow, unobserve)
	a.subsMu.Unlock()
}

// Shutdown is called when the app is closing
func (a *App) Shutdown(ctx context.Context) {
	// Cancel an in-flight update so no privileged process outlives the window
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Mirrors.GracePeriod+5*time.Second)
	defer cancel()
	if err := a.coord.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("mirror-list update did not finish before shutdown", "error", err)
	}

	a.subsMu.Lock()
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
	a.subsMu.Unlock()
}

// ====================
// Mirror list API
// ====================

// UpdateMirrorList runs reflector with the given parameters and returns once
// the run has been finalized. Output is emitted line by line on "log".
// If an update is already running, no second process is started and the
// running update's result is returned.
func (a *App) UpdateMirrorList(params model.MirrorListParams) (model.RunResult, error) {
	result, err := a.coord.Run(a.ctx, params.Request())
	if errors.Is(err, service.ErrRunInProgress) {
		a.log.Info("mirror-list update already running, waiting for it")
		result, _, err = a.coord.Wait(a.ctx)
	}
	return result, err
}

// StartMirrorListUpdate starts an update and returns immediately.
// Progress arrives as "mirrors:status", "log" and "mirrors:done" events.
func (a *App) StartMirrorListUpdate(params model.MirrorListParams) (model.RunState, error) {
	state, err := a.coord.Start(a.ctx, params.Request())
	if errors.Is(err, service.ErrRunInProgress) {
		return state, nil
	}
	return state, err
}

// SubmitMirrorForm starts an update from the server-side form selection
func (a *App) SubmitMirrorForm() (model.RunState, error) {
	form := a.coord.Form()
	if !form.CanSubmit() {
		return a.coord.State(), fmt.Errorf("select at least one country and protocol")
	}
	state, err := a.coord.Start(a.ctx, form.Request())
	if errors.Is(err, service.ErrRunInProgress) {
		return state, nil
	}
	return state, err
}

// CancelMirrorListUpdate stops the running update. It reports false when
// nothing was running, and an error when the process could not be signalled.
func (a *App) CancelMirrorListUpdate() (bool, error) {
	err := a.coord.Cancel()
	if errors.Is(err, service.ErrNoActiveRun) {
		return false, nil
	}
	return err == nil, err
}

// MirrorRunState returns the current run state
func (a *App) MirrorRunState() model.RunState {
	return a.coord.State()
}

// MirrorLogs returns the lines collected for display
func (a *App) MirrorLogs() []model.LogLine {
	return a.coord.Aggregator().Snapshot()
}

// MirrorLogsEmpty drives the "No Logs" placeholder
func (a *App) MirrorLogsEmpty() bool {
	return a.coord.Aggregator().IsEmpty()
}

// ClearMirrorLogs empties the log pane. It is refused while an update runs.
func (a *App) ClearMirrorLogs() error {
	if a.coord.State().Busy {
		return service.ErrRunInProgress
	}
	a.coord.Aggregator().Clear()
	return nil
}

// LastMirrorResult returns the most recent finished run including its log,
// or nil before the first run.
func (a *App) LastMirrorResult() *model.RunResult {
	result, ok := a.coord.LastResult()
	if !ok {
		return nil
	}
	return &result
}

func (a *App) MirrorCountries() []string {
	return append([]string(nil), a.cfg.Mirrors.Countries...)
}

func (a *App) MirrorDefaults() model.MirrorDefaults {
	return a.cfg.Mirrors.Defaults()
}

// ====================
// Mirror form API
// ====================

func (a *App) MirrorForm() model.MirrorListParams {
	return a.coord.Form().Params()
}

func (a *App) ToggleMirrorCountry(country string) (model.MirrorListParams, error) {
	form := a.coord.Form()
	if _, err := form.ToggleCountry(country); err != nil {
		return form.Params(), err
	}
	return form.Params(), nil
}

func (a *App) SetMirrorProtocols(https, http bool) model.MirrorListParams {
	form := a.coord.Form()
	form.SetProtocol(https, http)
	return form.Params()
}

func (a *App) SetMirrorSort(sortBy string) (model.MirrorListParams, error) {
	form := a.coord.Form()
	err := form.SetSort(sortBy)
	return form.Params(), err
}

// StepMirrorCount moves the mirror count by one; it never drops below 1.
func (a *App) StepMirrorCount(up bool) int {
	if up {
		return a.coord.Form().IncrementMaxMirrors()
	}
	return a.coord.Form().DecrementMaxMirrors()
}

// StepMirrorTimeout moves the download timeout by one second; it never drops below 1.
func (a *App) StepMirrorTimeout(up bool) int {
	if up {
		return a.coord.Form().IncrementTimeout()
	}
	return a.coord.Form().DecrementTimeout()
}

func (a *App) CanSubmitMirrorForm() bool {
	return a.coord.Form().CanSubmit()
}

// ====================
// System API
// ====================

// GetPrerequisites checks the tools the app depends on
func (a *App) GetPrerequisites() []model.Prerequisite {
	return service.CheckPrerequisites(a.cfg.Mirrors)
}

// DesktopInfo describes the session for the welcome screen
func (a *App) DesktopInfo() model.DesktopInfo {
	theme := a.desktop.CurrentTheme()
	return model.DesktopInfo{
		Environment: a.desktop.Environment(),
		LiveISO:     a.desktop.IsLiveInstallMedium(),
		Theme:       theme,
		DarkTheme:   desktop.IsDarkTheme(theme),
		Autostart:   a.desktop.AutostartFileExists(),
	}
}

func (a *App) CurrentTheme() string {
	return a.desktop.CurrentTheme()
}

func (a *App) ToggleTheme(dark bool) error {
	return a.desktop.SetTheme(dark)
}

func (a *App) AutostartEnabled() bool {
	return a.desktop.AutostartFileExists()
}

func (a *App) ToggleAutostart(enable bool) (bool, error) {
	return a.desktop.SetAutostart(enable)
}

func (a *App) UpdateSystem() error {
	return a.desktop.UpdateSystem()
}

func (a *App) ScreenResolution() error {
	return a.desktop.SetScreenResolution()
}

func (a *App) IsLiveISO() bool {
	return a.desktop.IsLiveInstallMedium()
}

func (a *App) OpenURL(url string) error {
	return a.desktop.OpenExternalURL(url)
}

func (a *App) RunInstaller() error {
	return a.desktop.RunInstaller()
}
