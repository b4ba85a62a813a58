package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/arch-linux-gui/alg-welcome/internal/service"
)

const (
	headerHeight = 3
	footerHeight = 2
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	serverStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	rateStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
)

type lineMsg struct {
	line model.LogLine
}

type statusMsg struct {
	state model.RunState
}

type doneMsg struct {
	result model.RunResult
}

type eventsClosedMsg struct{}

type cancelledMsg struct {
	err error
}

// event carries exactly one of its fields
type event struct {
	line   *model.LogLine
	state  *model.RunState
	result *model.RunResult
}

// Options configures Run. Input and Output default to the process terminal.
type Options struct {
	Input  io.Reader
	Output io.Writer
}

// Run starts a mirror-list update and renders it until the run is finalized.
// If an update is already running, Run attaches to it instead of starting a
// second one. ctrl+c or q cancels the run; pressing again leaves the UI.
func Run(ctx context.Context, coord *service.Coordinator, req model.MirrorUpdateRequest, opts Options) (model.RunResult, error) {
	events := make(chan event, 256)
	closed := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(closed) }) }
	defer stop()

	send := func(ev event) {
		select {
		case events <- ev:
		case <-closed:
		}
	}

	unfollow := coord.Bus().Follow(func(line model.LogLine) { send(event{line: &line}) })
	defer unfollow()
	unobserve := coord.Observe(service.NotifierFuncs{
		Status:   func(state model.RunState) { send(event{state: &state}) },
		Finished: func(result model.RunResult) { send(event{result: &result}) },
	})
	defer unobserve()

	state, err := coord.Start(ctx, req)
	if err != nil && !errors.Is(err, service.ErrRunInProgress) {
		return model.RunResult{}, err
	}

	var progOpts []tea.ProgramOption
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}

	m := newModel(state, events, coord.Cancel)
	p := tea.NewProgram(m, progOpts...)

	go func() {
		select {
		case <-ctx.Done():
			_ = coord.Cancel()
		case <-closed:
		}
	}()

	_, runErr := p.Run()
	// Nothing reads events any more; release senders so the run can drain.
	stop()
	if runErr != nil {
		_ = coord.Cancel()
		return model.RunResult{}, fmt.Errorf("terminal UI: %w", runErr)
	}

	// The user may leave before the run is finalized; the process still has
	// to be reaped before returning.
	result, _, err := coord.Wait(context.WithoutCancel(ctx))
	return result, err
}

type tuiModel struct {
	events     <-chan event
	cancel     func() error
	spinner    spinner.Model
	viewport   viewport.Model
	lines      []string
	state      model.RunState
	result     *model.RunResult
	cancelling bool
	cancelErr  error
	width      int
}

func newModel(state model.RunState, events <-chan event, cancel func() error) tuiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return tuiModel{
		events:   events,
		cancel:   cancel,
		spinner:  s,
		viewport: viewport.New(80, 20),
		state:    state,
		width:    80,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitEventCmd(m.events))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-headerHeight-footerHeight)
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.result != nil || m.cancelling {
				return m, tea.Quit
			}
			m.cancelling = true
			m.cancelErr = nil
			return m, cancelCmd(m.cancel)
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case lineMsg:
		m.lines = append(m.lines, formatLine(msg.line.Text))
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
		return m, waitEventCmd(m.events)
	case statusMsg:
		m.state = msg.state
		return m, waitEventCmd(m.events)
	case doneMsg:
		m.result = &msg.result
		return m, tea.Quit
	case cancelledMsg:
		// Delivery failed, so the run goes on and q cancels again.
		if msg.err != nil && !errors.Is(msg.err, service.ErrNoActiveRun) {
			m.cancelling = false
			m.cancelErr = msg.err
		}
		return m, nil
	case eventsClosedMsg:
		return m, nil
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Update Mirrorlist"))
	b.WriteString("\n")
	if m.state.Command != "" {
		b.WriteString(dimStyle.Render(truncate(m.state.Command, m.width)))
	}
	b.WriteString("\n\n")

	if len(m.lines) == 0 {
		b.WriteString(dimStyle.Render("No Logs"))
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n\n")

	switch {
	case m.result != nil && m.result.Success:
		b.WriteString(successStyle.Render(m.result.Message))
	case m.result != nil:
		b.WriteString(errorStyle.Render(m.result.Message))
	case m.cancelling:
		b.WriteString(m.spinner.View() + " Cancelling... " + dimStyle.Render("(q again to leave)"))
	case m.state.Phase == model.PhaseFinalizing:
		b.WriteString(m.spinner.View() + " Finishing up...")
	case m.cancelErr != nil:
		b.WriteString(errorStyle.Render("Cancel failed: "+m.cancelErr.Error()) + "\n")
		b.WriteString(m.spinner.View() + " Updating mirrors... " + dimStyle.Render("(q to cancel)"))
	default:
		b.WriteString(m.spinner.View() + " Updating mirrors... " + dimStyle.Render("(q to cancel)"))
	}
	b.WriteString("\n")
	return b.String()
}

// cancelCmd runs cancel off the update loop; it may wait on an
// authorization dialog.
func cancelCmd(cancel func() error) tea.Cmd {
	return func() tea.Msg {
		return cancelledMsg{err: cancel()}
	}
}

func waitEventCmd(ch <-chan event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		switch {
		case ev.line != nil:
			return lineMsg{line: *ev.line}
		case ev.state != nil:
			return statusMsg{state: *ev.state}
		case ev.result != nil:
			return doneMsg{result: *ev.result}
		}
		return nil
	}
}

// formatLine lays reflector records out in columns and colours warnings.
func formatLine(text string) string {
	sample, ok := mirror.ParseLine(text)
	if !ok {
		return text
	}
	switch sample.Level {
	case "WARNING":
		return warnStyle.Render("WARNING " + sample.Server)
	case "ERROR":
		return errorStyle.Render("ERROR " + sample.Server)
	}
	if sample.Rate == "" {
		return dimStyle.Render(sample.Server)
	}
	return fmt.Sprintf("%s  %s  %s", serverStyle.Render(sample.Server), rateStyle.Render(sample.Rate), sample.Time)
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
