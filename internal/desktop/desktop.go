// Package desktop wraps the session-level integrations of the Welcome
// screen: theme switching, autostart, system update and the installer.
package desktop

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/arch-linux-gui/alg-welcome/internal/logging"
)

// Supported desktop environments, as normalized from XDG_CURRENT_DESKTOP.
const (
	EnvKDE   = "kde"
	EnvGNOME = "gnome"
	EnvXFCE  = "xfce"
)

// ErrUnsupportedDesktop is returned by actions that need a known desktop environment.
var ErrUnsupportedDesktop = errors.New("unsupported desktop environment")

// Commander runs external programs. Output waits for the program to exit;
// Launch starts it and returns.
type Commander interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Launch(name string, args ...string) error
}

type execCommander struct {
	log *slog.Logger
}

func (e execCommander) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (e execCommander) Launch(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			e.log.Warn("launched program exited with error", "program", name, "error", err)
		}
	}()
	return nil
}

// Options configures a Service. Zero values are filled from the environment.
type Options struct {
	Environment    string // raw XDG_CURRENT_DESKTOP value
	Home           string
	LiveISOMarker  string // default /run/archiso
	DesktopEntry   string // default /usr/share/applications/welcome.desktop
	Commander      Commander
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// Service performs desktop actions for the current session
type Service struct {
	env          string
	home         string
	liveMarker   string
	desktopEntry string
	cmd          Commander
	timeout      time.Duration
	log          *slog.Logger

	mu               sync.Mutex
	installerRunning bool
}

// New creates a Service for the running session
func New(opts Options) *Service {
	log := logging.OrDiscard(opts.Logger)
	s := &Service{
		env:          DetectEnvironment(opts.Environment),
		home:         opts.Home,
		liveMarker:   opts.LiveISOMarker,
		desktopEntry: opts.DesktopEntry,
		cmd:          opts.Commander,
		timeout:      opts.CommandTimeout,
		log:          log,
	}
	if opts.Environment == "" {
		s.env = DetectEnvironment(os.Getenv("XDG_CURRENT_DESKTOP"))
	}
	if s.home == "" {
		s.home, _ = os.UserHomeDir()
	}
	if s.liveMarker == "" {
		s.liveMarker = "/run/archiso"
	}
	if s.desktopEntry == "" {
		s.desktopEntry = "/usr/share/applications/welcome.desktop"
	}
	if s.cmd == nil {
		s.cmd = execCommander{log: log}
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	return s
}

// DetectEnvironment normalizes an XDG_CURRENT_DESKTOP value such as
// "KDE", "ubuntu:GNOME" or "XFCE". Unknown values are returned lowercased.
func DetectEnvironment(xdg string) string {
	v := strings.ToLower(strings.TrimSpace(xdg))
	for _, part := range strings.Split(v, ":") {
		switch part {
		case EnvKDE, "plasma":
			return EnvKDE
		case EnvGNOME:
			return EnvGNOME
		case EnvXFCE:
			return EnvXFCE
		}
	}
	return v
}

// Environment is the normalized desktop environment
func (s *Service) Environment() string {
	return s.env
}

func (s *Service) output(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	out, err := s.cmd.Output(ctx, name, args...)
	return strings.TrimSpace(string(out)), err
}

// run executes each argv in order, stopping at the first failure.
func (s *Service) run(cmds ...[]string) error {
	for _, argv := range cmds {
		if _, err := s.output(argv[0], argv[1:]...); err != nil {
			return err
		}
	}
	return nil
}
