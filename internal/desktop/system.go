package desktop

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
)

// ErrInstallerRunning is returned when the installer is launched twice.
var ErrInstallerRunning = errors.New("installer is already running")

// UpdateSystem opens the desktop's terminal running a full system upgrade.
func (s *Service) UpdateSystem() error {
	upgrade := []string{"pkexec", "pacman", "--noconfirm", "-Syu"}
	var argv []string
	switch s.env {
	case EnvXFCE:
		argv = append([]string{"xfce4-terminal", "-x"}, upgrade...)
	case EnvGNOME:
		argv = append([]string{"gnome-terminal", "--"}, upgrade...)
	case EnvKDE:
		argv = append([]string{"konsole", "-e"}, upgrade...)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDesktop, s.env)
	}
	if err := s.cmd.Launch(argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("failed to start system update: %w", err)
	}
	return nil
}

// SetScreenResolution opens the desktop's display settings.
func (s *Service) SetScreenResolution() error {
	var argv []string
	switch s.env {
	case EnvXFCE:
		argv = []string{"xfce4-display-settings"}
	case EnvGNOME:
		argv = []string{"gnome-control-center", "display"}
	case EnvKDE:
		argv = []string{"kcmshell6", "kcm_kscreen"}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDesktop, s.env)
	}
	if err := s.cmd.Launch(argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("failed to open display settings: %w", err)
	}
	return nil
}

// IsLiveInstallMedium reports whether the session runs from the live ISO.
func (s *Service) IsLiveInstallMedium() bool {
	_, err := os.Stat(s.liveMarker)
	return err == nil
}

// OpenExternalURL opens an http(s) link in the user's browser.
func (s *Service) OpenExternalURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("refusing to open %q: not an http(s) URL", raw)
	}
	if err := s.cmd.Launch("xdg-open", u.String()); err != nil {
		return fmt.Errorf("failed to open %s: %w", u, err)
	}
	return nil
}

// RunInstaller starts Calamares on live media. Only one instance runs at a time.
func (s *Service) RunInstaller() error {
	if !s.IsLiveInstallMedium() {
		return errors.New("the installer is only available on the live medium")
	}

	s.mu.Lock()
	if s.installerRunning {
		s.mu.Unlock()
		return ErrInstallerRunning
	}
	s.installerRunning = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.installerRunning = false
			s.mu.Unlock()
		}()
		// Output blocks until calamares exits; no timeout applies here.
		out, err := s.cmd.Output(context.Background(), "pkexec", "calamares", "-D", "8")
		if err != nil {
			s.log.Error("installer exited with error", "error", err, "output", string(out))
			return
		}
		s.log.Info("installer exited")
	}()
	return nil
}

// InstallerRunning reports whether RunInstaller's Calamares is still open.
func (s *Service) InstallerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installerRunning
}
