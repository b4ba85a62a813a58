package desktop

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

func (s *Service) autostartPath() string {
	return filepath.Join(s.home, ".config", "autostart", "welcome.desktop")
}

// AutostartFileExists reports whether the app starts with the session
func (s *Service) AutostartFileExists() bool {
	_, err := os.Stat(s.autostartPath())
	return err == nil
}

// SetAutostart installs or removes the autostart entry and returns the
// resulting state.
func (s *Service) SetAutostart(enabled bool) (bool, error) {
	path := s.autostartPath()
	if !enabled {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return s.AutostartFileExists(), fmt.Errorf("failed to disable autostart: %w", err)
		}
		s.log.Info("autostart disabled", "path", path)
		return false, nil
	}

	if s.AutostartFileExists() {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create autostart directory: %w", err)
	}
	if err := copyFile(s.desktopEntry, path); err != nil {
		return false, fmt.Errorf("failed to enable autostart: %w", err)
	}
	s.log.Info("autostart enabled", "path", path)
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
