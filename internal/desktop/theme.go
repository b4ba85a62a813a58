package desktop

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	breezeLight = "org.kde.breeze.desktop"
	breezeDark  = "org.kde.breezedark.desktop"
)

// IsDarkTheme reports whether a theme or color-scheme name is a dark variant
func IsDarkTheme(theme string) bool {
	t := strings.ToLower(theme)
	return strings.Contains(t, "dark")
}

// CurrentTheme returns the active theme name for the desktop environment,
// or an empty string when it cannot be determined.
func (s *Service) CurrentTheme() string {
	var theme string
	switch s.env {
	case EnvKDE:
		theme = s.kdeLookAndFeel()
	case EnvXFCE:
		theme, _ = s.output("xfconf-query", "-c", "xsettings", "-p", "/Net/ThemeName", "-v")
	case EnvGNOME:
		out, err := s.output("gsettings", "get", "org.gnome.desktop.interface", "color-scheme")
		if err != nil {
			s.log.Warn("failed to read gnome color scheme", "error", err)
		}
		theme = strings.Trim(out, "'")
	}
	s.log.Debug("current theme", "desktop", s.env, "theme", theme)
	return theme
}

// SetTheme switches the session to the dark or light variant of its theme family.
func (s *Service) SetTheme(isDark bool) error {
	var err error
	switch s.env {
	case EnvKDE:
		err = s.setKDETheme(isDark)
	case EnvGNOME:
		err = s.setGNOMETheme(isDark)
	case EnvXFCE:
		err = s.setXFCETheme(isDark)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDesktop, s.env)
	}
	if err != nil {
		return fmt.Errorf("failed to change %s theme: %w", s.env, err)
	}
	s.log.Info("theme changed", "desktop", s.env, "dark", isDark)
	return nil
}

func (s *Service) setKDETheme(isDark bool) error {
	if strings.Contains(s.kdeLookAndFeel(), "org.kde.breeze") {
		style := breezeLight
		if isDark {
			style = breezeDark
		}
		return s.run([]string{"lookandfeeltool", "--apply", style})
	}

	style, deco := "Qogirlight", "__aurorae__svg__Qogir-light-circle"
	if isDark {
		style, deco = "Qogirdark", "__aurorae__svg__Qogir-dark-circle"
	}
	return s.run(
		[]string{"plasma-apply-colorscheme", style},
		[]string{"kwriteconfig6", "--file", filepath.Join(s.home, ".config", "kwinrc"),
			"--group", "org.kde.kdecoration2", "--key", "theme", deco},
		[]string{"qdbus6", "org.kde.KWin", "/KWin", "reconfigure"},
	)
}

func (s *Service) setGNOMETheme(isDark bool) error {
	style := "prefer-light"
	if isDark {
		style = "prefer-dark"
	}
	cmds := [][]string{{"gsettings", "set", "org.gnome.desktop.interface", "color-scheme", style}}

	shell, _ := s.output("gsettings", "get", "org.gnome.shell.extensions.user-theme", "name")
	if strings.Contains(shell, "Orchis") {
		name := "Orchis-Light"
		if isDark {
			name = "Orchis-Red-Dark"
		}
		cmds = append(cmds, []string{"gsettings", "set", "org.gnome.shell.extensions.user-theme", "name", name})
	}
	return s.run(cmds...)
}

func (s *Service) setXFCETheme(isDark bool) error {
	current, _ := s.output("xfconf-query", "-c", "xsettings", "-p", "/Net/ThemeName", "-v")

	style := "Adwaita"
	switch {
	case strings.Contains(current, "Qogir") && isDark:
		style = "Qogir-Dark"
	case strings.Contains(current, "Qogir"):
		style = "Qogir-Light"
	case isDark:
		style = "Adwaita-dark"
	}
	return s.run(
		[]string{"xfconf-query", "-c", "xsettings", "-p", "/Net/ThemeName", "-s", style},
		[]string{"xfconf-query", "-c", "xfwm4", "-p", "/general/theme", "-s", style},
	)
}

// kdeLookAndFeel reads the look-and-feel package from kdeglobals, falling
// back to the color scheme for non-Breeze packages.
func (s *Service) kdeLookAndFeel() string {
	files := []string{
		filepath.Join(s.home, ".config", "kdeglobals"),
		filepath.Join(s.home, ".kde4", "share", "config", "kdeglobals"),
		"/etc/kde/kdeglobals",
	}
	for _, f := range files {
		if pkg, err := readINIValue(f, "KDE", "LookAndFeelPackage"); err == nil {
			if pkg = formatColorScheme(pkg); pkg == breezeLight || pkg == breezeDark {
				return pkg
			}
		}
		if scheme, err := readINIValue(f, "General", "ColorScheme"); err == nil {
			return formatColorScheme(scheme)
		}
	}
	return breezeLight
}

func readINIValue(path, section, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := "[" + section + "]"
	inSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "["):
			if inSection {
				return "", fmt.Errorf("%s not found in %s of %s", key, header, path)
			}
			inSection = line == header
		case inSection && strings.HasPrefix(line, key+"="):
			return strings.TrimSpace(strings.TrimPrefix(line, key+"=")), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error reading %s: %w", path, err)
	}
	return "", fmt.Errorf("%s not found in %s of %s", key, header, path)
}

func formatColorScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "breeze", breezeLight:
		return breezeLight
	case "breezedark", breezeDark:
		return breezeDark
	}
	if filepath.Ext(scheme) == ".colors" {
		return strings.TrimSuffix(filepath.Base(scheme), ".colors")
	}
	return scheme
}
