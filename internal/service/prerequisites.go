package service

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

// CheckPrerequisites returns the status of the tools the Welcome app shells out to
func CheckPrerequisites(cfg config.MirrorConfig) []model.Prerequisite {
	tools := []struct {
		name     string
		required bool
		args     []string
	}{
		{cfg.Reflector, true, []string{"--version"}},
		{cfg.Elevation, true, []string{"--version"}},
		{"pacman", true, []string{"--version"}},
		{"xdg-open", false, []string{"--version"}},
		{"calamares", false, []string{"--version"}},
	}

	result := make([]model.Prerequisite, 0, len(tools))
	for _, t := range tools {
		p := checkTool(t.name, t.required, t.args)
		result = append(result, p)
	}
	return result
}

// MissingRequired names the required tools that are not installed
func MissingRequired(prereqs []model.Prerequisite) []string {
	var missing []string
	for _, p := range prereqs {
		if p.Required && !p.Installed {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

func checkTool(name string, required bool, args []string) model.Prerequisite {
	path, err := exec.LookPath(name)
	if err != nil || path == "" {
		return model.Prerequisite{
			Name:      name,
			Installed: false,
			Required:  required,
			Message:   "not found",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, args...).CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return model.Prerequisite{
			Name:      name,
			Installed: true,
			Path:      path,
			Version:   parseVersion(out),
			Required:  required,
			Message:   err.Error(),
		}
	}

	version := parseVersion(out)
	if version == "" && out != "" {
		version = firstLine(out)
	}

	return model.Prerequisite{
		Name:      name,
		Installed: true,
		Path:      path,
		Version:   version,
		Required:  required,
	}
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

// pacman prints a banner; its version sits on a "Pacman vX.Y.Z" line.
var (
	pacmanVersionRe = regexp.MustCompile(`Pacman v(\S+)`)
	versionRe       = regexp.MustCompile(`(\d+(?:\.\d+)+)`)
)

func parseVersion(output string) string {
	if m := pacmanVersionRe.FindStringSubmatch(output); len(m) > 1 {
		return m[1]
	}
	if m := versionRe.FindStringSubmatch(firstLine(output)); len(m) > 1 {
		return m[1]
	}
	return ""
}
