package mirror

import (
	"regexp"
	"strings"

	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

var (
	logLineRe = regexp.MustCompile(`^\[.*?\]\s+(INFO|WARNING|ERROR):\s+(.+)$`)
	serverRe  = regexp.MustCompile(`^(https?://\S+)\s+(\S+\s+\S+/s)\s+(\S+\s+s)$`)
)

// ParseLine splits a reflector --verbose line into display columns.
// It returns false for lines that are not reflector log records.
//
//	[2024-05-01 10:00:00] INFO: https://mirror.example/archlinux/  1.20 MiB/s  0.85 s
func ParseLine(line string) (model.MirrorSample, bool) {
	m := logLineRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return model.MirrorSample{}, false
	}
	level, content := m[1], strings.TrimSpace(m[2])

	switch level {
	case "INFO":
		if s := serverRe.FindStringSubmatch(content); s != nil {
			return model.MirrorSample{Server: s[1], Rate: s[2], Time: s[3], Level: level}, true
		}
		return model.MirrorSample{Server: content, Level: level}, true
	default:
		return model.MirrorSample{Server: content, Rate: level, Time: "N/A", Level: level}, true
	}
}
