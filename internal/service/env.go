package service

import (
	"os"
	"strings"
)

// droppedEnv are stripped from the child environment. The bundled Qt/GTK
// runtime paths of the desktop app break the polkit agent and reflector's
// python when inherited.
var droppedEnv = []string{
	"LD_LIBRARY_PATH",
	"QT_PLUGIN_PATH",
	"QT_QPA_PLATFORM_THEME",
}

// envForElevation returns the current environment minus droppedEnv, with
// PYTHONUNBUFFERED set so reflector flushes each line as it is written.
func envForElevation() []string {
	return filterEnv(os.Environ(), droppedEnv, "PYTHONUNBUFFERED=1")
}

func filterEnv(environ, drop []string, extra ...string) []string {
	out := make([]string, 0, len(environ)+len(extra))
	for _, e := range environ {
		key, _, _ := strings.Cut(e, "=")
		if contains(drop, key) || hasKey(extra, key) {
			continue
		}
		out = append(out, e)
	}
	return append(out, extra...)
}

func hasKey(env []string, key string) bool {
	for _, e := range env {
		if k, _, _ := strings.Cut(e, "="); k == key {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
