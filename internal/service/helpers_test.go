//go:build !windows

package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/stretchr/testify/require"
)

const passthroughElevation = "#!/bin/sh\nexec \"$@\"\n"

const dismissingElevation = `#!/bin/sh
echo "Error executing command as another user: Request dismissed" >&2
exit 126
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

// fakeTools writes an elevation wrapper and a reflector stand-in.
func fakeTools(t *testing.T, elevation, reflector string) mirror.BuildOptions {
	t.Helper()
	dir := t.TempDir()
	return mirror.BuildOptions{
		Elevation: writeScript(t, dir, "elevate", elevation),
		Reflector: writeScript(t, dir, "reflector", "#!/bin/sh\n"+reflector),
		SavePath:  filepath.Join(dir, "mirrorlist"),
	}
}

func validRequest() model.MirrorUpdateRequest {
	return model.MirrorUpdateRequest{
		Countries:              []string{"Norway", "France"},
		Protocols:              []model.Protocol{model.ProtocolHTTPS},
		SortKey:                model.SortRate,
		MaxMirrors:             20,
		DownloadTimeoutSeconds: 20,
	}
}

func buildCommand(t *testing.T, opts mirror.BuildOptions) mirror.Command {
	t.Helper()
	cmd, err := mirror.Build(validRequest(), opts)
	require.NoError(t, err)
	return cmd
}

func drain(h *Handle) []string {
	var out []string
	for line := range h.Lines() {
		out = append(out, line)
	}
	return out
}
