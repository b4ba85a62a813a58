//go:build !windows

package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/arch-linux-gui/alg-welcome/internal/service"
)

func newTestServer(t *testing.T, reflector string) (*httptest.Server, *service.Coordinator) {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
		return path
	}

	cfg := config.Default()
	coord := service.NewCoordinator(service.CoordinatorOptions{
		Build: mirror.BuildOptions{
			Elevation: write("elevate", "#!/bin/sh\nexec \"$@\"\n"),
			Reflector: write("reflector", "#!/bin/sh\n"+reflector),
			SavePath:  filepath.Join(dir, "mirrorlist"),
			Countries: cfg.Mirrors.Countries,
		},
		Runner: service.NewRunner(service.RunnerOptions{GracePeriod: time.Second}),
		Form:   service.NewForm(cfg.Mirrors.Defaults()),
	})
	srv := httptest.NewServer(NewRouter(NewMirrorHandler(coord, cfg.Mirrors, nil)))
	t.Cleanup(srv.Close)
	return srv, coord
}

func postUpdate(t *testing.T, srv *httptest.Server, params model.MirrorListParams) (*http.Response, model.Response) {
	t.Helper()
	body, err := json.Marshal(params)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/mirrors/update", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out model.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func norwayFrance() model.MirrorListParams {
	return model.MirrorListParams{
		Countries:      []string{"Norway", "France"},
		IncludeHTTPS:   true,
		SortBy:         "Rate",
		MaxMirrors:     20,
		TimeoutSeconds: 20,
	}
}

func waitIdle(t *testing.T, coord *service.Coordinator) model.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, ok, err := coord.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	return result
}

func TestHealthAndCountries(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/mirrors/countries")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Success bool     `json:"success"`
		Data    []string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.Contains(t, out.Data, "Norway")
}

func TestUpdateStatusCodes(t *testing.T) {
	srv, coord := newTestServer(t, "echo rating\nsleep 1\n")

	bad := norwayFrance()
	bad.Countries = nil
	resp, out := postUpdate(t, srv, bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, out.Success)

	resp, out = postUpdate(t, srv, norwayFrance())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, out.Success)

	resp, _ = postUpdate(t, srv, norwayFrance())
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	result := waitIdle(t, coord)
	require.True(t, result.Success)
	require.Equal(t, []model.LogLine{{Seq: 1, Text: "rating"}}, result.Log)

	resp, err := http.Post(srv.URL+"/api/mirrors/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelReportsFinalizing(t *testing.T) {
	srv, coord := newTestServer(t, "echo started\nsleep 30\n")

	resp, _ := postUpdate(t, srv, norwayFrance())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/api/mirrors/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool           `json:"success"`
		Data    model.RunState `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.Equal(t, model.PhaseFinalizing, out.Data.Phase)
	require.True(t, out.Data.Busy)

	result := waitIdle(t, coord)
	require.Equal(t, model.OutcomeCancelled, result.Outcome.Kind)
}

func TestStreamLogsSSE(t *testing.T) {
	srv, coord := newTestServer(t, "echo one\necho two\n")

	resp, err := http.Get(srv.URL + "/api/mirrors/logs/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": subscribed\n", first)

	r, _ := postUpdate(t, srv, norwayFrance())
	require.Equal(t, http.StatusAccepted, r.StatusCode)

	var data []string
	var sawDone bool
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "event: done" {
			sawDone = true
			continue
		}
		if strings.HasPrefix(line, "data: ") && !sawDone {
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	require.True(t, sawDone)
	require.Equal(t, []string{"one", "two"}, data)
	waitIdle(t, coord)
}

func TestWriteLogEventSplitsCarriageReturns(t *testing.T) {
	var buf bytes.Buffer
	writeLogEvent(&buf, model.LogLine{Seq: 7, Text: "rating 1/3\rrating 2/3\r\nrated"})
	require.Equal(t, "id: 7\ndata: rating 1/3\ndata: rating 2/3\ndata: rated\n\n", buf.String())

	buf.Reset()
	writeLogEvent(&buf, model.LogLine{Seq: 8, Text: "plain"})
	require.Equal(t, "id: 8\ndata: plain\n\n", buf.String())
}

func TestStreamLogsKeepsCarriageReturnInOneEvent(t *testing.T) {
	srv, coord := newTestServer(t, "printf 'a\\rb\\n'\necho c\n")

	resp, err := http.Get(srv.URL + "/api/mirrors/logs/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	r, _ := postUpdate(t, srv, norwayFrance())
	require.Equal(t, http.StatusAccepted, r.StatusCode)

	// Collect data fields per event, ending each event at a blank line.
	var events [][]string
	var current []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "event: done" {
			break
		}
		switch {
		case line == "" && current != nil:
			events = append(events, current)
			current = nil
		case strings.HasPrefix(line, "data: "):
			current = append(current, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Equal(t, [][]string{{"a", "b"}, {"c"}}, events)
	waitIdle(t, coord)
}

func TestWebSocketFrames(t *testing.T) {
	srv, _ := newTestServer(t, "echo \"[2024-05-01 10:00:00] INFO: https://a.example/ 1.00 MiB/s 0.50 s\"\n")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/mirrors/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "status", f.Type)
	require.Equal(t, model.PhaseIdle, f.State.Phase)

	r, _ := postUpdate(t, srv, norwayFrance())
	require.Equal(t, http.StatusAccepted, r.StatusCode)

	var types []string
	var logFrame Frame
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		types = append(types, frame.Type)
		if frame.Type == "log" {
			logFrame = frame
		}
		if frame.Type == "done" {
			require.True(t, frame.Result.Success)
			break
		}
	}
	require.Contains(t, types, "log")
	require.Equal(t, "https://a.example/", logFrame.Sample.Server)
	require.Equal(t, "done", types[len(types)-1])
}
