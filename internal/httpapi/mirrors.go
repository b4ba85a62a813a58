package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/logging"
	"github.com/arch-linux-gui/alg-welcome/internal/mirror"
	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/arch-linux-gui/alg-welcome/internal/service"
)

const wsWriteTimeout = 10 * time.Second

// Frame is one WebSocket message
type Frame struct {
	Type   string              `json:"type"` // "log", "status" or "done"
	Line   *model.LogLine      `json:"line,omitempty"`
	Sample *model.MirrorSample `json:"sample,omitempty"`
	State  *model.RunState     `json:"state,omitempty"`
	Result *model.RunResult    `json:"result,omitempty"`
}

// MirrorHandler exposes the mirror-list coordinator over HTTP
type MirrorHandler struct {
	coord    *service.Coordinator
	mirrors  config.MirrorConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewMirrorHandler creates a new mirror handler
func NewMirrorHandler(coord *service.Coordinator, mirrors config.MirrorConfig, log *slog.Logger) *MirrorHandler {
	// The bridge listens on loopback for the local frontend only.
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return &MirrorHandler{
		coord:    coord,
		mirrors:  mirrors,
		upgrader: upgrader,
		log:      logging.OrDiscard(log),
	}
}

func (h *MirrorHandler) Countries(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, h.mirrors.Countries)
}

func (h *MirrorHandler) Defaults(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, h.mirrors.Defaults())
}

func (h *MirrorHandler) State(w http.ResponseWriter, r *http.Request) {
	SendSuccess(w, h.coord.State())
}

func (h *MirrorHandler) LastResult(w http.ResponseWriter, r *http.Request) {
	result, ok := h.coord.LastResult()
	if !ok {
		SendError(w, "no mirror-list update has run yet", http.StatusNotFound)
		return
	}
	SendSuccess(w, result)
}

// Update starts a run: 202 when started, 409 while busy, 400 for bad parameters.
func (h *MirrorHandler) Update(w http.ResponseWriter, r *http.Request) {
	var params model.MirrorListParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		SendError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	state, err := h.coord.Start(r.Context(), params.Request())
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		SendJSON(w, http.StatusConflict, model.Response{Success: false, Message: err.Error(), Data: state})
	case errors.Is(err, mirror.ErrInvalidParameter):
		SendError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		h.log.Error("failed to start mirror-list update", "error", err)
		SendError(w, err.Error(), http.StatusInternalServerError)
	default:
		SendJSON(w, http.StatusAccepted, model.Response{Success: true, Message: "mirror-list update started", Data: state})
	}
}

func (h *MirrorHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.coord.Cancel()
	switch {
	case errors.Is(err, service.ErrNoActiveRun):
		SendError(w, err.Error(), http.StatusConflict)
	case err != nil:
		h.log.Error("failed to cancel mirror-list update", "error", err)
		SendError(w, err.Error(), http.StatusInternalServerError)
	default:
		SendSuccess(w, h.coord.State())
	}
}

func (h *MirrorHandler) Logs(w http.ResponseWriter, r *http.Request) {
	agg := h.coord.Aggregator()
	SendSuccess(w, map[string]interface{}{
		"empty": agg.IsEmpty(),
		"lines": agg.Snapshot(),
	})
}

func (h *MirrorHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	if h.coord.State().Busy {
		SendError(w, service.ErrRunInProgress.Error(), http.StatusConflict)
		return
	}
	h.coord.Aggregator().Clear()
	SendSuccess(w, nil)
}

// StreamLogs streams the current (or next) run as Server-Sent Events, one
// "data:" event per line, then a "done" event carrying the RunResult.
func (h *MirrorHandler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := h.coord.Bus().Subscribe()
	defer sub.Close()

	fmt.Fprintf(w, ": subscribed\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-sub.C():
			if !ok {
				result, found, err := h.coord.Wait(ctx)
				if err != nil || !found {
					return
				}
				data, _ := json.Marshal(result)
				fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			writeLogEvent(w, line)
			flusher.Flush()
		}
	}
}

// sseNewlines matches every line terminator an event stream recognises.
var sseNewlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// writeLogEvent writes line as one SSE event. A carriage return inside the
// text (reflector progress output) would otherwise end the data field early,
// so each segment gets its own data line and the client rejoins them with \n.
func writeLogEvent(w io.Writer, line model.LogLine) {
	fmt.Fprintf(w, "id: %d\n", line.Seq)
	for _, part := range strings.Split(sseNewlines.Replace(line.Text), "\n") {
		fmt.Fprintf(w, "data: %s\n", part)
	}
	fmt.Fprint(w, "\n")
}

// WebSocket pushes log, status and done frames for every run until the
// client disconnects.
func (h *MirrorHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("mirrors ws upgrade", "error", err)
		return
	}
	defer conn.Close()

	frames := make(chan Frame, 256)
	closed := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(closed) }) }

	send := func(f Frame) {
		select {
		case frames <- f:
		case <-closed:
		}
	}

	unfollow := h.coord.Bus().Follow(func(line model.LogLine) {
		f := Frame{Type: "log", Line: &line}
		if sample, ok := mirror.ParseLine(line.Text); ok {
			f.Sample = &sample
		}
		send(f)
	})
	defer unfollow()
	unobserve := h.coord.Observe(service.NotifierFuncs{
		Status:   func(state model.RunState) { send(Frame{Type: "status", State: &state}) },
		Finished: func(result model.RunResult) { send(Frame{Type: "done", Result: &result}) },
	})
	defer unobserve()
	defer stop()

	// Reads are only needed to notice the client going away.
	go func() {
		defer stop()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	state := h.coord.State()
	send(Frame{Type: "status", State: &state})

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case f := <-frames:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				h.log.Debug("mirrors ws write", "error", err)
				stop()
				return
			}
		}
	}
}
