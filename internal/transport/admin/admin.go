// Package admin serves the loopback-only control surface of a running
// simulation.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"trustcollapse.dev/internal/observerproto"
	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/runner"
)

const maxBody = 64 * 1024

// Runner is what the admin handlers drive.
type Runner interface {
	Do(ctx context.Context, cmd runner.Command) (observerproto.Status, error)
	Metrics() runner.Metrics
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	RequestSnapshot(ctx context.Context) (uint64, error)
}

type Handlers struct {
	r   Runner
	log *log.Logger
}

func New(r Runner, logger *log.Logger) *Handlers {
	return &Handlers{r: r, log: logger}
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/control", h.ControlHandler())
	mux.HandleFunc("/admin/v1/state", h.StateHandler())
	mux.HandleFunc("/admin/v1/snapshot", h.SnapshotHandler())
}

// ControlHandler accepts a CONTROL message and waits until the runner has
// applied it at a tick boundary.
func (h *Handlers) ControlHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			writeControl(rw, http.StatusBadRequest, observerproto.Status{}, err)
			return
		}
		msg, err := observerproto.DecodeControl(body)
		if err != nil {
			writeControl(rw, http.StatusBadRequest, h.r.Metrics().Status(), err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		st, err := h.r.Do(ctx, CommandFrom(msg))
		switch {
		case err == nil:
			writeControl(rw, http.StatusOK, st, nil)
		case errors.Is(err, runner.ErrBusy), errors.Is(err, runner.ErrStopped):
			writeControl(rw, http.StatusServiceUnavailable, h.r.Metrics().Status(), err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			writeControl(rw, http.StatusGatewayTimeout, h.r.Metrics().Status(), err)
		default:
			h.log.Printf("control %s: %v", msg.Cmd, err)
			writeControl(rw, http.StatusBadRequest, st, err)
		}
	}
}

// StateHandler reports the published metrics. With ?snapshot=1 it also
// returns a deep copy of both worlds, taken between ticks.
func (h *Handlers) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := struct {
			Metrics  runner.Metrics   `json:"metrics"`
			Snapshot *engine.Snapshot `json:"snapshot,omitempty"`
		}{Metrics: h.r.Metrics()}

		if v := r.URL.Query().Get("snapshot"); v == "1" || v == "true" {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			snap, err := h.r.Snapshot(ctx)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			resp.Snapshot = &snap
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// SnapshotHandler asks the runner to persist a snapshot of the current state.
func (h *Handlers) SnapshotHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		tick, err := h.r.RequestSnapshot(ctx)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	}
}

// CommandFrom maps a validated control message onto a runner command.
func CommandFrom(msg observerproto.ControlMsg) runner.Command {
	c := runner.Command{Kind: runner.Kind(msg.Cmd), Rate: msg.Rate}
	if msg.On != nil {
		c.On = *msg.On
	}
	if msg.Fraction != nil {
		c.Fraction = *msg.Fraction
	}
	return c
}

func writeControl(rw http.ResponseWriter, code int, st observerproto.Status, err error) {
	resp := observerproto.ControlResponse{OK: err == nil, Status: st}
	if err != nil {
		resp.Error = err.Error()
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(resp)
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
