package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trustcollapse.dev/internal/observerproto"
	"trustcollapse.dev/internal/persistence/indexdb"
	"trustcollapse.dev/internal/sim/runner"
)

// Host is the part of the runner the observer stream needs.
type Host interface {
	Metrics() runner.Metrics
	Params() observerproto.WorldParams
	JoinObserver(req runner.ObserverJoinRequest) error
	SubscribeObserver(req runner.ObserverSubscribeRequest)
	LeaveObserver(sessionID string)
	Done() <-chan struct{}
}

// History serves recent per-tick rows. A nil History disables /v1/history.
type History interface {
	Recent(ctx context.Context, limit int) ([]indexdb.TickRow, error)
}

type Server struct {
	host    Host
	history History
	log     *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64
}

func NewServer(h Host, history History, logger *log.Logger) *Server {
	return &Server{
		host:    h,
		history: history,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of open observer connections.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Status:          s.host.Metrics().Status(),
			WorldParams:     s.host.Params(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.history == nil {
			http.Error(rw, "history disabled", http.StatusNotFound)
			return
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 10000 {
				http.Error(rw, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		rows, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			s.log.Printf("history: %v", err)
			http.Error(rw, "history unavailable", http.StatusServiceUnavailable)
			return
		}
		if rows == nil {
			rows = []indexdb.TickRow{}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(rows)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := observerproto.DecodeSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 8)
		joinReq := runner.ObserverJoinRequest{
			SessionID:  sid,
			Out:        out,
			Grids:      sub.Grids,
			Histogram:  sub.Histogram,
			EveryTicks: sub.EveryTicks,
		}
		if err := s.host.JoinObserver(joinReq); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		defer s.host.LeaveObserver(sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. When the runner closes out or stops, or a write
		// fails, it closes conn so the reader loop below returns too.
		writeErr := make(chan error, 1)
		go func() {
			goingAway := func() {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "runner stopped"), time.Now().Add(time.Second))
				_ = conn.Close()
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-s.host.Done():
					goingAway()
					writeErr <- nil
					return
				case b, ok := <-out:
					if !ok {
						goingAway()
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						_ = conn.Close()
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := observerproto.DecodeSubscribe(msg)
			if err != nil {
				continue
			}
			s.host.SubscribeObserver(runner.ObserverSubscribeRequest{
				SessionID:  sid,
				Grids:      sub.Grids,
				Histogram:  sub.Histogram,
				EveryTicks: sub.EveryTicks,
			})
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}
