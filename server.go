//go:build windows

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reccapture/recc/internal/pipe"
)

// Session states pushed to monitor clients.
const (
	stateInjecting = "injecting"
	stateCapturing = "capturing"
	stateReleasing = "releasing"
	stateDone      = "done"
	stateFailed    = "failed"
)

// sessionStatus is the read-only view of the running session that the
// monitor server streams to clients.
type sessionStatus struct {
	mu      sync.Mutex
	state   string
	target  string
	started time.Time

	dataSink *pipe.Sink
	logSink  *pipe.Sink
}

func newSessionStatus(window string, pid uint32) *sessionStatus {
	target := fmt.Sprintf("pid %d", pid)
	if window != "" {
		target = fmt.Sprintf("window %q", window)
	}
	return &sessionStatus{state: stateInjecting, target: target, started: time.Now()}
}

func (s *sessionStatus) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *sessionStatus) getState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *sessionStatus) dataBytes() uint64 {
	if s.dataSink == nil {
		return 0
	}
	return s.dataSink.Bytes()
}

func (s *sessionStatus) logBytes() uint64 {
	if s.logSink == nil {
		return 0
	}
	return s.logSink.Bytes()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveMonitor serves the live status websocket. It never interferes with
// the capture session; clients only read.
func serveMonitor(port int, status *sessionStatus) {
	version := newReleaseChecker()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("WebSocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			payload := map[string]any{
				"type":       "status",
				"state":      status.getState(),
				"target":     status.target,
				"uptime":     time.Since(status.started).Round(time.Second).String(),
				"data_bytes": status.dataBytes(),
				"log_bytes":  status.logBytes(),
				"version":    version.Info(),
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
			<-ticker.C
		}
	})

	addr := fmt.Sprintf("localhost:%d", port)
	slog.Info("monitor server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("monitor server failed", "error", err)
	}
}
