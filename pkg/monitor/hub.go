package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// DefaultBacklog is the per viewer event buffer.
const DefaultBacklog = 64

// Hub fans events out to websocket viewers. A viewer that falls
// behind loses events instead of blocking the decoder.
type Hub struct {
	Backlog int

	lock    sync.Mutex
	viewers map[chan Event]struct{}
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{Backlog: DefaultBacklog, viewers: make(map[chan Event]struct{})}
}

// Broadcast implements Sink.
func (h *Hub) Broadcast(ev Event) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for ch := range h.viewers {
		select {
		case ch <- ev:
		default:
			glog.V(2).Info("viewer behind, event dropped")
		}
	}
}

// Join registers a viewer.
func (h *Hub) Join() <-chan Event {
	ch := make(chan Event, h.Backlog)
	h.lock.Lock()
	h.viewers[ch] = struct{}{}
	h.lock.Unlock()
	return ch
}

// Leave unregisters a viewer.
func (h *Hub) Leave(ch <-chan Event) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for viewer := range h.viewers {
		if viewer == ch {
			delete(h.viewers, viewer)
			close(viewer)
		}
	}
}

// Close disconnects all viewers.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for viewer := range h.viewers {
		delete(h.viewers, viewer)
		close(viewer)
	}
}

// Viewers returns the number of viewers.
func (h *Hub) Viewers() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.viewers)
}

// Handler streams events as JSON frames.
func (h *Hub) Handler() websocket.Handler {
	return func(ws *websocket.Conn) {
		ch := h.Join()
		defer h.Leave(ch)
		glog.Infof("viewer %s connected", ws.Request().RemoteAddr)
		for ev := range ch {
			if err := websocket.JSON.Send(ws, ev); err != nil {
				glog.V(1).Infof("viewer %s: %v", ws.Request().RemoteAddr, err)
				return
			}
		}
	}
}

// Server serves the Hub on /levels.
type Server struct {
	Addr string
	Hub  *Hub
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/levels", s.Hub.Handler())
	srv := &http.Server{Addr: s.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		glog.Infof("serving level events on %s/levels", s.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	s.Hub.Close()
	return ctx.Err()
}
