package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrHubClosed is returned when a session is opened after shutdown began.
var ErrHubClosed = errors.New("realtime hub is shut down")

// Hub tracks open sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*Session)}
}

// SessionInfo describes one open session.
type SessionInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Stats summarizes open sessions.
type Stats struct {
	Connections int            `json:"connections"`
	Users       int            `json:"users"`
	ByUser      map[string]int `json:"by_user"`
}

func (h *Hub) register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.sessions[s.id] = s
	h.wg.Add(1)
	return nil
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.id]; ok {
		delete(h.sessions, s.id)
		h.wg.Done()
	}
}

// Stats returns counts of open sessions.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{Connections: len(h.sessions), ByUser: make(map[string]int)}
	for _, s := range h.sessions {
		st.ByUser[s.userID]++
	}
	st.Users = len(st.ByUser)
	return st
}

// Sessions lists the open sessions of userID, oldest first.
func (h *Hub) Sessions(userID string) []SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]SessionInfo, 0)
	for _, s := range h.sessions {
		if s.userID == userID {
			out = append(out, SessionInfo{ID: s.id, UserID: s.userID, ConnectedAt: s.connectedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Shutdown refuses new sessions, closes every open one and waits for them to
// finish or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, s := range h.sessions {
		s.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
