package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
)

// Evaluator produces the current alerts for a user.
type Evaluator interface {
	Evaluate(ctx context.Context, userID string) ([]model.Alert, error)
}

// Config tunes session timing.
type Config struct {
	Interval       time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return c
}

// pingPeriod must stay below PongWait.
func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Session is one authenticated WebSocket client. It owns the reader (the
// caller of run), a writer, the alert ticker and one goroutine per pending
// check_alerts request. All writes go through the writer via the send channel.
type Session struct {
	id          string
	userID      string
	conn        *websocket.Conn
	send        chan []byte
	evaluator   Evaluator
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
	connectedAt time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool

	wg sync.WaitGroup
}

func newSession(conn *websocket.Conn, userID string, ev Evaluator, cfg Config, logger *slog.Logger, now func() time.Time) *Session {
	id := uuid.New().String()
	return &Session{
		id:          id,
		userID:      userID,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		evaluator:   ev,
		cfg:         cfg,
		logger:      logger.With("session_id", id, "user_id", userID),
		now:         now,
		connectedAt: now().UTC(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user bound to the session.
func (s *Session) UserID() string { return s.userID }

// Close cancels the session. The writer sends a close frame and the
// connection is torn down; run returns once every goroutine has stopped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

// run blocks until the connection closes or the session is cancelled.
func (s *Session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	if s.closed {
		cancel()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writePump(ctx)
	}()

	s.enqueue(ctx, ConnectedMessage{
		Type:      TypeConnected,
		Message:   "Connected to budget alerts",
		Timestamp: s.now().UTC(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop(ctx)
	}()

	s.readPump(ctx)
	cancel()
	s.wg.Wait()
	s.conn.Close()
	s.logger.Info("websocket session closed", "duration", s.now().UTC().Sub(s.connectedAt).String())
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.handle(ctx, data)
	}
}

func (s *Session) handle(ctx context.Context, data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.enqueue(ctx, ErrorMessage{Type: TypeError, Message: "Invalid message format"})
		return
	}

	switch msg.Type {
	case TypePing:
		s.enqueue(ctx, PongMessage{Type: TypePong, Timestamp: s.now().UTC()})
	case TypeCheckAlerts:
		// Notifier sends can be slow; keep the read loop and pong deadline moving.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.evaluate(ctx, true)
		}()
	default:
		s.enqueue(ctx, ErrorMessage{Type: TypeError, Message: "Unknown message type: " + msg.Type})
	}
}

func (s *Session) tickLoop(ctx context.Context) {
	s.evaluate(ctx, false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx, false)
		}
	}
}

// evaluate runs the evaluator and pushes the result. Scheduled runs stay
// silent when nothing breaches; explicit checks always answer.
func (s *Session) evaluate(ctx context.Context, always bool) {
	alerts, err := s.evaluator.Evaluate(ctx, s.userID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("evaluate budget alerts", "error", err)
		s.enqueue(ctx, ErrorMessage{Type: TypeError, Message: "Failed to check budget alerts"})
		return
	}
	if len(alerts) == 0 && !always {
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}

	s.enqueue(ctx, AlertsMessage{
		Type:      TypeBudgetAlerts,
		Alerts:    alerts,
		Count:     len(alerts),
		Timestamp: s.now().UTC(),
	})
}

// enqueue hands a message to the writer. A client that stops draining for
// longer than WriteWait loses the message.
func (s *Session) enqueue(ctx context.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal websocket message", "error", err)
		return
	}

	timer := time.NewTimer(s.cfg.WriteWait)
	defer timer.Stop()

	select {
	case s.send <- data:
	case <-ctx.Done():
	case <-timer.C:
		s.logger.Warn("websocket send buffer full, dropping message")
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
			s.conn.Close()
			return

		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("websocket write error", "error", err)
				s.conn.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("websocket ping error", "error", err)
				s.conn.Close()
				return
			}
		}
	}
}
