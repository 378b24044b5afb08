package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ogulcanaydogan/bi-sentinel/internal/auth"
	"github.com/ogulcanaydogan/bi-sentinel/internal/realtime"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubEvaluator returns canned alerts and counts invocations.
type stubEvaluator struct {
	mu     sync.Mutex
	alerts []model.Alert
	err    error
	gate   chan struct{}
	calls  atomic.Int64
}

func (s *stubEvaluator) Evaluate(ctx context.Context, _ string) ([]model.Alert, error) {
	s.calls.Add(1)
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts, s.err
}

// hold makes Evaluate block until the returned release func is called.
func (s *stubEvaluator) hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return sync.OnceFunc(func() { close(gate) })
}

func (s *stubEvaluator) set(alerts []model.Alert, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts, s.err = alerts, err
}

// staticVerifier accepts one token.
type staticVerifier struct{}

func (staticVerifier) Verify(token string) (string, error) {
	if token == "good-token" {
		return "user-1", nil
	}
	return "", auth.ErrInvalidToken
}

func criticalAlert() model.Alert {
	return model.Alert{
		Type:       model.AlertOverspend,
		Department: "marketing",
		Category:   "ads",
		Variance:   "30.00",
		Severity:   model.SeverityCritical,
	}
}

type fixture struct {
	server *httptest.Server
	hub    *realtime.Hub
	eval   *stubEvaluator
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eval := &stubEvaluator{}
	hub := realtime.NewHub()
	h := realtime.NewHandler(staticVerifier{}, eval, hub, realtime.Config{Interval: interval}, logger)

	server := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, hub.Shutdown(ctx))
		server.Close()
	})
	return &fixture{server: server, hub: hub, eval: eval}
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/budget-alerts"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	for range 20 {
		msg := readMessage(t, conn)
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("no %q message received", msgType)
	return nil
}

func TestHandler_RequiresUpgrade(t *testing.T) {
	h := realtime.NewHandler(staticVerifier{}, &stubEvaluator{}, realtime.NewHub(), realtime.Config{}, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/ws/budget-alerts", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUpgradeRequired, w.Code)
	assert.Equal(t, "websocket", w.Header().Get("Upgrade"))
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	f := newFixture(t, time.Hour)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/budget-alerts"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.hub.Stats().Connections)
}

func TestHandler_RejectsBadToken(t *testing.T) {
	f := newFixture(t, time.Hour)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/budget-alerts"

	header := http.Header{}
	header.Set("Authorization", "Bearer forged")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_QueryTokenAccepted(t *testing.T) {
	f := newFixture(t, time.Hour)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/budget-alerts?access_token=good-token"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, realtime.TypeConnected, msg["type"])
}

func TestSession_ConnectedThenPingPong(t *testing.T) {
	f := newFixture(t, time.Hour)
	conn := f.dial(t, "good-token")

	msg := readMessage(t, conn)
	assert.Equal(t, realtime.TypeConnected, msg["type"])
	assert.NotEmpty(t, msg["message"])
	assert.NotEmpty(t, msg["timestamp"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	pong := readUntil(t, conn, realtime.TypePong)
	assert.NotEmpty(t, pong["timestamp"])
}

func TestSession_ImmediateAndPeriodicAlerts(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.eval.set([]model.Alert{criticalAlert()}, nil)
	conn := f.dial(t, "good-token")

	assert.Equal(t, realtime.TypeConnected, readMessage(t, conn)["type"])

	first := readMessage(t, conn)
	assert.Equal(t, realtime.TypeBudgetAlerts, first["type"])
	assert.EqualValues(t, 1, first["count"])
	alerts := first["alerts"].([]any)
	require.Len(t, alerts, 1)
	assert.Equal(t, "30.00", alerts[0].(map[string]any)["variance"])
	assert.Equal(t, "critical", alerts[0].(map[string]any)["severity"])

	second := readMessage(t, conn)
	assert.Equal(t, realtime.TypeBudgetAlerts, second["type"])
	assert.GreaterOrEqual(t, f.eval.calls.Load(), int64(2))
}

func TestSession_NoPushWhenNominal(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	conn := f.dial(t, "good-token")
	assert.Equal(t, realtime.TypeConnected, readMessage(t, conn)["type"])

	require.Eventually(t, func() bool { return f.eval.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	// The next frame must be the pong, not an empty alert batch.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, realtime.TypePong, readMessage(t, conn)["type"])
}

func TestSession_CheckAlertsAlwaysAnswers(t *testing.T) {
	f := newFixture(t, time.Hour)
	conn := f.dial(t, "good-token")
	assert.Equal(t, realtime.TypeConnected, readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "check_alerts"}))
	msg := readMessage(t, conn)
	assert.Equal(t, realtime.TypeBudgetAlerts, msg["type"])
	assert.EqualValues(t, 0, msg["count"])
	assert.Equal(t, []any{}, msg["alerts"])
}

func TestSession_SlowCheckDoesNotBlockReads(t *testing.T) {
	f := newFixture(t, time.Hour)
	release := f.eval.hold()
	t.Cleanup(release)
	f.eval.set([]model.Alert{criticalAlert()}, nil)

	conn := f.dial(t, "good-token")
	assert.Equal(t, realtime.TypeConnected, readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "check_alerts"}))
	require.Eventually(t, func() bool { return f.eval.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, realtime.TypePong, readMessage(t, conn)["type"])

	release()
	msg := readUntil(t, conn, realtime.TypeBudgetAlerts)
	assert.EqualValues(t, 1, msg["count"])
}

func TestSession_UnknownAndMalformedMessages(t *testing.T) {
	f := newFixture(t, time.Hour)
	conn := f.dial(t, "good-token")
	assert.Equal(t, realtime.TypeConnected, readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	msg := readMessage(t, conn)
	assert.Equal(t, realtime.TypeError, msg["type"])
	assert.Contains(t, msg["message"], "subscribe")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readMessage(t, conn)
	assert.Equal(t, realtime.TypeError, msg["type"])

	// Session survives both.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, realtime.TypePong, readMessage(t, conn)["type"])
}

func TestSession_EvaluatorErrorKeepsConnection(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.eval.set(nil, errors.New("db down"))
	conn := f.dial(t, "good-token")
	assert.Equal(t, realtime.TypeConnected, readMessage(t, conn)["type"])

	msg := readMessage(t, conn)
	assert.Equal(t, realtime.TypeError, msg["type"])

	f.eval.set([]model.Alert{criticalAlert()}, nil)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "check_alerts"}))
	assert.Equal(t, realtime.TypeBudgetAlerts, readUntil(t, conn, realtime.TypeBudgetAlerts)["type"])
}

func TestSession_CloseStopsTicker(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	conn := f.dial(t, "good-token")
	assert.Equal(t, realtime.TypeConnected, readMessage(t, conn)["type"])
	require.Eventually(t, func() bool { return f.hub.Stats().Connections == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	require.Eventually(t, func() bool { return f.hub.Stats().Connections == 0 }, 2*time.Second, 5*time.Millisecond)

	calls := f.eval.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, f.eval.calls.Load())
}

func TestHub_StatsAndShutdown(t *testing.T) {
	f := newFixture(t, time.Hour)
	a := f.dial(t, "good-token")
	b := f.dial(t, "good-token")
	readMessage(t, a)
	readMessage(t, b)

	require.Eventually(t, func() bool { return f.hub.Stats().Connections == 2 }, time.Second, 5*time.Millisecond)
	st := f.hub.Stats()
	assert.Equal(t, 1, st.Users)
	assert.Equal(t, 2, st.ByUser["user-1"])
	assert.Len(t, f.hub.Sessions("user-1"), 2)
	assert.Empty(t, f.hub.Sessions("someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, f.hub.Shutdown(ctx))
	assert.Equal(t, 0, f.hub.Stats().Connections)

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/budget-alerts"
	header := http.Header{}
	header.Set("Authorization", "Bearer good-token")
	late, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}
