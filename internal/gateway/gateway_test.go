package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jarto666/scriptforge/internal/events"
)

func newTestServer(t *testing.T, bus *events.Bus, cfg Config) (*Gateway, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g := New(bus, cfg, nil)
	router := gin.New()
	router.GET("/ws", g.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		g.Close()
		srv.Close()
	})
	return g, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendOp(t *testing.T, conn *websocket.Conn, op, batchID string) {
	t.Helper()
	if err := conn.WriteJSON(events.ClientOp{Op: op, BatchID: batchID}); err != nil {
		t.Fatalf("write %s op: %v", op, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env events.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

// waitForSubscribers blocks until the bus reaches the wanted subscriber count
// for a topic; join/leave ops are processed asynchronously on the session's
// read goroutine.
func waitForSubscribers(t *testing.T, bus *events.Bus, topic events.Topic, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if bus.SubscriberCount(topic) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("topic %v never reached %d subscribers (have %d)",
		topic, want, bus.SubscriberCount(topic))
}

func TestGatewayForwardsJoinedBatchEvents(t *testing.T) {
	bus := events.NewBus()
	_, srv := newTestServer(t, bus, Config{})
	conn := dialWS(t, srv)

	sendOp(t, conn, events.OpJoin, "b1")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 1)
	waitForSubscribers(t, bus, events.CompletedTopic("b1"), 1)

	progress := events.Progress{
		BatchID: "b1", ScriptID: "s1", Status: events.WireStatusCompleted,
		CompletedCount: 1, TotalCount: 2, Progress: 0.5,
	}
	bus.Publish(events.ProgressTopic("b1"), progress)

	env := readEnvelope(t, conn)
	if env.BatchID != "b1" || env.Kind != events.KindProgress {
		t.Fatalf("unexpected envelope address: %+v", env)
	}
	var got events.Progress
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got != progress {
		t.Errorf("payload round trip: got %+v want %+v", got, progress)
	}
}

func TestGatewayDoesNotForwardUnjoinedBatches(t *testing.T) {
	bus := events.NewBus()
	_, srv := newTestServer(t, bus, Config{})
	conn := dialWS(t, srv)

	sendOp(t, conn, events.OpJoin, "b1")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 1)

	bus.Publish(events.ProgressTopic("b2"), events.Progress{BatchID: "b2"})
	bus.Publish(events.CompletedTopic("b1"), events.Completed{BatchID: "b1"})

	// The first envelope through must be for b1; the b2 event was published
	// first and would have arrived first had it been forwarded.
	env := readEnvelope(t, conn)
	if env.BatchID != "b1" || env.Kind != events.KindCompleted {
		t.Fatalf("expected only b1 completed envelope, got %+v", env)
	}
}

func TestGatewayLeaveStopsForwarding(t *testing.T) {
	bus := events.NewBus()
	_, srv := newTestServer(t, bus, Config{})
	conn := dialWS(t, srv)

	sendOp(t, conn, events.OpJoin, "b1")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 1)

	sendOp(t, conn, events.OpLeave, "b1")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 0)
	waitForSubscribers(t, bus, events.CompletedTopic("b1"), 0)

	bus.Publish(events.ProgressTopic("b1"), events.Progress{BatchID: "b1"})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env events.Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("received envelope after leave: %+v", env)
	}
}

func TestGatewayDuplicateJoinIsNoop(t *testing.T) {
	bus := events.NewBus()
	_, srv := newTestServer(t, bus, Config{})
	conn := dialWS(t, srv)

	sendOp(t, conn, events.OpJoin, "b1")
	sendOp(t, conn, events.OpJoin, "b1")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 1)

	// Give the second join time to land; the count must stay at one so the
	// session never receives duplicate envelopes.
	time.Sleep(50 * time.Millisecond)
	if n := bus.SubscriberCount(events.ProgressTopic("b1")); n != 1 {
		t.Errorf("duplicate join created %d subscriptions", n)
	}
}

func TestGatewayDisconnectRemovesAllSubscriptions(t *testing.T) {
	bus := events.NewBus()
	g, srv := newTestServer(t, bus, Config{})
	conn := dialWS(t, srv)

	sendOp(t, conn, events.OpJoin, "b1")
	sendOp(t, conn, events.OpJoin, "b2")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 1)
	waitForSubscribers(t, bus, events.ProgressTopic("b2"), 1)

	conn.Close()

	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 0)
	waitForSubscribers(t, bus, events.CompletedTopic("b1"), 0)
	waitForSubscribers(t, bus, events.ProgressTopic("b2"), 0)
	waitForSubscribers(t, bus, events.CompletedTopic("b2"), 0)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && g.SessionCount() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if n := g.SessionCount(); n != 0 {
		t.Errorf("gateway still tracks %d sessions after disconnect", n)
	}
}

func TestGatewayIndependentSessions(t *testing.T) {
	bus := events.NewBus()
	_, srv := newTestServer(t, bus, Config{})
	conn1 := dialWS(t, srv)
	conn2 := dialWS(t, srv)

	sendOp(t, conn1, events.OpJoin, "b1")
	sendOp(t, conn2, events.OpJoin, "b1")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 2)

	bus.Publish(events.ProgressTopic("b1"), events.Progress{BatchID: "b1", Progress: 1})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		env := readEnvelope(t, conn)
		if env.BatchID != "b1" || env.Kind != events.KindProgress {
			t.Errorf("unexpected envelope: %+v", env)
		}
	}

	// conn2 leaving must not affect conn1's stream.
	sendOp(t, conn2, events.OpLeave, "b1")
	waitForSubscribers(t, bus, events.ProgressTopic("b1"), 1)

	bus.Publish(events.CompletedTopic("b1"), events.Completed{BatchID: "b1"})
	env := readEnvelope(t, conn1)
	if env.Kind != events.KindCompleted {
		t.Errorf("surviving session missed completed envelope: %+v", env)
	}
}
