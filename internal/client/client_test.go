package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jarto666/scriptforge/internal/events"
)

// fakeGateway is a minimal websocket server recording every dial attempt and
// client op, with switches to refuse upgrades and drop live connections.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	attempts []time.Time
	refusing bool
	conns    []*websocket.Conn
	ops      []events.ClientOp
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	f := &fakeGateway{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(func() {
		f.dropAll()
		f.srv.Close()
	})
	return f
}

func (f *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.attempts = append(f.attempts, time.Now())
	refusing := f.refusing
	f.mu.Unlock()

	if refusing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	for {
		var op events.ClientOp
		if err := conn.ReadJSON(&op); err != nil {
			return
		}
		f.mu.Lock()
		f.ops = append(f.ops, op)
		f.mu.Unlock()
	}
}

func (f *fakeGateway) setRefusing(refusing bool) {
	f.mu.Lock()
	f.refusing = refusing
	f.mu.Unlock()
}

func (f *fakeGateway) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

func (f *fakeGateway) attemptTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.attempts))
	copy(out, f.attempts)
	return out
}

func (f *fakeGateway) recordedOps() []events.ClientOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.ClientOp, len(f.ops))
	copy(out, f.ops)
	return out
}

// dropLatest severs the newest connection server-side, simulating a network
// failure the client did not ask for.
func (f *fakeGateway) dropLatest() {
	f.mu.Lock()
	var conn *websocket.Conn
	if n := len(f.conns); n > 0 {
		conn = f.conns[n-1]
	}
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (f *fakeGateway) dropAll() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

// pushLatest sends an envelope to the newest connection.
func (f *fakeGateway) pushLatest(t *testing.T, env events.Envelope) {
	t.Helper()
	f.mu.Lock()
	var conn *websocket.Conn
	if n := len(f.conns); n > 0 {
		conn = f.conns[n-1]
	}
	f.mu.Unlock()
	if conn == nil {
		t.Fatal("no live connection to push to")
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("push envelope: %v", err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientConnectReplaysJoinsAndDeliversEvents(t *testing.T) {
	gw := newFakeGateway(t)

	c := New(Config{URL: gw.url(), MaxRetries: 0, RetryDelay: 10 * time.Millisecond})
	defer c.Close()

	got := make(chan events.Progress, 1)
	// Subscribing before Connect: the join op is deferred until the
	// session is up, then replayed from the followed-batch registry.
	c.Mux().SubscribeToProgress("b1", func(p events.Progress) { got <- p })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Error("Connected() = false after successful Connect")
	}

	waitUntil(t, "join op", func() bool {
		ops := gw.recordedOps()
		return len(ops) == 1 && ops[0].Op == events.OpJoin && ops[0].BatchID == "b1"
	})

	env, err := events.NewEnvelope(events.ProgressTopic("b1"), events.Progress{BatchID: "b1", Progress: 0.5})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	gw.pushLatest(t, env)

	select {
	case p := <-got:
		if p.Progress != 0.5 {
			t.Errorf("delivered payload: %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for progress callback")
	}
}

func TestClientReconnectIsBoundedWithFixedDelay(t *testing.T) {
	gw := newFakeGateway(t)

	retryDelay := 60 * time.Millisecond
	var cbMu sync.Mutex
	disconnects, connectErrors := 0, 0

	c := New(Config{
		URL:        gw.url(),
		MaxRetries: 2,
		RetryDelay: retryDelay,
		OnDisconnect: func() {
			cbMu.Lock()
			disconnects++
			cbMu.Unlock()
		},
		OnConnectError: func(error) {
			cbMu.Lock()
			connectErrors++
			cbMu.Unlock()
		},
	})
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Drop the session and refuse every redial: the client must attempt
	// exactly MaxRetries reconnects and then stay disconnected.
	gw.setRefusing(true)
	gw.dropLatest()

	waitUntil(t, "retries to be exhausted", func() bool { return gw.attemptCount() == 3 })
	time.Sleep(2 * retryDelay)
	if n := gw.attemptCount(); n != 3 {
		t.Fatalf("dial attempts = %d, want 3 (1 connect + 2 retries)", n)
	}
	if c.Connected() {
		t.Error("client still connected after exhausting retries")
	}

	attempts := gw.attemptTimes()
	for i := 1; i < len(attempts); i++ {
		if gap := attempts[i].Sub(attempts[i-1]); gap < retryDelay {
			t.Errorf("gap before attempt %d = %v, want at least %v", i+1, gap, retryDelay)
		}
	}

	cbMu.Lock()
	defer cbMu.Unlock()
	if disconnects != 1 {
		t.Errorf("OnDisconnect fired %d times, want 1", disconnects)
	}
	if connectErrors != 2 {
		t.Errorf("OnConnectError fired %d times, want 2", connectErrors)
	}
}

func TestClientReconnectRestoresSessionAndRejoins(t *testing.T) {
	gw := newFakeGateway(t)

	var cbMu sync.Mutex
	connects := 0

	c := New(Config{
		URL:        gw.url(),
		MaxRetries: 5,
		RetryDelay: 20 * time.Millisecond,
		OnConnect: func() {
			cbMu.Lock()
			connects++
			cbMu.Unlock()
		},
	})
	defer c.Close()

	c.Mux().SubscribeToProgress("b1", func(events.Progress) {})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitUntil(t, "initial join", func() bool { return len(gw.recordedOps()) == 1 })

	gw.dropLatest()

	// The replacement session must re-join every followed batch.
	waitUntil(t, "re-join after reconnect", func() bool {
		joins := 0
		for _, op := range gw.recordedOps() {
			if op.Op == events.OpJoin && op.BatchID == "b1" {
				joins++
			}
		}
		return joins == 2
	})
	waitUntil(t, "connection restored", c.Connected)

	cbMu.Lock()
	defer cbMu.Unlock()
	if connects != 2 {
		t.Errorf("OnConnect fired %d times, want 2", connects)
	}
}

func TestClientCloseDisablesReconnect(t *testing.T) {
	gw := newFakeGateway(t)

	c := New(Config{URL: gw.url(), MaxRetries: 3, RetryDelay: 20 * time.Millisecond})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := gw.attemptCount(); n != 1 {
		t.Errorf("dial attempts after Close = %d, want 1", n)
	}
	if c.Connected() {
		t.Error("client reports connected after Close")
	}
}

func TestClientConnectRejectedWhileReconnecting(t *testing.T) {
	gw := newFakeGateway(t)

	c := New(Config{URL: gw.url(), MaxRetries: 3, RetryDelay: 150 * time.Millisecond})
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	gw.setRefusing(true)
	gw.dropLatest()
	waitUntil(t, "disconnect observed", func() bool { return !c.Connected() })

	// A manual Connect during the retry sleep must not open a second
	// session alongside the pending reconnect.
	if err := c.Connect(); err == nil {
		t.Fatal("Connect succeeded while a reconnect was pending")
	}

	gw.setRefusing(false)
	waitUntil(t, "reconnect to land", c.Connected)

	// One initial dial, at most one refused retry, one successful retry.
	if n := gw.attemptCount(); n > 3 {
		t.Errorf("dial attempts = %d, want at most 3", n)
	}
}
