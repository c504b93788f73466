package network

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/platform/metrics"
)

type hubFixture struct {
	srv     *httptest.Server
	hub     *Hub
	engine  *engine.Engine
	metrics *metrics.Collector
}

func newHubFixture(t *testing.T, opts HubOptions) *hubFixture {
	t.Helper()
	m := metrics.New()
	e := engine.New(engine.DefaultSettings(), engine.Options{Metrics: m})
	tk := engine.NewTicker(e, engine.DefaultInterval, nil)
	hub := NewHub(e, tk, opts, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	hub.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &hubFixture{srv: srv, hub: hub, engine: e, metrics: m}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *hubFixture) waitClients(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, f.hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, conn *websocket.Conn, cmd string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads frames until a message of the wanted type arrives. Frames may
// batch several messages separated by newlines.
func next(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var m struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(line, &m); err != nil {
				t.Fatalf("decode %s: %v", line, err)
			}
			if m.Type == want {
				return json.RawMessage(line)
			}
		}
	}
}

func TestHubBuildReplyGoesToRequester(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	conn := f.dial(t)
	f.waitClients(t, 1)

	send(t, conn, `{"type":"BUILD","id":"b1","building":"solar_panel","x":2,"y":3}`)

	var msg struct {
		ID      string             `json:"id"`
		Payload engine.BuildReport `json:"payload"`
	}
	if err := json.Unmarshal(next(t, conn, MsgTypeBuildResult), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID != "b1" {
		t.Errorf("Expected id b1, got %q", msg.ID)
	}
	if !msg.Payload.Success || msg.Payload.Building == nil || msg.Payload.Building.X != 2 {
		t.Errorf("Unexpected build result %+v", msg.Payload)
	}
	if snap := f.engine.Snapshot(); snap.Buildings["solar_panel"] != 1 {
		t.Errorf("Expected 1 solar panel, got %d", snap.Buildings["solar_panel"])
	}
}

func TestHubTickReachesEveryClient(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	a := f.dial(t)
	b := f.dial(t)
	f.waitClients(t, 2)

	send(t, a, `{"type":"TICK","id":"t1"}`)
	send(t, a, `{"type":"TICK","id":"t2"}`)

	for _, conn := range []*websocket.Conn{a, b} {
		for want := 1; want <= 2; want++ {
			var msg struct {
				Payload engine.TickReport `json:"payload"`
			}
			if err := json.Unmarshal(next(t, conn, MsgTypeTick), &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Payload.Tick != want {
				t.Errorf("Expected tick %d, got %d", want, msg.Payload.Tick)
			}
			if msg.Payload.Source != engine.SourceWS {
				t.Errorf("Expected source %s, got %s", engine.SourceWS, msg.Payload.Source)
			}
		}
	}
}

func TestHubResubscribesAfterFallingBehind(t *testing.T) {
	f := newHubFixture(t, HubOptions{TickBuffer: 4})
	stale := f.dial(t)
	f.waitClients(t, 1)

	// Stall the relay so the engine drops its subscription mid-burst.
	f.hub.mu.Lock()
	for i := 0; i < 50; i++ {
		f.engine.TickFrom(engine.SourceAPI)
	}
	f.hub.mu.Unlock()

	stale.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := stale.ReadMessage()
		if err == nil {
			continue
		}
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			t.Fatal("Expected lagging client to be disconnected, read timed out")
		}
		break
	}

	fresh := f.dial(t)
	f.waitClients(t, 1)
	if f.engine.Subscribers() != 1 {
		t.Errorf("Expected hub to hold 1 subscription, got %d", f.engine.Subscribers())
	}

	f.engine.TickFrom(engine.SourceAPI)
	var msg struct {
		Payload engine.TickReport `json:"payload"`
	}
	if err := json.Unmarshal(next(t, fresh, MsgTypeTick), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Payload.Tick != 51 {
		t.Errorf("Expected tick 51, got %d", msg.Payload.Tick)
	}
}

func TestHubSpeedAndSnapshotCommands(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	conn := f.dial(t)
	f.waitClients(t, 1)

	send(t, conn, `{"type":"SPEED","intervalMs":50}`)
	var speed struct {
		Payload SpeedResponse `json:"payload"`
	}
	if err := json.Unmarshal(next(t, conn, MsgTypeSpeed), &speed); err != nil {
		t.Fatal(err)
	}
	if speed.Payload.IntervalMs != 200 {
		t.Errorf("Expected 200, got %d", speed.Payload.IntervalMs)
	}

	send(t, conn, `{"type":"SNAPSHOT"}`)
	var snap struct {
		Payload struct {
			Name       string `json:"name"`
			Population int    `json:"population"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(next(t, conn, MsgTypeSnapshot), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Payload.Name != "Life Support" || snap.Payload.Population != 5 {
		t.Errorf("Unexpected snapshot %+v", snap.Payload)
	}
}

func TestHubRejectsInvalidCommands(t *testing.T) {
	f := newHubFixture(t, HubOptions{})
	conn := f.dial(t)
	f.waitClients(t, 1)

	for _, cmd := range []string{
		`{"type":"EXPLODE"}`,
		`{"type":"BUILD","x":1,"y":1}`,
		`{"type":"SPEED"}`,
		`garbage`,
	} {
		send(t, conn, cmd)
		var msg Message
		if err := json.Unmarshal(next(t, conn, MsgTypeError), &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Error == "" {
			t.Errorf("Command %s: expected an error message", cmd)
		}
	}
	if snap := f.engine.Snapshot(); snap.TickCount != 0 || len(snap.PlacedBuildings) != 0 {
		t.Errorf("Expected untouched colony, got %+v", snap)
	}
}

func TestHubRateLimitsCommands(t *testing.T) {
	f := newHubFixture(t, HubOptions{ActionsPerSecond: 0.001, ActionBurst: 1})
	conn := f.dial(t)
	f.waitClients(t, 1)

	send(t, conn, `{"type":"SNAPSHOT","id":"first"}`)
	next(t, conn, MsgTypeSnapshot)

	send(t, conn, `{"type":"TICK","id":"second"}`)
	var msg Message
	if err := json.Unmarshal(next(t, conn, MsgTypeError), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID != "second" || msg.Error != "rate limit exceeded" {
		t.Errorf("Unexpected error reply %+v", msg)
	}
	if f.engine.Snapshot().TickCount != 0 {
		t.Error("Expected the limited tick not to run")
	}
	if got := f.metrics.Snapshot()["websocket"].(map[string]interface{})["rate_limited"].(int64); got != 1 {
		t.Errorf("Expected 1 rate limited command, got %d", got)
	}
}

func TestHubEnforcesMaxClients(t *testing.T) {
	f := newHubFixture(t, HubOptions{MaxClients: 1})
	f.dial(t)
	f.waitClients(t, 1)

	extra := f.dial(t)
	extra.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := extra.ReadMessage(); err == nil {
		t.Error("Expected the extra client to be closed")
	}
	if f.hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", f.hub.ClientCount())
	}
}

func TestHubDisconnectsOnShutdown(t *testing.T) {
	m := metrics.New()
	e := engine.New(engine.DefaultSettings(), engine.Options{Metrics: m})
	hub := NewHub(e, nil, HubOptions{}, nil, m)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	mux := http.NewServeMux()
	hub.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to close after shutdown")
	}
	if e.Subscribers() != 0 {
		t.Errorf("Expected hub subscription released, got %d", e.Subscribers())
	}
	if got := m.Snapshot()["websocket"].(map[string]interface{})["active_connections"].(int64); got != 0 {
		t.Errorf("Expected 0 active connections, got %d", got)
	}
}
