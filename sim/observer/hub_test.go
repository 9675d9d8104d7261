package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/internal/testutil"
)

type fixedWorld struct{ snap sim.WorldSnapshot }

func (w fixedWorld) Sense(context.Context) error { return nil }
func (w fixedWorld) Snapshot() sim.WorldSnapshot { return w.snap }

func quiet() logrus.FieldLogger { return testutil.QuietLogger() }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(msg, &m))
	return m
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	world := fixedWorld{snap: sim.WorldSnapshot{Agents: []sim.AgentView{{ID: 3, Position: sim.GridPosition{X: 1, Y: 2}}}}}
	h := NewHub(world, quiet())
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return h, srv
}

func TestHub_HelloThenTransformAndTick(t *testing.T) {
	// GIVEN a connected observer
	h, srv := newTestHub(t)
	conn := dial(t, srv)

	// THEN the first frame is HELLO with the world snapshot
	hello := readFrame(t, conn)
	assert.Equal(t, FrameHello, hello["type"])
	agents := hello["world"].(map[string]any)["agents"].([]any)
	assert.Len(t, agents, 1)
	require.Equal(t, 1, h.Clients())

	// WHEN an agent moves
	h.RenderTransform(sim.EntityAgent, 3, sim.WorldPoint{Plane: orb.Point{1.5, -2.5}, Height: 0.5})

	// THEN a TRANSFORM frame maps plane to x/z and height to y
	tf := readFrame(t, conn)
	assert.Equal(t, FrameTransform, tf["type"])
	assert.Equal(t, "agent", tf["kind"])
	assert.EqualValues(t, 3, tf["id"])
	assert.EqualValues(t, 1.5, tf["x"])
	assert.EqualValues(t, 0.5, tf["y"])
	assert.EqualValues(t, -2.5, tf["z"])

	// WHEN a tick completes
	h.ObserveTick(sim.TickReport{
		Tick:       4,
		Results:    []sim.ActionResult{{AgentID: 3, Action: sim.Drop(sim.Left), Outcome: sim.OutcomeSucceeded}},
		FullStacks: 1,
	})

	// THEN a TICK frame carries the actions and tally
	tick := readFrame(t, conn)
	assert.Equal(t, FrameTick, tick["type"])
	assert.EqualValues(t, 4, tick["tick"])
	assert.EqualValues(t, 1, tick["full_stacks"])
	actions := tick["actions"].([]any)
	require.Len(t, actions, 1)
	assert.Equal(t, "D", actions[0].(map[string]any)["action"])
}

func TestHub_SlowClientDropsFrames(t *testing.T) {
	// GIVEN a registered client that never drains
	h := NewHub(nil, quiet())
	_, c, ok := h.register()
	require.True(t, ok)

	// WHEN more frames than its buffer are broadcast
	for i := 0; i < clientBuffer+10; i++ {
		h.RenderTransform(sim.EntityAgent, 0, sim.WorldPoint{})
	}

	// THEN broadcasting never blocks and the excess is counted
	assert.Len(t, c.out, clientBuffer)
	assert.EqualValues(t, 10, h.Dropped())
	assert.EqualValues(t, 10, c.dropped.Load())
}

func TestHub_ClientLeavingUnregisters(t *testing.T) {
	h, srv := newTestHub(t)
	conn := dial(t, srv)
	readFrame(t, conn)
	require.Equal(t, 1, h.Clients())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h, srv := newTestHub(t)
	conn := dial(t, srv)
	readFrame(t, conn)

	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	_, _, ok := h.register()
	assert.False(t, ok)
}

func TestHub_IdleClientStaysConnectedAndIsPinged(t *testing.T) {
	// GIVEN a hub pinging every 20ms and a client that reads nothing for a while
	world := fixedWorld{}
	h := NewHub(world, quiet())
	h.ping = 20 * time.Millisecond
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	conn := dial(t, srv)
	var pings atomic.Int32
	conn.SetPingHandler(func(string) error {
		pings.Add(1)
		return nil
	})
	readFrame(t, conn)

	// WHEN the client stays silent across many ping periods
	time.Sleep(200 * time.Millisecond)

	// THEN it is still registered and frames still reach it, pings included
	require.Equal(t, 1, h.Clients())
	h.RenderTransform(sim.EntityAgent, 1, sim.WorldPoint{})
	tf := readFrame(t, conn)
	assert.Equal(t, FrameTransform, tf["type"])
	assert.Positive(t, pings.Load())
}

func TestHub_RejectsNonGet(t *testing.T) {
	_, srv := newTestHub(t)
	resp, err := http.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHub_ListenAndServeStopsWithContext(t *testing.T) {
	h := NewHub(nil, quiet())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
