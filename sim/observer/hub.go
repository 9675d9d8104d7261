// Package observer streams the simulation to external renderers over WebSocket. The
// feed is one-way: TRANSFORM frames follow every rendered movement, TICK frames close
// every iteration. Clients that cannot keep up lose frames rather than slow the core.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/trace"
)

// Path is where the feed is served.
const Path = "/v1/observe"

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

// Frame types.
const (
	FrameHello     = "HELLO"
	FrameTransform = "TRANSFORM"
	FrameTick      = "TICK"
)

// HelloFrame is the first frame on every connection.
type HelloFrame struct {
	Type  string            `json:"type"`
	Tick  int               `json:"tick"`
	World sim.WorldSnapshot `json:"world"`
}

// TransformFrame moves one rendered entity.
type TransformFrame struct {
	Type   string         `json:"type"`
	Kind   sim.EntityKind `json:"kind"`
	ID     int            `json:"id"`
	X      float64        `json:"x"`
	Y      float64        `json:"y"`
	Z      float64        `json:"z"`
	Millis int64          `json:"ts"`
}

// TickFrame summarizes one iteration and carries the world state after it.
type TickFrame struct {
	Type       string               `json:"type"`
	Tick       int                  `json:"tick"`
	DurationMs float64              `json:"duration_ms"`
	Error      string               `json:"error,omitempty"`
	TimedOut   bool                 `json:"timed_out,omitempty"`
	Actions    []trace.ActionRecord `json:"actions"`
	FullStacks int                  `json:"full_stacks"`
	Complete   bool                 `json:"complete"`
	World      sim.WorldSnapshot    `json:"world"`
}

type client struct {
	out     chan []byte
	dropped atomic.Int64
}

// Hub fans frames out to every connected client. It implements sim.Renderer and
// sim.TickObserver.
type Hub struct {
	logger   logrus.FieldLogger
	world    sim.WorldView
	upgrader websocket.Upgrader
	ping     time.Duration

	mu      sync.Mutex
	clients map[uint64]*client
	closed  bool
	nextID  atomic.Uint64
	tick    atomic.Int64
	dropped atomic.Int64
}

// NewHub creates a hub. world, when non-nil, provides the snapshot sent in HELLO.
func NewHub(world sim.WorldView, logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		logger:  logger,
		world:   world,
		ping:    pingPeriod,
		clients: make(map[uint64]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RenderTransform broadcasts a TRANSFORM frame.
func (h *Hub) RenderTransform(kind sim.EntityKind, id int, p sim.WorldPoint) {
	h.broadcast(TransformFrame{
		Type:   FrameTransform,
		Kind:   kind,
		ID:     id,
		X:      p.Plane.X(),
		Y:      p.Height,
		Z:      p.Plane.Y(),
		Millis: time.Now().UnixMilli(),
	})
}

// ObserveTick broadcasts a TICK frame.
func (h *Hub) ObserveTick(r sim.TickReport) {
	h.tick.Store(int64(r.Tick))
	rec := trace.FromReport(r, trace.TraceLevelActions)
	h.broadcast(TickFrame{
		Type:       FrameTick,
		Tick:       rec.Tick,
		DurationMs: rec.DurationMs,
		Error:      rec.Error,
		TimedOut:   rec.TimedOut,
		Actions:    rec.Actions,
		FullStacks: rec.FullStacks,
		Complete:   rec.Complete,
		World:      r.Snapshot,
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts frames not delivered to slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.WithError(err).Error("encoding observer frame")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.out <- b:
		default:
			c.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) register() (uint64, *client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, false
	}
	id := h.nextID.Add(1)
	c := &client{out: make(chan []byte, clientBuffer)}
	h.clients[id] = c
	return id, c, true
}

func (h *Hub) unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.out)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.out)
	}
}

// Handler upgrades GET requests to the feed.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, c, ok := h.register()
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		log := h.logger.WithField("observer", id)
		log.Info("observer connected")

		hello := HelloFrame{Type: FrameHello, Tick: int(h.tick.Load())}
		if h.world != nil {
			hello.World = h.world.Snapshot()
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(hello); err != nil {
			h.unregister(id)
			return
		}

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			ticker := time.NewTicker(h.ping)
			defer ticker.Stop()
			for {
				select {
				case b, ok := <-c.out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				case <-ticker.C:
					// A peer that is gone fails the ping write.
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
						return
					}
				}
			}
		}()

		// The feed is one-way and a renderer may never send anything, so there is no
		// read deadline; reading only notices the client leaving.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		select {
		case <-readDone:
		case <-writeDone:
		}
		h.unregister(id)
		<-writeDone
		log.WithField("dropped", c.dropped.Load()).Info("observer disconnected")
	}
}

// ListenAndServe serves the feed on addr until ctx ends.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(Path, h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
