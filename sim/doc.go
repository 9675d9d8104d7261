// Package sim provides the core of the warehouse robot simulation: grid agents that
// sense, grab and stack objects, driven tick by tick by an external decision service.
//
// # Reading Guide
//
// Start with these files to understand the coordination core:
//   - agent.go: the per-agent action state machine (move, grab, drop, wait)
//   - simulator.go: the tick loop (sense, decide, dispatch, barrier, resync)
//   - world.go: the in-process world collaborator (queries, sensors, contact)
//
// # Architecture
//
// The sim package owns entities and the loop; everything that crosses a process
// boundary lives in sub-packages:
//   - sim/decision/: HTTP/JSON client for the decision service
//   - sim/policy/: reference reactive policy and its Hertz server
//   - sim/trace/: in-memory tick and action records
//   - sim/history/: durable tick logs (JSONL+zstd, SQLite, Postgres)
//   - sim/observer/: WebSocket feed for an external renderer
//
// # Key Interfaces
//
//   - World: spatial queries and transform sink used by agents
//   - Decider: chooses one Command per Perception each tick
//   - WorldView: re-senses the world and snapshots it between ticks
//   - TickObserver: receives a TickReport after every iteration
//   - Renderer: one-way transform feed from the core
//
// Concurrency: agents run one goroutine per action; Object and Stack guards are
// non-blocking atomic flags; SensorState is the only structure written by the world
// while the loop reads it.
package sim
