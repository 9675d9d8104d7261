package sim

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Layout is a populated world ready to be driven by a Simulator.
type Layout struct {
	Env        *Env
	World      *GridWorld
	Agents     []*Agent
	Objects    []*Object
	Stacks     []*Stack
	Obstacles  []GridPosition
	Completion *Completion
}

// BuildLayout places fixed stacks first, then agents, objects, extra stacks and
// obstacles on distinct random cells drawn from the layout subsystem of rng.
func BuildLayout(cfg Config, rng *PartitionedRNG, logger logrus.FieldLogger) (*Layout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	w := cfg.World

	geom := NewGeometry(w.Cols, w.Rows, w.TileSize, w.YOffset)
	sensors := NewSensorState(NumDirections*w.NumAgents + 1)
	world := NewGridWorld(geom, sensors, w.ContactRadius, logger)
	env := &Env{
		Geometry:      geom,
		Sensors:       sensors,
		World:         world,
		FrameInterval: cfg.Timing.FrameInterval,
		GrabHeight:    w.GrabHeight,
		Logger:        logger,
	}

	nStacks := len(w.StackCells) + w.ExtraStacks
	l := &Layout{
		Env:        env,
		World:      world,
		Completion: NewCompletion(nStacks, logger),
	}

	occupied := make(map[GridPosition]bool, len(w.StackCells))
	for _, c := range w.StackCells {
		occupied[c] = true
	}
	cells, err := uniqueRandomCells(rng.ForSubsystem(SubsystemLayout), w.NumAgents+w.NumObjects+w.ExtraStacks+w.NumObstacles, w.Cols, w.Rows, occupied)
	if err != nil {
		return nil, err
	}

	stackCells := append(append([]GridPosition(nil), w.StackCells...), cells[w.NumAgents+w.NumObjects:w.NumAgents+w.NumObjects+w.ExtraStacks]...)
	for id, c := range stackCells {
		st := NewStack(id, c, geom.PositionToWorld(c), w.StackCapacity, w.ItemOffset, l.Completion.OnStackFull)
		l.Stacks = append(l.Stacks, st)
		world.AddStack(st)
	}
	for id, c := range cells[:w.NumAgents] {
		a := NewAgent(id, c, env)
		l.Agents = append(l.Agents, a)
		world.AddAgent(a)
	}
	for id, c := range cells[w.NumAgents : w.NumAgents+w.NumObjects] {
		o := NewObject(id, c, geom.PositionToWorld(c))
		l.Objects = append(l.Objects, o)
		world.AddObject(o)
	}
	for _, c := range cells[w.NumAgents+w.NumObjects+w.ExtraStacks:] {
		l.Obstacles = append(l.Obstacles, c)
		world.AddObstacle(c)
	}

	logger.WithFields(logrus.Fields{
		"agents":    len(l.Agents),
		"objects":   len(l.Objects),
		"stacks":    len(l.Stacks),
		"obstacles": len(l.Obstacles),
		"seed":      int64(rng.Key()),
	}).Info("world layout built")
	return l, nil
}

// uniqueRandomCells returns n distinct free cells in random order.
func uniqueRandomCells(rng *rand.Rand, n, cols, rows int, occupied map[GridPosition]bool) ([]GridPosition, error) {
	free := make([]GridPosition, 0, cols*rows)
	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			p := GridPosition{X: x, Y: y}
			if !occupied[p] {
				free = append(free, p)
			}
		}
	}
	if n > len(free) {
		return nil, fmt.Errorf("%w: need %d free cells, have %d", ErrInvalidConfig, n, len(free))
	}
	rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	return free[:n], nil
}
