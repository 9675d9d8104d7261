package sim

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GridPosition is an integer cell coordinate. X grows to the right, Y grows forward.
type GridPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns the neighbouring cell in direction d.
func (p GridPosition) Add(d Direction) GridPosition {
	delta := d.Delta()
	return GridPosition{X: p.X + delta.X, Y: p.Y + delta.Y}
}

func (p GridPosition) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// === Direction ===

// Direction addresses one of the four cardinal neighbours of a cell.
// It is used both for sensor addressing and movement.
type Direction int

const (
	Forward Direction = iota
	Backward
	Left
	Right
)

// NumDirections is the number of sensor directions per agent.
const NumDirections = 4

// Directions lists every direction in wire order (F, B, L, R).
var Directions = [NumDirections]Direction{Forward, Backward, Left, Right}

var directionCodes = [NumDirections]byte{'F', 'B', 'L', 'R'}

var directionDeltas = [NumDirections]GridPosition{
	{X: 0, Y: 1},
	{X: 0, Y: -1},
	{X: -1, Y: 0},
	{X: 1, Y: 0},
}

// Valid reports whether d is one of the four known directions.
func (d Direction) Valid() bool {
	return d >= Forward && d <= Right
}

// Delta returns the unit grid offset for d.
func (d Direction) Delta() GridPosition {
	if !d.Valid() {
		return GridPosition{}
	}
	return directionDeltas[d]
}

// Opposite returns the direction pointing the other way.
func (d Direction) Opposite() Direction {
	switch d {
	case Forward:
		return Backward
	case Backward:
		return Forward
	case Left:
		return Right
	case Right:
		return Left
	default:
		return d
	}
}

// Code returns the single-character wire name ('F', 'B', 'L', 'R').
func (d Direction) Code() byte {
	if !d.Valid() {
		return '?'
	}
	return directionCodes[d]
}

func (d Direction) String() string {
	return string(d.Code())
}

// MarshalText lets Direction be used as a JSON object key.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: direction %d", ErrInvalidAction, int(d))
	}
	return []byte{d.Code()}, nil
}

// UnmarshalText parses a wire direction name.
func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection parses "F", "B", "L" or "R".
func ParseDirection(s string) (Direction, error) {
	if len(s) == 1 {
		for i, c := range directionCodes {
			if s[0] == c {
				return Direction(i), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidAction, s)
}

// === Geometry ===

// WorldPoint is a position in renderer space. Plane holds the horizontal (x, z)
// coordinates; Height is the vertical axis.
type WorldPoint struct {
	Plane  orb.Point `json:"plane"`
	Height float64   `json:"height"`
}

// Up returns p raised by dh.
func (p WorldPoint) Up(dh float64) WorldPoint {
	return WorldPoint{Plane: p.Plane, Height: p.Height + dh}
}

// Lerp interpolates between a and b; t is clamped to [0, 1].
func Lerp(a, b WorldPoint, t float64) WorldPoint {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return WorldPoint{
		Plane: orb.Point{
			a.Plane[0] + (b.Plane[0]-a.Plane[0])*t,
			a.Plane[1] + (b.Plane[1]-a.Plane[1])*t,
		},
		Height: a.Height + (b.Height-a.Height)*t,
	}
}

// PlanarDistance is the horizontal distance between two points.
func PlanarDistance(a, b WorldPoint) float64 {
	return planar.Distance(a.Plane, b.Plane)
}

// Geometry maps grid cells to world points. The zero value is not usable; build one
// with NewGeometry. Geometry is immutable and safe to share.
type Geometry struct {
	Cols     int
	Rows     int
	TileSize float64
	YOffset  float64

	bounds orb.Point // half extents, subtracted so the grid is centred on the origin
}

// NewGeometry precomputes the centring offset for a cols x rows grid.
func NewGeometry(cols, rows int, tileSize, yOffset float64) Geometry {
	return Geometry{
		Cols:     cols,
		Rows:     rows,
		TileSize: tileSize,
		YOffset:  yOffset,
		bounds:   orb.Point{float64(cols) * tileSize / 2, float64(rows) * tileSize / 2},
	}
}

// PositionToWorld returns the centre of cell pos in world space.
func (g Geometry) PositionToWorld(pos GridPosition) WorldPoint {
	half := g.TileSize / 2
	return WorldPoint{
		Plane: orb.Point{
			float64(pos.X)*g.TileSize - g.bounds[0] + half,
			float64(pos.Y)*g.TileSize - g.bounds[1] + half,
		},
		Height: g.YOffset,
	}
}

// Bound is the world-space rectangle covered by the grid.
func (g Geometry) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{-g.bounds[0], -g.bounds[1]},
		Max: orb.Point{g.bounds[0], g.bounds[1]},
	}
}

// InBounds reports whether pos is a cell of the grid.
func (g Geometry) InBounds(pos GridPosition) bool {
	return g.Bound().Contains(g.PositionToWorld(pos).Plane)
}
