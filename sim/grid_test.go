package sim

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirection_Deltas(t *testing.T) {
	tests := []struct {
		d    Direction
		want GridPosition
		code string
	}{
		{Forward, GridPosition{X: 0, Y: 1}, "F"},
		{Backward, GridPosition{X: 0, Y: -1}, "B"},
		{Left, GridPosition{X: -1, Y: 0}, "L"},
		{Right, GridPosition{X: 1, Y: 0}, "R"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Delta())
			assert.Equal(t, tt.code, tt.d.String())
			assert.Equal(t, GridPosition{}, GridPosition{}.Add(tt.d).Add(tt.d.Opposite()))

			parsed, err := ParseDirection(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.d, parsed)
		})
	}
}

func TestParseDirection_Invalid(t *testing.T) {
	for _, s := range []string{"", "f", "X", "FB"} {
		_, err := ParseDirection(s)
		assert.ErrorIs(t, err, ErrInvalidAction, "input %q", s)
	}
}

func TestSensorMap_JSONKeysAreDirectionCodes(t *testing.T) {
	// GIVEN a sensor map with every direction set
	m := SensorMap{Forward: OccupancyObject, Backward: OccupancyNone, Left: OccupancyObstacle, Right: OccupancyStack}

	// WHEN it is encoded
	b, err := json.Marshal(m)
	require.NoError(t, err)

	// THEN the keys are the wire characters and decoding restores it
	assert.JSONEq(t, `{"F":1,"B":0,"L":2,"R":3}`, string(b))
	var back SensorMap
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, m, back)
}

func TestGeometry_PositionToWorld_CentresGrid(t *testing.T) {
	// GIVEN a 20x20 grid of unit tiles
	g := NewGeometry(20, 20, 1, 0.5)

	// THEN cell (0,0) sits half a tile inside the lower-left corner
	assert.Equal(t, WorldPoint{Plane: orb.Point{-9.5, -9.5}, Height: 0.5}, g.PositionToWorld(GridPosition{}))
	// AND cell (10,10) is half a tile past the origin
	assert.Equal(t, orb.Point{0.5, 0.5}, g.PositionToWorld(GridPosition{X: 10, Y: 10}).Plane)
}

func TestGeometry_InBounds(t *testing.T) {
	g := NewGeometry(4, 3, 2, 0)
	assert.True(t, g.InBounds(GridPosition{X: 0, Y: 0}))
	assert.True(t, g.InBounds(GridPosition{X: 3, Y: 2}))
	assert.False(t, g.InBounds(GridPosition{X: -1, Y: 0}))
	assert.False(t, g.InBounds(GridPosition{X: 4, Y: 0}))
	assert.False(t, g.InBounds(GridPosition{X: 0, Y: 3}))
}

func TestLerp_Clamps(t *testing.T) {
	a := WorldPoint{Plane: orb.Point{0, 0}}
	b := WorldPoint{Plane: orb.Point{2, 4}, Height: 2}
	assert.Equal(t, a, Lerp(a, b, -1))
	assert.Equal(t, b, Lerp(a, b, 3))
	assert.Equal(t, WorldPoint{Plane: orb.Point{1, 2}, Height: 1}, Lerp(a, b, 0.5))
	assert.InDelta(t, 5.0, PlanarDistance(WorldPoint{}, WorldPoint{Plane: orb.Point{3, 4}}), 1e-9)
}
