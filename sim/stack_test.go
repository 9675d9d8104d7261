package sim

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_FillsAtCapacity_NotifiesOnce(t *testing.T) {
	// GIVEN a capacity-5 stack with a counting full hook
	var fired atomic.Int32
	s := NewStack(0, GridPosition{X: 5, Y: 5}, WorldPoint{}, 5, 2, func(*Stack) { fired.Add(1) })

	// WHEN four items are added
	for i := 0; i < 4; i++ {
		require.True(t, s.TryAddItem(NewObject(i, GridPosition{}, WorldPoint{})))
	}
	// THEN it is still a drop target
	assert.False(t, s.Full())
	assert.Equal(t, OccupancyStack, s.Occupancy())
	assert.Equal(t, int32(0), fired.Load())

	// WHEN the fifth item is added
	require.True(t, s.TryAddItem(NewObject(4, GridPosition{}, WorldPoint{})))

	// THEN the stack is full, impassable and reported exactly once
	assert.True(t, s.Full())
	assert.Equal(t, OccupancyObstacle, s.Occupancy())
	assert.Equal(t, int32(1), fired.Load())

	// AND a sixth add is refused without another notification
	assert.False(t, s.TryAddItem(NewObject(5, GridPosition{}, WorldPoint{})))
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, int32(1), fired.Load())

	// AND later drops fail at the lock step
	assert.False(t, s.TryLock())
}

func TestStack_ItemsKeepInsertionOrderAndSlots(t *testing.T) {
	base := WorldPoint{Height: 0.5}
	s := NewStack(0, GridPosition{}, base, 3, 2, nil)
	objs := []*Object{
		NewObject(10, GridPosition{}, WorldPoint{}),
		NewObject(11, GridPosition{}, WorldPoint{}),
		NewObject(12, GridPosition{}, WorldPoint{}),
	}
	for _, o := range objs {
		require.True(t, s.TryAddItem(o))
	}

	assert.Equal(t, objs, s.Items())
	for i, o := range objs {
		assert.Equal(t, ObjectStacked, o.State())
		assert.False(t, o.Sensing())
		assert.Equal(t, base.Up(float64(i)*2), o.Point())
		id, ok := o.StackID()
		assert.True(t, ok)
		assert.Equal(t, 0, id)
	}
}

func TestStack_TryLock_IsExclusive(t *testing.T) {
	s := NewStack(0, GridPosition{}, WorldPoint{}, 5, 2, nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryLock() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	s.Unlock()
	assert.False(t, s.Locked())
	assert.True(t, s.TryLock())
}

func TestStack_ConcurrentAddsNeverExceedCapacity(t *testing.T) {
	var fired atomic.Int32
	s := NewStack(0, GridPosition{}, WorldPoint{}, 5, 2, func(*Stack) { fired.Add(1) })
	var added atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.TryAddItem(NewObject(i, GridPosition{}, WorldPoint{})) {
				added.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(5), added.Load())
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, int32(1), fired.Load())
}
