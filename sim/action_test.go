package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		kind, dir string
		want      Action
		wantErr   bool
	}{
		{"M", "F", Move(Forward), false},
		{"G", "L", Grab(Left), false},
		{"D", "R", Drop(Right), false},
		{"W", "", Wait(), false},
		{"W", "garbage", Wait(), false},
		{"M", "", Action{}, true},
		{"X", "F", Action{}, true},
		{"MM", "F", Action{}, true},
		{"", "", Action{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.dir, func(t *testing.T) {
			got, err := ParseAction(tt.kind, tt.dir)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAction)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "M F", Move(Forward).String())
	assert.Equal(t, "D B", Drop(Backward).String())
	assert.Equal(t, "W", Wait().String())
}
