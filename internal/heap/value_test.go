package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixnumRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, FixnumMax, FixnumMin, 12345, -98765}
	for _, n := range cases {
		v := NewFixnum(n)
		assert.True(t, v.IsFixnum())
		assert.Equal(t, n, v.Fixnum())
	}
}

func TestFixnumOutOfRangePanics(t *testing.T) {
	assert.Panics(t, func() { NewFixnum(FixnumMax + 1) })
	assert.Panics(t, func() { NewFixnum(FixnumMin - 1) })
}

func TestFloat32RoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1.5, -1.5, 3.14159} {
		v := NewFloat32(f)
		assert.True(t, v.IsFloat())
		assert.Equal(t, f, v.Float32())
	}
}

func TestBoolRoundTrip(t *testing.T) {
	assert.True(t, NewBool(true).Bool())
	assert.False(t, NewBool(false).Bool())
	assert.True(t, NewBool(true).IsBool())
}

func TestNull(t *testing.T) {
	n := Null()
	assert.True(t, n.IsNull())
	assert.True(t, n.IsInline())
	assert.False(t, n.IsObject())
}

func TestEqual(t *testing.T) {
	require.True(t, NewFixnum(7).Equal(NewFixnum(7)))
	require.False(t, NewFixnum(7).Equal(NewFixnum(8)))
	require.True(t, Null().Equal(Null()))
}
