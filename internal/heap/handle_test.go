package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRootGetSet(t *testing.T) {
	g := newTestGC(t, 4096)
	r := NewValueRoot(g, NewFixnum(1))
	defer r.Close()
	assert.Equal(t, int64(1), r.Get().Fixnum())
	r.Set(NewFixnum(2))
	assert.Equal(t, int64(2), r.Get().Fixnum())
}

func TestRootSurvivesCollection(t *testing.T) {
	g := newTestGC(t, 4096)
	strVal := g.NewString("rooted")
	r := NewTupleRoot(g, g.NewTuple([]Value{strVal}))
	defer r.Close()

	g.Collect()

	assert.Equal(t, uint64(1), r.Get().Length())
	assert.Equal(t, "rooted", g.AsString(r.Get().Get(0)).String())
}

func TestCloseOutOfOrderPanics(t *testing.T) {
	g := newTestGC(t, 4096)
	outer := NewValueRoot(g, NewFixnum(1))
	inner := NewValueRoot(g, NewFixnum(2))

	assert.PanicsWithValue(t, &RootOrderError{Reason: "stack is out of order while closing a handle"},
		func() { outer.Close() })

	inner.Close()
	outer.Close()
}

func TestCloseEmptyStackPanics(t *testing.T) {
	g := newTestGC(t, 4096)
	r := NewValueRoot(g, NewFixnum(1))
	r.Close()
	assert.Panics(t, func() { r.Close() })
}

func TestRootConstructionRejectsNonObject(t *testing.T) {
	g := newTestGC(t, 4096)
	assert.Panics(t, func() { NewTupleRoot(g, NewFixnum(1)) })
}

func TestOptionalRootUnsetDereferencePanics(t *testing.T) {
	g := newTestGC(t, 4096)
	r := NewOptionalRoot(g, Null(), (*GC).AsTuple)
	defer r.Close()
	require.False(t, r.IsSet())
	assert.Panics(t, func() { r.Get() })
}
