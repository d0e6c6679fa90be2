package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTypeNoBasesLinearizesToItself(t *testing.T) {
	g := newTestGC(t, 8192)
	obj := g.NewType("Object", g.NewArray(nil), false, KindPrimitive, Null(), 0)

	lin := g.AsType(obj).Linearization()
	arr := g.AsArray(lin)
	require.Equal(t, uint64(1), arr.Length())
	assert.True(t, arr.Get(0).Equal(obj))
}

func TestNewTypeSingleBaseLinearization(t *testing.T) {
	g := newTestGC(t, 8192)
	obj := g.NewType("Object", g.NewArray(nil), false, KindPrimitive, Null(), 0)
	a := g.NewType("A", g.NewArray([]Value{obj}), false, KindPrimitive, Null(), 0)

	lin := g.AsArray(g.AsType(a).Linearization())
	require.Equal(t, uint64(2), lin.Length())
	assert.True(t, lin.Get(0).Equal(a))
	assert.True(t, lin.Get(1).Equal(obj))
}

func TestIsSubtypeReflexiveAndTransitive(t *testing.T) {
	g := newTestGC(t, 8192)
	obj := g.NewType("Object", g.NewArray(nil), false, KindPrimitive, Null(), 0)
	a := g.NewType("A", g.NewArray([]Value{obj}), false, KindPrimitive, Null(), 0)
	b := g.NewType("B", g.NewArray([]Value{a}), false, KindPrimitive, Null(), 0)

	assert.True(t, g.IsSubtype(obj, obj))
	assert.True(t, g.IsSubtype(a, a))
	assert.True(t, g.IsSubtype(a, obj))
	assert.True(t, g.IsSubtype(b, a))
	assert.True(t, g.IsSubtype(b, obj), "transitivity: B <: A <: Object implies B <: Object")

	assert.False(t, g.IsSubtype(obj, a))
	assert.False(t, g.IsSubtype(a, b))
}

func TestNewTypeRegistersSubtypesOnAncestors(t *testing.T) {
	g := newTestGC(t, 8192)
	obj := g.NewType("Object", g.NewArray(nil), false, KindPrimitive, Null(), 0)
	a := g.NewType("A", g.NewArray([]Value{obj}), false, KindPrimitive, Null(), 0)

	subtypes := g.AsVector(g.AsType(obj).Subtypes())
	require.Equal(t, uint64(1), subtypes.Length())
	assert.True(t, subtypes.Get(0).Equal(a))
}

func TestNewTypeDiamondC3Linearization(t *testing.T) {
	g := newTestGC(t, 16384)
	obj := g.NewType("Object", g.NewArray(nil), false, KindPrimitive, Null(), 0)
	a := g.NewType("A", g.NewArray([]Value{obj}), false, KindPrimitive, Null(), 0)
	b := g.NewType("B", g.NewArray([]Value{obj}), false, KindPrimitive, Null(), 0)
	c := g.NewType("C", g.NewArray([]Value{a, b}), false, KindPrimitive, Null(), 0)

	lin := g.AsArray(g.AsType(c).Linearization())
	require.Equal(t, uint64(4), lin.Length())
	// Standard C3 result for this diamond: C, A, B, Object.
	assert.True(t, lin.Get(0).Equal(c))
	assert.True(t, lin.Get(1).Equal(a))
	assert.True(t, lin.Get(2).Equal(b))
	assert.True(t, lin.Get(3).Equal(obj))

	assert.True(t, g.IsSubtype(c, a))
	assert.True(t, g.IsSubtype(c, b))
	assert.True(t, g.IsSubtype(c, obj))
}

func TestNewInstanceSlotCountMismatchPanics(t *testing.T) {
	g := newTestGC(t, 8192)
	slots := g.NewArray([]Value{g.NewString("x"), g.NewString("y")})
	p := g.NewType("P", g.NewArray(nil), false, KindDataclass, slots, 2)

	assert.Panics(t, func() { g.NewInstance(p, []Value{NewFixnum(1)}) })

	inst := g.NewInstance(p, []Value{NewFixnum(1), NewFixnum(2)})
	i := g.AsInstance(inst)
	assert.Equal(t, int64(1), i.Slot(0).Fixnum())
	assert.Equal(t, int64(2), i.Slot(1).Fixnum())
}

func TestAddMethodArityMismatchPanics(t *testing.T) {
	g := newTestGC(t, 8192)
	mm := g.NewMultiMethod("f", 1, g.NewVector(0))
	paramMatchers := g.NewArray([]Value{Null(), Null()}) // arity 2, mismatched
	method := g.NewMethod(paramMatchers, Null(), Null(), g.NewVector(0), 0, -1)
	assert.Panics(t, func() { g.AddMethod(mm, method) })
}
