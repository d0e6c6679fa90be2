package vm

import (
	"testing"

	"katsu/internal/asm"
	"katsu/internal/condition"
	"katsu/internal/heap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Methods ((a: Fixnum) m: b), (a m: (b: Fixnum)), (a m: b): 5 m: "x" picks
// the first, "x" m: 5 picks the second, "x" m: "y" picks the third, and
// 5 m: 10 is ambiguous (spec §8 scenario 7).
func TestDispatchSpecificityAndAmbiguity(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	mm := g.NewMultiMethod("m:", 2, g.NewVector(0))

	firstID := e.vm.RegisterNative(func(vm *VM, args []heap.Value) heap.Value { return heap.NewFixnum(1) })
	secondID := e.vm.RegisterNative(func(vm *VM, args []heap.Value) heap.Value { return heap.NewFixnum(2) })
	thirdID := e.vm.RegisterNative(func(vm *VM, args []heap.Value) heap.Value { return heap.NewFixnum(3) })

	first := g.NewMethod(g.NewArray([]heap.Value{e.fixnumType, heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), firstID, -1)
	second := g.NewMethod(g.NewArray([]heap.Value{heap.Null(), e.fixnumType}), heap.Null(), heap.Null(), g.NewVector(0), secondID, -1)
	third := g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), thirdID, -1)

	mm = g.AddMethod(mm, first)
	mm = g.AddMethod(mm, second)
	mm = g.AddMethod(mm, third)

	call := func(a, b heap.Value) (heap.Value, error) {
		bd := asm.New(g)
		bd.LoadValue(a)
		bd.LoadValue(b)
		bd.Invoke(mm, 2)
		code := bd.Finish(heap.Null(), 0, 0, 2)
		return e.run(code)
	}

	r, err := call(heap.NewFixnum(5), g.NewString("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Fixnum())

	r, err = call(g.NewString("x"), heap.NewFixnum(5))
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Fixnum())

	r, err = call(g.NewString("x"), g.NewString("y"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.Fixnum())

	_, err = call(heap.NewFixnum(5), heap.NewFixnum(10))
	require.Error(t, err)
	ce, ok := err.(*condition.Error)
	require.True(t, ok)
	assert.Equal(t, condition.AmbiguousMethodResolution, ce.Tag)
}
