package vm

import (
	"testing"

	"katsu/internal/asm"
	"katsu/internal/condition"
	"katsu/internal/heap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalToplevelLiteralFixnum(t *testing.T) {
	e := newTestEnv(t)
	b := asm.New(e.g)
	b.LoadValue(heap.NewFixnum(1234))
	code := b.Finish(heap.Null(), 0, 0, 1)

	result, err := e.run(code)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), result.Fixnum())
}

func TestEvalToplevelAddition(t *testing.T) {
	e := newTestEnv(t)
	b := asm.New(e.g)
	b.LoadValue(heap.NewFixnum(3))
	b.LoadValue(heap.NewFixnum(4))
	b.Invoke(e.addMM, 2)
	code := b.Finish(heap.Null(), 0, 0, 2)

	result, err := e.run(code)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Fixnum())
}

func TestEvalToplevelDivideByZeroRaisesCondition(t *testing.T) {
	e := newTestEnv(t)
	b := asm.New(e.g)
	b.LoadValue(heap.NewFixnum(1))
	b.LoadValue(heap.NewFixnum(0))
	b.Invoke(e.divMM, 2)
	code := b.Finish(heap.Null(), 0, 0, 2)

	_, err := e.run(code)
	require.Error(t, err)
	ce, ok := err.(*condition.Error)
	require.True(t, ok)
	assert.Equal(t, condition.DivideByZero, ce.Tag)
}

func TestEvalToplevelMakeTuple(t *testing.T) {
	e := newTestEnv(t)
	b := asm.New(e.g)
	b.LoadValue(heap.NewFixnum(1))
	b.LoadValue(heap.NewFixnum(2))
	b.LoadValue(heap.NewFixnum(3))
	b.MakeTuple(3)
	code := b.Finish(heap.Null(), 0, 0, 3)

	result, err := e.run(code)
	require.NoError(t, err)
	tup := e.g.AsTuple(result)
	require.Equal(t, uint64(3), tup.Length())
	assert.Equal(t, int64(1), tup.Get(0).Fixnum())
	assert.Equal(t, int64(2), tup.Get(1).Fixnum())
	assert.Equal(t, int64(3), tup.Get(2).Fixnum())
}

// [ it + 1 ] call: 10 -> 11. The block is a zero-upreg closure body whose
// sole register (0) is the implicit "it" parameter.
func TestEvalToplevelClosureCall(t *testing.T) {
	e := newTestEnv(t)

	blockBuilder := asm.New(e.g)
	blockBuilder.LoadReg(0)
	blockBuilder.LoadValue(heap.NewFixnum(1))
	blockBuilder.Invoke(e.addMM, 2)
	blockCode := blockBuilder.Finish(heap.Null(), 1, 1, 2)

	b := asm.New(e.g)
	b.MakeClosure(blockCode)
	b.LoadValue(heap.NewFixnum(10))
	b.Invoke(e.callMM, 2)
	code := b.Finish(heap.Null(), 0, 0, 2)

	result, err := e.run(code)
	require.NoError(t, err)
	assert.Equal(t, int64(11), result.Fixnum())
}

// 2000 triangular-num: 0 -> 2001000, via a "tri:acc:" MultiMethod whose
// n==0 case is a Ref-matched native and whose general case is a
// null-matched, tail-recursive Code method (spec §8 scenario 6; also
// exercises tail-call elimination without growing the call stack).
func TestEvalToplevelTailRecursiveTriangularNumber(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	triMM := g.NewMultiMethod("tri:acc:", 2, g.NewVector(0))

	zeroRef := g.NewRef(heap.NewFixnum(0))
	baseID := e.vm.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		return args[1]
	})
	baseMethod := g.NewMethod(g.NewArray([]heap.Value{zeroRef, heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), baseID, -1)
	triMM = g.AddMethod(triMM, baseMethod)

	recBuilder := asm.New(g)
	// reg0 = n, reg1 = acc
	recBuilder.LoadReg(0)
	recBuilder.LoadValue(heap.NewFixnum(1))
	recBuilder.Invoke(e.subMM, 2) // n - 1
	recBuilder.LoadReg(1)
	recBuilder.LoadReg(0)
	recBuilder.Invoke(e.addMM, 2) // acc + n
	recBuilder.InvokeTail(triMM, 2)
	recCode := recBuilder.Finish(heap.Null(), 2, 2, 4)
	recMethod := g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), recCode, g.NewVector(0), -1, -1)
	triMM = g.AddMethod(triMM, recMethod)

	b := asm.New(g)
	b.LoadValue(heap.NewFixnum(2000))
	b.LoadValue(heap.NewFixnum(0))
	b.Invoke(triMM, 2)
	code := b.Finish(heap.Null(), 0, 0, 2)

	result, err := e.run(code)
	require.NoError(t, err)
	assert.Equal(t, int64(2001000), result.Fixnum())
}

// Dataclass P with slots x, y: construction, GET_SLOT/SET_SLOT, and a
// dynamic type-test predicate built on TypeOf + IsSubtype (spec §8
// scenario 10).
func TestEvalToplevelDataclassSlotsAndTypeTest(t *testing.T) {
	e := newTestEnv(t)
	g := e.g

	pType := g.NewType("P", g.NewArray([]heap.Value{e.objectType}), false, heap.KindDataclass,
		g.NewArray([]heap.Value{g.NewString("x"), g.NewString("y")}), 2)

	b := asm.New(g)
	b.LoadValue(pType)
	b.LoadValue(heap.NewFixnum(1))
	b.LoadValue(heap.NewFixnum(2))
	b.MakeInstance(2)
	code := b.Finish(heap.Null(), 0, 0, 3)

	instance, err := e.run(code)
	require.NoError(t, err)
	inst := g.AsInstance(instance)
	assert.Equal(t, int64(1), inst.Slot(0).Fixnum())
	assert.Equal(t, int64(2), inst.Slot(1).Fixnum())

	getX := asm.New(g)
	getX.LoadValue(instance)
	getX.GetSlot(0)
	codeGetX := getX.Finish(heap.Null(), 0, 0, 1)
	r, err := e.run(codeGetX)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Fixnum())

	setX := asm.New(g)
	setX.LoadValue(instance)
	setX.LoadValue(heap.NewFixnum(7))
	setX.SetSlot(0)
	codeSetX := setX.Finish(heap.Null(), 0, 0, 2)
	_, err = e.run(codeSetX)
	require.NoError(t, err)

	r, err = e.run(codeGetX)
	require.NoError(t, err)
	assert.Equal(t, int64(7), r.Fixnum())

	isPID := e.vm.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		return heap.NewBool(vm.gc.IsSubtype(vm.TypeOf(args[0]), pType))
	})
	isPMM := g.NewMultiMethod("P?", 1, g.NewVector(0))
	isPMM = g.AddMethod(isPMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), isPID, -1))

	checkInstance := asm.New(g)
	checkInstance.LoadValue(instance)
	checkInstance.Invoke(isPMM, 1)
	codeCheckInstance := checkInstance.Finish(heap.Null(), 0, 0, 1)
	r, err = e.run(codeCheckInstance)
	require.NoError(t, err)
	assert.True(t, r.Bool())

	checkString := asm.New(g)
	checkString.LoadValue(g.NewString("not a P"))
	checkString.Invoke(isPMM, 1)
	codeCheckString := checkString.Finish(heap.Null(), 0, 0, 1)
	r, err = e.run(codeCheckString)
	require.NoError(t, err)
	assert.False(t, r.Bool())
}
