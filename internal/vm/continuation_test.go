package vm

import (
	"testing"

	"katsu/internal/asm"
	"katsu/internal/condition"
	"katsu/internal/heap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invokeSegment splices seg onto an idle VM (as a fresh bottom) and drives
// it to completion, mirroring EvalToplevel's loop but entering through an
// already-reified continuation rather than a Code object.
func invokeSegment(vm *VM, seg, arg heap.Value) (result heap.Value, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ce, ok := r.(*condition.Error)
		if !ok {
			panic(r)
		}
		vm.currentFrame = noFrame
		err = ce
	}()

	vm.callCallSegment(seg, false, []heap.Value{arg})
	for {
		f := vm.currentFrameView()
		if f.Off == 0 {
			insts := vm.gc.AsArray(vm.gc.AsCode(f.Code()).Insts())
			if uint64(f.InstSpot()) == insts.Length() {
				result = f.Data(0)
				vm.currentFrame = noFrame
				return result, nil
			}
		}
		vm.singleStep()
	}
}

// [ [ k [ ... ] call/dc: t ] call/marked: t ]: invoking the captured
// continuation twice runs its post-capture tail twice, each time producing
// its side effects and completing normally (spec §8 scenario 8).
func TestCallMarkedCallDCReplayableSegment(t *testing.T) {
	e := newTestEnv(t)
	g := e.g
	v := e.vm

	sideEffects := 0
	printID := v.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		sideEffects++
		return heap.Null()
	})
	printMM := g.NewMultiMethod("print:", 1, g.NewVector(0))
	printMM = g.AddMethod(printMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), printID, -1))

	var capturedSeg heap.Value
	captureID := v.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		capturedSeg = args[0]
		return heap.Null()
	})
	captureMM := g.NewMultiMethod("capture:", 1, g.NewVector(0))
	captureMM = g.AddMethod(captureMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), captureID, -1))

	fBuilder := asm.New(g)
	fBuilder.LoadReg(0)
	fBuilder.Invoke(captureMM, 1)
	fCode := fBuilder.Finish(heap.Null(), 1, 1, 2)

	callMarkedID := v.RegisterIntrinsic(IntrinsicCallMarked)
	callMarkedMM := g.NewMultiMethod("call/marked:", 2, g.NewVector(0))
	callMarkedMM = g.AddMethod(callMarkedMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), -1, callMarkedID))

	callDcID := v.RegisterIntrinsic(IntrinsicCallDC)
	callDcMM := g.NewMultiMethod("call/dc:", 2, g.NewVector(0))
	callDcMM = g.AddMethod(callDcMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), -1, callDcID))

	marker := heap.NewFixnum(777)
	tag := heap.NewFixnum(99)

	mb := asm.New(g)
	mb.LoadValue(fCode)    // idx0: push f (raw Code, 1 param, no upregs)
	mb.LoadValue(marker)   // idx1: push marker
	mb.Invoke(callDcMM, 2) // idx2: capture+invoke f(segment); resume point = idx3
	mb.Drop()              // idx3: discard the value callCallSegment injects on resume
	mb.LoadValue(tag)      // idx4
	mb.Invoke(printMM, 1)  // idx5
	mb.Drop()              // idx6
	mb.LoadValue(tag)      // idx7
	mb.Invoke(printMM, 1)  // idx8 (final)
	markedBody := mb.Finish(heap.Null(), 0, 0, 2)

	top := asm.New(g)
	top.LoadValue(markedBody)
	top.LoadValue(marker)
	top.Invoke(callMarkedMM, 2)
	topCode := top.Finish(heap.Null(), 0, 0, 2)

	result, err := e.run(topCode)
	require.NoError(t, err)
	assert.True(t, result.IsNull())
	assert.Equal(t, 0, sideEffects, "the continuation's tail must not run until it is explicitly invoked")
	require.False(t, capturedSeg.IsNull())

	r1, err1 := invokeSegment(v, capturedSeg, heap.Null())
	require.NoError(t, err1)
	assert.True(t, r1.IsNull())
	assert.Equal(t, 2, sideEffects)

	r2, err2 := invokeSegment(v, capturedSeg, heap.Null())
	require.NoError(t, err2)
	assert.True(t, r2.IsNull())
	assert.Equal(t, 4, sideEffects, "invoking the same segment again replays its side effects independently")
}

// call/dc: t outside any call/marked: t raises marker-not-found (spec §8
// scenario 9).
func TestCallDCWithoutMarkerRaisesCondition(t *testing.T) {
	e := newTestEnv(t)
	g := e.g
	v := e.vm

	callDcID := v.RegisterIntrinsic(IntrinsicCallDC)
	callDcMM := g.NewMultiMethod("call/dc:", 2, g.NewVector(0))
	callDcMM = g.AddMethod(callDcMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), -1, callDcID))

	b := asm.New(g)
	b.LoadValue(heap.Null())
	b.LoadValue(heap.NewFixnum(123))
	b.Invoke(callDcMM, 2)
	code := b.Finish(heap.Null(), 0, 0, 2)

	_, err := e.run(code)
	require.Error(t, err)
	ce, ok := err.(*condition.Error)
	require.True(t, ok)
	assert.Equal(t, condition.MarkerNotFound, ce.Tag)
}
