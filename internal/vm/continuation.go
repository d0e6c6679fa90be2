package vm

import (
	"katsu/internal/condition"
	"katsu/internal/heap"

	"github.com/pkg/errors"
)

// IntrinsicCall implements the generic `call:`/`call*:` builtin: invoke
// callable with the given arguments, leaving its frame unmarked (spec §4.5
// call protocol; spec §8 scenario 5 "[ it + 1 ] call: 10"). `call*:` (spec
// §7 "invalid-argument — e.g., empty tuple to call*:") spreads a Tuple's
// elements as the argument list; callers wire that unpacking into args
// before invoking this intrinsic, since it is just argument-list shaping
// ahead of the same call protocol.
func IntrinsicCall(vm *VM, tailCall bool, args []heap.Value) {
	vm.callCallable(args[0], tailCall, args[1:], heap.Null())
}

// IntrinsicCallMarked implements `call/marked:` (spec §4.7): invoke
// callable with its frame's marker field set to m, passing zero
// arguments (so a one-parameter callable's implicit "it" receives null,
// per the invoke call protocol's zero-arg special case).
func IntrinsicCallMarked(vm *VM, tailCall bool, args []heap.Value) {
	callable := args[0]
	marker := args[1]
	vm.callCallable(callable, tailCall, nil, marker)
}

// IntrinsicCallDC implements `call/dc:` (spec §4.7, §9 open question:
// treated as non-tail). It walks the stack from the current top toward
// the base for the innermost frame whose marker equals m, reifies
// everything from there up to the current top into a CallSegment with
// caller pointers nulled, rewinds the marked frame's caller's inst_spot
// by one, and invokes callable with the segment as its sole argument.
func IntrinsicCallDC(vm *VM, tailCall bool, args []heap.Value) {
	if tailCall {
		panic(errors.New("vm: call/dc: does not support being tail-called"))
	}
	callable := args[0]
	marker := args[1]

	markedOff, found := vm.findMarker(marker)
	if !found {
		condition.Signal(condition.MarkerNotFound, "call/dc: found no frame marked with the given marker")
	}

	cur := vm.currentFrameView()
	cur.SetInstSpot(cur.InstSpot() + 1)
	pastTop := cur.Next()
	length := pastTop - markedOff

	segVal := vm.gc.NewCallSegmentOfLength(length)
	segBytes := vm.gc.AsCallSegment(segVal).Bytes()
	copy(segBytes, vm.stackMem[markedOff:pastTop])
	nullCallerPointers(segBytes, length)

	marked := heap.FrameAt(vm.stackMem, markedOff)
	if callerOff, ok := marked.Caller(); ok {
		vm.currentFrame = callerOff
		newTop := vm.currentFrameView()
		newTop.SetInstSpot(newTop.InstSpot() - 1)
	} else {
		vm.currentFrame = noFrame
	}

	vm.callCallable(callable, false, []heap.Value{segVal}, heap.Null())
}

// findMarker walks from the current top frame toward the base looking
// for the innermost frame whose marker field equals marker.
func (vm *VM) findMarker(marker heap.Value) (uint64, bool) {
	if vm.currentFrame == noFrame {
		return 0, false
	}
	off := vm.currentFrame
	for {
		f := heap.FrameAt(vm.stackMem, off)
		if f.Marker().Equal(marker) {
			return off, true
		}
		callerOff, ok := f.Caller()
		if !ok {
			return 0, false
		}
		off = callerOff
	}
}

// nullCallerPointers walks the frames embedded in a just-copied segment
// buffer and clears each one's caller pointer (spec §4.7 "nulling out the
// caller pointers in the copies"), mirroring the collector's own
// CallSegment walk (internal/heap/gc.go).
func nullCallerPointers(buf []byte, length uint64) {
	for off := uint64(0); off < length; {
		f := heap.FrameAt(buf, off)
		f.ClearCaller()
		off = f.Next()
	}
}

// callCallSegment splices a CallSegment onto the top of the current
// stack, re-linking caller pointers across the newly placed frames, and
// pushes the single provided argument onto the new top's data stack
// (spec §4.7).
func (vm *VM) callCallSegment(segmentVal heap.Value, tailCall bool, args []heap.Value) {
	if len(args) != 1 {
		condition.Signal(condition.ArgumentCountMismatch, "a call-segment takes exactly 1 argument, got %d", len(args))
	}
	if tailCall {
		panic(errors.New("vm: tail-calling a call-segment is not implemented"))
	}

	seg := vm.gc.AsCallSegment(segmentVal)
	length := seg.Length()

	hadCaller := vm.currentFrame != noFrame
	oldTopOff := vm.currentFrame
	if hadCaller {
		old := vm.currentFrameView()
		old.SetInstSpot(old.InstSpot() + 1)
	}

	base := vm.AllocFrames(length)
	copy(vm.stackMem[base:base+length], seg.Bytes())

	prev := oldTopOff
	hasPrev := hadCaller
	newTop := base
	for off := base; off < base+length; {
		f := heap.FrameAt(vm.stackMem, off)
		if hasPrev {
			f.SetCaller(prev)
		} else {
			f.ClearCaller()
		}
		prev = off
		hasPrev = true
		newTop = off
		off = f.Next()
	}

	vm.currentFrame = newTop
	vm.currentFrameView().Push(args[0])
}

// InvokeCallSegment splices seg onto an idle VM as a fresh bottom frame and
// drives it to completion, the way a driver resumes a previously captured
// continuation outside of any enclosing EvalToplevel call (spec §8 scenario
// 8: invoking the same captured segment more than once replays its tail
// independently each time).
func (vm *VM) InvokeCallSegment(seg, arg heap.Value) (result heap.Value, err error) {
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

// IntrinsicGetCallStack reifies the entire live call stack (bottom frame
// through the current top) into a CallSegment and pushes it, without
// consuming any marker — a supplemental debugging/introspection hook
// grounded on the original's intrinsic__get_call_stack.
func IntrinsicGetCallStack(vm *VM, tailCall bool, args []heap.Value) {
	cur := vm.currentFrameView()
	cur.SetInstSpot(cur.InstSpot() + 1)
	pastTop := cur.Next()

	segVal := vm.gc.NewCallSegmentOfLength(pastTop)
	segBytes := vm.gc.AsCallSegment(segVal).Bytes()
	copy(segBytes, vm.stackMem[0:pastTop])
	nullCallerPointers(segBytes, pastTop)

	vm.currentFrameView().Push(segVal)
}
