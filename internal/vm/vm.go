// Package vm implements the register-plus-data-stack bytecode interpreter
// (spec §4.4): a dedicated call-stack memory region, the eval_toplevel
// driving loop, frame allocation, and the single_step opcode dispatcher.
// Multimethod dispatch lives in dispatch.go; call/marked:/call/dc: and
// CallSegment splicing live in continuation.go.
package vm

import (
	"katsu/internal/bytecode"
	"katsu/internal/condition"
	"katsu/internal/heap"

	"github.com/pkg/errors"
)

const noFrame = ^uint64(0)

// NativeHandler is a Method's native handler: receives the open VM and the
// already-popped arguments, returns the single Value the VM pushes on the
// caller's data stack (spec §4.5, §6 "Native signature").
type NativeHandler func(vm *VM, args []heap.Value) heap.Value

// IntrinsicHandler is a Method's intrinsic handler. Unlike a native, it is
// handed the tail-call flag and is responsible for all stack manipulation,
// including advancing inst_spot (spec §4.5, §6 "Intrinsic signature").
type IntrinsicHandler func(vm *VM, tailCall bool, args []heap.Value)

// OpenVM is the restricted surface exposed to builtin intrinsics (spec §6:
// "The OpenVM interface exposes exactly: the bottom frame, the current
// frame, set-current-frame, alloc_frame, alloc_frames, and
// unwind_frame(tail?)"). *VM implements it; core intrinsics (call/marked:,
// call/dc:) are given the full *VM since they are part of the engine
// itself rather than external collaborators.
type OpenVM interface {
	BottomFrame() heap.Frame
	CurrentFrame() heap.Frame
	SetCurrentFrame(off uint64)
	AllocFrame(numRegs, numData uint32, code, module, marker heap.Value) uint64
	AllocFrames(totalLength uint64) uint64
	UnwindFrame(pushResult bool)
}

// VM is one interpreter instance: one call stack, paired with exactly one
// heap.GC (spec §5 "the call-stack region and the heap are exclusively
// owned by their one VM / one GC pair").
type VM struct {
	// Execution state
	gc           *heap.GC
	stackMem     []byte
	stackSize    uint64
	currentFrame uint64 // noFrame when idle

	// Builtin-type registry (spec §4.6 "type_of maps inline values to
	// built-in primitive types"), named rather than ID-indexed since the
	// core never needs a dense array here.
	builtins map[string]heap.Value

	// Handler registries (spec §6): Go functions cannot live inside the
	// semispace (Go's own GC does not scan it), so a Method stores an
	// integer index into one of these ordinary-Go-memory side tables.
	natives    []NativeHandler
	intrinsics []IntrinsicHandler
}

func alignUp8(x uint64) uint64 { return (x + 7) &^ 7 }

// New creates a VM with a dedicated call-stack region of callStackSize
// bytes and registers it as a root-provider on gc.
func New(gc *heap.GC, callStackSize uint64) *VM {
	size := alignUp8(callStackSize)
	v := &VM{
		gc:           gc,
		stackMem:     make([]byte, size),
		stackSize:    size,
		currentFrame: noFrame,
		builtins:     make(map[string]heap.Value),
	}
	poisonRegion(v.stackMem)
	gc.AddRootProvider(v)
	return v
}

const stackPoisonByte = 0x42

func poisonRegion(b []byte) {
	for i := range b {
		b[i] = stackPoisonByte
	}
}

// RegisterBuiltin installs a builtin type (or other well-known value)
// under name, consulted by TypeOf and by compiled code that looks up
// globals (out of scope here, but this is the registry it would use).
func (vm *VM) RegisterBuiltin(name string, v heap.Value) {
	vm.builtins[name] = v
}

// Builtin looks up a previously registered builtin. Panics if absent: an
// unregistered builtin is a setup bug, not a recoverable condition.
func (vm *VM) Builtin(name string) heap.Value {
	v, ok := vm.builtins[name]
	if !ok {
		panic(errors.Errorf("vm: builtin %q was never registered", name))
	}
	return v
}

// RegisterNative adds fn to the native-handler table and returns its id,
// suitable for heap.NewMethod's nativeID parameter.
func (vm *VM) RegisterNative(fn NativeHandler) int64 {
	vm.natives = append(vm.natives, fn)
	return int64(len(vm.natives) - 1)
}

// RegisterIntrinsic adds fn to the intrinsic-handler table and returns its
// id, suitable for heap.NewMethod's intrinsicID parameter.
func (vm *VM) RegisterIntrinsic(fn IntrinsicHandler) int64 {
	vm.intrinsics = append(vm.intrinsics, fn)
	return int64(len(vm.intrinsics) - 1)
}

// TypeOf maps a Value to its built-in Type (spec §4.6), the piece
// internal/heap's type.go explicitly deferred since it needs this
// registry. DataclassInstance is the one case that returns its own type
// slot rather than a registered builtin.
func (vm *VM) TypeOf(v heap.Value) heap.Value {
	switch {
	case v.IsFixnum():
		return vm.Builtin("Fixnum")
	case v.IsFloat():
		return vm.Builtin("Float")
	case v.IsBool():
		return vm.Builtin("Bool")
	case v.IsNull():
		return vm.Builtin("Null")
	}
	switch vm.gc.TagOf(v) {
	case heap.ObjRef:
		return vm.Builtin("Ref")
	case heap.ObjTuple:
		return vm.Builtin("Tuple")
	case heap.ObjArray:
		return vm.Builtin("Array")
	case heap.ObjVector:
		return vm.Builtin("Vector")
	case heap.ObjAssoc:
		return vm.Builtin("Assoc")
	case heap.ObjString:
		return vm.Builtin("String")
	case heap.ObjCode:
		return vm.Builtin("Code")
	case heap.ObjClosure:
		return vm.Builtin("Closure")
	case heap.ObjMethod:
		return vm.Builtin("Method")
	case heap.ObjMultiMethod:
		return vm.Builtin("MultiMethod")
	case heap.ObjType:
		return vm.Builtin("Type")
	case heap.ObjCallSegment:
		return vm.Builtin("CallSegment")
	case heap.ObjInstance:
		return vm.gc.AsInstance(v).TypeValue()
	default:
		panic(errors.Errorf("vm: no built-in type registered for %s", vm.gc.TagOf(v)))
	}
}

// --- root provider ---

// VisitRoots contributes every Value inside every live frame, the same
// walk the collector runs directly over a CallSegment's embedded frames
// (spec §4.4, §4.2).
func (vm *VM) VisitRoots(visit func(*heap.Value)) {
	if vm.currentFrame == noFrame {
		return
	}
	pastTop := vm.currentFrameView().Next()
	for off := uint64(0); off < pastTop; {
		f := heap.FrameAt(vm.stackMem, off)
		code := f.Code()
		visit(&code)
		f.SetCode(code)
		mod := f.Module()
		visit(&mod)
		f.SetModule(mod)
		mk := f.Marker()
		visit(&mk)
		f.SetMarker(mk)
		for i := uint32(0); i < f.NumRegs(); i++ {
			r := f.Reg(i)
			visit(&r)
			f.SetReg(i, r)
		}
		for i := uint32(0); i < f.DataDepth(); i++ {
			d := f.Data(i)
			visit(&d)
			f.SetData(i, d)
		}
		off = f.Next()
	}
}

// --- OpenVM surface ---

func (vm *VM) currentFrameView() heap.Frame {
	return heap.FrameAt(vm.stackMem, vm.currentFrame)
}

func (vm *VM) BottomFrame() heap.Frame { return heap.FrameAt(vm.stackMem, 0) }

func (vm *VM) CurrentFrame() heap.Frame { return vm.currentFrameView() }

func (vm *VM) SetCurrentFrame(off uint64) { vm.currentFrame = off }

// AllocFrame allocates the next frame contiguous with the current top (or
// at offset 0 if the VM is idle), bounds-checks against the stack region,
// and initializes it (spec §4.4).
func (vm *VM) AllocFrame(numRegs, numData uint32, code, module, marker heap.Value) uint64 {
	var pos uint64
	if vm.currentFrame != noFrame {
		pos = vm.currentFrameView().Next()
	}
	size := heap.FrameSize(numRegs, numData)
	if pos+size > vm.stackSize {
		condition.Signal(condition.StackOverflow, "call stack exhausted allocating a %d-byte frame at offset %d", size, pos)
	}
	poisonRegion(vm.stackMem[pos : pos+size])
	heap.InitFrame(vm.stackMem, pos, numRegs, numData, code, module, marker)
	return pos
}

// AllocFrames reserves totalLength contiguous bytes past the current top
// without installing any frame headers; used by continuation splicing to
// reserve space for an entire copied segment at once (spec §4.4, §4.7).
func (vm *VM) AllocFrames(totalLength uint64) uint64 {
	var pos uint64
	if vm.currentFrame != noFrame {
		pos = vm.currentFrameView().Next()
	}
	if pos+totalLength > vm.stackSize {
		condition.Signal(condition.StackOverflow, "call stack exhausted splicing %d bytes at offset %d", totalLength, pos)
	}
	poisonRegion(vm.stackMem[pos : pos+totalLength])
	return pos
}

// UnwindFrame pops the current frame, promoting its caller to current. If
// pushResult, the popped frame's data-depth-0 value is pushed onto the
// new current frame's data stack (spec §4.4 "Unwinding"); tail-call frame
// teardown passes false, since there is no result yet and the freed space
// is about to be reused by the callee frame being constructed in its
// place.
func (vm *VM) UnwindFrame(pushResult bool) {
	f := vm.currentFrameView()
	var result heap.Value
	if pushResult {
		result = f.Data(0)
	}
	callerOff, ok := f.Caller()
	if !ok {
		panic(errors.New("vm: attempted to unwind the bottom frame"))
	}
	vm.currentFrame = callerOff
	if pushResult {
		vm.currentFrameView().Push(result)
	}
}

// EvalToplevel runs code as the sole frame at the stack base until it
// returns, per the termination condition in spec §4.4. Panics if the VM
// already has an active call (nested eval_toplevel is not supported, same
// as the original).
//
// A signaled condition (spec §7) aborts this invocation: the bottom
// frame's module is consulted (through its base chain) for a
// condition.HandlerEntry binding. If one is bound, it is invoked with the
// condition's tag and message (as Strings) and its result becomes this
// call's result. Absent a handler, the condition propagates to the
// caller as a Go error; either way current_frame is cleared, since the
// in-flight call stack is abandoned. The heap's RangeError,
// OutOfMemoryError, InheritanceCycleError and LinearizationFailureError
// panics are converted here into the out-of-range, out-of-memory,
// inheritance-cycle and type-linearization-failure conditions; any other
// panic is re-raised.
func (vm *VM) EvalToplevel(code heap.Value) (result heap.Value, err error) {
	if vm.currentFrame != noFrame {
		panic(errors.New("vm: eval_toplevel called while a call is already in progress"))
	}

	c := vm.gc.AsCode(code)
	off := vm.AllocFrame(c.NumRegs(), c.NumData(), code, c.Module(), heap.Null())
	vm.currentFrame = off
	module := c.Module()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ce, ok := r.(*condition.Error)
		if !ok {
			switch e := r.(type) {
			case *heap.RangeError:
				ce, ok = condition.New(condition.OutOfRange, "%s", e.Error()), true
			case *heap.OutOfMemoryError:
				ce, ok = condition.New(condition.OutOfMemory, "%s", e.Error()), true
			case *heap.InheritanceCycleError:
				ce, ok = condition.New(condition.InheritanceCycle, "%s", e.Error()), true
			case *heap.LinearizationFailureError:
				ce, ok = condition.New(condition.TypeLinearizationFailure, "%s", e.Error()), true
			}
		}
		if !ok {
			vm.currentFrame = noFrame
			panic(r)
		}
		vm.currentFrame = noFrame
		if handler, found := vm.lookupConditionHandler(module); found {
			result = vm.invokeConditionHandler(handler, ce)
			err = nil
			return
		}
		err = ce
	}()

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

// lookupConditionHandler resolves condition.HandlerEntry in module (and its
// base chain, if module is an Assoc), per spec §7.
func (vm *VM) lookupConditionHandler(module heap.Value) (heap.Value, bool) {
	if module.IsNull() || vm.gc.TagOf(module) != heap.ObjAssoc {
		return heap.Null(), false
	}
	return vm.gc.AsAssoc(module).LookupChained(condition.HandlerEntry)
}

// invokeConditionHandler calls handler with the condition's tag and
// message as two String arguments, outside of any in-flight frame (the
// one that signaled has already been torn down by the panic unwind).
func (vm *VM) invokeConditionHandler(handler heap.Value, ce *condition.Error) heap.Value {
	if !isCallableKind(vm.gc, handler) {
		// Self-returning per the generic call-protocol rule (spec §4.5):
		// no frame gets pushed, so there is nothing to drive to
		// completion.
		return handler
	}

	tagVal := vm.gc.NewString(string(ce.Tag))
	msgVal := vm.gc.NewString(ce.Message)
	vm.callCallable(handler, false, []heap.Value{tagVal, msgVal}, heap.Null())
	top := vm.currentFrame
	for {
		cur := vm.currentFrameView()
		insts := vm.gc.AsArray(vm.gc.AsCode(cur.Code()).Insts())
		if cur.Off == top && uint64(cur.InstSpot()) == insts.Length() {
			result := cur.Data(0)
			vm.currentFrame = noFrame
			return result
		}
		vm.singleStep()
	}
}

// isCallableKind reports whether v would take the Closure/Code/CallSegment
// branch of callCallable rather than its self-returning fallback.
func isCallableKind(g *heap.GC, v heap.Value) bool {
	if !v.IsObject() {
		return false
	}
	switch g.TagOf(v) {
	case heap.ObjClosure, heap.ObjCode, heap.ObjCallSegment:
		return true
	default:
		return false
	}
}

// singleStep decodes and executes the instruction at the current frame's
// inst_spot, or, if the current (non-bottom) frame has run off the end of
// its code, unwinds it instead (spec §4.4 "Unwinding").
func (vm *VM) singleStep() {
	f := vm.currentFrameView()
	code := vm.gc.AsCode(f.Code())
	insts := vm.gc.AsArray(code.Insts())

	if uint64(f.InstSpot()) == insts.Length() {
		vm.UnwindFrame(true)
		return
	}

	inst := bytecode.Inst(uint32(insts.Get(uint64(f.InstSpot())).Fixnum()))
	op := inst.OpCode()
	argsBase := uint64(inst.ArgsOffset())
	args := vm.gc.AsArray(code.Args())

	advance := true

	switch op {
	case bytecode.LOAD_REG:
		k := uint32(args.Get(argsBase).Fixnum())
		f.Push(f.Reg(k))

	case bytecode.STORE_REG:
		k := uint32(args.Get(argsBase).Fixnum())
		f.SetReg(k, f.Pop())

	case bytecode.LOAD_REF:
		k := uint32(args.Get(argsBase).Fixnum())
		f.Push(vm.gc.AsRef(f.Reg(k)).Get())

	case bytecode.STORE_REF:
		k := uint32(args.Get(argsBase).Fixnum())
		vm.gc.AsRef(f.Reg(k)).Set(f.Pop())

	case bytecode.LOAD_VALUE:
		f.Push(args.Get(argsBase))

	case bytecode.INIT_REF:
		k := uint32(args.Get(argsBase).Fixnum())
		x := f.Pop()
		f.SetReg(k, vm.gc.NewRef(x))

	case bytecode.LOAD_MODULE:
		r := args.Get(argsBase)
		f.Push(vm.gc.AsRef(r).Get())

	case bytecode.STORE_MODULE:
		r := args.Get(argsBase)
		vm.gc.AsRef(r).Set(f.Pop())

	case bytecode.INVOKE, bytecode.INVOKE_TAIL:
		mmVal := args.Get(argsBase)
		n := uint64(args.Get(argsBase + 1).Fixnum())
		callArgs := vm.popArgs(f, n)
		tail := op == bytecode.INVOKE_TAIL
		advance = false
		vm.dispatchAndCall(mmVal, tail, callArgs)

	case bytecode.DROP:
		f.Pop()

	case bytecode.MAKE_TUPLE:
		n := uint64(args.Get(argsBase).Fixnum())
		f.Push(vm.gc.NewTuple(vm.popArgs(f, n)))

	case bytecode.MAKE_ARRAY:
		n := uint64(args.Get(argsBase).Fixnum())
		f.Push(vm.gc.NewArray(vm.popArgs(f, n)))

	case bytecode.MAKE_VECTOR:
		n := uint64(args.Get(argsBase).Fixnum())
		f.Push(vm.gc.NewVectorFromSlice(vm.popArgs(f, n)))

	case bytecode.MAKE_CLOSURE:
		codeVal := args.Get(argsBase)
		var numUpregs uint64
		if upregMapVal := vm.gc.AsCode(codeVal).UpregMap(); !upregMapVal.IsNull() {
			numUpregs = vm.gc.AsArray(upregMapVal).Length()
		}
		upvals := vm.popArgs(f, numUpregs)
		f.Push(vm.gc.NewClosure(codeVal, vm.gc.NewArray(upvals)))

	case bytecode.MAKE_INSTANCE:
		n := uint64(args.Get(argsBase).Fixnum())
		depth := f.DataDepth()
		typeVal := f.Data(depth - n - 1)
		slots := make([]heap.Value, n)
		for i := uint64(0); i < n; i++ {
			slots[i] = f.Data(depth - n + uint32(i))
		}
		for i := depth - n - 1; i < depth; i++ {
			f.SetData(i, heap.Null())
		}
		f.SetDataDepth(depth - n - 1)
		f.Push(vm.gc.NewInstance(typeVal, slots))

	case bytecode.VERIFY_IS_TYPE:
		top := f.Peek()
		if !top.IsObject() || vm.gc.TagOf(top) != heap.ObjType {
			condition.Signal(condition.InvalidArgument, "expected a Type on top of the stack")
		}

	case bytecode.GET_SLOT:
		i := uint64(args.Get(argsBase).Fixnum())
		inst := vm.gc.AsInstance(f.Pop())
		f.Push(inst.Slot(i))

	case bytecode.SET_SLOT:
		i := uint64(args.Get(argsBase).Fixnum())
		v := f.Pop()
		inst := vm.gc.AsInstance(f.Pop())
		inst.SetSlot(i, v)

	default:
		panic(errors.Errorf("vm: unrecognized opcode %d", op))
	}

	if advance {
		f.SetInstSpot(f.InstSpot() + 1)
	}
}

// popArgs pops the top n data-stack values off f, in push order (index 0
// is the deepest of the n), clearing the vacated slots.
func (vm *VM) popArgs(f heap.Frame, n uint64) []heap.Value {
	depth := f.DataDepth()
	out := make([]heap.Value, n)
	base := depth - uint32(n)
	for i := uint64(0); i < n; i++ {
		out[i] = f.Data(base + uint32(i))
		f.SetData(base+uint32(i), heap.Null())
	}
	f.SetDataDepth(base)
	return out
}
