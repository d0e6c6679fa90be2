package heap

import "github.com/pkg/errors"

// Root handles are the core's primary GC-correctness mechanism (spec
// §4.3): anything retained across an operation that might allocate must
// be rooted. The original's Root<T>/OptionalRoot<T>/ValueRoot are C++
// RAII types whose destructor pops the GC's root stack in reverse
// construction order; Go has no destructors, so the three flavors below
// are used with `defer h.Close()` immediately after construction, and
// Close() performs the same stack-order check the original's destructor
// does in debug builds (DEBUG_GC_VERIFY_ROOT_ORDERING, on by default).
//
// Unlike the original, a Go caller's local variable cannot be forced to
// go out of scope by "moving from" it; the convention here is simply
// that the value passed to New*Root is considered consumed and must not
// be used directly again — only through the handle.

func (g *GC) pushRoot(slot *Value) {
	g.roots = append(g.roots, slot)
}

// RootOrderError is raised when a handle is closed out of stack order,
// or when the root stack is unexpectedly empty (spec §4.3 "fails
// loudly"). This is an internal logic error, not a condition (spec §7).
type RootOrderError struct {
	Reason string
}

func (e *RootOrderError) Error() string {
	return "GC root " + e.Reason
}

func (g *GC) popRoot(slot *Value) {
	if len(g.roots) == 0 {
		panic(&RootOrderError{Reason: "stack is empty while closing a handle"})
	}
	top := g.roots[len(g.roots)-1]
	if top != slot {
		panic(&RootOrderError{Reason: "stack is out of order while closing a handle"})
	}
	g.roots = g.roots[:len(g.roots)-1]
}

// ValueRoot pins an arbitrary Value (including null or an inline
// scalar) against GC motion.
type ValueRoot struct {
	gc   *GC
	root Value
}

// NewValueRoot roots v. The caller should not go on using v directly.
func NewValueRoot(gc *GC, v Value) *ValueRoot {
	r := &ValueRoot{gc: gc, root: v}
	gc.pushRoot(&r.root)
	return r
}

func (r *ValueRoot) Get() Value { return r.root }
func (r *ValueRoot) Set(v Value) { r.root = v }
func (r *ValueRoot) Close()     { r.gc.popRoot(&r.root) }

// Root pins a non-null object reference, exposing it through the given
// view (Tuple, Code, Type, ...). Construction panics if v is not an
// object.
type Root[T any] struct {
	gc   *GC
	root Value
	view func(*GC, Value) T
}

func NewRoot[T any](gc *GC, v Value, view func(*GC, Value) T) *Root[T] {
	if !v.IsObject() {
		panic(errors.Errorf("heap: Root constructed from a non-object value (%s)", v.Tag()))
	}
	r := &Root[T]{gc: gc, root: v, view: view}
	gc.pushRoot(&r.root)
	return r
}

// Get re-derives the current view of the rooted object. Views must
// never be cached across an allocation; call Get again afterward.
func (r *Root[T]) Get() T         { return r.view(r.gc, r.root) }
func (r *Root[T]) Value() Value   { return r.root }
func (r *Root[T]) Close()         { r.gc.popRoot(&r.root) }

// OptionalRoot pins a value that may be null (logical absence).
type OptionalRoot[T any] struct {
	gc   *GC
	root Value
	view func(*GC, Value) T
}

func NewOptionalRoot[T any](gc *GC, v Value, view func(*GC, Value) T) *OptionalRoot[T] {
	r := &OptionalRoot[T]{gc: gc, root: v, view: view}
	gc.pushRoot(&r.root)
	return r
}

func (r *OptionalRoot[T]) IsSet() bool { return r.root.IsObject() }
func (r *OptionalRoot[T]) Value() Value { return r.root }
func (r *OptionalRoot[T]) Get() T {
	if !r.IsSet() {
		panic(errors.New("heap: dereferencing an unset OptionalRoot"))
	}
	return r.view(r.gc, r.root)
}
func (r *OptionalRoot[T]) Close() { r.gc.popRoot(&r.root) }

// Convenience constructors for the object kinds used across the VM.

func NewTupleRoot(gc *GC, v Value) *Root[Tuple] { return NewRoot(gc, v, (*GC).AsTuple) }
func NewArrayRoot(gc *GC, v Value) *Root[Array] { return NewRoot(gc, v, (*GC).AsArray) }
func NewVectorRoot(gc *GC, v Value) *Root[Vector] { return NewRoot(gc, v, (*GC).AsVector) }
func NewAssocRoot(gc *GC, v Value) *Root[Assoc] { return NewRoot(gc, v, (*GC).AsAssoc) }
func NewStringRoot(gc *GC, v Value) *Root[String] { return NewRoot(gc, v, (*GC).AsString) }
func NewCodeRoot(gc *GC, v Value) *Root[Code] { return NewRoot(gc, v, (*GC).AsCode) }
func NewClosureRoot(gc *GC, v Value) *Root[Closure] { return NewRoot(gc, v, (*GC).AsClosure) }
func NewMethodRoot(gc *GC, v Value) *Root[Method] { return NewRoot(gc, v, (*GC).AsMethod) }
func NewMultiMethodRoot(gc *GC, v Value) *Root[MultiMethod] {
	return NewRoot(gc, v, (*GC).AsMultiMethod)
}
func NewTypeRoot(gc *GC, v Value) *Root[Type] { return NewRoot(gc, v, (*GC).AsType) }
func NewInstanceRoot(gc *GC, v Value) *Root[Instance] { return NewRoot(gc, v, (*GC).AsInstance) }
func NewCallSegmentRoot(gc *GC, v Value) *Root[CallSegment] {
	return NewRoot(gc, v, (*GC).AsCallSegment)
}
