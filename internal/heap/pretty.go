package heap

import "github.com/kr/pretty"

// Dump renders v as a human-readable tree for debugging (cmd/katsu's
// print fallback for non-scalar values), using kr/pretty rather than a
// hand-rolled recursive printer (SPEC_FULL.md DOMAIN STACK), prefixed
// with the GC's DebugTag so dumps from two GCs can be told apart. It first walks the
// object graph into a plain Go snapshot (snapshot below) so that the
// offsets kr/pretty would otherwise print are replaced with a readable
// shape, and so that a cyclic reference (Type.subtypes pointing back
// through a base, or similar) terminates instead of looping forever.
func (g *GC) Dump(v Value) string {
	return "gc " + g.DebugTag + ": " + pretty.Sprint(g.snapshot(v, map[offset]bool{}))
}

// snapshotNode is the plain-data shape snapshot walks a heap value into.
// Kind is always set; Fields holds nested snapshots keyed by accessor
// name, in a stable, readable order.
type snapshotNode struct {
	Kind   string
	Value  any
	Fields map[string]any
}

func (g *GC) snapshot(v Value, seen map[offset]bool) any {
	switch {
	case v.IsNull():
		return "null"
	case v.IsFixnum():
		return v.Fixnum()
	case v.IsFloat():
		return v.Float32()
	case v.IsBool():
		return v.Bool()
	case !v.IsObject():
		return "!unknown-inline-value!"
	}

	off := v.objectOffset()
	if seen[off] {
		return snapshotNode{Kind: "<cycle>"}
	}
	seen[off] = true

	o := g.objAt(v)
	switch o.Tag() {
	case ObjRef:
		return snapshotNode{Kind: "ref", Fields: map[string]any{
			"value": g.snapshot(g.AsRef(v).Get(), seen),
		}}
	case ObjTuple:
		t := g.AsTuple(v)
		return snapshotNode{Kind: "tuple", Value: g.snapshotSlice(t.Length(), t.Get, seen)}
	case ObjArray:
		a := g.AsArray(v)
		return snapshotNode{Kind: "array", Value: g.snapshotSlice(a.Length(), a.Get, seen)}
	case ObjVector:
		vec := g.AsVector(v)
		return snapshotNode{Kind: "vector", Value: g.snapshotSlice(vec.Length(), vec.Get, seen)}
	case ObjAssoc:
		a := g.AsAssoc(v)
		entries := make(map[string]any, a.Length())
		for i := uint64(0); i < a.Length(); i++ {
			entries[g.AsString(a.KeyAt(i)).String()] = g.snapshot(a.ValueAt(i), seen)
		}
		fields := map[string]any{"entries": entries}
		if a.HasBase() {
			fields["base"] = g.snapshot(a.Base(), seen)
		}
		return snapshotNode{Kind: "assoc", Fields: fields}
	case ObjString:
		return snapshotNode{Kind: "string", Value: g.AsString(v).String()}
	case ObjCode:
		c := g.AsCode(v)
		return snapshotNode{Kind: "code", Fields: map[string]any{
			"num_params": c.NumParams(),
			"num_regs":   c.NumRegs(),
			"num_data":   c.NumData(),
		}}
	case ObjClosure:
		cl := g.AsClosure(v)
		return snapshotNode{Kind: "closure", Fields: map[string]any{
			"code":   g.snapshot(cl.Code(), seen),
			"upregs": g.snapshot(cl.Upregs(), seen),
		}}
	case ObjMethod:
		m := g.AsMethod(v)
		fields := map[string]any{
			"param_matchers": g.snapshot(m.ParamMatchers(), seen),
			"return_type":    g.snapshot(m.ReturnType(), seen),
		}
		if id, ok := m.NativeHandlerID(); ok {
			fields["native_handler_id"] = id
		}
		if id, ok := m.IntrinsicHandlerID(); ok {
			fields["intrinsic_handler_id"] = id
		}
		if !m.CodeValue().IsNull() {
			fields["code"] = g.snapshot(m.CodeValue(), seen)
		}
		return snapshotNode{Kind: "method", Fields: fields}
	case ObjMultiMethod:
		mm := g.AsMultiMethod(v)
		return snapshotNode{Kind: "multimethod", Fields: map[string]any{
			"name":        g.AsString(mm.Name()).String(),
			"num_params":  mm.NumParams(),
			"methods":     g.snapshot(mm.Methods(), seen),
		}}
	case ObjType:
		t := g.AsType(v)
		fields := map[string]any{
			"name":   g.AsString(t.Name()).String(),
			"sealed": t.Sealed(),
			"kind":   t.Kind(),
		}
		if t.HasSlots() {
			fields["slots"] = g.snapshot(t.Slots(), seen)
		}
		return snapshotNode{Kind: "type", Fields: fields}
	case ObjInstance:
		inst := g.AsInstance(v)
		tName := g.AsString(g.AsType(inst.TypeValue()).Name()).String()
		return snapshotNode{Kind: "instance<" + tName + ">", Value: g.snapshotSlice(inst.NumSlots(), inst.Slot, seen)}
	case ObjCallSegment:
		cs := g.AsCallSegment(v)
		return snapshotNode{Kind: "call-segment", Fields: map[string]any{
			"byte_length": cs.Length(),
		}}
	case ObjForeign:
		return snapshotNode{Kind: "foreign", Value: g.AsForeignValue(v).Payload()}
	default:
		return snapshotNode{Kind: "!unknown!"}
	}
}

func (g *GC) snapshotSlice(n uint64, get func(uint64) Value, seen map[offset]bool) []any {
	out := make([]any, n)
	for i := uint64(0); i < n; i++ {
		out[i] = g.snapshot(get(i), seen)
	}
	return out
}
