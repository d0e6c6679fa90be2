package heap

// Assoc is Katsu's module representation: a linear-scan String-keyed map
// (spec §3), extended with an optional base-module link that
// LookupChained follows (SUPPLEMENTED FEATURES "Module-lookup chaining",
// grounded on the original's module_lookup walking a base pointer before
// failing). The VM uses LookupChained to find the condition handler;
// LOAD_MODULE/STORE_MODULE take a Ref operand directly and do not consult
// any Assoc.

// NewAssoc allocates an empty Assoc with the given backing capacity and
// no base module.
func (g *GC) NewAssoc(capacity uint64) Value {
	backing := g.NewArrayOfLength(capacity * 2)
	off := g.alloc(assocSize())
	g.writeWord(off, makeHeader(ObjAssoc))
	g.writeWord(off+8, 0)
	g.writeValue(off+16, backing)
	g.writeValue(off+24, Null())
	return objectValue(off)
}

// SetAssocBase links assocVal to a base module consulted when a lookup misses
// locally.
func (g *GC) SetAssocBase(assocVal, base Value) {
	g.AsAssoc(assocVal).setBase(base)
}

// Lookup scans a's own entries (not its base chain) for a String key
// byte-equal to key, per spec §3 "lookup scans linearly".
func (a Assoc) Lookup(key string) (Value, bool) {
	for i := uint64(0); i < a.Length(); i++ {
		k := a.g.AsString(a.KeyAt(i))
		if k.String() == key {
			return a.ValueAt(i), true
		}
	}
	return Null(), false
}

// LookupChained scans a, then a's base, then its base's base, and so on
// (SUPPLEMENTED FEATURES "Module-lookup chaining").
func (a Assoc) LookupChained(key string) (Value, bool) {
	for cur := a; ; {
		if v, ok := cur.Lookup(key); ok {
			return v, true
		}
		if !cur.HasBase() {
			return Null(), false
		}
		cur = cur.g.AsAssoc(cur.Base())
	}
}

// AssocPut inserts or overwrites the entry for key in assocVal, growing the
// backing array if needed. Returns the (possibly relocated) Assoc value;
// callers must use the return value, not their original assocVal, after
// calling this (the allocation it may perform can move the backing
// array and the Assoc itself).
func (g *GC) AssocPut(assocVal Value, key string, val Value) Value {
	assocRoot := NewValueRoot(g, assocVal)
	defer assocRoot.Close()
	valRoot := NewValueRoot(g, val)
	defer valRoot.Close()

	a := g.AsAssoc(assocRoot.Get())
	for i := uint64(0); i < a.Length(); i++ {
		k := g.AsString(a.KeyAt(i))
		if k.String() == key {
			a.setEntryAt(i, a.KeyAt(i), valRoot.Get())
			return assocRoot.Get()
		}
	}

	keyVal := g.NewString(key)
	keyRoot := NewValueRoot(g, keyVal)
	defer keyRoot.Close()

	a = g.AsAssoc(assocRoot.Get())
	backing := g.AsArray(a.BackingArray())
	if a.Length() == backing.Length()/2 {
		newCap := backing.Length() + 2*(backing.Length()/2+1)
		newBacking := g.NewArrayOfLength(newCap)
		a = g.AsAssoc(assocRoot.Get())
		oldBacking := g.AsArray(a.BackingArray())
		newArr := g.AsArray(newBacking)
		for i := uint64(0); i < oldBacking.Length(); i++ {
			newArr.Set(i, oldBacking.Get(i))
		}
		a.setBackingArray(newBacking)
	}
	a.setEntryAt(a.Length(), keyRoot.Get(), valRoot.Get())
	a.setLength(a.Length() + 1)
	return assocRoot.Get()
}
