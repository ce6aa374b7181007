package solver

type arrayKind int

const (
	arrUnconstrained arrayKind = iota
	arrConstDefault
	arrStore
)

// Array is a functional array term: an unconstrained array (every index
// maps to an independent fresh value), a constant-default array (every
// untouched index maps to the same given value, used for zero-initialized
// memory), or a Store layered on a base array. Write appends a Store
// layer; it never mutates an existing Array value, matching the "replaces
// array with a new array term" semantics the memory depends on.
type Array struct {
	ctx       *Context
	idxWidth  uint32
	elemWidth uint32
	kind      arrayKind
	id        uint64 // stable identity for arrUnconstrained's fresh-read cache

	defaultVal *BV // arrConstDefault

	base  *Array // arrStore
	index *BV    // arrStore
	value *BV    // arrStore
}

// NewArray builds an unconstrained array: reads at indices that were never
// written return fresh, independent symbolic values.
func (c *Context) NewArray(idxWidth, elemWidth uint32, name string) *Array {
	return &Array{
		ctx:       c,
		idxWidth:  idxWidth,
		elemWidth: elemWidth,
		kind:      arrUnconstrained,
		id:        c.freshArrayID(),
	}
}

// NewArrayConst builds an array whose default element (for every index not
// otherwise written) is defaultVal.
func (c *Context) NewArrayConst(idxWidth, elemWidth uint32, defaultVal *BV) *Array {
	if defaultVal.width != elemWidth {
		panic("solver: array default element width mismatch")
	}
	return &Array{
		ctx:        c,
		idxWidth:   idxWidth,
		elemWidth:  elemWidth,
		kind:       arrConstDefault,
		defaultVal: defaultVal,
	}
}

func (a *Array) IndexWidth() uint32  { return a.idxWidth }
func (a *Array) ElementWidth() uint32 { return a.elemWidth }

// Read returns the value stored at idx. When the chain of stores cannot
// statically decide whether idx aliases a prior write (both are symbolic
// and not structurally identical), the result is a genuine if-then-else
// term (the standard "read-over-write" unfolding of array theory), rather
// than an approximation.
func (a *Array) Read(idx *BV) *BV {
	if idx.width != a.idxWidth {
		panic("solver: array index width mismatch")
	}
	switch a.kind {
	case arrConstDefault:
		return a.defaultVal
	case arrUnconstrained:
		if n, ok := idx.AsU64(); ok {
			key := undefKey{arrayID: a.id, index: n}
			if v, ok := a.ctx.undefCache[key]; ok {
				return v
			}
			v := a.ctx.freshSym(a.elemWidth, "undef_cell")
			a.ctx.undefCache[key] = v
			return v
		}
		// Symbolic index into virgin memory: every call returns a new
		// symbol. Such reads are not cached, so two reads at the same
		// symbolic index, or a symbolic read and a concrete read that
		// alias, are not tied to each other.
		return a.ctx.freshSym(a.elemWidth, "undef_cell_sym")
	case arrStore:
		if Equal(idx, a.index) {
			return a.value
		}
		if idxN, ok1 := idx.AsU64(); ok1 {
			if storeN, ok2 := a.index.AsU64(); ok2 {
				if idxN == storeN {
					return a.value
				}
				return a.base.Read(idx)
			}
		}
		cond := Eq(idx, a.index)
		return Ite(cond, a.value, a.base.Read(idx))
	default:
		panic("solver: unknown array kind")
	}
}

// Write returns a new array term identical to a except that idx now maps
// to value.
func (a *Array) Write(idx, value *BV) *Array {
	if idx.width != a.idxWidth {
		panic("solver: array index width mismatch")
	}
	if value.width != a.elemWidth {
		panic("solver: array element width mismatch")
	}
	return &Array{ctx: a.ctx, idxWidth: a.idxWidth, elemWidth: a.elemWidth, kind: arrStore, base: a, index: idx, value: value}
}

// ArrayEqual reports whether two array terms are structurally identical,
// the same notion of equality Memory.Equal relies on: two memories are
// equal iff they share the same solver context and the same array term.
// Like Equal for bit-vectors, it does not compare the contexts the terms
// belong to; Memory.Equal checks the context separately.
func ArrayEqual(a, b *Array) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.kind != b.kind || a.idxWidth != b.idxWidth || a.elemWidth != b.elemWidth {
		return false
	}
	switch a.kind {
	case arrUnconstrained:
		return a.id == b.id
	case arrConstDefault:
		return Equal(a.defaultVal, b.defaultVal)
	case arrStore:
		return Equal(a.index, b.index) && Equal(a.value, b.value) && ArrayEqual(a.base, b.base)
	default:
		return false
	}
}

func rebindArray(nc *Context, a *Array) *Array {
	if a == nil {
		return nil
	}
	out := &Array{ctx: nc, idxWidth: a.idxWidth, elemWidth: a.elemWidth, kind: a.kind, id: a.id}
	out.defaultVal = rebindBV(nc, a.defaultVal)
	out.base = rebindArray(nc, a.base)
	out.index = rebindBV(nc, a.index)
	out.value = rebindBV(nc, a.value)
	return out
}
