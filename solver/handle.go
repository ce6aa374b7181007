package solver

import "math/big"

// Handle is the shareable reference to an SMT context that memory treats
// as an opaque primitive: a unit of construction, cloning, and term
// rebinding. Copying a *Handle (sharing the pointer) is cheap, forking
// an execution state without touching the solver; Clone is the heavy
// operation that duplicates the underlying context so a forked state can
// continue independently.
type Handle struct {
	ctx *Context
}

// NewHandle creates a fresh, empty solver context.
func NewHandle() *Handle {
	return &Handle{ctx: newContext()}
}

// Clone duplicates the context together with all terms reachable from it.
// Terms built against h remain valid under h; terms that should move to
// the clone must be passed through MatchBV/MatchArray on the returned
// handle.
func (h *Handle) Clone() *Handle {
	return &Handle{ctx: h.ctx.Clone()}
}

// Same reports whether two handles share the same underlying context.
func (h *Handle) Same(other *Handle) bool {
	return h != nil && other != nil && h.ctx == other.ctx
}

// MatchBV rebinds a term built against some ancestor context (reached by a
// chain of Clone calls with no intervening new variables) to the
// equivalent term under h.
func (h *Handle) MatchBV(term *BV) *BV {
	if term == nil {
		return nil
	}
	if term.ctx == h.ctx {
		return term
	}
	return rebindBV(h.ctx, term)
}

// MatchArray is MatchBV's counterpart for array terms.
func (h *Handle) MatchArray(a *Array) *Array {
	if a == nil {
		return nil
	}
	if a.ctx == h.ctx {
		return a
	}
	return rebindArray(h.ctx, a)
}

// ConstBV builds a width-bit constant from an arbitrary-precision integer,
// masked to width.
func (h *Handle) ConstBV(value *big.Int, width uint32) *BV {
	return newConst(h.ctx, value, width)
}

// ConstU64 builds a width-bit constant from a machine integer.
func (h *Handle) ConstU64(value uint64, width uint32) *BV {
	return newConst(h.ctx, bigFromUint64(value), width)
}

// ZeroBV builds the width-bit zero constant.
func (h *Handle) ZeroBV(width uint32) *BV {
	return newConst(h.ctx, big.NewInt(0), width)
}

// OnesBV builds a width-bit constant with every bit set.
func (h *Handle) OnesBV(width uint32) *BV {
	return newConst(h.ctx, mask(width), width)
}

// FreshBV declares a new free (fully unconstrained) symbolic bit-vector.
func (h *Handle) FreshBV(width uint32, name string) *BV {
	return h.ctx.freshSym(width, name)
}

// NewArray declares an unconstrained array.
func (h *Handle) NewArray(idxWidth, elemWidth uint32, name string) *Array {
	return h.ctx.NewArray(idxWidth, elemWidth, name)
}

// NewArrayConst declares an array whose default element is defaultVal.
func (h *Handle) NewArrayConst(idxWidth, elemWidth uint32, defaultVal *BV) *Array {
	return h.ctx.NewArrayConst(idxWidth, elemWidth, defaultVal)
}

// Model is a satisfying assignment of concrete values to free symbols,
// used only by tests (via Prove) to spot-check equivalence between two
// terms built from the same free variables. It is not part of the
// memory's runtime path.
type Model map[uint64]*big.Int

// Prove checks whether a and b evaluate equal under n random assignments
// of their free symbols. It is a randomized equivalence check, not a
// decision procedure, but it is exact whenever the terms involved contain
// no free symbols (the common case once addresses are concretized) and is
// a reasonable substitute for a real solver call in the property tests
// this package's terms are designed to support.
func Prove(a, b *BV, trials int, rng func() uint64) bool {
	if a.width != b.width {
		return false
	}
	syms := make(map[uint64]*BV)
	a.FreeSymbols(syms)
	b.FreeSymbols(syms)
	if len(syms) == 0 {
		return a.Eval(nil).Cmp(b.Eval(nil)) == 0
	}
	for i := 0; i < trials; i++ {
		model := make(Model, len(syms))
		for id, sym := range syms {
			v := new(big.Int)
			for chunk := uint32(0); chunk < sym.width; chunk += 64 {
				v.Lsh(v, 64)
				v.Or(v, bigFromUint64(rng()))
			}
			model[id] = maskTo(v, sym.width)
		}
		if a.Eval(model).Cmp(b.Eval(model)) != 0 {
			return false
		}
	}
	return true
}
