package solver

import (
	"fmt"
	"math/big"
)

type bvOp int

const (
	opConst bvOp = iota
	opSymbol
	opSlice
	opConcat
	opZeroExt
	opShl
	opLshr
	opAnd
	opOr
	opNot
	opAdd
	opEq
	opUlt
	opSlt
	opSgt
	opIte
)

// BV is a bit-vector term: either a leaf (a constant or a free symbol) or
// an operation over other BV terms. Terms are immutable; every operation
// that would mutate a term instead returns a new one. Operations on
// all-constant operands are folded eagerly, which is what makes AsU64 a
// cheap structural check rather than a solver call.
type BV struct {
	ctx   *Context
	width uint32
	op    bvOp

	val *big.Int // opConst
	sym uint64   // opSymbol
	name string  // opSymbol, for debugging only

	a, b *BV // operands, meaning depends on op
	hi, lo uint32 // opSlice bounds, inclusive

	cond, then_, else_ *BV // opIte
}

func mask(width uint32) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return m.Sub(m, big.NewInt(1))
}

func maskTo(v *big.Int, width uint32) *big.Int {
	return new(big.Int).And(v, mask(width))
}

func requireSameCtx(terms ...*BV) *Context {
	var ctx *Context
	for _, t := range terms {
		if t == nil {
			continue
		}
		if ctx == nil {
			ctx = t.ctx
		} else if ctx != t.ctx {
			panic("solver: terms from different contexts used together")
		}
	}
	return ctx
}

// Width returns the bit-vector's width.
func (v *BV) Width() uint32 { return v.width }

func newConst(ctx *Context, value *big.Int, width uint32) *BV {
	return &BV{ctx: ctx, width: width, op: opConst, val: maskTo(value, width)}
}

// AsU64 returns the term's value and true if the term is constrained to a
// single concrete value representable in 64 bits, the fast
// concretization check the memory's large-access dispatch relies on. It
// never invokes a full solve; it only recognizes terms that folded to a
// literal at construction time.
func (v *BV) AsU64() (uint64, bool) {
	if v.op != opConst || v.width > 64 {
		return 0, false
	}
	return v.val.Uint64(), true
}

// Equal reports whether two terms are structurally identical: the same
// constant, the same symbol, or the same operation over equal operands.
// Structurally-equal terms are always semantically equal; the converse
// need not hold (that's what Eval/Prove are for).
func Equal(a, b *BV) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.width != b.width || a.op != b.op {
		return false
	}
	switch a.op {
	case opConst:
		return a.val.Cmp(b.val) == 0
	case opSymbol:
		return a.sym == b.sym
	case opSlice:
		return a.hi == b.hi && a.lo == b.lo && Equal(a.a, b.a)
	case opIte:
		return Equal(a.cond, b.cond) && Equal(a.then_, b.then_) && Equal(a.else_, b.else_)
	case opNot, opZeroExt:
		return Equal(a.a, b.a)
	default:
		return Equal(a.a, b.a) && Equal(a.b, b.b)
	}
}

// Concat returns hi ‖ lo (hi occupies the high-order bits).
func Concat(hi, lo *BV) *BV {
	ctx := requireSameCtx(hi, lo)
	width := hi.width + lo.width
	if hi.op == opConst && lo.op == opConst {
		v := new(big.Int).Lsh(hi.val, uint(lo.width))
		v.Or(v, lo.val)
		return newConst(ctx, v, width)
	}
	return &BV{ctx: ctx, width: width, op: opConcat, a: hi, b: lo}
}

// Slice extracts bits [hi:lo] inclusive, producing a term of width hi-lo+1.
// Beyond the constant-folding case, Slice pushes itself through the
// operations it distributes over (concatenation, zero-extension, a slice
// of a slice, bitwise and/or/not, ite, and a shift by a constant amount).
// This is what lets a masked write into a cell that was still symbolic
// (an untouched, uninitialized location) resolve back to a plain constant
// once a later read extracts exactly the bits that were written: the
// mask's zero bits meet the unknown cell contents and fold away via And's
// and Or's own identity-element rules below, regardless of the cell's
// other, still-unknown bits.
func (v *BV) Slice(hi, lo uint32) *BV {
	if hi < lo || hi >= v.width {
		panic(fmt.Sprintf("solver: invalid slice [%d:%d] of width-%d term", hi, lo, v.width))
	}
	width := hi - lo + 1
	switch v.op {
	case opConst:
		r := new(big.Int).Rsh(v.val, uint(lo))
		return newConst(v.ctx, r, width)
	case opSlice:
		return v.a.Slice(v.lo+hi, v.lo+lo)
	case opConcat:
		loWidth := v.b.width
		switch {
		case hi < loWidth:
			return v.b.Slice(hi, lo)
		case lo >= loWidth:
			return v.a.Slice(hi-loWidth, lo-loWidth)
		default:
			return Concat(v.a.Slice(hi-loWidth, 0), v.b.Slice(loWidth-1, lo))
		}
	case opZeroExt:
		inner := v.a.width
		switch {
		case hi < inner:
			return v.a.Slice(hi, lo)
		case lo >= inner:
			return newConst(v.ctx, big.NewInt(0), width)
		default:
			return Concat(newConst(v.ctx, big.NewInt(0), hi-inner+1), v.a.Slice(inner-1, lo))
		}
	case opAnd:
		return v.a.Slice(hi, lo).And(v.b.Slice(hi, lo))
	case opOr:
		return v.a.Slice(hi, lo).Or(v.b.Slice(hi, lo))
	case opNot:
		return v.a.Slice(hi, lo).Not()
	case opIte:
		return Ite(v.cond, v.then_.Slice(hi, lo), v.else_.Slice(hi, lo))
	case opLshr:
		if v.b.op == opConst {
			s := uint32(v.b.val.Uint64())
			base := v.a
			switch {
			case lo+s >= base.width:
				return newConst(v.ctx, big.NewInt(0), width)
			case hi+s < base.width:
				return base.Slice(hi+s, lo+s)
			default:
				top := base.Slice(base.width-1, lo+s)
				return top.ZeroExtend(width - top.width)
			}
		}
	case opShl:
		if v.b.op == opConst {
			s := uint32(v.b.val.Uint64())
			base := v.a
			switch {
			case hi < s:
				return newConst(v.ctx, big.NewInt(0), width)
			case lo >= s:
				return base.Slice(hi-s, lo-s)
			default:
				bottom := base.Slice(hi-s, 0)
				return Concat(bottom, newConst(v.ctx, big.NewInt(0), s-lo))
			}
		}
	}
	return &BV{ctx: v.ctx, width: width, op: opSlice, a: v, hi: hi, lo: lo}
}

// ZeroExtend zero-extends the term by extraBits additional high-order bits.
func (v *BV) ZeroExtend(extraBits uint32) *BV {
	if extraBits == 0 {
		return v
	}
	width := v.width + extraBits
	if v.op == opConst {
		return newConst(v.ctx, v.val, width)
	}
	return &BV{ctx: v.ctx, width: width, op: opZeroExt, a: v}
}

// Shl is a logical left shift by the (same-width) amount in shift.
func (v *BV) Shl(shift *BV) *BV {
	requireSameCtx(v, shift)
	if v.width != shift.width {
		panic("solver: Shl operands must share a width")
	}
	if v.op == opConst && shift.op == opConst {
		n := shift.val.Uint64()
		r := new(big.Int).Lsh(v.val, uint(n))
		return newConst(v.ctx, r, v.width)
	}
	return &BV{ctx: v.ctx, width: v.width, op: opShl, a: v, b: shift}
}

// Lshr is a logical right shift by the (same-width) amount in shift.
func (v *BV) Lshr(shift *BV) *BV {
	requireSameCtx(v, shift)
	if v.width != shift.width {
		panic("solver: Lshr operands must share a width")
	}
	if v.op == opConst && shift.op == opConst {
		n := shift.val.Uint64()
		r := new(big.Int).Rsh(v.val, uint(n))
		return newConst(v.ctx, r, v.width)
	}
	return &BV{ctx: v.ctx, width: v.width, op: opLshr, a: v, b: shift}
}

func isConstZero(v *BV) bool { return v.op == opConst && v.val.Sign() == 0 }

func isConstOnes(v *BV) bool { return v.op == opConst && v.val.Cmp(mask(v.width)) == 0 }

// And is bitwise AND. Besides the both-constant fold, AND with an
// all-zero constant is always zero and AND with an all-ones constant is
// always the other operand, regardless of what that operand is; these
// identities hold even when the other operand is an unresolved symbol,
// which is what lets a bitmask clear exactly the bits a write is about to
// replace without needing the cell's prior contents to be known.
func (v *BV) And(other *BV) *BV {
	requireSameCtx(v, other)
	if v.width != other.width {
		panic("solver: And operands must share a width")
	}
	if v.op == opConst && other.op == opConst {
		return newConst(v.ctx, new(big.Int).And(v.val, other.val), v.width)
	}
	if isConstZero(v) || isConstZero(other) {
		return newConst(v.ctx, big.NewInt(0), v.width)
	}
	if isConstOnes(v) {
		return other
	}
	if isConstOnes(other) {
		return v
	}
	return &BV{ctx: v.ctx, width: v.width, op: opAnd, a: v, b: other}
}

// Or is bitwise OR, with the mirror-image identities to And's.
func (v *BV) Or(other *BV) *BV {
	requireSameCtx(v, other)
	if v.width != other.width {
		panic("solver: Or operands must share a width")
	}
	if v.op == opConst && other.op == opConst {
		return newConst(v.ctx, new(big.Int).Or(v.val, other.val), v.width)
	}
	if isConstOnes(v) || isConstOnes(other) {
		return newConst(v.ctx, mask(v.width), v.width)
	}
	if isConstZero(v) {
		return other
	}
	if isConstZero(other) {
		return v
	}
	return &BV{ctx: v.ctx, width: v.width, op: opOr, a: v, b: other}
}

// Not is bitwise NOT.
func (v *BV) Not() *BV {
	if v.op == opConst {
		return newConst(v.ctx, new(big.Int).Not(v.val), v.width)
	}
	return &BV{ctx: v.ctx, width: v.width, op: opNot, a: v}
}

// Add is addition modulo 2^width.
func (v *BV) Add(other *BV) *BV {
	requireSameCtx(v, other)
	if v.width != other.width {
		panic("solver: Add operands must share a width")
	}
	if v.op == opConst && other.op == opConst {
		return newConst(v.ctx, new(big.Int).Add(v.val, other.val), v.width)
	}
	return &BV{ctx: v.ctx, width: v.width, op: opAdd, a: v, b: other}
}

func boolBV(ctx *Context, b bool) *BV {
	if b {
		return newConst(ctx, big.NewInt(1), 1)
	}
	return newConst(ctx, big.NewInt(0), 1)
}

// Eq returns a 1-bit term: 1 if the operands are equal, 0 otherwise.
func Eq(a, b *BV) *BV {
	ctx := requireSameCtx(a, b)
	if a.width != b.width {
		panic("solver: Eq operands must share a width")
	}
	if a.op == opConst && b.op == opConst {
		return boolBV(ctx, a.val.Cmp(b.val) == 0)
	}
	if Equal(a, b) {
		return boolBV(ctx, true)
	}
	return &BV{ctx: ctx, width: 1, op: opEq, a: a, b: b}
}

// Ult returns a 1-bit term: unsigned a < b.
func Ult(a, b *BV) *BV {
	ctx := requireSameCtx(a, b)
	if a.width != b.width {
		panic("solver: Ult operands must share a width")
	}
	if a.op == opConst && b.op == opConst {
		return boolBV(ctx, a.val.Cmp(b.val) < 0)
	}
	return &BV{ctx: ctx, width: 1, op: opUlt, a: a, b: b}
}

func toSigned(v *big.Int, width uint32) *big.Int {
	signBit := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
	if v.Cmp(signBit) >= 0 {
		return new(big.Int).Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(width)))
	}
	return new(big.Int).Set(v)
}

// Slt returns a 1-bit term: signed a < b.
func Slt(a, b *BV) *BV {
	ctx := requireSameCtx(a, b)
	if a.width != b.width {
		panic("solver: Slt operands must share a width")
	}
	if a.op == opConst && b.op == opConst {
		return boolBV(ctx, toSigned(a.val, a.width).Cmp(toSigned(b.val, b.width)) < 0)
	}
	return &BV{ctx: ctx, width: 1, op: opSlt, a: a, b: b}
}

// Sgt returns a 1-bit term: signed a > b.
func Sgt(a, b *BV) *BV {
	ctx := requireSameCtx(a, b)
	if a.width != b.width {
		panic("solver: Sgt operands must share a width")
	}
	if a.op == opConst && b.op == opConst {
		return boolBV(ctx, toSigned(a.val, a.width).Cmp(toSigned(b.val, b.width)) > 0)
	}
	return &BV{ctx: ctx, width: 1, op: opSgt, a: a, b: b}
}

// Ite chooses then_ when cond (a 1-bit term) is 1, else_ otherwise. It is
// not part of the externally required bit-vector op set; it is the
// internal mechanism the array theory below uses to represent a select
// over an ambiguous store without resolving it.
func Ite(cond, then_, else_ *BV) *BV {
	requireSameCtx(cond, then_, else_)
	if cond.width != 1 {
		panic("solver: Ite condition must be 1 bit wide")
	}
	if then_.width != else_.width {
		panic("solver: Ite branches must share a width")
	}
	if cond.op == opConst {
		if cond.val.Sign() != 0 {
			return then_
		}
		return else_
	}
	if Equal(then_, else_) {
		return then_
	}
	return &BV{ctx: cond.ctx, width: then_.width, op: opIte, cond: cond, then_: then_, else_: else_}
}

// Eval evaluates the term under a model assigning concrete values to free
// symbols (by their internal id, see Model). It panics if a reachable
// symbol has no assignment. This is test/debug machinery only; nothing
// in the memory package's read/write path depends on it.
func (v *BV) Eval(model map[uint64]*big.Int) *big.Int {
	switch v.op {
	case opConst:
		return new(big.Int).Set(v.val)
	case opSymbol:
		val, ok := model[v.sym]
		if !ok {
			panic(fmt.Sprintf("solver: no assignment for symbol %q (id %d)", v.name, v.sym))
		}
		return maskTo(val, v.width)
	case opSlice:
		r := new(big.Int).Rsh(v.a.Eval(model), uint(v.lo))
		return maskTo(r, v.width)
	case opConcat:
		hi := v.a.Eval(model)
		lo := v.b.Eval(model)
		r := new(big.Int).Lsh(hi, uint(v.b.width))
		r.Or(r, lo)
		return r
	case opZeroExt:
		return v.a.Eval(model)
	case opShl:
		n := v.b.Eval(model).Uint64()
		return maskTo(new(big.Int).Lsh(v.a.Eval(model), uint(n)), v.width)
	case opLshr:
		n := v.b.Eval(model).Uint64()
		return new(big.Int).Rsh(v.a.Eval(model), uint(n))
	case opAnd:
		return new(big.Int).And(v.a.Eval(model), v.b.Eval(model))
	case opOr:
		return new(big.Int).Or(v.a.Eval(model), v.b.Eval(model))
	case opNot:
		return maskTo(new(big.Int).Not(v.a.Eval(model)), v.width)
	case opAdd:
		return maskTo(new(big.Int).Add(v.a.Eval(model), v.b.Eval(model)), v.width)
	case opEq:
		return boolToBig(v.a.Eval(model).Cmp(v.b.Eval(model)) == 0)
	case opUlt:
		return boolToBig(v.a.Eval(model).Cmp(v.b.Eval(model)) < 0)
	case opSlt:
		return boolToBig(toSigned(v.a.Eval(model), v.a.width).Cmp(toSigned(v.b.Eval(model), v.b.width)) < 0)
	case opSgt:
		return boolToBig(toSigned(v.a.Eval(model), v.a.width).Cmp(toSigned(v.b.Eval(model), v.b.width)) > 0)
	case opIte:
		if v.cond.Eval(model).Sign() != 0 {
			return v.then_.Eval(model)
		}
		return v.else_.Eval(model)
	default:
		panic("solver: unhandled op in Eval")
	}
}

func boolToBig(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// FreeSymbols collects the set of free symbol ids the term depends on,
// keyed by id, with a representative BV for each (used by Model/Prove to
// build a random assignment).
func (v *BV) FreeSymbols(into map[uint64]*BV) {
	switch v.op {
	case opConst:
		return
	case opSymbol:
		into[v.sym] = v
	case opSlice, opZeroExt, opNot:
		v.a.FreeSymbols(into)
	case opIte:
		v.cond.FreeSymbols(into)
		v.then_.FreeSymbols(into)
		v.else_.FreeSymbols(into)
	default:
		v.a.FreeSymbols(into)
		v.b.FreeSymbols(into)
	}
}

func rebindBV(nc *Context, v *BV) *BV {
	if v == nil {
		return nil
	}
	out := &BV{ctx: nc, width: v.width, op: v.op, hi: v.hi, lo: v.lo, sym: v.sym, name: v.name}
	if v.val != nil {
		out.val = new(big.Int).Set(v.val)
	}
	out.a = rebindBV(nc, v.a)
	out.b = rebindBV(nc, v.b)
	out.cond = rebindBV(nc, v.cond)
	out.then_ = rebindBV(nc, v.then_)
	out.else_ = rebindBV(nc, v.else_)
	return out
}
