// Package solver implements the SMT bit-vector/array abstraction that the
// symbolic memory is built on: bit-vector and array terms, a solver
// "handle" (a context that owns those terms), and the clone/rebind
// operations a forking symbolic-execution engine needs to migrate a
// memory's terms from one context to another.
//
// There is no external SMT engine behind this package. It implements the
// bit-vector and array theories directly as an immutable term DAG with
// read-over-write simplification for array selects, which is sufficient to
// decide every query the memory package needs (concretization, equality,
// and model evaluation for testing) without depending on a solver binary.
package solver

import "math/big"

var nextContextID uint64

func allocContextID() uint64 {
	nextContextID++
	return nextContextID
}

// undefKey identifies one element of an unconstrained array: the array's
// own id plus a concrete index. Reading the same concrete index from the
// same unconstrained array twice must yield the same fresh symbol, exactly
// as array theory requires (an uninterpreted array is a genuine function).
type undefKey struct {
	arrayID uint64
	index   uint64
}

// Context is the mutable state a Handle owns: the symbol counter (so fresh
// variables get stable, increasing ids) and the cache of fresh symbols
// materialized for reads of untouched cells in an unconstrained array.
type Context struct {
	id         uint64
	nextSym    uint64
	nextArray  uint64
	undefCache map[undefKey]*BV
}

func newContext() *Context {
	return &Context{
		id:         allocContextID(),
		undefCache: make(map[undefKey]*BV),
	}
}

// Clone duplicates the context together with every term it has ever
// handed out that might still be reachable (the undef cache). Terms built
// under the old context remain valid there; callers that want terms bound
// to the clone must rebind them with MatchBV/MatchArray.
func (c *Context) Clone() *Context {
	nc := &Context{
		id:         allocContextID(),
		nextSym:    c.nextSym,
		nextArray:  c.nextArray,
		undefCache: make(map[undefKey]*BV, len(c.undefCache)),
	}
	for k, v := range c.undefCache {
		nc.undefCache[k] = rebindBV(nc, v)
	}
	return nc
}

func (c *Context) freshSym(width uint32, name string) *BV {
	id := c.nextSym
	c.nextSym++
	return &BV{ctx: c, width: width, op: opSymbol, sym: id, name: name}
}

func (c *Context) freshArrayID() uint64 {
	id := c.nextArray
	c.nextArray++
	return id
}

// bigFromUint64 is a small helper kept here rather than inlined at every
// call site that builds a constant from a machine integer.
func bigFromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
