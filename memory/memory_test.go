package memory

import (
	"math/big"
	"testing"

	"github.com/newhook/symex/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asU64(t *testing.T, v *solver.BV) uint64 {
	t.Helper()
	got, ok := v.AsU64()
	require.True(t, ok, "expected a concrete value")
	return got
}

// evalFree evaluates v after assigning every free symbol it depends on to
// zero. A read through a symbolic address pulls in both the address
// symbol itself and a fresh symbol for every never-written cell the read
// happens to touch along the way (see Array.Read's arrUnconstrained
// case), so the resulting term is too elaborate to compare structurally
// against a plain constant even though it evaluates to one for any
// address the model picks. This is the same substitute-and-evaluate
// technique Prove uses for randomized equivalence checking, just with a
// fixed all-zero model instead of a random one, since the property under
// test holds for every address, not just most of them.
func evalFree(v *solver.BV) *big.Int {
	free := map[uint64]*solver.BV{}
	v.FreeSymbols(free)
	model := make(solver.Model, len(free))
	for id := range free {
		model[id] = big.NewInt(0)
	}
	return v.Eval(model)
}

func TestScenarioWriteReadAlignedCell(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0, IndexBits)
	m.Write(addr, h.ConstU64(0x1234_5678, 64))
	assert.Equal(t, uint64(0x1234_5678), asU64(t, m.Read(addr, 64)))
}

func TestScenarioByteWriteRead(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x10001, IndexBits)
	m.Write(addr, h.ConstU64(0x4F, 8))
	assert.Equal(t, uint64(0x4F), asU64(t, m.Read(addr, 8)))
}

func TestScenarioCrossCellAlignedWrite(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x10004, IndexBits)
	m.Write(addr, h.ConstU64(0x1234_5678_9ABC_DEF0, 64))
	assert.Equal(t, uint64(0x1234_5678_9ABC_DEF0), asU64(t, m.Read(addr, 64)))
}

func TestScenarioPartialOverwriteWithinCell(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x10000, IndexBits)
	m.Write(addr, h.ConstU64(0x1234_5678_1234_5678, 64))
	m.Write(h.ConstU64(0x10002, IndexBits), h.ConstU64(0xDCBA, 16))
	assert.Equal(t, uint64(0x1234_5678_DCBA_5678), asU64(t, m.Read(addr, 64)))
}

func TestScenarioZeroInitLittleEndianPadding(t *testing.T) {
	h := solver.NewHandle()
	m := NewZeroInitialized(h)
	m.Write(h.ConstU64(0x10001, IndexBits), h.ConstU64(0x4F, 8))
	got := asU64(t, m.Read(h.ConstU64(0x10000, IndexBits), 16))
	assert.Equal(t, uint64(0x4F00), got)
}

func TestScenario200BitWriteSliceReadBack(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x10003, IndexBits)

	c0 := h.ConstU64(0xFEDCBA98_76543210, 64)
	c1 := h.ConstU64(0x2468ACE0_13579BDF, 64)
	c2 := h.ConstU64(0x12345678_9ABCDEF0, 64)
	c3 := h.ConstU64(0xEF, 8)

	val := solver.Concat(c3, solver.Concat(c2, solver.Concat(c1, c0)))
	require.Equal(t, uint32(200), val.Width())
	m.Write(addr, val)

	read := m.Read(addr, 200)
	assert.Equal(t, uint64(0xFEDCBA98_76543210), asU64(t, read.Slice(63, 0)))
	assert.Equal(t, uint64(0x2468ACE0_13579BDF), asU64(t, read.Slice(127, 64)))
	assert.Equal(t, uint64(0x12345678_9ABCDEF0), asU64(t, read.Slice(191, 128)))
	assert.Equal(t, uint64(0xEF), asU64(t, read.Slice(199, 192)))
}

func TestScenarioSymbolicAddressRoundTrip(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.FreshBV(IndexBits, "symbolic_addr")
	val := h.ConstU64(0x1234_5678_9ABC_DEF0, 64)
	m.Write(addr, val)

	read := m.Read(addr, 64)
	want, _ := val.AsU64()
	assert.Equal(t, new(big.Int).SetUint64(want), evalFree(read), "reading back through the same symbolic address term must reproduce the written value")
}

// TestScenarioWideWriteThroughSymbolicAddress mirrors
// read_and_write_200bits_symbolic_addr from the Rust reference
// implementation: a write wider than a cell, at a freshly declared
// symbolic address, exercises the byte-by-byte fallback on both the
// write and the read side rather than any of the cell-aligned or
// cross-cell fast paths.
func TestScenarioWideWriteThroughSymbolicAddress(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.FreshBV(IndexBits, "symbolic_addr")

	c0 := h.ConstU64(0x12345678_9ABCDEF0, 64)
	c1 := h.ConstU64(0x2468ACE0_13579BDF, 64)
	c2 := h.ConstU64(0xFEDCBA98_76543210, 64)
	c3 := h.ConstU64(0xEF, 8)
	val := solver.Concat(c3, solver.Concat(c2, solver.Concat(c1, c0)))
	require.Equal(t, uint32(200), val.Width())
	m.Write(addr, val)

	read := m.Read(addr, 200)
	assert.Equal(t, uint64(0x12345678_9ABCDEF0), evalFree(read.Slice(63, 0)).Uint64())
	assert.Equal(t, uint64(0x2468ACE0_13579BDF), evalFree(read.Slice(127, 64)).Uint64())
	assert.Equal(t, uint64(0xFEDCBA98_76543210), evalFree(read.Slice(191, 128)).Uint64())
	assert.Equal(t, uint64(0xEF), evalFree(read.Slice(199, 192)).Uint64())
}

func TestUninitializedReadSatisfiesBothSigns(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x20000, IndexBits)
	read := m.Read(addr, 64)

	syms := map[uint64]*solver.BV{}
	read.FreeSymbols(syms)
	require.Len(t, syms, 1, "a fresh read of an untouched cell must be exactly one free symbol")

	var id uint64
	for k := range syms {
		id = k
	}
	zero := h.ZeroBV(64)
	positive := solver.Model{id: big.NewInt(1)}
	negative := solver.Model{id: new(big.Int).Lsh(big.NewInt(1), 63)}
	assert.Equal(t, int64(1), solver.Sgt(read, zero).Eval(positive).Int64(), "the read must admit a positive value")
	assert.Equal(t, int64(1), solver.Slt(read, zero).Eval(negative).Int64(), "the read must admit a negative value")
}

func TestZeroInitializedReadHasOneSolution(t *testing.T) {
	h := solver.NewHandle()
	m := NewZeroInitialized(h)
	addr := h.ConstU64(0x30000, IndexBits)
	read := m.Read(addr, 64)
	assert.Equal(t, uint64(0), asU64(t, read))
}

func TestDisjointWritesDoNotInterfere(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	a1 := h.ConstU64(0x10000, IndexBits)
	a2 := h.ConstU64(0x10008, IndexBits)
	v1 := h.ConstU64(0x1234_5678, 32)
	v2 := h.ConstU64(0xFEDC_BA98, 32)

	m.Write(a1, v1)
	m.Write(a2, v2)
	assert.Equal(t, uint64(0x1234_5678), asU64(t, m.Read(a1, 32)))
	assert.Equal(t, uint64(0xFEDC_BA98), asU64(t, m.Read(a2, 32)))
}

func TestDisjointWritesWithinCellDoNotInterfere(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	a1 := h.ConstU64(0x10000, IndexBits)
	a2 := h.ConstU64(0x10004, IndexBits)
	v1 := h.ConstU64(0x1234_5678, 32)
	v2 := h.ConstU64(0xFEDC_BA98, 32)

	m.Write(a1, v1)
	m.Write(a2, v2)
	assert.Equal(t, uint64(0x1234_5678), asU64(t, m.Read(a1, 32)))
	assert.Equal(t, uint64(0xFEDC_BA98), asU64(t, m.Read(a2, 32)))
}

func TestLastWriterWinsSameAddress(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x10000, IndexBits)
	m.Write(addr, h.ConstU64(0x4F, 8))
	m.Write(addr, h.ConstU64(0x3A, 8))
	assert.Equal(t, uint64(0x3A), asU64(t, m.Read(addr, 8)))
}

func TestLittleEndianByteOrder(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x10002, IndexBits)
	m.Write(addr, h.ConstU64(0x1234_5678, 32))

	assert.Equal(t, uint64(0x78), asU64(t, m.Read(addr, 8)))
	assert.Equal(t, uint64(0x12), asU64(t, m.Read(h.ConstU64(0x10005, IndexBits), 8)))
	assert.Equal(t, uint64(0x3456), asU64(t, m.Read(h.ConstU64(0x10003, IndexBits), 16)))
}

// Property 7: for a concrete address at every possible cell offset, the
// dispatch-optimized read must agree with the generic symbolic-address
// byte-by-byte fallback.
func TestAlignmentEquivalenceAgainstByteFallback(t *testing.T) {
	for k := uint64(0); k < 8; k++ {
		h := solver.NewHandle()
		m := NewUninitialized(h)
		addr := h.ConstU64(0x10000+k, IndexBits)
		m.Write(addr, h.ConstU64(0x1122_3344_5566_7788, 64))

		fast := asU64(t, m.Read(addr, 64))
		generic := asU64(t, m.readGenericFallbackForTest(addr, 64))
		assert.Equal(t, generic, fast, "offset %d: fast path and byte fallback disagree", k)
	}
}

func TestEqual(t *testing.T) {
	h := solver.NewHandle()
	m1 := NewUninitialized(h)
	m2 := NewUninitialized(h)
	assert.False(t, m1.Equal(m2), "two freshly constructed arrays are distinct unconstrained arrays")

	addr := h.ConstU64(0x1000, IndexBits)
	val := h.ConstU64(0x42, 64)
	m1.Write(addr, val)

	m3 := NewUninitialized(h)
	m3.Write(addr, val)
	assert.False(t, m1.Equal(m3), "writing the same value on top of two different base arrays still yields different array terms")

	m1Copy := *m1
	assert.True(t, m1.Equal(&m1Copy))
}

func TestChangeSolverPreservesContents(t *testing.T) {
	h := solver.NewHandle()
	m := NewUninitialized(h)
	addr := h.ConstU64(0x10000, IndexBits)
	m.Write(addr, h.ConstU64(0xDEAD_BEEF, 32))

	h2 := h.Clone()
	m.ChangeSolver(h2)

	addr2 := h2.MatchBV(addr)
	assert.Equal(t, uint64(0xDEAD_BEEF), asU64(t, m.Read(addr2, 32)))
}

// readGenericFallbackForTest forces the symbolic-address byte-by-byte path
// regardless of whether addr happens to be concrete, so alignment
// equivalence (property 7) can be checked directly against the generic
// fallback implementation.
func (m *Memory) readGenericFallbackForTest(addr *solver.BV, bits uint32) *solver.BV {
	assertf(bits%BitsInByte == 0, "memory: test fallback requires byte-multiple width")
	numBytes := bits / BitsInByte
	var result *solver.BV
	for i := uint32(0); i < numBytes; i++ {
		offsetAddr := addr.Add(m.h.ConstU64(uint64(i), IndexBits))
		b := m.readWithinCell(offsetAddr, BitsInByte)
		if result == nil {
			result = b
		} else {
			result = solver.Concat(b, result)
		}
	}
	return result
}
