// Package memory implements the byte-addressable symbolic memory: a flat
// 64-bit address space backed by a single symbolic array of 64-bit cells.
// Reads and writes of arbitrary width and alignment, at a concrete or
// symbolic address, are decomposed into cell-level operations and
// stitched back together with shift/mask/concat so that byte order stays
// little-endian throughout.
package memory

import (
	"fmt"
	"log"

	"github.com/newhook/symex/solver"
)

// Fixed geometry constants: index width and cell width are both 64 bits,
// a cell holds 8 bytes, and the low 3 address bits select the byte within
// a cell.
const (
	IndexBits      = 64
	CellBits       = 64
	BitsInByte     = 8
	LogBitsInByte  = 3
	CellBytes      = CellBits / BitsInByte // 8
	LogCellBytes   = 3                      // log2(CellBytes)
	CellOffsetMask = 0x7
	logNumCells    = IndexBits - LogCellBytes // 61-bit array index
)

// Memory is the symbolic memory: a solver handle, the backing array term,
// and the precomputed constants reused across address arithmetic so the
// term DAG stays shallow.
type Memory struct {
	h     *solver.Handle
	array *solver.Array

	cellBytesBV         *solver.BV // 64-bit constant 8
	logBitsInByteBV      *solver.BV // 64-bit constant 3
	logBitsInByteWideBV  *solver.BV // 128-bit constant 3

	// Logger receives per-primitive tracing when non-nil, restoring the
	// debug!() call sites original_source/src/memory.rs has at every
	// read/write primitive. Nil by default; construct with SetLogger to
	// enable it.
	logger *log.Logger
}

func newConstants(h *solver.Handle) (cellBytes, logBits, logBitsWide *solver.BV) {
	cellBytes = h.ConstU64(CellBytes, IndexBits)
	logBits = h.ConstU64(LogBitsInByte, CellBits)
	logBitsWide = h.ConstU64(LogBitsInByte, 2*CellBits)
	return
}

// NewUninitialized returns a memory whose backing array is completely
// unconstrained: reads at untouched addresses return fresh symbolic bytes
// the solver may satisfy with any value.
func NewUninitialized(h *solver.Handle) *Memory {
	cellBytes, logBits, logBitsWide := newConstants(h)
	return &Memory{
		h:                   h,
		array:               h.NewArray(logNumCells, CellBits, "mem"),
		cellBytesBV:         cellBytes,
		logBitsInByteBV:     logBits,
		logBitsInByteWideBV: logBitsWide,
	}
}

// NewZeroInitialized returns a memory whose backing array defaults every
// untouched cell to zero.
func NewZeroInitialized(h *solver.Handle) *Memory {
	cellBytes, logBits, logBitsWide := newConstants(h)
	return &Memory{
		h:                   h,
		array:               h.NewArrayConst(logNumCells, CellBits, h.ZeroBV(CellBits)),
		cellBytesBV:         cellBytes,
		logBitsInByteBV:     logBits,
		logBitsInByteWideBV: logBitsWide,
	}
}

// SetLogger enables per-primitive tracing to l. Pass nil to disable it
// again; disabled by default.
func (m *Memory) SetLogger(l *log.Logger) { m.logger = l }

func (m *Memory) tracef(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Equal reports whether m and other are observationally equivalent: they
// share the same solver context and the same backing array term. The
// precomputed constants are excluded: they are a pure function of the
// geometry and carry no information of their own.
func (m *Memory) Equal(other *Memory) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.h.Same(other.h) && solver.ArrayEqual(m.array, other.array)
}

// ChangeSolver rebinds every term this memory owns to newSolver.
// newSolver must have been derived (possibly transitively) from
// the handle currently in use by Clone, with no new variables introduced
// in the old context since; violating that precondition is a programming
// error this package has no way to detect and does not try to.
func (m *Memory) ChangeSolver(newSolver *solver.Handle) {
	m.array = newSolver.MatchArray(m.array)
	m.cellBytesBV = newSolver.MatchBV(m.cellBytesBV)
	m.logBitsInByteBV = newSolver.MatchBV(m.logBitsInByteBV)
	m.logBitsInByteWideBV = newSolver.MatchBV(m.logBitsInByteWideBV)
	m.h = newSolver
}

func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// --- cell-level primitives -----------------------------------------------

func (m *Memory) cellIndex(addr *solver.BV) *solver.BV {
	assertf(addr.Width() == IndexBits, "memory: address must be %d bits wide, got %d", IndexBits, addr.Width())
	return addr.Slice(IndexBits-1, LogCellBytes)
}

func (m *Memory) readCell(addr *solver.BV) *solver.BV {
	return m.array.Read(m.cellIndex(addr))
}

func (m *Memory) writeCell(addr, val64 *solver.BV) {
	assertf(val64.Width() == CellBits, "memory: writeCell requires a %d-bit value, got %d", CellBits, val64.Width())
	m.array = m.array.Write(m.cellIndex(addr), val64)
}

// cellOffsetBits returns the address's low 3 bits, zero-extended and
// shifted left by 3, i.e. the bit offset into the cell, computed at
// targetWidth (CellBits for within-cell ops, 2*CellBits for the
// double-width cross-cell ops).
func (m *Memory) cellOffsetBits(addr *solver.BV, targetWidth uint32) *solver.BV {
	offsetBytes := addr.Slice(LogCellBytes-1, 0).ZeroExtend(targetWidth - LogCellBytes)
	var logBits *solver.BV
	if targetWidth == CellBits {
		logBits = m.logBitsInByteBV
	} else {
		logBits = m.logBitsInByteWideBV
	}
	return offsetBytes.Shl(logBits)
}

func (m *Memory) readWithinCell(addr *solver.BV, bits uint32) *solver.BV {
	m.tracef("reading within cell, %d bits at %v", bits, addr)
	assertf(bits <= CellBits, "memory: readWithinCell requires bits <= %d, got %d", CellBits, bits)
	cell := m.readCell(addr)
	if bits == CellBits {
		return cell
	}
	offset := m.cellOffsetBits(addr, CellBits)
	return cell.Lshr(offset).Slice(bits-1, 0)
}

func (m *Memory) writeWithinCell(addr, val *solver.BV) {
	m.tracef("writing within cell, %v to address %v", val, addr)
	w := val.Width()
	assertf(w <= CellBits, "memory: writeWithinCell requires width <= %d, got %d", CellBits, w)
	var data *solver.BV
	if w == CellBits {
		data = val
	} else {
		offset := m.cellOffsetBits(addr, CellBits)
		clearMask := m.h.OnesBV(w).ZeroExtend(CellBits - w).Shl(offset).Not()
		writeMask := val.ZeroExtend(CellBits - w).Shl(offset)
		data = m.readCell(addr).And(clearMask).Or(writeMask)
	}
	m.writeCell(addr, data)
}

func (m *Memory) nextCellAddr(addr *solver.BV) *solver.BV {
	return addr.Add(m.cellBytesBV)
}

// readSmall reads up to CellBits bits at any alignment, possibly crossing
// one cell boundary.
func (m *Memory) readSmall(addr *solver.BV, bits uint32) *solver.BV {
	assertf(bits <= CellBits, "memory: readSmall requires bits <= %d, got %d", CellBits, bits)
	if bits <= BitsInByte {
		return m.readWithinCell(addr, bits)
	}
	nextAddr := m.nextCellAddr(addr)
	merged := solver.Concat(m.readCell(nextAddr), m.readCell(addr))
	offset := m.cellOffsetBits(addr, 2*CellBits)
	return merged.Lshr(offset).Slice(bits-1, 0)
}

// writeSmall writes up to CellBits bits at any alignment, possibly
// crossing one cell boundary.
func (m *Memory) writeSmall(addr, val *solver.BV) {
	w := val.Width()
	assertf(w <= CellBits, "memory: writeSmall requires width <= %d, got %d", CellBits, w)
	if w <= BitsInByte {
		m.writeWithinCell(addr, val)
		return
	}
	nextAddr := m.nextCellAddr(addr)
	offset := m.cellOffsetBits(addr, 2*CellBits)
	clearMask := m.h.OnesBV(w).ZeroExtend(2*CellBits-w).Shl(offset).Not()
	writeMask := val.ZeroExtend(2*CellBits - w).Shl(offset)
	existing := solver.Concat(m.readCell(nextAddr), m.readCell(addr))
	data := existing.And(clearMask).Or(writeMask)
	m.writeCell(addr, data.Slice(CellBits-1, 0))
	m.writeCell(nextAddr, data.Slice(2*CellBits-1, CellBits))
}

// chunkSizes decomposes an n-bit (n>0) access into a sequence of
// within-cell chunk sizes: floor((n-1)/64) copies of 64, then a final
// chunk of ((n-1) mod 64)+1 bits, which is 64, not 0, when n is an exact
// multiple of 64.
func chunkSizes(n uint32) []uint32 {
	assertf(n > 0, "memory: chunkSizes requires n > 0")
	numFull := (n - 1) / CellBits
	last := (n-1)%CellBits + 1
	sizes := make([]uint32, 0, numFull+1)
	for i := uint32(0); i < numFull; i++ {
		sizes = append(sizes, CellBits)
	}
	return append(sizes, last)
}

// readLargeAligned reads n (>0) bits at a cell-aligned address.
func (m *Memory) readLargeAligned(addr *solver.BV, n uint32) *solver.BV {
	sizes := chunkSizes(n)
	var result *solver.BV
	for i, sz := range sizes {
		offset := m.h.ConstU64(uint64(i)*CellBytes, IndexBits)
		part := m.readWithinCell(addr.Add(offset), sz)
		if result == nil {
			result = part
		} else {
			result = solver.Concat(part, result)
		}
	}
	return result
}

// writeLargeAligned writes val (width > 0) at a cell-aligned address.
func (m *Memory) writeLargeAligned(addr, val *solver.BV) {
	w := val.Width()
	sizes := chunkSizes(w)
	bitOffset := uint32(0)
	for i, sz := range sizes {
		offset := m.h.ConstU64(uint64(i)*CellBytes, IndexBits)
		chunk := val.Slice(bitOffset+sz-1, bitOffset)
		m.writeWithinCell(addr.Add(offset), chunk)
		bitOffset += sz
	}
}

// Read returns a bit-vector term of width bits whose value is the
// little-endian reassembly of the bytes at addr.
func (m *Memory) Read(addr *solver.BV, bits uint32) *solver.BV {
	assertf(addr.Width() == IndexBits, "memory: Read requires a %d-bit address, got %d", IndexBits, addr.Width())
	assertf(bits > 0, "memory: Read requires bits > 0")
	m.tracef("reading %d bits at %v", bits, addr)

	if bits <= CellBits {
		return m.readSmall(addr, bits)
	}

	if addrU64, ok := addr.AsU64(); ok {
		cellOffset := addrU64 & CellOffsetMask
		if cellOffset == 0 {
			return m.readLargeAligned(addr, bits)
		}
		bytesTillBoundary := CellBytes - cellOffset
		first := m.readSmall(addr, uint32(bytesTillBoundary)*BitsInByte)
		nextAddr := addr.Add(m.h.ConstU64(bytesTillBoundary, IndexBits))
		rest := m.readLargeAligned(nextAddr, bits-uint32(bytesTillBoundary)*BitsInByte)
		return solver.Concat(rest, first)
	}

	// Symbolic address: the safe byte-by-byte fallback.
	assertf(bits%BitsInByte == 0, "memory: symbolic-address read requires a byte-multiple width, got %d bits", bits)
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

// Write stores val at addr in little-endian byte order. Only a write wider
// than a cell at a symbolic address is split into single-byte writes.
func (m *Memory) Write(addr, val *solver.BV) {
	assertf(addr.Width() == IndexBits, "memory: Write requires a %d-bit address, got %d", IndexBits, addr.Width())
	w := val.Width()
	assertf(w > 0, "memory: Write requires a positive-width value")
	m.tracef("writing %v to address %v", val, addr)

	if w <= CellBits {
		m.writeSmall(addr, val)
		return
	}

	if addrU64, ok := addr.AsU64(); ok {
		cellOffset := addrU64 & CellOffsetMask
		if cellOffset == 0 {
			m.writeLargeAligned(addr, val)
			return
		}
		bytesTillBoundary := CellBytes - cellOffset
		lowBits := uint32(bytesTillBoundary) * BitsInByte
		first := val.Slice(lowBits-1, 0)
		m.writeSmall(addr, first)
		rest := val.Slice(w-1, lowBits)
		nextAddr := addr.Add(m.h.ConstU64(bytesTillBoundary, IndexBits))
		m.writeLargeAligned(nextAddr, rest)
		return
	}

	// Symbolic address: the safe byte-by-byte fallback.
	assertf(w%BitsInByte == 0, "memory: symbolic-address write requires a byte-multiple width, got %d bits", w)
	numBytes := w / BitsInByte
	for i := uint32(0); i < numBytes; i++ {
		b := val.Slice((i+1)*BitsInByte-1, i*BitsInByte)
		offsetAddr := addr.Add(m.h.ConstU64(uint64(i), IndexBits))
		m.writeWithinCell(offsetAddr, b)
	}
}
