// Package memutil contains helpers to read pointer sized integers from the
// memory of a stopped target.
package memutil

import (
	"encoding/binary"
	"fmt"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ReadUint reads an unsigned little endian integer of size bytes at addr.
func ReadUint(mem MemoryReader, addr uint64, size int) (uint64, error) {
	buf := make([]byte, size)
	n, err := mem.ReadMemory(buf, addr)
	if err != nil {
		return 0, err
	}
	if n != size {
		return 0, fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, size)
	}
	switch size {
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	}
	return 0, fmt.Errorf("not supported ptr size %d", size)
}

// ReadPtr reads a pointer of ptrSize bytes at addr.
func ReadPtr(mem MemoryReader, addr uint64, ptrSize int) (uint64, error) {
	return ReadUint(mem, addr, ptrSize)
}

// AllOnes returns the pointer sized value with every bit set.
func AllOnes(ptrSize int) uint64 {
	if ptrSize == 4 {
		return 0xffffffff
	}
	return ^uint64(0)
}
