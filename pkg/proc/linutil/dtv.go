// Package linutil reads the glibc dynamic thread vector of Linux threads.
package linutil

import (
	"errors"

	"github.com/go-delve/tlsvar/pkg/proc/internal/memutil"
)

// maxDTVLen is the maximum number of modules we accept in a dynamic thread
// vector, to avoid trusting corrupted memory.
const maxDTVLen = 1000000

// ErrDTVTooLong is returned when the length stored in a DTV is implausible.
var ErrDTVTooLong = errors.New("dynamic thread vector length exceeds maximum")

// DTV is the header of glibc's dynamic thread vector.
// The TCB points to the second element of an array of dtv_t unions:
//
//	dtv[-1].counter      number of slots
//	dtv[0].counter       generation of the vector
//	dtv[modid].pointer   {void *val; void *to_free} of module modid
//
// See sysdeps/generic/dl-dtv.h and elf/dl-tls.c in glibc.
type DTV struct {
	Addr       uint64
	Len        uint64
	Generation uint64

	ptrSize int
}

// DTVUnallocated returns the value of TLS_DTV_UNALLOCATED for the given
// pointer size. A slot with this value belongs to a module whose block
// has not been allocated for the thread yet.
func DTVUnallocated(ptrSize int) uint64 {
	return memutil.AllOnes(ptrSize)
}

// entrySize is the size of a dtv_t union.
func entrySize(ptrSize int) uint64 {
	return uint64(2 * ptrSize)
}

// ReadDTV reads the header of the dynamic thread vector at addr, which is
// the value stored in the dtv field of tcbhead_t.
func ReadDTV(mem memutil.MemoryReader, addr uint64, ptrSize int) (*DTV, error) {
	n, err := memutil.ReadPtr(mem, addr-entrySize(ptrSize), ptrSize)
	if err != nil {
		return nil, err
	}
	if n > maxDTVLen {
		return nil, ErrDTVTooLong
	}
	gen, err := memutil.ReadPtr(mem, addr, ptrSize)
	if err != nil {
		return nil, err
	}
	return &DTV{Addr: addr, Len: n, Generation: gen, ptrSize: ptrSize}, nil
}

// Contains returns true if modid has a slot in the vector.
func (dtv *DTV) Contains(modid uint64) bool {
	return modid >= 1 && modid <= dtv.Len
}

// Slot returns the address of the TLS block of module modid. The result is
// DTVUnallocated or 0 if the block does not exist yet.
func (dtv *DTV) Slot(mem memutil.MemoryReader, modid uint64) (uint64, error) {
	return memutil.ReadPtr(mem, dtv.Addr+modid*entrySize(dtv.ptrSize), dtv.ptrSize)
}
