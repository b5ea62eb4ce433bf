// Package fbsdutil reads the dynamic thread vector of FreeBSD threads.
package fbsdutil

import (
	"errors"

	"github.com/go-delve/tlsvar/pkg/proc/internal/memutil"
)

const maxDTVLen = 1000000

// ErrDTVTooLong is returned when the length stored in a DTV is implausible.
var ErrDTVTooLong = errors.New("dynamic thread vector length exceeds maximum")

// DTV is the dynamic thread vector of FreeBSD's rtld. Unlike glibc its
// elements are plain pointers and the TCB points to the first one:
//
//	dtv[0]        generation
//	dtv[1]        highest module index
//	dtv[modid+1]  TLS block of module modid, 0 if not allocated
//
// See libexec/rtld-elf/rtld.c.
type DTV struct {
	Addr       uint64
	Len        uint64
	Generation uint64

	ptrSize int
}

// ReadDTV reads the header of the dynamic thread vector at addr.
func ReadDTV(mem memutil.MemoryReader, addr uint64, ptrSize int) (*DTV, error) {
	gen, err := memutil.ReadPtr(mem, addr, ptrSize)
	if err != nil {
		return nil, err
	}
	n, err := memutil.ReadPtr(mem, addr+uint64(ptrSize), ptrSize)
	if err != nil {
		return nil, err
	}
	if n > maxDTVLen {
		return nil, ErrDTVTooLong
	}
	return &DTV{Addr: addr, Len: n, Generation: gen, ptrSize: ptrSize}, nil
}

// Contains returns true if modid has a slot in the vector.
func (dtv *DTV) Contains(modid uint64) bool {
	return modid >= 1 && modid <= dtv.Len
}

// Slot returns the address of the TLS block of module modid, or 0.
func (dtv *DTV) Slot(mem memutil.MemoryReader, modid uint64) (uint64, error) {
	return memutil.ReadPtr(mem, dtv.Addr+(modid+1)*uint64(dtv.ptrSize), dtv.ptrSize)
}
