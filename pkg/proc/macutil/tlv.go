// Package macutil reads thread-local variables bound by dyld.
package macutil

import (
	"github.com/go-delve/tlsvar/pkg/proc/internal/memutil"
)

// TLVDescriptor is the descriptor dyld binds for every thread-local
// variable of a Mach-O image (struct TLVDescriptor in dyld's threadLocalVariables.c).
type TLVDescriptor struct {
	Thunk  uint64
	Key    uint64
	Offset uint64
}

// Bound returns true if dyld has already bound the descriptor to a
// pthread key.
func (d *TLVDescriptor) Bound() bool {
	return d.Thunk != 0
}

// ReadTLVDescriptor reads the descriptor located at addr.
func ReadTLVDescriptor(mem memutil.MemoryReader, addr uint64, ptrSize int) (*TLVDescriptor, error) {
	var fields [3]uint64
	for i := range fields {
		var err error
		fields[i], err = memutil.ReadPtr(mem, addr+uint64(i*ptrSize), ptrSize)
		if err != nil {
			return nil, err
		}
	}
	return &TLVDescriptor{Thunk: fields[0], Key: fields[1], Offset: fields[2]}, nil
}

// TSDSlot reads the pthread specific data of key for the thread whose TSD
// array starts at tsd. The value is the base of the thread's TLV block, or
// 0 if the thread never accessed a thread-local variable of the image.
func TSDSlot(mem memutil.MemoryReader, tsd, key uint64, ptrSize int) (uint64, error) {
	return memutil.ReadPtr(mem, tsd+key*uint64(ptrSize), ptrSize)
}
