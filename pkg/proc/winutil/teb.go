// Package winutil reads the TLS slots of the Windows thread environment block.
package winutil

import (
	"github.com/go-delve/tlsvar/pkg/proc/internal/memutil"
)

// Offsets of ThreadLocalStoragePointer in the TEB.
const (
	TEBTLSPointerOffset64 = 0x58
	TEBTLSPointerOffset32 = 0x2c
)

// TLSArray returns the ThreadLocalStoragePointer field of the TEB at teb:
// an array of per image TLS blocks indexed by each image's _tls_index.
// The array is only allocated once the loader initialized static TLS for
// the thread.
func TLSArray(mem memutil.MemoryReader, teb uint64, ptrSize int) (uint64, error) {
	off := uint64(TEBTLSPointerOffset64)
	if ptrSize == 4 {
		off = TEBTLSPointerOffset32
	}
	return memutil.ReadPtr(mem, teb+off, ptrSize)
}

// TLSSlot returns the TLS block of the image with the given _tls_index.
func TLSSlot(mem memutil.MemoryReader, array, index uint64, ptrSize int) (uint64, error) {
	return memutil.ReadPtr(mem, array+index*uint64(ptrSize), ptrSize)
}
