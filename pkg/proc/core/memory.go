package core

import (
	"fmt"
)

// splicedMemory is an address space built from a list of regions, where
// every region added may hide parts of the regions added before it.
// A snapshot describes the memory of the stopped process this way, and
// the memory changed while the process ran is added on top of it after a
// resume.
type splicedMemory struct {
	readers []readerEntry
}

type readerEntry struct {
	offset uint64
	length uint64
	reader memoryRegion
}

// memoryRegion is a byte slice mapped at base.
type memoryRegion struct {
	base uint64
	data []byte
}

func (r memoryRegion) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < r.base || addr-r.base >= uint64(len(r.data)) {
		return 0, fmt.Errorf("address %#x outside of region %#x-%#x", addr, r.base, r.base+uint64(len(r.data)))
	}
	return copy(buf, r.data[addr-r.base:]), nil
}

// Add maps data at addr, hiding the bytes of previous regions it overlaps.
func (r *splicedMemory) Add(addr uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	reader := memoryRegion{base: addr, data: data}
	off, length := addr, uint64(len(data))
	end := off + length - 1
	newReaders := make([]readerEntry, 0, len(r.readers)+1)
	add := func(e readerEntry) {
		if e.length == 0 {
			return
		}
		newReaders = append(newReaders, e)
	}
	inserted := false
	for _, entry := range r.readers {
		entryEnd := entry.offset + entry.length - 1
		switch {
		case entryEnd < off:
			// entry is before the new region
			add(entry)
		case end < entry.offset:
			// entry is after the new region
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			add(entry)
		case off <= entry.offset && entryEnd <= end:
			// entry is hidden by the new region
		case entry.offset < off && entryEnd <= end:
			// the new region hides the tail of the entry
			entry.length = off - entry.offset
			add(entry)
		case off <= entry.offset && end < entryEnd:
			// the new region hides the head of the entry
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			overlap := end + 1 - entry.offset
			entry.offset += overlap
			entry.length -= overlap
			add(entry)
		default:
			// the new region is inside the entry, split it
			add(readerEntry{entry.offset, off - entry.offset, entry.reader})
			add(readerEntry{off, length, reader})
			add(readerEntry{end + 1, entryEnd - end, entry.reader})
			inserted = true
		}
	}
	if !inserted {
		newReaders = append(newReaders, readerEntry{off, length, reader})
	}
	r.readers = newReaders
}

// ReadMemory implements proc.MemoryReader. Reads must be fully contained
// in contiguous mapped regions.
func (r *splicedMemory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	start := addr
	for _, entry := range r.readers {
		if len(buf) == 0 {
			break
		}
		if entry.offset+entry.length <= addr {
			continue
		}
		if entry.offset > addr {
			break
		}
		pb := buf
		if addr+uint64(len(pb)) > entry.offset+entry.length {
			pb = pb[:entry.offset+entry.length-addr]
		}
		pn, err := entry.reader.ReadMemory(pb, addr)
		n += pn
		if err != nil {
			return n, fmt.Errorf("error while reading memory at %#x: %v", addr, err)
		}
		buf = buf[pn:]
		addr += uint64(pn)
	}
	if len(buf) != 0 {
		return n, fmt.Errorf("could not read %d bytes at %#x: hit unmapped area at %#x", n+len(buf), start, addr)
	}
	return n, nil
}
