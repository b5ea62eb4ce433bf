package linutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

type sliceMemory struct {
	base uint64
	data []byte
}

func newSliceMemory(base uint64, contents ...interface{}) *sliceMemory {
	var buf bytes.Buffer
	for _, x := range contents {
		binary.Write(&buf, binary.LittleEndian, x)
	}
	return &sliceMemory{base: base, data: buf.Bytes()}
}

func (mem *sliceMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < mem.base || addr+uint64(len(buf)) > mem.base+uint64(len(mem.data)) {
		return 0, errors.New("out of bounds")
	}
	return copy(buf, mem.data[addr-mem.base:]), nil
}

func TestReadDTV(t *testing.T) {
	mem := newSliceMemory(0x1000,
		uint64(3), uint64(0), // dtv[-1]
		uint64(7), uint64(0), // dtv[0]
		uint64(0x5000), uint64(0x5000),
		^uint64(0), uint64(0),
		uint64(0x9000), uint64(0))

	dtv, err := ReadDTV(mem, 0x1010, 8)
	if err != nil {
		t.Fatal(err)
	}
	if dtv.Len != 3 || dtv.Generation != 7 {
		t.Fatalf("wrong header %#v", dtv)
	}
	for modid, tgt := range map[uint64]uint64{1: 0x5000, 2: DTVUnallocated(8), 3: 0x9000} {
		if !dtv.Contains(modid) {
			t.Errorf("module %d not contained", modid)
		}
		slot, err := dtv.Slot(mem, modid)
		if err != nil {
			t.Fatal(err)
		}
		if slot != tgt {
			t.Errorf("module %d: expected %#x got %#x", modid, tgt, slot)
		}
	}
	if dtv.Contains(0) || dtv.Contains(4) {
		t.Errorf("out of range module ids contained")
	}
}

func TestReadDTV32(t *testing.T) {
	mem := newSliceMemory(0x1000, uint32(1), uint32(0), uint32(2), uint32(0), uint32(0xffffffff), uint32(0))
	dtv, err := ReadDTV(mem, 0x1008, 4)
	if err != nil {
		t.Fatal(err)
	}
	slot, err := dtv.Slot(mem, 1)
	if err != nil {
		t.Fatal(err)
	}
	if slot != DTVUnallocated(4) {
		t.Errorf("expected unallocated slot, got %#x", slot)
	}
}

func TestReadDTVCorrupt(t *testing.T) {
	mem := newSliceMemory(0x1000, uint64(1<<40), uint64(0), uint64(1), uint64(0))
	if _, err := ReadDTV(mem, 0x1010, 8); !errors.Is(err, ErrDTVTooLong) {
		t.Errorf("expected ErrDTVTooLong, got %v", err)
	}
	if _, err := ReadDTV(mem, 0x1008, 8); err == nil {
		t.Errorf("expected error reading a DTV outside of memory")
	}
}
