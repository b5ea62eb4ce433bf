package macutil

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

func (mem *sliceMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < mem.base || addr+uint64(len(buf)) > mem.base+uint64(len(mem.data)) {
		return 0, errors.New("out of bounds")
	}
	return copy(buf, mem.data[addr-mem.base:]), nil
}

func TestReadTLVDescriptor(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, []uint64{0x7fff00001234, 0x102, 0x18, 0, 0, 0})
	mem := &sliceMemory{base: 0x100000, data: buf.Bytes()}

	d, err := ReadTLVDescriptor(mem, 0x100000, 8)
	if err != nil {
		t.Fatal(err)
	}
	if *d != (TLVDescriptor{Thunk: 0x7fff00001234, Key: 0x102, Offset: 0x18}) {
		t.Errorf("wrong descriptor %#v", d)
	}
	if !d.Bound() {
		t.Errorf("descriptor not bound")
	}

	// The second descriptor was not bound yet.
	d, err = ReadTLVDescriptor(mem, 0x100018, 8)
	if err != nil {
		t.Fatal(err)
	}
	if d.Bound() {
		t.Errorf("zero descriptor bound")
	}
	if _, err := ReadTLVDescriptor(mem, 0x100020, 8); err == nil {
		t.Errorf("expected error for truncated descriptor")
	}
}

func TestTSDSlot(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, []uint64{0, 0, 0xabc000})
	mem := &sliceMemory{base: 0x5000, data: buf.Bytes()}
	v, err := TSDSlot(mem, 0x5000, 2, 8)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xabc000 {
		t.Errorf("expected 0xabc000 got %#x", v)
	}
}
