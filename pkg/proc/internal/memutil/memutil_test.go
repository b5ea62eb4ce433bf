package memutil

import (
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

func TestReadPtr(t *testing.T) {
	mem := &sliceMemory{base: 0x1000, data: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}}

	p, err := ReadPtr(mem, 0x1000, 8)
	if err != nil {
		t.Fatal(err)
	}
	if p != 0x0807060504030201 {
		t.Errorf("8 byte pointer: %#x", p)
	}
	p, err = ReadPtr(mem, 0x1004, 4)
	if err != nil {
		t.Fatal(err)
	}
	if p != 0x08070605 {
		t.Errorf("4 byte pointer: %#x", p)
	}
	if _, err := ReadPtr(mem, 0x1004, 8); err == nil {
		t.Errorf("expected error reading past the end of memory")
	}
	if _, err := ReadPtr(mem, 0x1000, 2); err == nil {
		t.Errorf("expected error for unsupported size")
	}
}
