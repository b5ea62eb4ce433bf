package winutil

import (
	"errors"
	"testing"
)

type mapMemory map[uint64][]byte

func (mem mapMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	data, ok := mem[addr]
	if !ok || len(data) < len(buf) {
		return 0, errors.New("out of bounds")
	}
	return copy(buf, data), nil
}

func TestTLSArray(t *testing.T) {
	mem := mapMemory{
		0x1000 + TEBTLSPointerOffset64: {0x00, 0x20, 0, 0, 0, 0, 0, 0},
		0x2008:                         {0x00, 0x00, 0x30, 0, 0, 0, 0, 0},
		0x1000 + TEBTLSPointerOffset32: {0x00, 0x40, 0, 0},
		0x4004:                         {0x00, 0x00, 0x50, 0},
	}

	array, err := TLSArray(mem, 0x1000, 8)
	if err != nil {
		t.Fatal(err)
	}
	if array != 0x2000 {
		t.Fatalf("64-bit TLS array: %#x", array)
	}
	if slot, err := TLSSlot(mem, array, 1, 8); err != nil || slot != 0x300000 {
		t.Errorf("64-bit slot 1: %#x %v", slot, err)
	}

	array, err = TLSArray(mem, 0x1000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if array != 0x4000 {
		t.Fatalf("32-bit TLS array: %#x", array)
	}
	if slot, err := TLSSlot(mem, array, 1, 4); err != nil || slot != 0x500000 {
		t.Errorf("32-bit slot 1: %#x %v", slot, err)
	}
}
