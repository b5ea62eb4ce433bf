package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-delve/tlsvar/pkg/dwarf/leb128"
)

// program assembles a location expression from opcodes and operands.
// Operands of type int are encoded as ULEB128, everything else with
// encoding/binary.
func program(ops ...interface{}) []byte {
	var buf bytes.Buffer
	for _, x := range ops {
		switch x := x.(type) {
		case Opcode:
			buf.WriteByte(byte(x))
		case int:
			leb128.EncodeUnsigned(&buf, uint64(x))
		default:
			binary.Write(&buf, binary.LittleEndian, x)
		}
	}
	return buf.Bytes()
}

func TestExecuteTLSProgram(t *testing.T) {
	testCases := []struct {
		name       string
		prog       []byte
		ptrSize    int
		staticBase uint64
		tgt        Location
	}{
		{"gcc tls", program(DW_OP_const8u, uint64(0x10), DW_OP_GNU_push_tls_address), 8, 0, Location{Addr: 0x10, TLS: true}},
		{"dwarf5 tls", program(DW_OP_const4u, uint32(0x4), DW_OP_form_tls_address), 4, 0, Location{Addr: 0x4, TLS: true}},
		{"darwin tlv", program(DW_OP_addr, uint64(0x8000), DW_OP_GNU_push_tls_address), 8, 0x100000000, Location{Addr: 0x100008000, TLS: true, Relocated: true}},
		{"global", program(DW_OP_addr, uint64(0x4010), DW_OP_plus_uconst, 8), 8, 0x1000, Location{Addr: 0x5018, Relocated: true}},
		{"arith", program(DW_OP_consts, int(0x1c), DW_OP_lit0+3, DW_OP_plus), 8, 0, Location{Addr: 0x1f}},
		{"signed", program(DW_OP_const1s, uint8(0xff), DW_OP_plus_uconst, 2), 8, 0, Location{Addr: 1}},
	}

	for _, tc := range testCases {
		loc, err := ExecuteTLSProgram(tc.prog, tc.ptrSize, tc.staticBase)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if loc != tc.tgt {
			t.Errorf("%s: expected %#v got %#v", tc.name, tc.tgt, loc)
		}
	}
}

func TestExecuteTLSProgramErrors(t *testing.T) {
	testCases := []struct {
		name string
		prog []byte
		err  error
	}{
		{"empty", nil, ErrEmptyStack},
		{"truncated addr", []byte{byte(DW_OP_addr), 0x10, 0x20}, io.ErrUnexpectedEOF},
		{"truncated uleb", []byte{byte(DW_OP_constu), 0x80}, io.ErrUnexpectedEOF},
		{"tls on empty stack", program(DW_OP_form_tls_address), ErrEmptyStack},
		{"plus on one value", program(DW_OP_lit0+1, DW_OP_plus), ErrEmptyStack},
		{"after tls", program(DW_OP_lit0+1, DW_OP_form_tls_address, DW_OP_plus_uconst, 1), ErrAfterTLS},
	}

	for _, tc := range testCases {
		_, err := ExecuteTLSProgram(tc.prog, 8, 0)
		if !errors.Is(err, tc.err) {
			t.Errorf("%s: expected %v got %v", tc.name, tc.err, err)
		}
	}

	if _, err := ExecuteTLSProgram([]byte{0x96}, 8, 0); err == nil {
		t.Errorf("expected error for unsupported opcode")
	}
	if _, err := ExecuteTLSProgram(program(DW_OP_lit0), 2, 0); err == nil {
		t.Errorf("expected error for bad pointer size")
	}
}

func TestPrettyPrint(t *testing.T) {
	var out strings.Builder
	PrettyPrint(&out, program(DW_OP_const8u, uint64(0x10), DW_OP_GNU_push_tls_address, DW_OP_lit0+2), 8)
	const tgt = "DW_OP_const8u 0x10 DW_OP_GNU_push_tls_address DW_OP_lit2 "
	if out.String() != tgt {
		t.Fatalf("expected %q got %q", tgt, out.String())
	}
}
