package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/tlsvar/pkg/dwarf/leb128"
)

var (
	// ErrEmptyStack is returned by programs that leave nothing on the stack.
	ErrEmptyStack = errors.New("empty OP stack")
	// ErrAfterTLS is returned when a program keeps computing after it
	// converted its operand into a thread-relative address.
	ErrAfterTLS = errors.New("operations after a TLS address are not supported")
)

type stackfn func(Opcode, *context) error

type context struct {
	buf        *bytes.Buffer
	stack      []uint64
	ptrSize    int
	staticBase uint64

	tls       bool
	relocated bool
}

// Location is the result of a location expression for a global or
// thread-local variable.
type Location struct {
	// Addr is the address of the variable for globals, and the operand of
	// the TLS opcode for thread-local variables: an offset into the
	// module's TLS block on ELF, the address of the TLV descriptor on
	// Mach-O, an offset into the image's TLS directory entry on PE.
	Addr uint64
	// TLS is true if the program ended with DW_OP_form_tls_address or
	// DW_OP_GNU_push_tls_address.
	TLS bool
	// Relocated is true if Addr was produced by DW_OP_addr and therefore
	// includes the static base of the image.
	Relocated bool
}

var oplut map[Opcode]stackfn

func init() {
	oplut = map[Opcode]stackfn{
		DW_OP_addr:                 addr,
		DW_OP_const1u:              constnu,
		DW_OP_const1s:              constns,
		DW_OP_const2u:              constnu,
		DW_OP_const2s:              constns,
		DW_OP_const4u:              constnu,
		DW_OP_const4s:              constns,
		DW_OP_const8u:              constnu,
		DW_OP_const8s:              constns,
		DW_OP_constu:               constu,
		DW_OP_consts:               consts,
		DW_OP_plus:                 plus,
		DW_OP_plus_uconst:          plusuconsts,
		DW_OP_form_tls_address:     formtlsaddr,
		DW_OP_GNU_push_tls_address: formtlsaddr,
	}
	for op := DW_OP_lit0; op <= DW_OP_lit31; op++ {
		oplut[op] = literal
	}
}

// ExecuteTLSProgram executes the DWARF location expression of a global or
// thread-local variable. Truncated programs and opcodes outside of the
// supported subset return an error.
func ExecuteTLSProgram(instructions []byte, ptrSize int, staticBase uint64) (Location, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return Location{}, fmt.Errorf("not supported ptr size %d", ptrSize)
	}
	ctxt := &context{
		buf:        bytes.NewBuffer(instructions),
		stack:      make([]uint64, 0, 3),
		ptrSize:    ptrSize,
		staticBase: staticBase,
	}

	for {
		opcodeByte, err := ctxt.buf.ReadByte()
		if err != nil {
			break
		}
		opcode := Opcode(opcodeByte)
		if ctxt.tls {
			return Location{}, ErrAfterTLS
		}
		fn, ok := oplut[opcode]
		if !ok {
			return Location{}, fmt.Errorf("invalid instruction %v", opcode)
		}

		if err := fn(opcode, ctxt); err != nil {
			return Location{}, fmt.Errorf("%v: %w", opcode, err)
		}
	}

	if len(ctxt.stack) == 0 {
		return Location{}, ErrEmptyStack
	}

	return Location{Addr: ctxt.stack[len(ctxt.stack)-1], TLS: ctxt.tls, Relocated: ctxt.relocated}, nil
}

// PrettyPrint prints the DWARF stack program instructions to `out`.
func PrettyPrint(out io.Writer, instructions []byte, ptrSize int) {
	in := bytes.NewBuffer(instructions)

	for {
		opcode, err := in.ReadByte()
		if err != nil {
			break
		}
		io.WriteString(out, Opcode(opcode).String())
		out.Write([]byte{' '})
		for _, arg := range opcodeArgs[Opcode(opcode)] {
			switch arg {
			case 's':
				n, _, _ := leb128.DecodeSigned(in)
				fmt.Fprintf(out, "%#x ", n)
			case 'u':
				n, _, _ := leb128.DecodeUnsigned(in)
				fmt.Fprintf(out, "%#x ", n)
			case 'a':
				x, _ := readUintRaw(in, ptrSize)
				fmt.Fprintf(out, "%#x ", x)
			default:
				x, _ := readUintRaw(in, int(arg-'0'))
				fmt.Fprintf(out, "%#x ", x)
			}
		}
	}
}

// readUintRaw reads an integer of size bytes in little endian order.
func readUintRaw(buf *bytes.Buffer, size int) (uint64, error) {
	b := buf.Next(size)
	if len(b) != size {
		return 0, io.ErrUnexpectedEOF
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("not supported operand size %d", size)
}

func addr(opcode Opcode, ctxt *context) error {
	n, err := readUintRaw(ctxt.buf, ctxt.ptrSize)
	if err != nil {
		return err
	}
	ctxt.stack = append(ctxt.stack, n+ctxt.staticBase)
	ctxt.relocated = true
	return nil
}

func operandSize(opcode Opcode) int {
	switch opcode {
	case DW_OP_const1u, DW_OP_const1s:
		return 1
	case DW_OP_const2u, DW_OP_const2s:
		return 2
	case DW_OP_const4u, DW_OP_const4s:
		return 4
	}
	return 8
}

func constnu(opcode Opcode, ctxt *context) error {
	n, err := readUintRaw(ctxt.buf, operandSize(opcode))
	if err != nil {
		return err
	}
	ctxt.stack = append(ctxt.stack, n)
	return nil
}

func constns(opcode Opcode, ctxt *context) error {
	sz := operandSize(opcode)
	n, err := readUintRaw(ctxt.buf, sz)
	if err != nil {
		return err
	}
	if sz < 8 {
		// sign extend
		shift := uint(64 - 8*sz)
		n = uint64(int64(n<<shift) >> shift)
	}
	ctxt.stack = append(ctxt.stack, n)
	return nil
}

func constu(opcode Opcode, ctxt *context) error {
	num, _, err := leb128.DecodeUnsigned(ctxt.buf)
	if err != nil {
		return err
	}
	ctxt.stack = append(ctxt.stack, num)
	return nil
}

func consts(opcode Opcode, ctxt *context) error {
	num, _, err := leb128.DecodeSigned(ctxt.buf)
	if err != nil {
		return err
	}
	ctxt.stack = append(ctxt.stack, uint64(num))
	return nil
}

func literal(opcode Opcode, ctxt *context) error {
	ctxt.stack = append(ctxt.stack, uint64(opcode-DW_OP_lit0))
	return nil
}

func plus(opcode Opcode, ctxt *context) error {
	slen := len(ctxt.stack)
	if slen < 2 {
		return ErrEmptyStack
	}
	digits := ctxt.stack[slen-2 : slen]
	ctxt.stack = append(ctxt.stack[:slen-2], digits[0]+digits[1])
	return nil
}

func plusuconsts(opcode Opcode, ctxt *context) error {
	slen := len(ctxt.stack)
	if slen == 0 {
		return ErrEmptyStack
	}
	num, _, err := leb128.DecodeUnsigned(ctxt.buf)
	if err != nil {
		return err
	}
	ctxt.stack[slen-1] += num
	return nil
}

func formtlsaddr(opcode Opcode, ctxt *context) error {
	if len(ctxt.stack) == 0 {
		return ErrEmptyStack
	}
	ctxt.tls = true
	return nil
}
