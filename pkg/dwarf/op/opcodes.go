package op

import "fmt"

// Opcode represent a DWARF stack program instruction.
type Opcode byte

const (
	DW_OP_addr                 Opcode = 0x03
	DW_OP_const1u              Opcode = 0x08
	DW_OP_const1s              Opcode = 0x09
	DW_OP_const2u              Opcode = 0x0a
	DW_OP_const2s              Opcode = 0x0b
	DW_OP_const4u              Opcode = 0x0c
	DW_OP_const4s              Opcode = 0x0d
	DW_OP_const8u              Opcode = 0x0e
	DW_OP_const8s              Opcode = 0x0f
	DW_OP_constu               Opcode = 0x10
	DW_OP_consts               Opcode = 0x11
	DW_OP_plus                 Opcode = 0x22
	DW_OP_plus_uconst          Opcode = 0x23
	DW_OP_lit0                 Opcode = 0x30
	DW_OP_lit31                Opcode = 0x4f
	DW_OP_form_tls_address     Opcode = 0x9b
	DW_OP_GNU_push_tls_address Opcode = 0xe0
)

var opcodeName = map[Opcode]string{
	DW_OP_addr:                 "DW_OP_addr",
	DW_OP_const1u:              "DW_OP_const1u",
	DW_OP_const1s:              "DW_OP_const1s",
	DW_OP_const2u:              "DW_OP_const2u",
	DW_OP_const2s:              "DW_OP_const2s",
	DW_OP_const4u:              "DW_OP_const4u",
	DW_OP_const4s:              "DW_OP_const4s",
	DW_OP_const8u:              "DW_OP_const8u",
	DW_OP_const8s:              "DW_OP_const8s",
	DW_OP_constu:               "DW_OP_constu",
	DW_OP_consts:               "DW_OP_consts",
	DW_OP_plus:                 "DW_OP_plus",
	DW_OP_plus_uconst:          "DW_OP_plus_uconst",
	DW_OP_form_tls_address:     "DW_OP_form_tls_address",
	DW_OP_GNU_push_tls_address: "DW_OP_GNU_push_tls_address",
}

// opcodeArgs describes the operands of each opcode:
//
//	'a' target address (ptrSize bytes)
//	'1', '2', '4', '8' fixed size unsigned integers
//	'u' ULEB128, 's' SLEB128
var opcodeArgs = map[Opcode]string{
	DW_OP_addr:        "a",
	DW_OP_const1u:     "1",
	DW_OP_const1s:     "1",
	DW_OP_const2u:     "2",
	DW_OP_const2s:     "2",
	DW_OP_const4u:     "4",
	DW_OP_const4s:     "4",
	DW_OP_const8u:     "8",
	DW_OP_const8s:     "8",
	DW_OP_constu:      "u",
	DW_OP_consts:      "s",
	DW_OP_plus_uconst: "u",
}

func (op Opcode) String() string {
	if op >= DW_OP_lit0 && op <= DW_OP_lit31 {
		return fmt.Sprintf("DW_OP_lit%d", op-DW_OP_lit0)
	}
	if name, ok := opcodeName[op]; ok {
		return name
	}
	return fmt.Sprintf("%#x", byte(op))
}
