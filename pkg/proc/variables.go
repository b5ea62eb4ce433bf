package proc

import (
	"encoding/binary"
	"fmt"
	"go/constant"
	"go/token"
	"reflect"
	"strings"

	"github.com/go-delve/tlsvar/pkg/dwarf/op"
)

// Type is the type of a variable. Only C integer types and pointers to
// them are supported.
type Type struct {
	Name string
	Kind reflect.Kind
	Size int64
	Elem *Type
}

func (t *Type) String() string {
	if t == nil {
		return "untyped int"
	}
	return t.Name
}

var intTypes = map[string]struct {
	kind reflect.Kind
	size int64
}{
	"char":               {reflect.Int8, 1},
	"signed char":        {reflect.Int8, 1},
	"unsigned char":      {reflect.Uint8, 1},
	"short":              {reflect.Int16, 2},
	"unsigned short":     {reflect.Uint16, 2},
	"int":                {reflect.Int32, 4},
	"unsigned int":       {reflect.Uint32, 4},
	"long long":          {reflect.Int64, 8},
	"unsigned long long": {reflect.Uint64, 8},
}

// ParseType parses a C type name such as "int" or "int *". The size of
// long and of pointers is ptrSize.
func ParseType(name string, ptrSize int) (*Type, error) {
	name = strings.Join(strings.Fields(name), " ")
	if strings.HasSuffix(name, "*") {
		elem, err := ParseType(strings.TrimSuffix(name, "*"), ptrSize)
		if err != nil {
			return nil, err
		}
		return &Type{Name: elem.Name + " *", Kind: reflect.Ptr, Size: int64(ptrSize), Elem: elem}, nil
	}
	switch name {
	case "long":
		return &Type{Name: name, Kind: reflect.Int64, Size: int64(ptrSize)}, nil
	case "unsigned long":
		return &Type{Name: name, Kind: reflect.Uint64, Size: int64(ptrSize)}, nil
	}
	it, ok := intTypes[name]
	if !ok {
		return nil, fmt.Errorf("unsupported type %q", name)
	}
	return &Type{Name: name, Kind: it.kind, Size: it.size}, nil
}

func (t *Type) signed() bool {
	switch t.Kind {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func (t *Type) bits() uint {
	return uint(8 * t.Size)
}

// wrap truncates val to the width of t, the way the target's arithmetic
// overflows. Untyped constants and pointers are returned unchanged.
func (t *Type) wrap(val constant.Value) constant.Value {
	if t == nil || t.Kind == reflect.Ptr || val.Kind() != constant.Int {
		return val
	}
	one := constant.MakeInt64(1)
	mod := constant.Shift(one, token.SHL, t.bits())
	val = constant.BinaryOp(val, token.AND, constant.BinaryOp(mod, token.SUB, one))
	if t.signed() && constant.Compare(val, token.GEQ, constant.Shift(one, token.SHL, t.bits()-1)) {
		val = constant.BinaryOp(val, token.SUB, mod)
	}
	return val
}

// Symbol is a global or thread-local variable of the target, as described
// by its debug info.
type Symbol struct {
	Name   string
	Module string
	Type   *Type
	// Location is the DWARF location expression of the variable.
	Location []byte
	// StaticBase is the load address of Module.
	StaticBase uint64
}

// SymbolTable looks up variables by name.
type SymbolTable interface {
	LookupSymbol(name string) (*Symbol, bool)
}

// TLSDescriptor returns the descriptor of sym if it is a thread-local
// variable.
func (sym *Symbol) TLSDescriptor(ptrSize int) (*Descriptor, bool, error) {
	loc, err := op.ExecuteTLSProgram(sym.Location, ptrSize, sym.StaticBase)
	if err != nil {
		return nil, false, err
	}
	if !loc.TLS {
		return nil, false, nil
	}
	return sym.descriptor(loc), true, nil
}

func (sym *Symbol) descriptor(loc op.Location) *Descriptor {
	var size uint64
	if sym.Type != nil {
		size = uint64(sym.Type.Size)
	}
	return &Descriptor{Name: sym.Name, Module: sym.Module, Offset: loc.Addr, Size: size, Align: size}
}

// Variable is the result of evaluating an expression.
type Variable struct {
	Name string
	// Addr is the address of the variable, 0 for values that do not live in
	// the target's memory.
	Addr  uint64
	Type  *Type
	Value constant.Value
}

func (v *Variable) String() string {
	if v.Value == nil {
		return "<nil>"
	}
	if v.Type != nil && v.Type.Kind == reflect.Ptr {
		n, _ := constant.Uint64Val(v.Value)
		return fmt.Sprintf("(%s) %#x", v.Type.Name, n)
	}
	return v.Value.ExactString()
}

func newConstant(val constant.Value) *Variable {
	return &Variable{Value: val}
}

// loadVariable reads a variable of type typ at addr.
func loadVariable(mem MemoryReader, name string, addr uint64, typ *Type) (*Variable, error) {
	buf := make([]byte, typ.Size)
	if _, err := mem.ReadMemory(buf, addr); err != nil {
		return nil, err
	}
	var n uint64
	switch typ.Size {
	case 1:
		n = uint64(buf[0])
	case 2:
		n = uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		n = uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		n = binary.LittleEndian.Uint64(buf)
	default:
		return nil, fmt.Errorf("unsupported size %d for %s", typ.Size, typ.Name)
	}
	v := &Variable{Name: name, Addr: addr, Type: typ}
	if typ.signed() {
		shift := uint(64 - 8*typ.Size)
		v.Value = constant.MakeInt64(int64(n<<shift) >> shift)
	} else {
		v.Value = constant.MakeUint64(n)
	}
	return v, nil
}
