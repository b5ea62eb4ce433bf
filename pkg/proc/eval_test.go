package proc_test

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-delve/tlsvar/pkg/proc"
)

type symbolTable map[string]*proc.Symbol

func (tbl symbolTable) LookupSymbol(name string) (*proc.Symbol, bool) {
	sym, ok := tbl[name]
	return sym, ok
}

// tlsLocation returns DW_OP_const8u off DW_OP_GNU_push_tls_address.
func tlsLocation(off uint64) []byte {
	loc := make([]byte, 10)
	loc[0] = 0x0e
	binary.LittleEndian.PutUint64(loc[1:], off)
	loc[9] = 0xe0
	return loc
}

// addrLocation returns DW_OP_addr addr.
func addrLocation(addr uint64) []byte {
	loc := make([]byte, 9)
	loc[0] = 0x03
	binary.LittleEndian.PutUint64(loc[1:], addr)
	return loc
}

func mustParseType(t *testing.T, name string) *proc.Type {
	t.Helper()
	typ, err := proc.ParseType(name, 8)
	if err != nil {
		t.Fatal(err)
	}
	return typ
}

// threadLocalScope returns the scope of a program stopped after its
// thread-local variables were initialized.
func threadLocalScope(t *testing.T, h *fakeHost) *proc.EvalScope {
	const staticBase = 0x400000
	h.write(fakeBlock, uint64(0), uint64(fakeBlock+0x10), int32(322), int32(0))
	h.write(staticBase+0x4000, int32(123), int32(0), uint64(staticBase+0x4010), int32(45), int32(0))

	intType, ptrType := mustParseType(t, "int"), mustParseType(t, "int *")
	uintType := mustParseType(t, "unsigned int")
	syms := symbolTable{
		"tl_local_int":   {Name: "tl_local_int", Module: "a.out", Type: intType, Location: tlsLocation(0x10)},
		"tl_local_ptr":   {Name: "tl_local_ptr", Module: "a.out", Type: ptrType, Location: tlsLocation(0x8)},
		"tl_global_int":  {Name: "tl_global_int", Module: "a.out", Type: intType, Location: addrLocation(0x4000), StaticBase: staticBase},
		"tl_global_ptr":  {Name: "tl_global_ptr", Module: "a.out", Type: ptrType, Location: addrLocation(0x4008), StaticBase: staticBase},
		"tl_global_uint": {Name: "tl_global_uint", Module: "a.out", Type: uintType, Location: addrLocation(0x4000), StaticBase: staticBase},
		"foo_tls":        {Name: "foo_tls", Module: "libfoo.so", Type: intType, Location: tlsLocation(0)},
		"untyped":        {Name: "untyped", Module: "a.out", Location: tlsLocation(0)},
	}
	return &proc.EvalScope{
		Mem:      h,
		Resolver: newResolver(t, h, "linux/amd64", 8),
		Thread:   proc.ThreadContext{ID: 1},
		Symbols:  syms,
	}
}

func TestEvalThreadLocal(t *testing.T) {
	scope := threadLocalScope(t, glibcHost())

	testCases := []struct {
		expr string
		tgt  string
	}{
		{"tl_local_int", "322"},
		{"tl_local_int + 1", "323"},
		{"*tl_local_ptr + 2", "324"},
		{"tl_global_int", "123"},
		{"*tl_global_ptr", "45"},
		{"(tl_local_int - 2) / 10 % 7", "4"},
		{"-tl_local_int * 2", "-644"},
		{"tl_local_ptr", "(int *) 0x7f0000001010"},
		{"0x10 + 1", "17"},
		{"^tl_local_int", "-323"},
		{"tl_global_uint", "123"},
		{"^tl_global_uint", "4294967172"},
		{"-tl_global_uint", "4294967173"},
		{"tl_global_uint - 124", "4294967295"},
		{"2147483647 + tl_local_int", "-2147483327"},
		{"tl_local_int * 10000000", "-1074967296"},
		{"^0", "-1"},
	}

	for _, tc := range testCases {
		v, err := scope.EvalExpression(tc.expr)
		if err != nil {
			t.Errorf("%s: %v", tc.expr, err)
			continue
		}
		if s := v.String(); s != tc.tgt {
			t.Errorf("%s: expected %s got %s", tc.expr, tc.tgt, s)
		}
	}

	v, err := scope.EvalExpression("tl_local_int")
	if err != nil {
		t.Fatal(err)
	}
	if v.Addr != fakeBlock+0x10 {
		t.Errorf("tl_local_int: expected address %#x got %#x", fakeBlock+0x10, v.Addr)
	}
}

func TestEvalErrors(t *testing.T) {
	scope := threadLocalScope(t, glibcHost())

	testCases := []struct {
		expr string
		tgt  []string
	}{
		{"foo_tls", []string{"couldn't get the value of variable foo_tls", "No TLS data currently exists for this thread"}},
		{"nosuchvar", []string{"could not find symbol value for nosuchvar"}},
		{"untyped", []string{"couldn't get the value of variable untyped", "no type"}},
		{"*tl_local_int", []string{"can not be dereferenced"}},
		{"tl_local_ptr + 1", []string{"pointer arithmetic not supported"}},
		{"-tl_local_ptr", []string{"can not be applied"}},
		{"tl_local_int / 0", []string{"division by zero"}},
		{"tl_local_int % (1 - 1)", []string{"division by zero"}},
		{"tl_local_int << 1", []string{"operator << not supported"}},
		{"\"hello\"", []string{"not supported"}},
		{"tl_local_int +", []string{"expected operand"}},
	}

	for _, tc := range testCases {
		_, err := scope.EvalExpression(tc.expr)
		if err == nil {
			t.Errorf("%s: expected error", tc.expr)
			continue
		}
		for _, substr := range tc.tgt {
			if !strings.Contains(err.Error(), substr) {
				t.Errorf("%s: error %q does not contain %q", tc.expr, err, substr)
			}
		}
	}
}

func TestEvalBeforeTLSInit(t *testing.T) {
	h := glibcHost()
	scope := threadLocalScope(t, h)
	h.setReg(1, "fs_base", 0)

	for _, expr := range []string{"tl_local_int", "tl_local_int + 1", "*tl_local_ptr"} {
		_, err := scope.EvalExpression(expr)
		if err == nil {
			t.Fatalf("%s: expected error", expr)
		}
		if !proc.IsNotInitialized(err) {
			t.Errorf("%s: expected not initialized error, got %v", expr, err)
		}
		if !strings.Contains(err.Error(), "No TLS data currently exists for this thread") {
			t.Errorf("%s: wrong error %q", expr, err)
		}
	}

	// globals are still readable
	v, err := scope.EvalExpression("tl_global_int")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "123" {
		t.Errorf("tl_global_int: expected 123 got %s", v)
	}
}

func TestSymbolTLSDescriptor(t *testing.T) {
	sym := &proc.Symbol{Name: "tl_local_int", Module: "a.out", Type: mustParseType(t, "int"), Location: tlsLocation(0x10)}
	desc, ok, err := sym.TLSDescriptor(8)
	if err != nil || !ok {
		t.Fatalf("TLSDescriptor: %v %v", ok, err)
	}
	if *desc != (proc.Descriptor{Name: "tl_local_int", Module: "a.out", Offset: 0x10, Size: 4, Align: 4}) {
		t.Errorf("wrong descriptor %#v", desc)
	}

	sym.Location = addrLocation(0x4000)
	if _, ok, err := sym.TLSDescriptor(8); err != nil || ok {
		t.Errorf("global reported as thread-local: %v %v", ok, err)
	}

	sym.Location = []byte{0x0e, 0x10}
	if _, _, err := sym.TLSDescriptor(8); err == nil {
		t.Errorf("truncated location did not fail")
	}
}

func TestParseType(t *testing.T) {
	testCases := []struct {
		name    string
		ptrSize int
		tgt     string
		size    int64
	}{
		{"int", 8, "int", 4},
		{"unsigned   char", 8, "unsigned char", 1},
		{"long", 4, "long", 4},
		{"long", 8, "long", 8},
		{"int*", 8, "int *", 8},
		{"short **", 4, "short * *", 4},
	}
	for _, tc := range testCases {
		typ, err := proc.ParseType(tc.name, tc.ptrSize)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if typ.Name != tc.tgt || typ.Size != tc.size {
			t.Errorf("%s: expected %s (%d) got %s (%d)", tc.name, tc.tgt, tc.size, typ.Name, typ.Size)
		}
	}
	if _, err := proc.ParseType("struct foo", 8); err == nil {
		t.Errorf("struct type accepted")
	}
}
