package proc_test

import (
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-delve/tlsvar/pkg/proc"
)

func TestTLSTemplateELF(t *testing.T) {
	exe := &elf.File{Progs: []*elf.Prog{
		{ProgHeader: elf.ProgHeader{Type: elf.PT_LOAD, Filesz: 0x1000, Memsz: 0x1000}},
		{ProgHeader: elf.ProgHeader{Type: elf.PT_TLS, Filesz: 0x14, Memsz: 0x18, Align: 8}},
	}}
	tmpl, err := proc.TLSTemplateELF(exe, "a.out", 1)
	if err != nil {
		t.Fatal(err)
	}
	tgt := proc.TLSTemplate{Module: "a.out", ModID: 1, FileSize: 0x14, MemSize: 0x18, Align: 8}
	if *tmpl != tgt {
		t.Errorf("expected %#v got %#v", tgt, *tmpl)
	}

	exe.Progs[1].Filesz = 0x20
	if _, err := proc.TLSTemplateELF(exe, "a.out", 1); err == nil {
		t.Errorf("PT_TLS with Filesz > Memsz accepted")
	}

	exe.Progs = exe.Progs[:1]
	if _, err := proc.TLSTemplateELF(exe, "a.out", 1); !errors.Is(err, proc.ErrNoTLSSegment) {
		t.Errorf("expected ErrNoTLSSegment got %v", err)
	}
}

func TestLoadTLSTemplateELFNotELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := proc.LoadTLSTemplateELF(path, "a.out", 1); err == nil {
		t.Errorf("loaded a TLS template from a shell script")
	}
}
