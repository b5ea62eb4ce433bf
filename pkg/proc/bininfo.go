package proc

import (
	"debug/elf"
	"errors"
	"fmt"
)

// ErrNoTLSSegment is returned for images without a PT_TLS segment.
var ErrNoTLSSegment = errors.New("no PT_TLS segment")

// LoadTLSTemplateELF reads the TLS template of the ELF image at path.
// The module id is assigned by the dynamic linker at load time, the
// executable always has module id 1.
func LoadTLSTemplateELF(path, module string, modid uint64) (*TLSTemplate, error) {
	exe, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer exe.Close()
	return TLSTemplateELF(exe, module, modid)
}

// TLSTemplateELF returns the TLS template described by the PT_TLS program
// header of exe.
func TLSTemplateELF(exe *elf.File, module string, modid uint64) (*TLSTemplate, error) {
	var tls *elf.Prog
	for _, prog := range exe.Progs {
		if prog.Type == elf.PT_TLS {
			tls = prog
			break
		}
	}
	if tls == nil {
		return nil, fmt.Errorf("%s: %w", module, ErrNoTLSSegment)
	}
	if tls.Filesz > tls.Memsz {
		return nil, fmt.Errorf("%s: PT_TLS file size %d larger than memory size %d", module, tls.Filesz, tls.Memsz)
	}
	return &TLSTemplate{
		Module:   module,
		ModID:    modid,
		FileSize: tls.Filesz,
		MemSize:  tls.Memsz,
		Align:    tls.Align,
	}, nil
}
