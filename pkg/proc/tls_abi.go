package proc

import (
	"fmt"

	"github.com/go-delve/tlsvar/pkg/proc/fbsdutil"
	"github.com/go-delve/tlsvar/pkg/proc/internal/memutil"
	"github.com/go-delve/tlsvar/pkg/proc/linutil"
	"github.com/go-delve/tlsvar/pkg/proc/macutil"
	"github.com/go-delve/tlsvar/pkg/proc/winutil"
)

// tlsABI describes how a platform lays out thread-local storage.
type tlsABI struct {
	name    string
	ptrSize int
	// threadReg is the register holding the thread pointer.
	threadReg string
	// tpMask is cleared from the value of threadReg to obtain the thread
	// pointer.
	tpMask uint64
	// lookup computes the address of the variable from a non-zero thread
	// pointer.
	lookup func(*lookupContext) (Result, error)
}

type lookupContext struct {
	mem     MemoryReader
	tp      uint64
	desc    *Descriptor
	tmpl    *TLSTemplate
	ptrSize int
}

var tlsABIs = map[string]*tlsABI{
	// TLS variant II, the dtv field of tcbhead_t follows the self pointer.
	"linux/amd64": {name: "glibc-x86_64", ptrSize: 8, threadReg: "fs_base", lookup: glibcLookup(8)},
	"linux/386":   {name: "glibc-i386", ptrSize: 4, threadReg: "gs_base", lookup: glibcLookup(4)},
	// TLS variant I, the thread pointer points to tcbhead_t whose first
	// field is dtv.
	"linux/arm64": {name: "glibc-aarch64", ptrSize: 8, threadReg: "tpidr_el0", lookup: glibcLookup(0)},

	"freebsd/amd64": {name: "rtld-amd64", ptrSize: 8, threadReg: "fs_base", lookup: fbsdLookup},

	"darwin/amd64": {name: "dyld-tlv-x86_64", ptrSize: 8, threadReg: "gs_base", lookup: tlvLookup},
	// The low bits of TPIDRRO_EL0 hold the cpu number.
	"darwin/arm64": {name: "dyld-tlv-arm64", ptrSize: 8, threadReg: "tpidrro_el0", tpMask: 7, lookup: tlvLookup},

	"windows/amd64": {name: "pe-teb-x64", ptrSize: 8, threadReg: "gs_base", lookup: tebLookup},
	"windows/386":   {name: "pe-teb-x86", ptrSize: 4, threadReg: "fs_base", lookup: tebLookup},
	"windows/arm64": {name: "pe-teb-arm64", ptrSize: 8, threadReg: "x18", lookup: tebLookup},
}

// SupportedTargets returns the target triples NewResolver accepts.
func SupportedTargets() []string {
	r := make([]string, 0, len(tlsABIs))
	for target := range tlsABIs {
		r = append(r, target)
	}
	return r
}

// TargetPtrSize returns the pointer size of a supported target triple.
func TargetPtrSize(target string) (int, error) {
	abi, ok := tlsABIs[target]
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnsupportedTarget, target)
	}
	return abi.ptrSize, nil
}

func notInitialized(detail string) Result {
	return Result{Status: NotInitialized, Detail: detail}
}

func noModule(detail string) Result {
	return Result{Status: NoSuchModuleMapping, Detail: detail}
}

func invalidDescriptor(format string, args ...interface{}) Result {
	return Result{Status: InvalidDescriptor, Detail: fmt.Sprintf(format, args...)}
}

// checkOffset validates the offset of a variable against the TLS template
// of its module.
func (ctx *lookupContext) checkOffset(off uint64) (Result, bool) {
	d, tmpl := ctx.desc, ctx.tmpl
	if d.Align != 0 && off%d.Align != 0 {
		return invalidDescriptor("offset %#x is not aligned to %d", off, d.Align), false
	}
	end := off + d.Size
	if end < off || end > tmpl.MemSize {
		return invalidDescriptor("offset %#x size %d is outside of the TLS template of %s (%d bytes)", off, d.Size, tmpl.Module, tmpl.MemSize), false
	}
	return Result{}, true
}

func (ctx *lookupContext) readPtr(addr uint64) (uint64, error) {
	return memutil.ReadPtr(ctx.mem, addr, ctx.ptrSize)
}

func (ctx *lookupContext) resolved(block, off uint64) Result {
	return Result{Status: Resolved, Addr: block + off}
}

// glibcLookup follows the dynamic thread vector stored at tp+dtvOffset.
func glibcLookup(dtvOffset uint64) func(*lookupContext) (Result, error) {
	return func(ctx *lookupContext) (Result, error) {
		dtvAddr, err := ctx.readPtr(ctx.tp + dtvOffset)
		if err != nil {
			return Result{}, err
		}
		if dtvAddr == 0 {
			return notInitialized("thread has no DTV"), nil
		}
		if ctx.tmpl.ModID == 0 {
			return noModule(fmt.Sprintf("%s has no TLS module id", ctx.tmpl.Module)), nil
		}
		if res, ok := ctx.checkOffset(ctx.desc.Offset); !ok {
			return res, nil
		}
		dtv, err := linutil.ReadDTV(ctx.mem, dtvAddr, ctx.ptrSize)
		if err != nil {
			return Result{}, err
		}
		if !dtv.Contains(ctx.tmpl.ModID) {
			return noModule(fmt.Sprintf("module id %d not in DTV of length %d", ctx.tmpl.ModID, dtv.Len)), nil
		}
		if ctx.tmpl.Generation > dtv.Generation {
			return notInitialized(fmt.Sprintf("DTV generation %d predates module generation %d", dtv.Generation, ctx.tmpl.Generation)), nil
		}
		block, err := dtv.Slot(ctx.mem, ctx.tmpl.ModID)
		if err != nil {
			return Result{}, err
		}
		if block == 0 || block == linutil.DTVUnallocated(ctx.ptrSize) {
			return notInitialized(fmt.Sprintf("TLS block of module %d not allocated", ctx.tmpl.ModID)), nil
		}
		return ctx.resolved(block, ctx.desc.Offset), nil
	}
}

// fbsdLookup follows the rtld dynamic thread vector, stored after the
// self pointer of the TCB.
func fbsdLookup(ctx *lookupContext) (Result, error) {
	dtvAddr, err := ctx.readPtr(ctx.tp + uint64(ctx.ptrSize))
	if err != nil {
		return Result{}, err
	}
	if dtvAddr == 0 {
		return notInitialized("thread has no DTV"), nil
	}
	if ctx.tmpl.ModID == 0 {
		return noModule(fmt.Sprintf("%s has no TLS module id", ctx.tmpl.Module)), nil
	}
	if res, ok := ctx.checkOffset(ctx.desc.Offset); !ok {
		return res, nil
	}
	dtv, err := fbsdutil.ReadDTV(ctx.mem, dtvAddr, ctx.ptrSize)
	if err != nil {
		return Result{}, err
	}
	if !dtv.Contains(ctx.tmpl.ModID) {
		return noModule(fmt.Sprintf("module id %d not in DTV of length %d", ctx.tmpl.ModID, dtv.Len)), nil
	}
	if ctx.tmpl.Generation > dtv.Generation {
		return notInitialized(fmt.Sprintf("DTV generation %d predates module generation %d", dtv.Generation, ctx.tmpl.Generation)), nil
	}
	block, err := dtv.Slot(ctx.mem, ctx.tmpl.ModID)
	if err != nil {
		return Result{}, err
	}
	if block == 0 {
		return notInitialized(fmt.Sprintf("TLS block of module %d not allocated", ctx.tmpl.ModID)), nil
	}
	return ctx.resolved(block, ctx.desc.Offset), nil
}

// tlvLookup reads the TLV descriptor at desc.Offset and the pthread
// specific data slot it is bound to. The thread pointer is the base of
// the TSD array.
func tlvLookup(ctx *lookupContext) (Result, error) {
	tlv, err := macutil.ReadTLVDescriptor(ctx.mem, ctx.desc.Offset, ctx.ptrSize)
	if err != nil {
		return Result{}, err
	}
	if !tlv.Bound() {
		return noModule(fmt.Sprintf("TLV descriptor at %#x not bound by dyld", ctx.desc.Offset)), nil
	}
	if res, ok := ctx.checkOffset(tlv.Offset); !ok {
		return res, nil
	}
	block, err := macutil.TSDSlot(ctx.mem, ctx.tp, tlv.Key, ctx.ptrSize)
	if err != nil {
		return Result{}, err
	}
	if block == 0 {
		return notInitialized(fmt.Sprintf("pthread key %d has no value", tlv.Key)), nil
	}
	return ctx.resolved(block, tlv.Offset), nil
}

// tebLookup indexes the ThreadLocalStoragePointer array of the TEB with
// the module's _tls_index. The thread pointer is the address of the TEB.
func tebLookup(ctx *lookupContext) (Result, error) {
	array, err := winutil.TLSArray(ctx.mem, ctx.tp, ctx.ptrSize)
	if err != nil {
		return Result{}, err
	}
	if array == 0 {
		return notInitialized("ThreadLocalStoragePointer is null"), nil
	}
	if res, ok := ctx.checkOffset(ctx.desc.Offset); !ok {
		return res, nil
	}
	block, err := winutil.TLSSlot(ctx.mem, array, ctx.tmpl.ModID, ctx.ptrSize)
	if err != nil {
		return Result{}, err
	}
	if block == 0 {
		return notInitialized(fmt.Sprintf("TLS slot %d is null", ctx.tmpl.ModID)), nil
	}
	return ctx.resolved(block, ctx.desc.Offset), nil
}
