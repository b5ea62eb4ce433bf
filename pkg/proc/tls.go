package proc

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/tlsvar/pkg/logflags"
)

// Descriptor describes a thread-local variable, as read from the debug
// info of the module that defines it.
type Descriptor struct {
	// Name of the variable.
	Name string
	// Module is the name of the image that declares the variable.
	Module string
	// Offset is the operand of the TLS location expression: the offset of
	// the variable in the module's TLS template on ELF and PE targets, the
	// address of the TLV descriptor on Mach-O targets.
	Offset uint64
	// Size of the variable in bytes.
	Size uint64
	// Align is the alignment of the variable, 0 if unknown.
	Align uint64
}

// TLSTemplate describes the TLS initialization image of a module (the
// PT_TLS segment on ELF, the __thread_data and __thread_bss sections on
// Mach-O, the TLS directory on PE).
type TLSTemplate struct {
	Module string
	// ModID is the index of the module in the per thread TLS directory:
	// the module id assigned by the dynamic linker on ELF (1 for the
	// executable) and the value of _tls_index on PE. Unused on Mach-O.
	ModID uint64
	// Generation is the DTV generation in which the module was loaded, 0
	// for modules loaded at startup.
	Generation uint64
	FileSize   uint64
	MemSize    uint64
	Align      uint64
}

// Status classifies the outcome of a resolution.
type Status uint8

const (
	// Resolved means the address of the variable was computed.
	Resolved Status = iota
	// NotInitialized means the thread has no TLS block for the module yet,
	// for example because it did not run the TLS setup code of the runtime.
	NotInitialized
	// NoSuchModuleMapping means the module is not mapped in the TLS
	// directory of the thread.
	NoSuchModuleMapping
	// InvalidDescriptor means the debug info of the variable is corrupt.
	InvalidDescriptor
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case NotInitialized:
		return "not initialized"
	case NoSuchModuleMapping:
		return "no such module mapping"
	case InvalidDescriptor:
		return "invalid descriptor"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Result is the result of resolving a thread-local variable for a thread.
type Result struct {
	Status Status
	// Addr is the address of the thread's instance of the variable, only
	// valid if Status is Resolved.
	Addr uint64
	// Detail describes why the variable could not be resolved.
	Detail string

	name, module string
}

// Err returns nil for resolved results and a *TLSError otherwise.
func (r Result) Err() error {
	if r.Status == Resolved {
		return nil
	}
	return &TLSError{Status: r.Status, Name: r.name, Module: r.module, Detail: r.Detail}
}

// TLSError is the error describing an unresolved thread-local variable.
type TLSError struct {
	Status Status
	Name   string
	Module string
	Detail string
}

func (err *TLSError) Error() string {
	switch err.Status {
	case NotInitialized:
		return "No TLS data currently exists for this thread"
	case NoSuchModuleMapping:
		return fmt.Sprintf("no TLS block for module %s in this thread", err.Module)
	default:
		return fmt.Sprintf("invalid thread-local descriptor for %s: %s", err.Name, err.Detail)
	}
}

// IsNotInitialized returns true if err reports a thread without TLS data.
func IsNotInitialized(err error) bool {
	var tlserr *TLSError
	return errors.As(err, &tlserr) && tlserr.Status == NotInitialized
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// CacheSize is the number of addresses remembered during a stop. Zero
	// or negative disables the cache.
	CacheSize int
}

// Resolver computes the addresses of thread-local variables for the
// threads of a stopped target.
// A Resolver must only be used from the goroutine controlling the target.
type Resolver struct {
	host Host
	abi  *tlsABI
	log  logflags.Logger

	cache     *lru.Cache
	cacheStop uint64
}

// cacheKey holds the whole descriptor: descriptors sharing a module and
// offset can still differ in the outcome of their validation.
type cacheKey struct {
	tid  int
	desc Descriptor
}

// NewResolver returns a resolver for the given target triple (goos/goarch).
func NewResolver(host Host, target string, cfg ResolverConfig) (*Resolver, error) {
	abi, ok := tlsABIs[target]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnsupportedTarget, target)
	}
	r := &Resolver{host: host, abi: abi, log: logflags.ResolverLogger()}
	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
		r.cacheStop = host.StopID()
	}
	return r, nil
}

// PtrSize returns the pointer size of the target.
func (r *Resolver) PtrSize() int {
	return r.abi.ptrSize
}

// ABI returns the name of the TLS ABI used by the resolver.
func (r *Resolver) ABI() string {
	return r.abi.name
}

// Resolve computes the address of thread's instance of the variable
// described by desc.
// Host read failures are returned as errors, every other outcome is
// classified in the returned Result.
func (r *Resolver) Resolve(desc *Descriptor, thread ThreadContext) (Result, error) {
	if desc == nil || desc.Module == "" {
		res := r.invalid(desc, "descriptor has no module")
		r.log.Warnf("suspicious descriptor: %s", res.Detail)
		return res, nil
	}
	if !r.host.Stopped(thread.ID) {
		return Result{}, fmt.Errorf("thread %d: %w", thread.ID, ErrThreadRunning)
	}

	key := cacheKey{tid: thread.ID, desc: *desc}
	if r.cache != nil {
		if stop := r.host.StopID(); stop != r.cacheStop {
			r.cache.Purge()
			r.cacheStop = stop
		} else if addr, ok := r.cache.Get(key); ok {
			return Result{Status: Resolved, Addr: addr.(uint64), name: desc.Name, module: desc.Module}, nil
		}
	}

	res, err := r.resolve(desc, thread)
	if err != nil {
		return Result{}, err
	}
	res.name, res.module = desc.Name, desc.Module

	switch res.Status {
	case Resolved:
		r.log.Debugf("%s@%s thread %d resolved to %#x", desc.Name, desc.Module, thread.ID, res.Addr)
		if r.cache != nil {
			r.cache.Add(key, res.Addr)
		}
	case InvalidDescriptor:
		r.log.Warnf("suspicious descriptor for %s@%s: %s", desc.Name, desc.Module, res.Detail)
	default:
		r.log.Debugf("%s@%s thread %d: %v (%s)", desc.Name, desc.Module, thread.ID, res.Status, res.Detail)
	}
	return res, nil
}

func (r *Resolver) resolve(desc *Descriptor, thread ThreadContext) (Result, error) {
	tp, err := r.host.ThreadRegister(thread.ID, r.abi.threadReg)
	if err != nil {
		return Result{}, fmt.Errorf("could not read %s of thread %d: %w", r.abi.threadReg, thread.ID, err)
	}
	tp &^= r.abi.tpMask
	if tp == 0 {
		return notInitialized(r.abi.threadReg + " is zero"), nil
	}

	tmpl, err := r.host.TLSTemplate(desc.Module)
	if err != nil {
		if errors.Is(err, ErrNoTLSTemplate) {
			return noModule(err.Error()), nil
		}
		return Result{}, err
	}

	if desc.Align != 0 && desc.Align&(desc.Align-1) != 0 {
		return r.invalid(desc, fmt.Sprintf("alignment %d is not a power of two", desc.Align)), nil
	}

	ctx := &lookupContext{mem: r.host, tp: tp, desc: desc, tmpl: tmpl, ptrSize: r.abi.ptrSize}
	return r.abi.lookup(ctx)
}

func (r *Resolver) invalid(desc *Descriptor, detail string) Result {
	res := Result{Status: InvalidDescriptor, Detail: detail}
	if desc != nil {
		res.name, res.module = desc.Name, desc.Module
	}
	return res
}
