package proc

import (
	"errors"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ThreadReader gives access to the threads of a stopped target.
type ThreadReader interface {
	// ThreadRegister returns the value of register reg of thread tid. The
	// register names are the ones used by the TLS ABIs: fs_base, gs_base,
	// tpidr_el0, tpidrro_el0, x18.
	ThreadRegister(tid int, reg string) (uint64, error)
	// Stopped returns true if thread tid exists and is stopped.
	Stopped(tid int) bool
}

// ModuleReader gives access to the images loaded by the target.
type ModuleReader interface {
	// TLSTemplate returns the TLS template of module. It must return an
	// error wrapping ErrNoTLSTemplate if the module is not loaded or has no
	// TLS segment.
	TLSTemplate(module string) (*TLSTemplate, error)
}

// Host is the debugger backend the resolver reads the target through.
// All methods are only valid while the target is stopped.
type Host interface {
	MemoryReader
	ThreadReader
	ModuleReader
	// StopID identifies the current stop. It changes every time the target
	// is resumed.
	StopID() uint64
}

// ThreadContext identifies the thread a thread-local variable is resolved
// for.
type ThreadContext struct {
	ID int
}

var (
	// ErrUnsupportedTarget is returned for target triples without a known
	// TLS ABI.
	ErrUnsupportedTarget = errors.New("unsupported target")
	// ErrThreadRunning is returned when resolving for a thread that is not
	// stopped.
	ErrThreadRunning = errors.New("thread is not stopped")
	// ErrNoTLSTemplate is returned by ModuleReader implementations for
	// modules without TLS.
	ErrNoTLSTemplate = errors.New("module has no TLS template")
)
