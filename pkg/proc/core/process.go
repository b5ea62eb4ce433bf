// Package core implements a stopped process backed by a YAML snapshot of
// its threads and memory, used to drive the TLS resolver without a live
// target.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-delve/tlsvar/pkg/logflags"
	"github.com/go-delve/tlsvar/pkg/proc"
)

var (
	// ErrNoMoreStops is returned by Resume when the snapshot does not
	// describe another stop.
	ErrNoMoreStops = errors.New("process exited")
	// ErrNoThread is returned for thread ids that are not in the snapshot.
	ErrNoThread = errors.New("no such thread")
)

// Process is a stopped process described by a Snapshot. It implements
// proc.Host and proc.SymbolTable.
type Process struct {
	target  string
	ptrSize int
	stop    uint64

	mem     *splicedMemory
	threads map[int]*thread
	modules map[string]*proc.TLSTemplate
	symbols map[string]*proc.Symbol

	resumes []ResumeSpec
	log     logflags.Logger
}

type thread struct {
	id      int
	running bool
	regs    map[string]uint64
}

var _ proc.Host = &Process{}
var _ proc.SymbolTable = &Process{}

// OpenSnapshot reads the snapshot at path. If target is not empty it
// replaces the target triple recorded in the snapshot.
func OpenSnapshot(path, target string) (*Process, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	s, err := ParseSnapshot(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if target != "" {
		s.Target = target
	}
	for i := range s.Modules {
		if img := s.Modules[i].Image; img != "" && !filepath.IsAbs(img) {
			s.Modules[i].Image = filepath.Join(filepath.Dir(path), img)
		}
	}
	p, err := NewProcess(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// NewProcess returns the process described by s.
func NewProcess(s *Snapshot) (*Process, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ptrSize, _ := proc.TargetPtrSize(s.Target)
	p := &Process{
		target:  s.Target,
		ptrSize: ptrSize,
		stop:    s.StopID,
		mem:     &splicedMemory{},
		threads: make(map[int]*thread),
		modules: make(map[string]*proc.TLSTemplate),
		symbols: make(map[string]*proc.Symbol),
		resumes: s.Resumes,
		log:     logflags.SnapshotLogger(),
	}
	if p.stop == 0 {
		p.stop = 1
	}

	statics := make(map[string]uint64)
	for _, m := range s.Modules {
		statics[m.Name] = m.StaticBase
		if m.Image != "" && m.MemSize == 0 {
			tmpl, err := proc.LoadTLSTemplateELF(m.Image, m.Name, m.ModID)
			switch {
			case errors.Is(err, proc.ErrNoTLSSegment):
				continue
			case err != nil:
				return nil, fmt.Errorf("module %s: %w", m.Name, err)
			}
			tmpl.Generation = m.Generation
			p.modules[m.Name] = tmpl
			continue
		}
		if m.MemSize == 0 {
			continue
		}
		p.modules[m.Name] = &proc.TLSTemplate{
			Module:     m.Name,
			ModID:      m.ModID,
			Generation: m.Generation,
			FileSize:   m.FileSize,
			MemSize:    m.MemSize,
			Align:      m.Align,
		}
	}
	for _, v := range s.Variables {
		typ, _ := proc.ParseType(v.Type, ptrSize)
		loc, _ := decodeHex(v.Location)
		p.symbols[v.Name] = &proc.Symbol{Name: v.Name, Module: v.Module, Type: typ, Location: loc, StaticBase: statics[v.Module]}
	}
	p.apply(s.Threads, s.Memory)

	if logflags.Snapshot() {
		p.log.Debugf("loaded %s snapshot: %d threads, %d modules with TLS, %d variables", p.target, len(p.threads), len(p.modules), len(p.symbols))
	}
	return p, nil
}

func (p *Process) apply(threads []ThreadSpec, regions []RegionSpec) {
	for _, th := range threads {
		regs := make(map[string]uint64, len(th.Registers))
		for k, v := range th.Registers {
			regs[k] = v
		}
		p.threads[th.ID] = &thread{id: th.ID, running: th.Running, regs: regs}
	}
	for i := range regions {
		data, _ := regions[i].data(p.ptrSize)
		p.mem.Add(regions[i].Addr, data)
	}
}

// Target returns the target triple of the process.
func (p *Process) Target() string {
	return p.target
}

// ReadMemory implements proc.MemoryReader.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	return p.mem.ReadMemory(buf, addr)
}

// ThreadRegister implements proc.ThreadReader.
func (p *Process) ThreadRegister(tid int, reg string) (uint64, error) {
	th, ok := p.threads[tid]
	if !ok {
		return 0, fmt.Errorf("thread %d: %w", tid, ErrNoThread)
	}
	v, ok := th.regs[reg]
	if !ok {
		return 0, fmt.Errorf("thread %d: register %s not in snapshot", tid, reg)
	}
	return v, nil
}

// Stopped implements proc.ThreadReader.
func (p *Process) Stopped(tid int) bool {
	th, ok := p.threads[tid]
	return ok && !th.running
}

// StopID implements proc.Host.
func (p *Process) StopID() uint64 {
	return p.stop
}

// TLSTemplate implements proc.ModuleReader.
func (p *Process) TLSTemplate(module string) (*proc.TLSTemplate, error) {
	tmpl, ok := p.modules[module]
	if !ok {
		return nil, fmt.Errorf("%s: %w", module, proc.ErrNoTLSTemplate)
	}
	return tmpl, nil
}

// LookupSymbol implements proc.SymbolTable.
func (p *Process) LookupSymbol(name string) (*proc.Symbol, bool) {
	sym, ok := p.symbols[name]
	return sym, ok
}

// Symbols returns the names of all variables, sorted.
func (p *Process) Symbols() []string {
	r := make([]string, 0, len(p.symbols))
	for name := range p.symbols {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// ThreadIDs returns the ids of all threads, sorted.
func (p *Process) ThreadIDs() []int {
	r := make([]int, 0, len(p.threads))
	for id := range p.threads {
		r = append(r, id)
	}
	sort.Ints(r)
	return r
}

// Resume continues the process until its next stop.
func (p *Process) Resume() error {
	if len(p.resumes) == 0 {
		return ErrNoMoreStops
	}
	next := p.resumes[0]
	p.resumes = p.resumes[1:]
	p.stop++
	p.apply(next.Threads, next.Memory)
	if logflags.Snapshot() {
		p.log.Debugf("resumed, now at stop %d", p.stop)
	}
	return nil
}
