package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/go-delve/tlsvar/pkg/proc"
)

// Snapshot is the YAML description of a stopped process.
//
//	target: linux/amd64
//	modules:
//	  - {name: a.out, modid: 1, mem-size: 0x18, file-size: 0x14, static-base: 0x400000}
//	threads:
//	  - {id: 1, registers: {fs_base: 0x7ffff7d8a740}}
//	memory:
//	  - {addr: 0x7ffff7d8a740, words: [0x7ffff7d8a740, 0x4052a0]}
//	  - {addr: 0x7ffff7d8a728, bytes: "42010000"}
//	variables:
//	  - {name: tl_local_int, module: a.out, type: int, location: "0e1000000000000000e0"}
//	after-resume:
//	  - threads: [...]
//	    memory: [...]
type Snapshot struct {
	Target    string         `yaml:"target"`
	StopID    uint64         `yaml:"stop-id,omitempty"`
	Modules   []ModuleSpec   `yaml:"modules"`
	Threads   []ThreadSpec   `yaml:"threads"`
	Memory    []RegionSpec   `yaml:"memory"`
	Variables []VariableSpec `yaml:"variables"`
	Resumes   []ResumeSpec   `yaml:"after-resume,omitempty"`
}

// ModuleSpec describes an image loaded by the process and its TLS
// template. Modules without TLS have a zero mem-size. If Image is set the
// template is read from the PT_TLS segment of that ELF file instead.
type ModuleSpec struct {
	Name       string `yaml:"name"`
	Image      string `yaml:"image,omitempty"`
	ModID      uint64 `yaml:"modid"`
	Generation uint64 `yaml:"generation,omitempty"`
	FileSize   uint64 `yaml:"file-size,omitempty"`
	MemSize    uint64 `yaml:"mem-size,omitempty"`
	Align      uint64 `yaml:"align,omitempty"`
	StaticBase uint64 `yaml:"static-base,omitempty"`
}

// ThreadSpec describes a thread and the registers that hold its thread
// pointer.
type ThreadSpec struct {
	ID        int               `yaml:"id"`
	Running   bool              `yaml:"running,omitempty"`
	Registers map[string]uint64 `yaml:"registers"`
}

// RegionSpec describes a memory region, either as hex encoded bytes or as
// a list of pointer sized little endian words.
type RegionSpec struct {
	Addr  uint64   `yaml:"addr"`
	Bytes string   `yaml:"bytes,omitempty"`
	Words []uint64 `yaml:"words,omitempty"`
}

// VariableSpec describes a variable and its hex encoded DWARF location
// expression.
type VariableSpec struct {
	Name     string `yaml:"name"`
	Module   string `yaml:"module"`
	Type     string `yaml:"type"`
	Location string `yaml:"location"`
}

// ResumeSpec is the state of the process at the next stop: threads listed
// replace the thread with the same id, regions are mapped over the old
// memory.
type ResumeSpec struct {
	Threads []ThreadSpec `yaml:"threads"`
	Memory  []RegionSpec `yaml:"memory"`
}

// ParseSnapshot decodes a YAML snapshot.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{}
	if err := yaml.UnmarshalStrict(buf, s); err != nil {
		return nil, fmt.Errorf("unable to decode snapshot: %v", err)
	}
	return s, nil
}

// Validate checks the snapshot for consistency and returns every problem
// found.
func (s *Snapshot) Validate() error {
	var result *multierror.Error

	ptrSize, err := proc.TargetPtrSize(s.Target)
	if err != nil {
		result = multierror.Append(result, err)
	}

	modules := make(map[string]bool)
	for i, m := range s.Modules {
		switch {
		case m.Name == "":
			result = multierror.Append(result, fmt.Errorf("module %d has no name", i))
		case modules[m.Name]:
			result = multierror.Append(result, fmt.Errorf("module %s listed twice", m.Name))
		}
		modules[m.Name] = true
		if m.FileSize > m.MemSize {
			result = multierror.Append(result, fmt.Errorf("module %s: file-size %#x larger than mem-size %#x", m.Name, m.FileSize, m.MemSize))
		}
	}

	result = multierror.Append(result, validateThreads("", s.Threads))
	result = multierror.Append(result, validateMemory("", s.Memory, ptrSize))
	for i, rs := range s.Resumes {
		prefix := fmt.Sprintf("after-resume %d: ", i)
		result = multierror.Append(result, validateThreads(prefix, rs.Threads))
		result = multierror.Append(result, validateMemory(prefix, rs.Memory, ptrSize))
	}

	vars := make(map[string]bool)
	for _, v := range s.Variables {
		if vars[v.Name] {
			result = multierror.Append(result, fmt.Errorf("variable %s listed twice", v.Name))
		}
		vars[v.Name] = true
		if !modules[v.Module] {
			result = multierror.Append(result, fmt.Errorf("variable %s: unknown module %q", v.Name, v.Module))
		}
		if ptrSize != 0 {
			if _, err := proc.ParseType(v.Type, ptrSize); err != nil {
				result = multierror.Append(result, fmt.Errorf("variable %s: %v", v.Name, err))
			}
		}
		if _, err := decodeHex(v.Location); err != nil {
			result = multierror.Append(result, fmt.Errorf("variable %s: location: %v", v.Name, err))
		}
	}

	return result.ErrorOrNil()
}

func validateThreads(prefix string, threads []ThreadSpec) error {
	var result *multierror.Error
	ids := make(map[int]bool)
	for _, th := range threads {
		if ids[th.ID] {
			result = multierror.Append(result, fmt.Errorf("%sthread %d listed twice", prefix, th.ID))
		}
		ids[th.ID] = true
	}
	return result.ErrorOrNil()
}

func validateMemory(prefix string, regions []RegionSpec, ptrSize int) error {
	var result *multierror.Error
	for _, r := range regions {
		if (r.Bytes == "") == (len(r.Words) == 0) {
			result = multierror.Append(result, fmt.Errorf("%sregion %#x: exactly one of bytes and words must be set", prefix, r.Addr))
			continue
		}
		if _, err := r.data(ptrSize); err != nil {
			result = multierror.Append(result, fmt.Errorf("%sregion %#x: %v", prefix, r.Addr, err))
		}
	}
	return result.ErrorOrNil()
}

// data returns the contents of the region.
func (r *RegionSpec) data(ptrSize int) ([]byte, error) {
	if r.Bytes != "" {
		return decodeHex(r.Bytes)
	}
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("unknown pointer size")
	}
	buf := make([]byte, len(r.Words)*ptrSize)
	for i, w := range r.Words {
		if ptrSize == 4 {
			if w > 0xffffffff {
				return nil, fmt.Errorf("word %#x does not fit in 32 bits", w)
			}
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(w))
		} else {
			binary.LittleEndian.PutUint64(buf[i*8:], w)
		}
	}
	return buf, nil
}

// decodeHex decodes a hex string, ignoring white space.
func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}
