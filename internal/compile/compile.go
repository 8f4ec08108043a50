// Package compile is the pipeline driver: it wires a parsed
// wat.Module through internal/funclower, internal/assemble, and
// internal/container into one finished output buffer plus a diagnostics
// list, resolving cross-function call targets and the module's global/
// memory-base label conventions into concrete offsets within a single
// module image along the way.
//
// The module's functions compile one at a time, threading a shared
// addressing context (global and memory-base symbol offsets) between them
// so later functions can reference earlier ones by label without a
// separate linking step.
package compile

import (
	"github.com/wasmback/wasmback/internal/assemble"
	"github.com/wasmback/wasmback/internal/container"
	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/funclower"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
	"github.com/wasmback/wasmback/internal/isa/aarch64"
	"github.com/wasmback/wasmback/internal/isa/amd64"
	"github.com/wasmback/wasmback/internal/isa/armv7"
	"github.com/wasmback/wasmback/internal/isa/x86_16"
	"github.com/wasmback/wasmback/internal/isa/x86_32"
	"github.com/wasmback/wasmback/internal/log"
	"github.com/wasmback/wasmback/internal/wat"
)

// globalSlotWidth is the byte stride reserved per module-global in the
// data region appended after function code. Eight bytes covers every
// value type and register width this backend targets, so the slot layout
// never depends on the target ISA.
const globalSlotWidth = 8

// memoryPageSize is the single fixed linear-memory region this backend
// allocates: since memory.grow always reports sentinel failure
// Non-goals: "runtime memory-growth support"), one WASM page is the only
// size that can ever matter.
const memoryPageSize = 65536

// defaultFlatBase is the assumed load address for a flat x86-16 container
// absent an explicit override: the classic real-mode boot-sector origin,
// 0000:7C00, matching how x86-16 flat binaries are conventionally loaded
// and the only address at which position-fixed code of that kind is
// meaningful without a loader.
const defaultFlatBase16 = 0x7c00

// Result is the pipeline's successful output: the finished container bytes
// plus the offset each function and the memory region ended up at within
// the pre-container code+data blob, for tooling that wants to inspect the
// layout without re-parsing the container.
type Result struct {
	Bytes           []byte
	FunctionOffsets map[string]uint64
	MemoryOffset    uint64
}

// Diagnostic is a single fatal or warning condition surfaced while
// compiling; an alias rather than a new type, so callers can use
// internal/diag's Kind constants directly against it.
type Diagnostic = diag.Diagnostic

// ImageBaseOverride, when non-zero, threads through to the container's
// image base (PE) and the presumed load address (flat). Zero means "use
// the target's conventional default."
type Options struct {
	ImageBaseOverride uint64
}

// Compile lowers every function in module, assembles it against target,
// lays the result out as one module image, and wraps it in kind.
func Compile(module *wat.Module, target isa.Target, kind container.Kind, opts Options) (Result, []*Diagnostic) {
	descriptor, ok := descriptorFor(target)
	if !ok {
		return Result{}, []*Diagnostic{diag.New(diag.UnknownInstruction, "", "unsupported target %v", target)}
	}

	irFuncs := make([]*ir.Func, len(module.Functions))
	for i, fn := range module.Functions {
		lowered, err := funclower.Compile(fn, module, descriptor)
		if err != nil {
			return Result{}, []*Diagnostic{asDiagnostic(err)}
		}
		irFuncs[i] = lowered
	}

	funcSizes := make([]uint64, len(irFuncs))
	functionOffsets := make(map[string]uint64, len(irFuncs))
	var cursor uint64
	for i, fn := range irFuncs {
		size, err := assemble.EstimateFuncSize(fn, descriptor)
		if err != nil {
			return Result{}, []*Diagnostic{asDiagnostic(err)}
		}
		funcSizes[i] = size
		functionOffsets[fn.Name] = cursor
		cursor += size
	}

	globalsOffset := cursor
	globalOffsets := make(map[string]uint64, len(module.Globals))
	for i, g := range module.Globals {
		globalOffsets["$global_"+g.Name] = globalsOffset + uint64(i)*globalSlotWidth
	}
	cursor = globalsOffset + uint64(len(module.Globals))*globalSlotWidth

	memoryOffset := cursor
	if module.MemoryBase != "" {
		globalOffsets[module.MemoryBase] = memoryOffset
	}
	cursor = memoryOffset + memoryPageSize

	externalSymbols := isa.SymbolTable{}
	for name, off := range functionOffsets {
		externalSymbols[name] = off
	}
	for name, off := range globalOffsets {
		externalSymbols[name] = off
	}

	imageBase := loadBase(target, opts.ImageBaseOverride, kind)
	symBase := imageBase
	if kind == container.PE {
		// The code blob lands at the .text section's RVA (always 0x1000,
		// not at the image base itself — OpLoadLabelAddr must
		// resolve to the address the loader actually maps it to.
		symBase += 0x1000
	}

	code := make([]byte, 0, cursor)
	for i, fn := range irFuncs {
		res, err := assemble.Func(fn, descriptor, symBase, functionOffsets[fn.Name], externalSymbols)
		if err != nil {
			return Result{}, []*Diagnostic{asDiagnostic(err)}
		}
		if uint64(len(res.Code)) != funcSizes[i] {
			return Result{}, []*Diagnostic{diag.New(diag.SizeEstimateMismatch, fn.Name,
				"layout pass predicted %d bytes, assembly produced %d", funcSizes[i], len(res.Code))}
		}
		code = append(code, res.Code...)
	}

	code = appendGlobalInitializers(code, module, globalsOffset, uint64(len(code)))
	code = append(code, make([]byte, memoryPageSize)...)

	containerOpts := container.OptionsFor(descriptor, imageBase)
	out, err := container.Build(code, kind, containerOpts)
	if err != nil {
		return Result{}, []*Diagnostic{asDiagnostic(err)}
	}

	log.FunctionCompiled("<module>", target.String(), len(out))
	return Result{Bytes: out, FunctionOffsets: functionOffsets, MemoryOffset: memoryOffset}, nil
}

// appendGlobalInitializers pads code up to globalsOffset (covering any
// layout slack, none expected but kept honest) and writes each global's
// constant initializer into its slot, little-endian, zero-extended to the
// slot width.
func appendGlobalInitializers(code []byte, module *wat.Module, globalsOffset, haveLen uint64) []byte {
	if pad := int64(globalsOffset) - int64(haveLen); pad > 0 {
		code = append(code, make([]byte, pad)...)
	}
	for _, g := range module.Globals {
		var slot [globalSlotWidth]byte
		v := uint64(g.Init)
		for i := 0; i < globalSlotWidth; i++ {
			slot[i] = byte(v >> (8 * i))
		}
		code = append(code, slot[:]...)
	}
	return code
}

func loadBase(target isa.Target, override uint64, kind container.Kind) uint64 {
	if override != 0 {
		return override
	}
	if kind == container.PE {
		if target == isa.X86_64 || target == isa.AArch64 {
			return 0x140000000
		}
		return 0x400000
	}
	if target == isa.X86_16 {
		return defaultFlatBase16
	}
	return 0
}

func descriptorFor(target isa.Target) (isa.Descriptor, bool) {
	switch target {
	case isa.X86_64:
		return amd64.New(), true
	case isa.X86_32:
		return x86_32.New(), true
	case isa.X86_16:
		return x86_16.New(), true
	case isa.AArch64:
		return aarch64.New(), true
	case isa.ARMv7:
		return armv7.New(), true
	default:
		return nil, false
	}
}

func asDiagnostic(err error) *Diagnostic {
	if d, ok := err.(*diag.Diagnostic); ok {
		return d
	}
	return diag.New(diag.UnknownInstruction, "", "%s", err.Error())
}
