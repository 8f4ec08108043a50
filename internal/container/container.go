// Package container wraps an assembled code buffer in one of the two
// binary containers this backend supports: flat (identity) or
// Windows PE. Neither variant performs relocation or import resolution —
// the container emitter's whole job is a fixed header template
// parameterized by the target ISA's machine type, the code's size, and an
// image base.
//
// Both builders write their header fields one at a time through
// encoding/binary into a bytes.Buffer, the same field-by-field encoding
// style used for binary formats throughout this module.
package container

import "github.com/wasmback/wasmback/internal/isa"

// Kind selects the output container.
type Kind int

const (
	Flat Kind = iota
	PE
)

func ParseKind(name string) (Kind, bool) {
	switch name {
	case "flat", "":
		return Flat, true
	case "pe":
		return PE, true
	default:
		return 0, false
	}
}

// Options carries the fields the PE builder derives from the compiled
// target rather than hardcoding.
type Options struct {
	Machine           uint16
	PointerSize       int // 4 or 8; selects PE32 vs PE32+
	ImageBaseOverride uint64
}

// OptionsFor builds Options from a target's descriptor.
func OptionsFor(target isa.Descriptor, imageBaseOverride uint64) Options {
	return Options{
		Machine:           target.MachineType(),
		PointerSize:       target.PointerSize(),
		ImageBaseOverride: imageBaseOverride,
	}
}

// Build wraps code in the selected container.
func Build(code []byte, kind Kind, opts Options) ([]byte, error) {
	switch kind {
	case Flat:
		return buildFlat(code), nil
	case PE:
		return buildPE(code, opts)
	default:
		return nil, unsupportedKind(kind)
	}
}

// buildFlat returns code unchanged: the flat container's entry point is
// byte 0, so there is nothing to wrap.
func buildFlat(code []byte) []byte {
	out := make([]byte, len(code))
	copy(out, code)
	return out
}
