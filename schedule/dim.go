// Package schedule is the scheduling core of the compiler: it holds the
// mutable loop-nest state of every stage (dimension lists, split
// histories, reduction domains) and the directives that transform it.
// Every directive either preserves the meaning of the computation or
// fails with a synchronous, typed error before visible mutation.
package schedule

import (
	"fmt"
	"strings"
)

// DimKind classifies a loop dimension. Reduction dimensions start as
// PureRVar ("this dimension alone determines one reduction step") and
// are demoted to ImpureRVar by operations that break that property;
// demotion is monotone.
type DimKind int

const (
	PureVar DimKind = iota
	PureRVar
	ImpureRVar
)

func (k DimKind) String() string {
	switch k {
	case PureVar:
		return "PureVar"
	case PureRVar:
		return "PureRVar"
	case ImpureRVar:
		return "ImpureRVar"
	default:
		return fmt.Sprintf("DimKind(%d)", int(k))
	}
}

// ForType is the iteration strategy of one loop dimension.
type ForType int

const (
	Serial ForType = iota
	Parallel
	Vectorized
	Unrolled
	Extern
	GPUBlock
	GPUThread
	GPULane
)

func (t ForType) String() string {
	switch t {
	case Serial:
		return "Serial"
	case Parallel:
		return "Parallel"
	case Vectorized:
		return "Vectorized"
	case Unrolled:
		return "Unrolled"
	case Extern:
		return "Extern"
	case GPUBlock:
		return "GPUBlock"
	case GPUThread:
		return "GPUThread"
	case GPULane:
		return "GPULane"
	default:
		return fmt.Sprintf("ForType(%d)", int(t))
	}
}

// isParallel reports whether the strategy lets iterations of the loop
// execute out of order or concurrently.
func (t ForType) isParallel() bool {
	switch t {
	case Parallel, Vectorized, GPUBlock, GPUThread, GPULane:
		return true
	default:
		return false
	}
}

// DeviceAPI is the device placement of one loop dimension.
type DeviceAPI int

const (
	DeviceNone DeviceAPI = iota
	DeviceHost
	DeviceCUDA
	DeviceOpenCL
)

func (d DeviceAPI) String() string {
	switch d {
	case DeviceNone:
		return "None"
	case DeviceHost:
		return "Host"
	case DeviceCUDA:
		return "CUDA"
	case DeviceOpenCL:
		return "OpenCL"
	default:
		return fmt.Sprintf("DeviceAPI(%d)", int(d))
	}
}

// TailStrategy is the policy for a loop whose extent does not divide a
// split factor evenly.
type TailStrategy int

const (
	// Auto lets split pick a strategy based on the definition and the
	// split history.
	Auto TailStrategy = iota
	// RoundUp rounds the extent up to a multiple of the factor. Cheap,
	// but recomputes values in the tail, so it is illegal wherever
	// recompute could change results.
	RoundUp
	// GuardWithIf keeps the exact extent and guards the tail iterations
	// with a predicate. Always meaning-preserving.
	GuardWithIf
	// ShiftInwards shifts the last full tile inwards so it overlaps the
	// previous one. Only meaning-preserving on init definitions.
	ShiftInwards
)

func (t TailStrategy) String() string {
	switch t {
	case Auto:
		return "Auto"
	case RoundUp:
		return "RoundUp"
	case GuardWithIf:
		return "GuardWithIf"
	case ShiftInwards:
		return "ShiftInwards"
	default:
		return fmt.Sprintf("TailStrategy(%d)", int(t))
	}
}

// Dim is one entry of a stage's dimension list, innermost first.
type Dim struct {
	Var       string
	Kind      DimKind
	ForType   ForType
	DeviceAPI DeviceAPI
}

// IsRVar reports whether the dimension iterates a reduction variable.
func (d Dim) IsRVar() bool { return d.Kind != PureVar }

// varNameMatch matches a dimension's qualified name against an
// unqualified candidate. Splitting, fusing, and renaming append
// dot-separated suffixes, so "f.x.xi" is addressable as "xi".
func varNameMatch(candidate, name string) bool {
	if strings.Contains(name, ".") {
		panic(fmt.Sprintf("schedule: varNameMatch expects an unqualified name, got %q", name))
	}
	return candidate == name || strings.HasSuffix(candidate, "."+name)
}

// VarOrRVar names a dimension in a directive call, tagged with whether
// the caller means a pure variable or a reduction variable.
type VarOrRVar struct {
	Name   string
	IsRVar bool
}

// V names a pure loop variable.
func V(name string) VarOrRVar { return VarOrRVar{Name: name} }

// R names a reduction variable.
func R(name string) VarOrRVar { return VarOrRVar{Name: name, IsRVar: true} }
