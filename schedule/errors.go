package schedule

import (
	"fmt"

	"github.com/pkg/errors"
)

// Usage errors: the caller can recover by changing their schedule and
// reissuing the directive. Directives wrap these sentinels with context
// (stage name, offending dimension, current dimension list), so match
// with errors.Is.
var (
	// ErrDimensionNotFound reports a directive naming a dimension the
	// stage does not have.
	ErrDimensionNotFound = errors.New("dimension not found in schedule")

	// ErrNameCollision reports a directive introducing a name already
	// used by another dimension of the same stage.
	ErrNameCollision = errors.New("name already used in schedule")

	// ErrInvalidTailStrategy reports a tail strategy that could change
	// the meaning of the algorithm for this split.
	ErrInvalidTailStrategy = errors.New("invalid tail strategy")

	// ErrRaceCondition reports parallelizing or vectorizing a reduction
	// dimension without an explicit atomic() or allow_race_conditions()
	// escape hatch.
	ErrRaceCondition = errors.New("transformation may introduce a race condition")

	// ErrMultipleVectorization reports vectorizing a second dimension of
	// the same stage.
	ErrMultipleVectorization = errors.New("stage is already vectorized across another dimension")

	// ErrUnsafeReorder reports reordering reduction dimensions of an
	// operator that is not provably associative and commutative.
	ErrUnsafeReorder = errors.New("reordering reduction variables may change the meaning of the algorithm")

	// ErrNotAssociative reports an operation that requires an
	// associativity certificate the prover could not produce.
	ErrNotAssociative = errors.New("cannot prove associativity of the operator")

	// ErrNonCommutativeOrder reports an rfactor that would lift an inner
	// reduction dimension out from under a kept outer one while the
	// operator is non-commutative.
	ErrNonCommutativeOrder = errors.New("non-commutative operator constrains reduction order")

	// ErrDependentTransform reports removing or renaming a variable that
	// a later history entry already split, fused, or renamed.
	ErrDependentTransform = errors.New("variable was already transformed by a later directive")

	// ErrComputeWithSpecialization reports compute_with on a stage that
	// already has specializations, or vice versa.
	ErrComputeWithSpecialization = errors.New("compute_with and specializations are mutually exclusive")

	// ErrScheduleLocked reports a directive issued after lowering began.
	ErrScheduleLocked = errors.New("schedule is locked; no directives may run after lowering begins")
)

// internalAssert guards engine invariants. A failure here is a bug in
// the engine, not a user error, so it panics rather than returning one
// of the taxonomy errors above.
func internalAssert(cond bool, format string, args ...any) {
	if !cond {
		panic("schedule: internal error: " + fmt.Sprintf(format, args...))
	}
}
