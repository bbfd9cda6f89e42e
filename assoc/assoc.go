// Package assoc certifies associativity and commutativity of stage
// update definitions. The scheduling engine consumes the verdict when a
// directive would let reduction iterations execute out of their original
// order (parallelize, vectorize, reorder, rfactor).
//
// This is a pattern table, not a proof search: it recognizes the common
// accumulation shapes (sum, product, min, max, and the non-commutative
// difference) and refuses everything else. A refusal means "could not
// certify", never "certified unsafe"; the engine must treat it as a hard
// stop unless the user overrides explicitly.
package assoc

import (
	"math"

	"github.com/loftlang/loft"
)

// Operand names used by the decomposed binary-op patterns. X stands for
// the accumulator (the previous value of the stage), Y for the new
// contribution folded into it.
const (
	OperandX = "x"
	OperandY = "y"
)

// OpPattern is the decomposed combining operator for one tuple slot of an
// update definition. Op merges two partial folds and references the
// symbolic operands OperandX and OperandY; Identity is the value for
// which Op(identity, y) == y.
type OpPattern struct {
	Op       loft.Expr
	Identity loft.Expr
	// X and Y name the operand variables in Op. X is empty when the
	// update does not read the stage's previous value, which means the
	// definition is an overwrite rather than a reduction.
	X, Y string
}

// Result is the prover's verdict for a full update definition. For tuple
// definitions every slot must certify for the whole result to certify.
type Result struct {
	Associative bool
	Commutative bool
	Patterns    []OpPattern
}

// Size returns the number of tuple slots the verdict covers.
func (r Result) Size() int { return len(r.Patterns) }

// Identity sentinels for min/max accumulations.
var (
	posInf = loft.I(math.MaxInt64)
	negInf = loft.I(math.MinInt64)
)

// Prove inspects the update definition of the named stage and reports
// whether its combining operator is associative, and if so commutative,
// along with the per-slot identity elements and operator patterns.
// It is pure and deterministic for identical expression trees.
func Prove(funcName string, args []loft.Expr, values []loft.Expr) Result {
	res := Result{Associative: true, Commutative: true}
	for _, v := range values {
		p, assoc, comm := matchValue(funcName, args, v)
		if !assoc {
			return Result{}
		}
		res.Commutative = res.Commutative && comm
		res.Patterns = append(res.Patterns, p)
	}
	if len(res.Patterns) == 0 {
		return Result{}
	}
	return res
}

// matchValue decomposes one tuple slot. The recognized shapes are
// self ⊕ other and other ⊕ self for commutative ⊕, and self - other.
func matchValue(funcName string, args []loft.Expr, v loft.Expr) (OpPattern, bool, bool) {
	b, ok := v.(loft.Binary)
	if !ok {
		return OpPattern{}, false, false
	}

	selfA := isSelfCall(funcName, args, b.A)
	selfB := isSelfCall(funcName, args, b.B)

	switch b.Op {
	case loft.OpAdd, loft.OpMul, loft.OpMin, loft.OpMax:
		// Exactly one operand must be the self-reference; the other must
		// not mention the stage at all, or the shape is not a simple
		// fold.
		ok := (selfA && !callsInto(funcName, b.B)) ||
			(selfB && !callsInto(funcName, b.A))
		if !ok {
			return OpPattern{}, false, false
		}
		return OpPattern{
			Op:       loft.Binary{Op: b.Op, A: loft.V(OperandX), B: loft.V(OperandY)},
			Identity: identityFor(b.Op),
			X:        OperandX,
			Y:        OperandY,
		}, true, true
	case loft.OpSub:
		// x - y folds associatively because it is addition of a
		// negation: the negation lives in the contribution, so partial
		// folds starting from 0 already carry it, and the merge operator
		// is plain addition. The operand order is still load-bearing.
		if selfA && !callsInto(funcName, b.B) {
			return OpPattern{
				Op:       loft.Add(loft.V(OperandX), loft.V(OperandY)),
				Identity: loft.I(0),
				X:        OperandX,
				Y:        OperandY,
			}, true, false
		}
		return OpPattern{}, false, false
	default:
		return OpPattern{}, false, false
	}
}

func identityFor(op loft.BinaryOp) loft.Expr {
	switch op {
	case loft.OpAdd:
		return loft.I(0)
	case loft.OpMul:
		return loft.I(1)
	case loft.OpMin:
		return posInf
	case loft.OpMax:
		return negInf
	default:
		return nil
	}
}

// isSelfCall reports whether e is a load from the stage's own buffer at
// exactly the definition's store coordinates.
func isSelfCall(funcName string, args []loft.Expr, e loft.Expr) bool {
	c, ok := e.(loft.Call)
	if !ok || c.Kind != loft.CallStage || c.Name != funcName || len(c.Args) != len(args) {
		return false
	}
	for i := range args {
		if !loft.Equal(c.Args[i], args[i]) {
			return false
		}
	}
	return true
}

// callsInto reports whether e contains any load from the named stage.
func callsInto(funcName string, e loft.Expr) bool {
	switch t := e.(type) {
	case loft.Var, loft.IntLit, nil:
		return false
	case loft.Binary:
		return callsInto(funcName, t.A) || callsInto(funcName, t.B)
	case loft.Call:
		if t.Kind == loft.CallStage && t.Name == funcName {
			return true
		}
		for _, a := range t.Args {
			if callsInto(funcName, a) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
