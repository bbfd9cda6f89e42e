package loft

import "fmt"

// Simplify constant-folds and applies the algebraic identities needed to
// keep bound expressions readable: x+0, x*1, x*0, x-0, x/1, and min/max
// with equal or constant operands. It is a best-effort normalizer, not a
// full simplifier; anything it cannot fold it returns unchanged.
func Simplify(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch t := e.(type) {
	case Var, IntLit:
		return t
	case Binary:
		return simplifyBinary(Binary{Op: t.Op, A: Simplify(t.A), B: Simplify(t.B)})
	case Call:
		args := make([]Expr, len(t.Args))
		for i, a := range t.Args {
			args[i] = Simplify(a)
		}
		return Call{Name: t.Name, Args: args, ValueIndex: t.ValueIndex, Kind: t.Kind}
	default:
		panic(fmt.Sprintf("loft: unknown expression node %T", e))
	}
}

func simplifyBinary(b Binary) Expr {
	la, aConst := b.A.(IntLit)
	lb, bConst := b.B.(IntLit)

	if aConst && bConst {
		if v, ok := foldConst(b.Op, la.Value, lb.Value); ok {
			return IntLit{Value: v}
		}
		return b
	}

	switch b.Op {
	case OpAdd:
		if aConst && la.Value == 0 {
			return b.B
		}
		if bConst && lb.Value == 0 {
			return b.A
		}
	case OpSub:
		if bConst && lb.Value == 0 {
			return b.A
		}
		if Equal(b.A, b.B) {
			return IntLit{Value: 0}
		}
	case OpMul:
		if aConst && la.Value == 0 || bConst && lb.Value == 0 {
			return IntLit{Value: 0}
		}
		if aConst && la.Value == 1 {
			return b.B
		}
		if bConst && lb.Value == 1 {
			return b.A
		}
	case OpDiv:
		if bConst && lb.Value == 1 {
			return b.A
		}
	case OpMin, OpMax:
		if Equal(b.A, b.B) {
			return b.A
		}
	}
	return b
}

func foldConst(op BinaryOp, a, b int64) (int64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpDiv:
		if b == 0 {
			return 0, false
		}
		return divFloor(a, b), true
	case OpMod:
		if b == 0 {
			return 0, false
		}
		return a - divFloor(a, b)*b, true
	case OpMin:
		return min(a, b), true
	case OpMax:
		return max(a, b), true
	case OpEQ:
		return boolLit(a == b), true
	case OpNE:
		return boolLit(a != b), true
	case OpLT:
		return boolLit(a < b), true
	case OpLE:
		return boolLit(a <= b), true
	case OpGT:
		return boolLit(a > b), true
	case OpGE:
		return boolLit(a >= b), true
	case OpAnd:
		return boolLit(a != 0 && b != 0), true
	case OpOr:
		return boolLit(a != 0 || b != 0), true
	default:
		return 0, false
	}
}

// Division in the IR rounds toward negative infinity, matching how loop
// bound arithmetic is lowered.
func divFloor(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func boolLit(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// ConstValue returns the integer value of e if it simplifies to a
// constant.
func ConstValue(e Expr) (int64, bool) {
	l, ok := Simplify(e).(IntLit)
	if !ok {
		return 0, false
	}
	return l.Value, true
}

// CanProveGE reports whether a >= b can be established by simplification
// alone. Callers must treat false as "unknown", not as a < b.
func CanProveGE(a, b Expr) bool {
	v, ok := ConstValue(Sub(a, b))
	return ok && v >= 0
}
