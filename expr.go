// Package loft holds the symbolic expression IR shared by the scheduling
// engine and its collaborators: integer-valued expression trees, name
// substitution, and a small algebraic simplifier.
//
// The IR is deliberately minimal. Expressions describe loop bounds,
// split factors, reduction-domain predicates, and the right-hand sides of
// stage definitions; they are never executed.
package loft

import (
	"fmt"
	"strings"
)

// Expr is a node in the expression tree. The set of implementations is
// closed: Var, IntLit, Binary, and Call. Consumers switch exhaustively
// over these four.
type Expr interface {
	fmt.Stringer
	expr()
}

// Var is a reference to a named loop variable or reduction variable.
type Var struct {
	Name string
}

// IntLit is an integer constant.
type IntLit struct {
	Value int64
}

// BinaryOp enumerates the binary operators the IR supports.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	default:
		return fmt.Sprintf("op%d", int(op))
	}
}

// IsBoolean reports whether the operator yields a boolean value.
func (op BinaryOp) IsBoolean() bool {
	switch op {
	case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE, OpAnd, OpOr:
		return true
	default:
		return false
	}
}

// Binary applies a BinaryOp to two operands.
type Binary struct {
	Op   BinaryOp
	A, B Expr
}

// CallKind distinguishes calls into another stage of the pipeline from
// calls to opaque external functions.
type CallKind int

const (
	// CallStage is a load from another (or the same) stage's buffer.
	CallStage CallKind = iota
	// CallExtern is a call to a function the compiler does not see into.
	CallExtern
)

// Call is a function call. For CallStage calls, ValueIndex selects the
// tuple slot when the callee produces multiple values.
type Call struct {
	Name       string
	Args       []Expr
	ValueIndex int
	Kind       CallKind
}

func (Var) expr()    {}
func (IntLit) expr() {}
func (Binary) expr() {}
func (Call) expr()   {}

func (v Var) String() string    { return v.Name }
func (l IntLit) String() string { return fmt.Sprintf("%d", l.Value) }

func (b Binary) String() string {
	switch b.Op {
	case OpMin, OpMax:
		return fmt.Sprintf("%s(%s, %s)", b.Op, b.A, b.B)
	default:
		return fmt.Sprintf("(%s %s %s)", b.A, b.Op, b.B)
	}
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	s := fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
	if c.ValueIndex != 0 {
		s += fmt.Sprintf("[%d]", c.ValueIndex)
	}
	return s
}

// Convenience constructors. Bound expressions are assembled from these
// all over the scheduling engine, so they are kept short.

// V returns a variable reference.
func V(name string) Expr { return Var{Name: name} }

// I returns an integer literal.
func I(v int64) Expr { return IntLit{Value: v} }

func Add(a, b Expr) Expr { return Binary{Op: OpAdd, A: a, B: b} }
func Sub(a, b Expr) Expr { return Binary{Op: OpSub, A: a, B: b} }
func Mul(a, b Expr) Expr { return Binary{Op: OpMul, A: a, B: b} }
func Div(a, b Expr) Expr { return Binary{Op: OpDiv, A: a, B: b} }
func Mod(a, b Expr) Expr { return Binary{Op: OpMod, A: a, B: b} }
func Min(a, b Expr) Expr { return Binary{Op: OpMin, A: a, B: b} }
func Max(a, b Expr) Expr { return Binary{Op: OpMax, A: a, B: b} }
func LT(a, b Expr) Expr  { return Binary{Op: OpLT, A: a, B: b} }
func LE(a, b Expr) Expr  { return Binary{Op: OpLE, A: a, B: b} }
func GE(a, b Expr) Expr  { return Binary{Op: OpGE, A: a, B: b} }
func And(a, b Expr) Expr { return Binary{Op: OpAnd, A: a, B: b} }

// StageCall builds a load from a stage's buffer.
func StageCall(name string, args ...Expr) Expr {
	return Call{Name: name, Args: args, Kind: CallStage}
}

// StageCallIndex builds a load of one tuple slot from a stage's buffer.
func StageCallIndex(name string, index int, args ...Expr) Expr {
	return Call{Name: name, Args: args, ValueIndex: index, Kind: CallStage}
}

// ExternCall builds a call to an opaque external function.
func ExternCall(name string, args ...Expr) Expr {
	return Call{Name: name, Args: args, Kind: CallExtern}
}

// Equal reports structural equality of two expressions.
func Equal(a, b Expr) bool {
	switch ta := a.(type) {
	case Var:
		tb, ok := b.(Var)
		return ok && ta.Name == tb.Name
	case IntLit:
		tb, ok := b.(IntLit)
		return ok && ta.Value == tb.Value
	case Binary:
		tb, ok := b.(Binary)
		return ok && ta.Op == tb.Op && Equal(ta.A, tb.A) && Equal(ta.B, tb.B)
	case Call:
		tb, ok := b.(Call)
		if !ok || ta.Name != tb.Name || ta.ValueIndex != tb.ValueIndex ||
			ta.Kind != tb.Kind || len(ta.Args) != len(tb.Args) {
			return false
		}
		for i := range ta.Args {
			if !Equal(ta.Args[i], tb.Args[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		panic(fmt.Sprintf("loft: unknown expression node %T", a))
	}
}

// IsBoolean reports whether e is a boolean-valued expression.
func IsBoolean(e Expr) bool {
	b, ok := e.(Binary)
	return ok && b.Op.IsBoolean()
}
