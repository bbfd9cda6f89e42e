package loft

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"
)

// Substitute replaces every free reference to name in e with repl,
// returning a new expression. e is never mutated.
func Substitute(name string, repl Expr, e Expr) Expr {
	return SubstituteMap(map[string]Expr{name: repl}, e)
}

// SubstituteMap replaces every free variable reference that appears in m
// with its mapped expression. The replacements are simultaneous: a
// variable introduced by one replacement is not rewritten by another.
func SubstituteMap(m map[string]Expr, e Expr) Expr {
	if e == nil || len(m) == 0 {
		return e
	}
	switch t := e.(type) {
	case Var:
		if repl, ok := m[t.Name]; ok {
			return repl
		}
		return t
	case IntLit:
		return t
	case Binary:
		return Binary{Op: t.Op, A: SubstituteMap(m, t.A), B: SubstituteMap(m, t.B)}
	case Call:
		args := make([]Expr, len(t.Args))
		for i, a := range t.Args {
			args[i] = SubstituteMap(m, a)
		}
		return Call{Name: t.Name, Args: args, ValueIndex: t.ValueIndex, Kind: t.Kind}
	default:
		panic(fmt.Sprintf("loft: unknown expression node %T", e))
	}
}

// ExprUsesVars reports whether e references any variable in vars.
func ExprUsesVars(e Expr, vars *set.Set[string]) bool {
	if e == nil || vars == nil || vars.Empty() {
		return false
	}
	switch t := e.(type) {
	case Var:
		return vars.Contains(t.Name)
	case IntLit:
		return false
	case Binary:
		return ExprUsesVars(t.A, vars) || ExprUsesVars(t.B, vars)
	case Call:
		for _, a := range t.Args {
			if ExprUsesVars(a, vars) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("loft: unknown expression node %T", e))
	}
}

// FreeVars collects the names of all variables referenced by e.
func FreeVars(e Expr) *set.Set[string] {
	vars := set.New[string](4)
	collectFreeVars(e, vars)
	return vars
}

func collectFreeVars(e Expr, vars *set.Set[string]) {
	switch t := e.(type) {
	case Var:
		vars.Insert(t.Name)
	case IntLit, nil:
	case Binary:
		collectFreeVars(t.A, vars)
		collectFreeVars(t.B, vars)
	case Call:
		for _, a := range t.Args {
			collectFreeVars(a, vars)
		}
	default:
		panic(fmt.Sprintf("loft: unknown expression node %T", e))
	}
}
