package schedule

import (
	"github.com/loftlang/loft"
)

// ReductionVariable is one axis of a reduction domain. Order within the
// domain is significant: it fixes iteration order, which matters for
// non-commutative accumulation.
type ReductionVariable struct {
	Var    string
	Min    loft.Expr
	Extent loft.Expr
}

// RVarRange is shorthand for a reduction variable over [min, min+extent).
func RVarRange(name string, min, extent int64) ReductionVariable {
	return ReductionVariable{Var: name, Min: loft.I(min), Extent: loft.I(extent)}
}

// RDom is a reduction domain: an ordered list of reduction variables,
// first variable innermost, plus a conjunction of predicates restricting
// the domain.
type RDom struct {
	vars       []ReductionVariable
	predicates []loft.Expr
}

// NewRDom builds a reduction domain over the given variables.
func NewRDom(vars ...ReductionVariable) *RDom {
	return &RDom{vars: append([]ReductionVariable(nil), vars...)}
}

// Where adds a predicate to the domain. Iterations for which any
// predicate is false are skipped.
func (r *RDom) Where(pred loft.Expr) *RDom {
	r.predicates = append(r.predicates, pred)
	return r
}

// Vars returns the domain's variables in iteration order.
func (r *RDom) Vars() []ReductionVariable {
	return append([]ReductionVariable(nil), r.vars...)
}

// Predicates returns the domain's predicate conjunction.
func (r *RDom) Predicates() []loft.Expr {
	return append([]loft.Expr(nil), r.predicates...)
}
