package schedule

import (
	"github.com/loftlang/loft"
)

// applySplitDirective replays one split-history entry against a
// reduction domain, rewriting the domain in place and substituting the
// consumed variables out of the predicates, args and values. It reports
// whether the entry touched the domain at all; rfactor keeps untouched
// entries for the intermediate stage to replay later.
func applySplitDirective(sp Split, rvars *[]ReductionVariable, predicates, args, values *[]loft.Expr) bool {
	switch sp.Kind {
	case SplitVar:
		return replaySplit(sp, rvars, predicates, args, values)
	case FuseVars:
		return replayFuse(sp, rvars, predicates, args, values)
	case PurifyRVar:
		return replayPurify(sp, rvars, predicates, args, values)
	case RenameVar:
		return replayRename(sp, rvars, predicates, args, values)
	default:
		internalAssert(false, "unknown split kind %d", int(sp.Kind))
		return false
	}
}

func findRVar(rvars []ReductionVariable, name string) int {
	for i := range rvars {
		if rvars[i].Var == name {
			return i
		}
	}
	return -1
}

func substituteAll(subs map[string]loft.Expr, lists ...*[]loft.Expr) {
	for _, list := range lists {
		for i, e := range *list {
			(*list)[i] = loft.SubstituteMap(subs, e)
		}
	}
}

func replaySplit(sp Split, rvars *[]ReductionVariable, predicates, args, values *[]loft.Expr) bool {
	i := findRVar(*rvars, sp.OldVar)
	if i < 0 {
		return false
	}
	old := (*rvars)[i]
	oldMax := loft.Simplify(loft.Sub(loft.Add(old.Min, old.Extent), loft.I(1)))

	(*rvars)[i] = ReductionVariable{Var: sp.Inner, Min: loft.I(0), Extent: sp.Factor}
	outer := ReductionVariable{
		Var:    sp.Outer,
		Min:    loft.I(0),
		Extent: loft.Simplify(loft.Div(loft.Sub(loft.Add(old.Extent, sp.Factor), loft.I(1)), sp.Factor)),
	}
	*rvars = append(*rvars, ReductionVariable{})
	copy((*rvars)[i+2:], (*rvars)[i+1:])
	(*rvars)[i+1] = outer

	// old = outer * factor + inner + old.min
	repl := loft.Simplify(loft.Add(loft.Add(loft.Mul(loft.V(sp.Outer), sp.Factor), loft.V(sp.Inner)), old.Min))
	substituteAll(map[string]loft.Expr{sp.OldVar: repl}, predicates, args, values)

	if sp.Exact || sp.Tail == GuardWithIf {
		*predicates = append(*predicates, loft.LE(repl, oldMax))
	}
	return true
}

func replayFuse(sp Split, rvars *[]ReductionVariable, predicates, args, values *[]loft.Expr) bool {
	// For fuse entries OldVar holds the fused name and Outer/Inner the
	// inputs.
	oi := findRVar(*rvars, sp.Outer)
	ii := findRVar(*rvars, sp.Inner)
	if oi < 0 || ii < 0 {
		return false
	}
	outer := (*rvars)[oi]
	inner := (*rvars)[ii]

	(*rvars)[oi] = ReductionVariable{
		Var:    sp.OldVar,
		Min:    loft.I(0),
		Extent: loft.Simplify(loft.Mul(outer.Extent, inner.Extent)),
	}
	*rvars = append((*rvars)[:ii], (*rvars)[ii+1:]...)

	fused := loft.V(sp.OldVar)
	subs := map[string]loft.Expr{
		sp.Inner: loft.Simplify(loft.Add(loft.Mod(fused, inner.Extent), inner.Min)),
		sp.Outer: loft.Simplify(loft.Add(loft.Div(fused, inner.Extent), outer.Min)),
	}
	substituteAll(subs, predicates, args, values)
	return true
}

func replayPurify(sp Split, rvars *[]ReductionVariable, predicates, args, values *[]loft.Expr) bool {
	i := findRVar(*rvars, sp.OldVar)
	if i < 0 {
		return false
	}
	*rvars = append((*rvars)[:i], (*rvars)[i+1:]...)
	substituteAll(map[string]loft.Expr{sp.OldVar: loft.V(sp.Outer)}, predicates, args, values)
	return true
}

func replayRename(sp Split, rvars *[]ReductionVariable, predicates, args, values *[]loft.Expr) bool {
	i := findRVar(*rvars, sp.OldVar)
	if i < 0 {
		return false
	}
	(*rvars)[i].Var = sp.Outer
	substituteAll(map[string]loft.Expr{sp.OldVar: loft.V(sp.Outer)}, predicates, args, values)
	return true
}
