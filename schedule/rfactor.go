package schedule

import (
	"github.com/hashicorp/go-set/v3"
	"github.com/loftlang/loft"
	"github.com/loftlang/loft/assoc"
	"github.com/pkg/errors"
)

// RFactorPair preserves one reduction variable through RFactor: the
// named reduction variable becomes the pure variable Var of the
// intermediate function.
type RFactorPair struct {
	RVar string
	Var  string
}

// RFactor factors an associative update into a two-stage reduction: an
// intermediate function computes partial results over the reduction
// variables not named in pairs, one partial per value of the preserved
// variables, and this stage's update is rewritten to combine the
// partials. The preserved reduction dimensions of the intermediate
// become pure, so they can be parallelized or vectorized without racing.
//
// The update's combining operator must certify associative; if it is
// not also commutative, every preserved reduction dimension must be
// outside every factored-out one.
func (s *Stage) RFactor(pairs ...RFactorPair) (*Func, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	def := s.definition()
	fn := s.unit.function(s.fn)
	if def.isInit {
		return nil, errors.Errorf("in schedule for %s, rfactor must be called on an update definition", s.Name())
	}
	if len(def.specializations) > 0 || len(s.specPath) > 0 {
		return nil, errors.Errorf("in schedule for %s, cannot rfactor a specialized definition", s.Name())
	}

	result := assoc.Prove(fn.name, def.args, def.values)
	if !result.Associative {
		return nil, errors.Wrapf(ErrNotAssociative,
			"in schedule for %s, can't perform rfactor() because the operation is not provably associative", s.Name())
	}
	internalAssert(result.Size() == len(def.values),
		"prover returned %d patterns for %d values", result.Size(), len(def.values))

	dims := def.schedule.dims
	preservedDims := make([]bool, len(dims))
	for pi, p := range pairs {
		idx, found := findDim(dims, p.RVar)
		if !found || !dims[idx].IsRVar() {
			return nil, errors.Wrapf(ErrDimensionNotFound,
				"in schedule for %s, can't perform rfactor() on %q since it is not a reduction variable of this stage; %s",
				s.Name(), p.RVar, s.dumpArgumentList())
		}
		if preservedDims[idx] {
			return nil, errors.Errorf("in schedule for %s, rfactor() preserves %q twice", s.Name(), dims[idx].Var)
		}
		preservedDims[idx] = true
		for i := range dims {
			if varNameMatch(dims[i].Var, p.Var) {
				return nil, errors.Wrapf(ErrNameCollision,
					"in schedule for %s, rfactor() replacement %q collides with an existing dimension; %s",
					s.Name(), p.Var, s.dumpArgumentList())
			}
		}
		for _, a := range fn.pureArgs {
			if a == p.Var {
				return nil, errors.Wrapf(ErrNameCollision,
					"in schedule for %s, rfactor() replacement %q collides with a pure argument of %s",
					s.Name(), p.Var, fn.name)
			}
		}
		for pj := 0; pj < pi; pj++ {
			if pairs[pj].Var == p.Var {
				return nil, errors.Wrapf(ErrNameCollision,
					"in schedule for %s, rfactor() uses replacement %q twice", s.Name(), p.Var)
			}
		}
	}

	if !result.Commutative {
		// A preserved dimension inside a factored-out one would stitch
		// the partials together in an order the original fold never
		// used.
		minPreserved, maxLifted := len(dims), -1
		for i := range dims {
			if !dims[i].IsRVar() {
				continue
			}
			if preservedDims[i] {
				if i < minPreserved {
					minPreserved = i
				}
			} else if i > maxLifted {
				maxLifted = i
			}
		}
		if minPreserved < maxLifted {
			return nil, errors.Wrapf(ErrNonCommutativeOrder,
				"in schedule for %s, can't perform rfactor() because the operation is non-commutative and a preserved reduction variable is inside a factored-out one",
				s.Name())
		}
	}

	// Replay the split history against a copy of the reduction domain so
	// the factoring operates on leaf reduction variables. Entries the
	// domain never sees (splits of pure dimensions) carry over to the
	// intermediate.
	rvars := append([]ReductionVariable(nil), def.schedule.rvars...)
	preds := append([]loft.Expr(nil), def.predicates...)
	args := append([]loft.Expr(nil), def.args...)
	vals := append([]loft.Expr(nil), def.values...)
	var remaining []Split
	for _, sp := range def.schedule.splits {
		if !applySplitDirective(sp, &rvars, &preds, &args, &vals) {
			remaining = append(remaining, sp)
		}
	}

	// Partition the replayed domain, keeping domain order.
	var kept, lifted []ReductionVariable
	var orderedPairs []RFactorPair
	liftedNames := set.New[string](len(rvars))
	for _, rv := range rvars {
		matched := false
		for _, p := range pairs {
			if varNameMatch(rv.Var, p.RVar) {
				kept = append(kept, rv)
				orderedPairs = append(orderedPairs, p)
				matched = true
				break
			}
		}
		if !matched {
			lifted = append(lifted, rv)
			liftedNames.Insert(rv.Var)
		}
	}
	if len(kept) != len(pairs) {
		return nil, errors.Errorf("in schedule for %s, rfactor() preserved variables resolve to %d of %d reduction variables",
			s.Name(), len(kept), len(pairs))
	}

	// Substitute preserved leaf reduction variables with their pure
	// replacements.
	subs := make(map[string]loft.Expr, len(kept))
	for i := range kept {
		subs[kept[i].Var] = loft.V(orderedPairs[i].Var)
	}

	pureVars := make([]loft.Expr, len(fn.pureArgs))
	for i, a := range fn.pureArgs {
		pureVars[i] = loft.V(a)
	}

	// Intermediate function: identity-initialized, accumulating over the
	// factored-out domain, one partial per preserved coordinate.
	intmName := s.unit.freshFuncName(fn.name + "_intm")
	intm := &Function{
		id:   FuncID(len(s.unit.funcs)),
		name: intmName,
	}
	intm.pureArgs = append(append([]string(nil), fn.pureArgs...), pairsVars(orderedPairs)...)
	intm.storageDims = append(append([]string(nil), fn.storageDims...), pairsVars(orderedPairs)...)
	intm.init = Definition{isInit: true}
	for _, p := range result.Patterns {
		intm.init.values = append(intm.init.values, p.Identity)
	}
	for _, a := range intm.pureArgs {
		intm.init.args = append(intm.init.args, loft.V(a))
		intm.init.schedule.dims = append(intm.init.schedule.dims, Dim{Var: a, Kind: PureVar, ForType: Serial})
	}

	upd := &Definition{}
	for _, a := range args {
		upd.args = append(upd.args, loft.SubstituteMap(subs, a))
	}
	replacementVars := make([]loft.Expr, len(orderedPairs))
	for i, p := range orderedPairs {
		replacementVars[i] = loft.V(p.Var)
		upd.args = append(upd.args, replacementVars[i])
	}
	for _, v := range vals {
		v = loft.SubstituteMap(subs, v)
		upd.values = append(upd.values, substituteSelfReference(v, fn.name, intmName, replacementVars))
	}
	for _, p := range preds {
		upd.predicates = append(upd.predicates, loft.SubstituteMap(subs, p))
	}
	upd.schedule.rvars = lifted
	upd.schedule.splits = remaining
	upd.schedule.dims = append([]Dim(nil), def.schedule.dims...)
	for _, a := range fn.pureArgs {
		if _, found := findDim(upd.schedule.dims, a); !found {
			upd.schedule.dims = append(upd.schedule.dims, Dim{Var: a, Kind: PureVar, ForType: Serial})
		}
	}
	intm.updates = append(intm.updates, upd)
	s.unit.funcs = append(s.unit.funcs, intm)
	s.unit.names.Reserve(intmName)

	// Turn the preserved reduction dimensions of the intermediate into
	// pure dimensions.
	intmStage := &Stage{unit: s.unit, fn: intm.id, defIndex: 1}
	for i, p := range orderedPairs {
		if err := intmStage.Purify(R(p.RVar), V(p.Var)); err != nil {
			return nil, errors.Wrapf(err, "in schedule for %s, rfactor() failed to purify %q", s.Name(), kept[i].Var)
		}
	}

	// Rewrite this stage: a pure-coordinate fold of the intermediate's
	// partials over the preserved reduction variables.
	keptRefs := make([]loft.Expr, len(kept))
	for i := range kept {
		keptRefs[i] = loft.V(kept[i].Var)
	}
	newValues := make([]loft.Expr, len(result.Patterns))
	for i, p := range result.Patterns {
		partial := loft.StageCallIndex(intmName, i, append(append([]loft.Expr(nil), pureVars...), keptRefs...)...)
		if p.X == "" {
			s.logger().Warnf("%s: rfactor value %d does not depend on the previous value of %s", s.Name(), i, fn.name)
			newValues[i] = loft.SubstituteMap(map[string]loft.Expr{p.Y: partial}, p.Op)
			continue
		}
		self := loft.StageCallIndex(fn.name, i, pureVars...)
		newValues[i] = loft.SubstituteMap(map[string]loft.Expr{p.X: self, p.Y: partial}, p.Op)
	}

	def.args = pureVars
	def.values = newValues
	def.predicates = nil
	for _, p := range preds {
		if !loft.ExprUsesVars(p, liftedNames) {
			def.predicates = append(def.predicates, p)
		}
	}
	def.schedule.rvars = kept
	for _, a := range fn.pureArgs {
		if _, found := findDim(def.schedule.dims, a); !found {
			def.schedule.dims = append(def.schedule.dims, Dim{Var: a, Kind: PureVar, ForType: Serial})
		}
	}
	for _, rv := range lifted {
		if err := s.removeDimension(rv.Var); err != nil {
			return nil, err
		}
	}

	s.invalidate()
	s.logger().Debugf("in schedule for %s, rfactor into %s over %d preserved reduction variables",
		s.Name(), intmName, len(kept))
	return &Func{unit: s.unit, id: intm.id}, nil
}

func pairsVars(pairs []RFactorPair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Var
	}
	return out
}

// substituteSelfReference rewrites loads from funcName into loads from
// newName with extraArgs appended to the coordinates.
func substituteSelfReference(e loft.Expr, funcName, newName string, extraArgs []loft.Expr) loft.Expr {
	switch t := e.(type) {
	case loft.Binary:
		return loft.Binary{
			Op: t.Op,
			A:  substituteSelfReference(t.A, funcName, newName, extraArgs),
			B:  substituteSelfReference(t.B, funcName, newName, extraArgs),
		}
	case loft.Call:
		args := make([]loft.Expr, 0, len(t.Args)+len(extraArgs))
		for _, a := range t.Args {
			args = append(args, substituteSelfReference(a, funcName, newName, extraArgs))
		}
		if t.Kind == loft.CallStage && t.Name == funcName {
			return loft.Call{Name: newName, Args: append(args, extraArgs...), ValueIndex: t.ValueIndex, Kind: t.Kind}
		}
		return loft.Call{Name: t.Name, Args: args, ValueIndex: t.ValueIndex, Kind: t.Kind}
	default:
		return e
	}
}
