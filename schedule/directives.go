package schedule

import (
	"github.com/hashicorp/go-set/v3"
	"github.com/loftlang/loft"
	"github.com/loftlang/loft/assoc"
	"github.com/pkg/errors"
)

func tailOrAuto(tail []TailStrategy) TailStrategy {
	if len(tail) > 0 {
		return tail[0]
	}
	return Auto
}

// findDim returns the index of the first dimension whose qualified name
// matches the unqualified candidate.
func findDim(dims []Dim, name string) (int, bool) {
	for i := range dims {
		if varNameMatch(dims[i].Var, name) {
			return i, true
		}
	}
	return -1, false
}

// Split divides the dimension old into outer and inner (inner
// innermost), with inner iterating factor elements. A reduction
// variable splits into reduction variables only, and the split is exact:
// the tail must be guarded, never recomputed.
func (s *Stage) Split(old, outer, inner VarOrRVar, factor loft.Expr, tail ...TailStrategy) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if old.IsRVar != outer.IsRVar || old.IsRVar != inner.IsRVar {
		return errors.Errorf("in schedule for %s, can't split %s into %s and %s: pure and reduction variables don't mix",
			s.Name(), old.Name, outer.Name, inner.Name)
	}
	return s.split(old.Name, outer.Name, inner.Name, factor, old.IsRVar, tailOrAuto(tail))
}

func (s *Stage) split(old, outer, inner string, factor loft.Expr, exact bool, tail TailStrategy) error {
	def := s.definition()
	dims := def.schedule.dims

	// The new names must not already be in the dims list, unless a new
	// name re-uses the dimension being replaced.
	for i := range dims {
		for _, newName := range [2]string{inner, outer} {
			if varNameMatch(dims[i].Var, newName) && newName != old {
				return errors.Wrapf(ErrNameCollision,
					"in schedule for %s, can't create var %q using a split or tile; %s",
					s.Name(), newName, s.dumpArgumentList())
			}
		}
	}

	idx, found := findDim(dims, old)
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find split dimension %q; %s",
			s.Name(), old, s.dumpArgumentList())
	}
	oldName := dims[idx].Var
	innerName := oldName + "." + inner
	outerName := oldName + "." + outer

	// Tail-strategy selection happens before any mutation so a rejected
	// strategy leaves the schedule untouched.
	roundUpOK := !exact
	if roundUpOK && !def.isInit {
		// RoundUp is only safe for the outermost split of a dimension in
		// an update definition. A later split of a derived inner
		// variable could recompute values when the inner factor does not
		// divide the outer one.
		innerVars := set.New[string](len(def.schedule.splits))
		for _, sp := range def.schedule.splits {
			switch sp.Kind {
			case SplitVar:
				innerVars.Insert(sp.Inner)
				if innerVars.Contains(sp.OldVar) {
					innerVars.Insert(sp.Outer)
				}
			case RenameVar, PurifyRVar:
				if innerVars.Contains(sp.OldVar) {
					innerVars.Insert(sp.Outer)
				}
			case FuseVars:
				if innerVars.Contains(sp.Inner) || innerVars.Contains(sp.Outer) {
					innerVars.Insert(sp.OldVar)
				}
			}
		}
		roundUpOK = !innerVars.Contains(oldName)
		if !roundUpOK && tail == RoundUp {
			return errors.Wrapf(ErrInvalidTailStrategy,
				"in schedule for %s, can't use RoundUp to split %q: it may recompute values; use GuardWithIf",
				s.Name(), oldName)
		}
	}

	if tail == Auto {
		switch {
		case exact:
			tail = GuardWithIf
		case !def.isInit:
			if roundUpOK {
				tail = RoundUp
			} else {
				tail = GuardWithIf
			}
		default:
			// ShiftInwards avoids overcompute on init definitions, but
			// if an earlier ShiftInwards split with a factor at least as
			// large already covers this dimension, a nested shift only
			// complicates the loop bounds. Walk the history forward to
			// see whether old descends from such a split.
			descends := map[string]loft.Expr{}
			for _, sp := range def.schedule.splits {
				prior, ok := descends[sp.OldVar]
				switch {
				case sp.Kind == SplitVar && sp.Tail == ShiftInwards:
					descends[sp.Outer] = sp.Factor
				case sp.Kind == SplitVar && ok:
					descends[sp.Inner] = prior
					descends[sp.Outer] = prior
				case (sp.Kind == RenameVar || sp.Kind == PurifyRVar) && ok:
					descends[sp.Outer] = prior
				}
			}
			if prior, ok := descends[oldName]; ok && loft.CanProveGE(prior, factor) {
				tail = RoundUp
			} else {
				tail = ShiftInwards
			}
		}
	}

	if !def.isInit && tail == ShiftInwards {
		return errors.Wrapf(ErrInvalidTailStrategy,
			"in schedule for %s, ShiftInwards is not a legal tail strategy when splitting %q in an update definition",
			s.Name(), oldName)
	}
	if exact && tail != GuardWithIf {
		return errors.Wrapf(ErrInvalidTailStrategy,
			"in schedule for %s, the tail strategy for the exact split of %q must be GuardWithIf or Auto",
			s.Name(), oldName)
	}

	// Replace old in place with inner (innermost) and outer.
	dims = append(dims, Dim{})
	copy(dims[idx+1:], dims[idx:])
	dims[idx].Var = innerName
	dims[idx+1].Var = outerName
	if dims[idx].ForType == Extern {
		// Splitting an extern loop leaves the new outer loop serial.
		dims[idx+1].ForType = Serial
	}
	def.schedule.dims = dims

	def.schedule.splits = append(def.schedule.splits, Split{
		OldVar: oldName,
		Outer:  outerName,
		Inner:  innerName,
		Factor: factor,
		Exact:  exact,
		Tail:   tail,
		Kind:   SplitVar,
	})
	s.invalidate()
	s.logger().Debugf("in schedule for %s, split %s into %s and %s by %s (%s)",
		s.Name(), oldName, outerName, innerName, factor, tail)
	return nil
}

// Fuse merges inner and outer into a single dimension named fused,
// occupying inner's position. Both inputs must be pure, or both
// reduction; the fused dimension stays a pure reduction variable only
// when both inputs were.
func (s *Stage) Fuse(inner, outer, fused VarOrRVar) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if inner.IsRVar != outer.IsRVar || inner.IsRVar != fused.IsRVar {
		return errors.Errorf("in schedule for %s, can't fuse %s with %s into %s: pure and reduction variables don't mix",
			s.Name(), inner.Name, outer.Name, fused.Name)
	}
	def := s.definition()
	dims := def.schedule.dims

	oi, found := findDim(dims, outer.Name)
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find outer fuse dimension %q; %s",
			s.Name(), outer.Name, s.dumpArgumentList())
	}
	ii, found := findDim(dims, inner.Name)
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find inner fuse dimension %q; %s",
			s.Name(), inner.Name, s.dumpArgumentList())
	}
	if oi == ii {
		return errors.Errorf("in schedule for %s, can't fuse %q with itself", s.Name(), dims[oi].Var)
	}
	if dims[oi].IsRVar() != dims[ii].IsRVar() {
		return errors.Errorf("in schedule for %s, can't fuse %q with %q: their kinds differ",
			s.Name(), dims[ii].Var, dims[oi].Var)
	}
	for i := range dims {
		if i != oi && i != ii && varNameMatch(dims[i].Var, fused.Name) {
			return errors.Wrapf(ErrNameCollision,
				"in schedule for %s, can't create var %q using fuse; %s",
				s.Name(), fused.Name, s.dumpArgumentList())
		}
	}

	outerName := dims[oi].Var
	outerKind := dims[oi].Kind
	dims = append(dims[:oi], dims[oi+1:]...)
	if ii > oi {
		ii--
	}
	innerName := dims[ii].Var
	fusedName := innerName + "." + fused.Name
	dims[ii].Var = fusedName
	if dims[ii].IsRVar() {
		// Fusing two reduction dimensions preserves purity only when
		// both alone determined a reduction step.
		if dims[ii].Kind == PureRVar && outerKind == PureRVar {
			dims[ii].Kind = PureRVar
		} else {
			dims[ii].Kind = ImpureRVar
		}
	}
	def.schedule.dims = dims

	def.schedule.splits = append(def.schedule.splits, Split{
		OldVar: fusedName,
		Outer:  outerName,
		Inner:  innerName,
		Exact:  true,
		Tail:   RoundUp,
		Kind:   FuseVars,
	})
	s.invalidate()
	s.logger().Debugf("in schedule for %s, fuse %s and %s into %s", s.Name(), outerName, innerName, fusedName)
	return nil
}

// Rename gives the dimension old the new name old.new. Where the
// history entry that defined old can be identified unambiguously the
// entry is rewritten in place; otherwise a Rename entry is appended.
func (s *Stage) Rename(old, newVar VarOrRVar) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if old.IsRVar != newVar.IsRVar {
		return errors.Errorf("in schedule for %s, can't rename %s to %s: pure and reduction variables don't mix",
			s.Name(), old.Name, newVar.Name)
	}
	def := s.definition()
	dims := def.schedule.dims

	idx, found := findDim(dims, old.Name)
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find rename dimension %q; %s",
			s.Name(), old.Name, s.dumpArgumentList())
	}
	for i := range dims {
		if i != idx && varNameMatch(dims[i].Var, newVar.Name) {
			return errors.Wrapf(ErrNameCollision,
				"in schedule for %s, can't rename %q to %q; %s",
				s.Name(), old.Name, newVar.Name, s.dumpArgumentList())
		}
	}
	oldName := dims[idx].Var
	newName := oldName + "." + newVar.Name

	// Scan the history backward for the entry that introduced oldName.
	// Rewriting it keeps the history compact; the scan also detects
	// variables a later entry already consumed.
	rewriteAt := -1
	var rewrite func(sp *Split)
	splits := def.schedule.splits
scan:
	for i := len(splits) - 1; i >= 0; i-- {
		sp := splits[i]
		switch sp.Kind {
		case FuseVars:
			if sp.Inner == oldName || sp.Outer == oldName {
				return errors.Wrapf(ErrDependentTransform,
					"in schedule for %s, can't rename %q: it has already been fused into %q",
					s.Name(), oldName, sp.OldVar)
			}
			if sp.OldVar == oldName {
				rewriteAt, rewrite = i, func(sp *Split) { sp.OldVar = newName }
				break scan
			}
		case SplitVar, RenameVar, PurifyRVar:
			if sp.Inner == oldName {
				rewriteAt, rewrite = i, func(sp *Split) { sp.Inner = newName }
				break scan
			}
			if sp.Outer == oldName {
				rewriteAt, rewrite = i, func(sp *Split) { sp.Outer = newName }
				break scan
			}
			if sp.OldVar == oldName {
				return errors.Wrapf(ErrDependentTransform,
					"in schedule for %s, can't rename %q: it has already been renamed or split",
					s.Name(), oldName)
			}
		}
	}

	dims[idx].Var = newName
	if rewriteAt >= 0 {
		rewrite(&def.schedule.splits[rewriteAt])
	} else {
		def.schedule.splits = append(def.schedule.splits, Split{
			OldVar: oldName,
			Outer:  newName,
			Exact:  old.IsRVar,
			Tail:   RoundUp,
			Kind:   RenameVar,
		})
	}
	s.invalidate()
	s.logger().Debugf("in schedule for %s, rename %s to %s", s.Name(), oldName, newName)
	return nil
}

// Purify converts the reduction variable old into the ordinary loop
// variable newVar. rfactor uses this to turn a kept reduction variable
// into a pure dimension of the intermediate stage.
func (s *Stage) Purify(old, newVar VarOrRVar) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if !old.IsRVar || newVar.IsRVar {
		return errors.Errorf("in schedule for %s, purify takes a reduction variable and a pure variable, got %s and %s",
			s.Name(), old.Name, newVar.Name)
	}
	def := s.definition()
	dims := def.schedule.dims

	idx, found := findDim(dims, old.Name)
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find purify dimension %q; %s",
			s.Name(), old.Name, s.dumpArgumentList())
	}
	for i := range dims {
		if i != idx && varNameMatch(dims[i].Var, newVar.Name) {
			return errors.Wrapf(ErrNameCollision,
				"in schedule for %s, can't purify %q to %q; %s",
				s.Name(), old.Name, newVar.Name, s.dumpArgumentList())
		}
	}
	oldName := dims[idx].Var
	dims[idx].Var = newVar.Name
	dims[idx].Kind = PureVar

	def.schedule.splits = append(def.schedule.splits, Split{
		OldVar: oldName,
		Outer:  newVar.Name,
		Tail:   RoundUp,
		Kind:   PurifyRVar,
	})
	s.invalidate()
	s.logger().Debugf("in schedule for %s, purify %s to %s", s.Name(), oldName, newVar.Name)
	return nil
}

// Reorder permutes the named dimensions into the given order, innermost
// first. Changing the relative order of two reduction dimensions
// requires the update's operator to be provably associative and
// commutative.
func (s *Stage) Reorder(vars ...VarOrRVar) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	def := s.definition()
	dims := def.schedule.dims

	idx := make([]int, len(vars))
	for i, v := range vars {
		j, found := findDim(dims, v.Name)
		if !found {
			return errors.Wrapf(ErrDimensionNotFound,
				"in schedule for %s, could not find var %q to reorder; %s",
				s.Name(), v.Name, s.dumpArgumentList())
		}
		for k := 0; k < i; k++ {
			if idx[k] == j {
				return errors.Errorf("in schedule for %s, reorder lists %q twice; %s",
					s.Name(), v.Name, s.dumpArgumentList())
			}
		}
		idx[i] = j
	}

	// Look for pairs of reduction dimensions whose relative order
	// changes. The first such pair triggers one associativity and
	// commutativity proof; the verdict is reused for the rest.
	proofDone := false
	proofOK := false
	for i := 0; i < len(idx); i++ {
		if !dims[idx[i]].IsRVar() {
			continue
		}
		for j := i + 1; j < len(idx); j++ {
			if !dims[idx[j]].IsRVar() || idx[i] <= idx[j] {
				continue
			}
			if !proofDone {
				fn := s.unit.function(s.fn)
				result := assoc.Prove(fn.name, def.args, def.values)
				proofOK = result.Associative && result.Commutative
				proofDone = true
			}
			if !proofOK {
				return errors.Wrapf(ErrUnsafeReorder,
					"in schedule for %s, can't reorder reduction variables %q and %q",
					s.Name(), vars[i].Name, vars[j].Name)
			}
		}
	}

	sorted := append([]int(nil), idx...)
	sortInts(sorted)
	newDims := append([]Dim(nil), dims...)
	for i := range vars {
		newDims[sorted[i]] = dims[idx[i]]
	}

	// If this stage is fused into another via compute_with, keep the
	// fuse level pointing at whatever dimension now occupies the fused
	// position.
	orig := s.originalDefinition()
	if fl := &orig.schedule.fuseLevel; fl.defined {
		newName := ""
		if p, found := findDim(dims, fl.Var); found {
			newName = newDims[p].Var
		}
		if newName == "" {
			newName = newDims[0].Var
		}
		if !varNameMatch(newName, fl.Var) {
			retargeted := unqualified(newName)
			for _, v := range vars {
				if varNameMatch(newName, v.Name) {
					retargeted = v.Name
					break
				}
			}
			s.logger().Debugf("in schedule for %s, reorder moves compute_with level from %s to %s",
				s.Name(), fl.Var, retargeted)
			fl.Var = retargeted
		}
	}

	def.schedule.dims = newDims
	s.invalidate()
	return nil
}

func sortInts(a []int) {
	// Insertion sort; dimension lists are tiny.
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

func unqualified(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

// setDimType tags a dimension with an iteration strategy, gating any
// strategy that would let reduction iterations race.
func (s *Stage) setDimType(v VarOrRVar, t ForType) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	def := s.definition()
	dims := def.schedule.dims

	idx, found := findDim(dims, v.Name)
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find dimension %q to mark as %s; %s",
			s.Name(), v.Name, t, s.dumpArgumentList())
	}

	if t == Vectorized {
		for i := range dims {
			if i != idx && dims[i].ForType == Vectorized {
				return errors.Wrapf(ErrMultipleVectorization,
					"in schedule for %s, can't vectorize across %q: already vectorized across %q",
					s.Name(), v.Name, dims[i].Var)
			}
		}
	}

	if dims[idx].IsRVar() && t.isParallel() {
		sched := &def.schedule
		if !sched.allowRaces {
			if sched.atomic {
				if !sched.overrideAtomicTest {
					fn := s.unit.function(s.fn)
					result := assoc.Prove(fn.name, def.args, def.values)
					if !result.Associative {
						return errors.Wrapf(ErrNotAssociative,
							"in schedule for %s, atomic update of %q", s.Name(), v.Name)
					}
					internalAssert(result.Size() == len(def.values),
						"prover returned %d patterns for %d values", result.Size(), len(def.values))
				}
			} else {
				return errors.Wrapf(ErrRaceCondition,
					"in schedule for %s, marking %q as %s; use atomic() if the operation is associative, or allow_race_conditions() to accept non-deterministic output",
					s.Name(), v.Name, t)
			}
		}
	}

	dims[idx].ForType = t
	s.invalidate()
	s.logger().Debugf("in schedule for %s, mark %s as %s", s.Name(), dims[idx].Var, t)
	return nil
}

// setDimDeviceAPI places a dimension on a device.
func (s *Stage) setDimDeviceAPI(v VarOrRVar, api DeviceAPI) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	def := s.definition()
	idx, found := findDim(def.schedule.dims, v.Name)
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find dimension %q to place on %s; %s",
			s.Name(), v.Name, api, s.dumpArgumentList())
	}
	def.schedule.dims[idx].DeviceAPI = api
	s.invalidate()
	return nil
}

// Serial marks a dimension for serial iteration.
func (s *Stage) Serial(v VarOrRVar) error { return s.setDimType(v, Serial) }

// Parallel marks a dimension for parallel iteration.
func (s *Stage) Parallel(v VarOrRVar) error { return s.setDimType(v, Parallel) }

// Vectorize marks a dimension for vectorized iteration. At most one
// dimension of a stage may be vectorized.
func (s *Stage) Vectorize(v VarOrRVar) error { return s.setDimType(v, Vectorized) }

// Unroll marks a dimension for unrolled iteration.
func (s *Stage) Unroll(v VarOrRVar) error { return s.setDimType(v, Unrolled) }

// ParallelBy splits off factor-sized chunks of v and iterates the
// chunks in parallel.
func (s *Stage) ParallelBy(v VarOrRVar, factor loft.Expr, tail ...TailStrategy) error {
	tmp := VarOrRVar{Name: s.unit.names.Fresh(unqualified(v.Name)), IsRVar: v.IsRVar}
	if err := s.Split(v, v, tmp, factor, tail...); err != nil {
		return err
	}
	return s.Parallel(v)
}

// VectorizeBy splits v by factor and vectorizes the new inner
// dimension.
func (s *Stage) VectorizeBy(v VarOrRVar, factor loft.Expr, tail ...TailStrategy) error {
	tmp := VarOrRVar{Name: s.unit.names.Fresh(unqualified(v.Name)), IsRVar: v.IsRVar}
	if err := s.Split(v, v, tmp, factor, tail...); err != nil {
		return err
	}
	return s.Vectorize(tmp)
}

// UnrollBy splits v by factor and unrolls the new inner dimension.
func (s *Stage) UnrollBy(v VarOrRVar, factor loft.Expr, tail ...TailStrategy) error {
	tmp := VarOrRVar{Name: s.unit.names.Fresh(unqualified(v.Name)), IsRVar: v.IsRVar}
	if err := s.Split(v, v, tmp, factor, tail...); err != nil {
		return err
	}
	return s.Unroll(tmp)
}

// Tile splits x and y by the given factors and reorders the two new
// inner dimensions innermost.
func (s *Stage) Tile(x, y, xo, yo, xi, yi VarOrRVar, xfactor, yfactor loft.Expr, tail ...TailStrategy) error {
	if err := s.Split(x, xo, xi, xfactor, tail...); err != nil {
		return err
	}
	if err := s.Split(y, yo, yi, yfactor, tail...); err != nil {
		return err
	}
	return s.Reorder(xi, yi, xo, yo)
}

// TileInner is Tile with the outer dimensions keeping the original
// names.
func (s *Stage) TileInner(x, y, xi, yi VarOrRVar, xfactor, yfactor loft.Expr, tail ...TailStrategy) error {
	if err := s.Split(x, x, xi, xfactor, tail...); err != nil {
		return err
	}
	if err := s.Split(y, y, yi, yfactor, tail...); err != nil {
		return err
	}
	return s.Reorder(xi, yi, x, y)
}

// GPUBlocks marks a dimension as a GPU block index.
func (s *Stage) GPUBlocks(v VarOrRVar, api ...DeviceAPI) error {
	if err := s.setDimDeviceAPI(v, deviceOrDefault(api)); err != nil {
		return err
	}
	return s.setDimType(v, GPUBlock)
}

// GPUThreads marks a dimension as a GPU thread index.
func (s *Stage) GPUThreads(v VarOrRVar, api ...DeviceAPI) error {
	if err := s.setDimDeviceAPI(v, deviceOrDefault(api)); err != nil {
		return err
	}
	return s.setDimType(v, GPUThread)
}

// GPULanes marks a dimension as a GPU warp lane index.
func (s *Stage) GPULanes(v VarOrRVar, api ...DeviceAPI) error {
	if err := s.setDimDeviceAPI(v, deviceOrDefault(api)); err != nil {
		return err
	}
	return s.setDimType(v, GPULane)
}

func deviceOrDefault(api []DeviceAPI) DeviceAPI {
	if len(api) > 0 {
		return api[0]
	}
	return DeviceCUDA
}

// AllowRaceConditions waives the race validator for this stage. Results
// may be non-deterministic; the engine never sets this itself.
func (s *Stage) AllowRaceConditions() error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.definition().schedule.allowRaces = true
	s.invalidate()
	return nil
}

// Atomic requests atomic accumulation for this stage. Unless override
// is set, a later parallelizing directive must still certify the update
// operator associative.
func (s *Stage) Atomic(overrideAssociativityTest bool) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	def := s.definition()
	def.schedule.atomic = true
	def.schedule.overrideAtomicTest = overrideAssociativityTest
	s.invalidate()
	return nil
}

// LoopLevel names a loop position: a dimension of one stage of another
// function.
type LoopLevel struct {
	Func       FuncID
	StageIndex int
	Var        string
}

// At builds the loop level for a dimension of the given stage.
func At(target *Stage, v VarOrRVar) LoopLevel {
	return LoopLevel{Func: target.fn, StageIndex: target.defIndex, Var: unqualified(v.Name)}
}

// ComputeWith interleaves this stage's loop nest with another stage's
// at the named loop level. A stage can be fused at one level only;
// calling ComputeWith again replaces the previous target with a
// warning. Stages with specializations cannot be fused.
func (s *Stage) ComputeWith(level LoopLevel, align LoopAlignStrategy) error {
	return s.ComputeWithAlign(level, map[string]LoopAlignStrategy{level.Var: align})
}

// ComputeWithAlign is ComputeWith with a per-variable alignment map.
func (s *Stage) ComputeWithAlign(level LoopLevel, align map[string]LoopAlignStrategy) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if level.Func == s.fn {
		return errors.Errorf("in schedule for %s, cannot compute with a loop of the same function", s.Name())
	}
	target := s.unit.function(level.Func)
	if level.Var == "" {
		return errors.Errorf("in schedule for %s, undefined loop level to compute with", s.Name())
	}

	// The fuse level lives on the original definition so that competing
	// compute_with directives on specialized variants are impossible.
	orig := s.originalDefinition()
	if len(orig.specializations) > 0 {
		return errors.Wrapf(ErrComputeWithSpecialization,
			"in schedule for %s, scheduled to be computed with %s.%s", s.Name(), target.name, level.Var)
	}
	if orig.schedule.fuseLevel.defined {
		s.logger().Warnf("%s already has a compute_with at %s.%s; replacing it with %s.%s",
			s.Name(), s.unit.function(orig.schedule.fuseLevel.Func).name, orig.schedule.fuseLevel.Var,
			target.name, level.Var)
	}
	orig.schedule.fuseLevel = FuseLoopLevel{
		Func:       level.Func,
		StageIndex: level.StageIndex,
		Var:        level.Var,
		Align:      align,
		defined:    true,
	}
	s.invalidate()
	return nil
}

// Specialize returns a handle to a conditional variant of this
// definition, creating it if the condition is new. The condition must
// be boolean and must not reference loop or reduction variables.
func (s *Stage) Specialize(condition loft.Expr) (*Stage, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if !loft.IsBoolean(condition) {
		return nil, errors.Errorf("in schedule for %s, specialization condition %s is not boolean", s.Name(), condition)
	}
	if free := loft.FreeVars(condition); !free.Empty() {
		return nil, errors.Errorf("in schedule for %s, specialization condition %s depends on variable %q",
			s.Name(), condition, free.Slice()[0])
	}
	orig := s.originalDefinition()
	if orig.schedule.fuseLevel.defined {
		return nil, errors.Wrapf(ErrComputeWithSpecialization,
			"in schedule for %s, stage is scheduled with compute_with", s.Name())
	}

	def := s.definition()
	for i, sp := range def.specializations {
		if loft.Equal(sp.Condition, condition) {
			return &Stage{unit: s.unit, fn: s.fn, defIndex: s.defIndex, specPath: append(append([]int(nil), s.specPath...), i)}, nil
		}
	}
	if n := len(def.specializations); n > 0 && def.specializations[n-1].FailureMessage != "" {
		return nil, errors.Errorf("in schedule for %s, cannot add specializations after specialize_fail", s.Name())
	}
	def.specializations = append(def.specializations, &Specialization{
		Condition: condition,
		Def:       cloneDefinition(def),
	})
	s.invalidate()
	return &Stage{unit: s.unit, fn: s.fn, defIndex: s.defIndex,
		specPath: append(append([]int(nil), s.specPath...), len(def.specializations)-1)}, nil
}

// SpecializeFail makes any input not covered by an earlier
// specialization a compile-time error. It must be the last
// specialization of the stage.
func (s *Stage) SpecializeFail(message string) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if message == "" {
		return errors.Errorf("in schedule for %s, specialize_fail requires a message", s.Name())
	}
	def := s.definition()
	if n := len(def.specializations); n > 0 && def.specializations[n-1].FailureMessage != "" {
		return errors.Errorf("in schedule for %s, only one specialize_fail may be defined", s.Name())
	}
	def.specializations = append(def.specializations, &Specialization{
		Condition:      loft.I(1),
		FailureMessage: message,
		Def:            cloneDefinition(def),
	})
	s.invalidate()
	return nil
}

// cloneDefinition deep-copies a definition for a new specialization.
// The clone shares no mutable state with the original.
func cloneDefinition(def *Definition) *Definition {
	out := &Definition{
		isInit:     def.isInit,
		args:       append([]loft.Expr(nil), def.args...),
		values:     append([]loft.Expr(nil), def.values...),
		predicates: append([]loft.Expr(nil), def.predicates...),
		schedule: StageSchedule{
			dims:               append([]Dim(nil), def.schedule.dims...),
			splits:             append([]Split(nil), def.schedule.splits...),
			rvars:              append([]ReductionVariable(nil), def.schedule.rvars...),
			fuseLevel:          def.schedule.fuseLevel,
			allowRaces:         def.schedule.allowRaces,
			atomic:             def.schedule.atomic,
			overrideAtomicTest: def.schedule.overrideAtomicTest,
		},
	}
	if len(def.schedule.fuseLevel.Align) > 0 {
		align := make(map[string]LoopAlignStrategy, len(def.schedule.fuseLevel.Align))
		for k, v := range def.schedule.fuseLevel.Align {
			align[k] = v
		}
		out.schedule.fuseLevel.Align = align
	}
	for _, sp := range def.specializations {
		out.specializations = append(out.specializations, &Specialization{
			Condition:      sp.Condition,
			FailureMessage: sp.FailureMessage,
			Def:            cloneDefinition(sp.Def),
		})
	}
	return out
}
