package schedule

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/loftlang/loft"
	"github.com/pkg/errors"
)

// FuncID is the stable index of a function inside its compilation
// unit's arena. Handles hold ids, never direct pointers, so replacing a
// stage (as rfactor does) can never leave a dangling handle.
type FuncID int

// LoopAlignStrategy controls how a fused loop pair lines up iterations.
type LoopAlignStrategy int

const (
	AlignAuto LoopAlignStrategy = iota
	AlignStart
	AlignEnd
	NoAlign
)

// FuseLoopLevel records that a stage's loop nest is interleaved
// ("compute_with") at a named dimension of another stage. The reference
// is weak: a (function id, stage index, dimension name) triple resolved
// lazily, so cooperating stages never own each other.
type FuseLoopLevel struct {
	Func       FuncID
	StageIndex int
	Var        string
	Align      map[string]LoopAlignStrategy
	defined    bool
}

// Defined reports whether a compute_with target has been recorded.
func (f FuseLoopLevel) Defined() bool { return f.defined }

// StageSchedule is the mutable schedule state of one definition.
type StageSchedule struct {
	dims               []Dim
	splits             []Split
	rvars              []ReductionVariable
	fuseLevel          FuseLoopLevel
	allowRaces         bool
	atomic             bool
	overrideAtomicTest bool
}

// Specialization is a conditional variant of a definition.
type Specialization struct {
	Condition      loft.Expr
	FailureMessage string
	Def            *Definition
}

// Definition is one pure or update definition of a function, together
// with its schedule.
type Definition struct {
	isInit          bool
	args            []loft.Expr
	values          []loft.Expr
	predicates      []loft.Expr
	schedule        StageSchedule
	specializations []*Specialization
}

// Function is one symbolic multi-dimensional computation: a pure
// definition plus zero or more update definitions. Owned by the Unit
// arena; user code holds Func handles.
type Function struct {
	id          FuncID
	name        string
	pureArgs    []string
	init        Definition
	updates     []*Definition
	storageDims []string
}

// Options configures a compilation unit.
type Options struct {
	// LogLevel is one of "error", "warn", "info", "debug".
	LogLevel string
	// LogOutput receives log lines; os.Stderr if nil.
	LogOutput io.Writer
	// Logger overrides LogLevel/LogOutput with a caller-supplied
	// implementation.
	Logger Logger
}

// DefaultOptions returns the default unit configuration: warnings and
// errors only.
func DefaultOptions() Options {
	return Options{LogLevel: "warn"}
}

// Unit is one compilation unit: the arena owning every function, the
// per-unit naming context, the compiled-artifact cache, and the logger.
// A Unit and everything in it is single-threaded; directives are atomic
// synchronous mutations.
type Unit struct {
	id     string
	funcs  []*Function
	names  *loft.NameContext
	logger Logger
	cache  *artifactCache
	locked bool
}

// NewUnit creates an empty compilation unit.
func NewUnit(opts ...Options) *Unit {
	opt := DefaultOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	logger := opt.Logger
	if logger == nil {
		if opt.LogLevel == "" {
			logger = newNoopLogger()
		} else {
			logger = NewLogger(ParseLogLevel(opt.LogLevel), opt.LogOutput)
		}
	}
	u := &Unit{
		id:     uuid.New().String(),
		names:  loft.NewNameContext(),
		cache:  newArtifactCache(),
		logger: logger,
	}
	u.logger = u.logger.With(map[string]any{"unit": u.id[:8]})
	return u
}

// ID returns the unit's unique identity.
func (u *Unit) ID() string { return u.id }

// Names returns the unit's naming context.
func (u *Unit) Names() *loft.NameContext { return u.names }

// Lock freezes every schedule in the unit. Lowering calls this once;
// any directive issued afterwards fails with ErrScheduleLocked.
func (u *Unit) Lock() { u.locked = true }

// Locked reports whether lowering has begun.
func (u *Unit) Locked() bool { return u.locked }

func (u *Unit) function(id FuncID) *Function {
	internalAssert(int(id) >= 0 && int(id) < len(u.funcs), "function id %d out of range", id)
	return u.funcs[id]
}

// Define creates a function from its pure definition: argument names
// and one value per tuple slot.
func (u *Unit) Define(name string, args []string, values ...loft.Expr) (*Func, error) {
	if u.locked {
		return nil, errors.Wrapf(ErrScheduleLocked, "defining %q", name)
	}
	if len(values) == 0 {
		return nil, errors.Errorf("function %q must have at least one value", name)
	}
	for _, fn := range u.funcs {
		if fn.name == name {
			return nil, errors.Errorf("function %q is already defined in this unit", name)
		}
	}
	seen := map[string]bool{}
	for _, a := range args {
		if seen[a] {
			return nil, errors.Wrapf(ErrNameCollision, "in pure definition of %q, duplicate argument %q", name, a)
		}
		seen[a] = true
	}

	fn := &Function{
		id:          FuncID(len(u.funcs)),
		name:        name,
		pureArgs:    append([]string(nil), args...),
		storageDims: append([]string(nil), args...),
	}
	fn.init = Definition{
		isInit: true,
		values: append([]loft.Expr(nil), values...),
	}
	for _, a := range args {
		fn.init.args = append(fn.init.args, loft.V(a))
		fn.init.schedule.dims = append(fn.init.schedule.dims, Dim{Var: a, Kind: PureVar, ForType: Serial})
	}
	u.funcs = append(u.funcs, fn)
	u.names.Reserve(name)
	u.logger.Debugf("defined %s over %v", name, args)
	return &Func{unit: u, id: fn.id}, nil
}

// freshFuncName returns base if unused in the unit, else a fresh
// derived name.
func (u *Unit) freshFuncName(base string) string {
	taken := false
	for _, fn := range u.funcs {
		if fn.name == base {
			taken = true
			break
		}
	}
	if !taken {
		return base
	}
	return u.names.Fresh(base)
}

// Func is a lightweight handle to a function in the arena. Multiple
// handles may reference the same function; directives through any of
// them mutate the same schedule state.
type Func struct {
	unit *Unit
	id   FuncID
}

// Name returns the function's name.
func (f *Func) Name() string { return f.unit.function(f.id).name }

// ID returns the function's arena id.
func (f *Func) ID() FuncID { return f.id }

// Args returns the function's pure argument names.
func (f *Func) Args() []string {
	return append([]string(nil), f.unit.function(f.id).pureArgs...)
}

// NumUpdates returns the number of update definitions.
func (f *Func) NumUpdates() int { return len(f.unit.function(f.id).updates) }

// Stage returns a handle to the schedule of the pure (init) definition.
func (f *Func) Stage() *Stage {
	return &Stage{unit: f.unit, fn: f.id, defIndex: 0}
}

// UpdateStage returns a handle to the schedule of update definition i.
func (f *Func) UpdateStage(i int) *Stage {
	fn := f.unit.function(f.id)
	internalAssert(i >= 0 && i < len(fn.updates), "update index %d out of range for %s", i, fn.name)
	return &Stage{unit: f.unit, fn: f.id, defIndex: i + 1}
}

// AddUpdate adds an update definition iterating dom. args are the store
// coordinates (pure variables or expressions of reduction variables);
// values may reference the function itself.
func (f *Func) AddUpdate(dom *RDom, args []loft.Expr, values ...loft.Expr) (*Stage, error) {
	u := f.unit
	fn := u.function(f.id)
	if u.locked {
		return nil, errors.Wrapf(ErrScheduleLocked, "adding update to %q", fn.name)
	}
	if len(args) != len(fn.pureArgs) {
		return nil, errors.Errorf("update of %q has %d arguments, but %q was defined with %d",
			fn.name, len(args), fn.name, len(fn.pureArgs))
	}
	if len(values) != len(fn.init.values) {
		return nil, errors.Errorf("update of %q has %d values, but %q was defined with %d",
			fn.name, len(values), fn.name, len(fn.init.values))
	}

	def := &Definition{
		args:   append([]loft.Expr(nil), args...),
		values: append([]loft.Expr(nil), values...),
	}
	if dom != nil {
		def.schedule.rvars = dom.Vars()
		def.predicates = dom.Predicates()
	}

	// Dimension list, innermost first: the reduction domain is the
	// innermost loop nest by default, pure variables wrap it.
	seen := map[string]bool{}
	for _, rv := range def.schedule.rvars {
		if seen[rv.Var] {
			return nil, errors.Wrapf(ErrNameCollision, "in update of %q, duplicate reduction variable %q", fn.name, rv.Var)
		}
		seen[rv.Var] = true
		def.schedule.dims = append(def.schedule.dims, Dim{Var: rv.Var, Kind: PureRVar, ForType: Serial})
	}
	for _, a := range args {
		v, ok := a.(loft.Var)
		if !ok || seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		def.schedule.dims = append(def.schedule.dims, Dim{Var: v.Name, Kind: PureVar, ForType: Serial})
	}

	fn.updates = append(fn.updates, def)
	u.cache.invalidate()
	u.logger.Debugf("added update %d to %s", len(fn.updates)-1, fn.name)
	return &Stage{unit: u, fn: f.id, defIndex: len(fn.updates)}, nil
}

// Stage is a handle to one definition's schedule: (unit, function id,
// definition index, specialization path). defIndex 0 is the pure
// definition; i > 0 is update i-1.
type Stage struct {
	unit     *Unit
	fn       FuncID
	defIndex int
	specPath []int
}

func (s *Stage) definition() *Definition {
	fn := s.unit.function(s.fn)
	var def *Definition
	if s.defIndex == 0 {
		def = &fn.init
	} else {
		internalAssert(s.defIndex <= len(fn.updates), "definition index %d out of range for %s", s.defIndex, fn.name)
		def = fn.updates[s.defIndex-1]
	}
	for _, i := range s.specPath {
		internalAssert(i >= 0 && i < len(def.specializations), "corrupt specialization path for %s", fn.name)
		def = def.specializations[i].Def
	}
	return def
}

// originalDefinition resolves the handle ignoring the specialization
// path: the unspecialized definition compute_with anchors to.
func (s *Stage) originalDefinition() *Definition {
	fn := s.unit.function(s.fn)
	if s.defIndex == 0 {
		return &fn.init
	}
	return fn.updates[s.defIndex-1]
}

// Name returns the stage's display name, e.g. "f" or "f.update(0)".
func (s *Stage) Name() string {
	fn := s.unit.function(s.fn)
	if s.defIndex == 0 {
		return fn.name
	}
	return fmt.Sprintf("%s.update(%d)", fn.name, s.defIndex-1)
}

// Dims returns a copy of the stage's dimension list, innermost first.
func (s *Stage) Dims() []Dim {
	return append([]Dim(nil), s.definition().schedule.dims...)
}

// Splits returns a copy of the stage's split history.
func (s *Stage) Splits() []Split {
	return append([]Split(nil), s.definition().schedule.splits...)
}

// RVars returns a copy of the stage's reduction variables in iteration
// order.
func (s *Stage) RVars() []ReductionVariable {
	return append([]ReductionVariable(nil), s.definition().schedule.rvars...)
}

// Args returns a copy of the definition's store coordinates.
func (s *Stage) Args() []loft.Expr {
	return append([]loft.Expr(nil), s.definition().args...)
}

// Values returns a copy of the definition's values.
func (s *Stage) Values() []loft.Expr {
	return append([]loft.Expr(nil), s.definition().values...)
}

// Predicates returns a copy of the reduction-domain predicates.
func (s *Stage) Predicates() []loft.Expr {
	return append([]loft.Expr(nil), s.definition().predicates...)
}

// FuseLevel returns the stage's compute_with record, if any.
func (s *Stage) FuseLevel() FuseLoopLevel {
	return s.originalDefinition().schedule.fuseLevel
}

// Func returns a handle to the stage's function.
func (s *Stage) Func() *Func {
	return &Func{unit: s.unit, id: s.fn}
}

func (s *Stage) logger() Logger { return s.unit.logger }

// checkMutable gates every directive: schedules are immutable once
// lowering begins.
func (s *Stage) checkMutable() error {
	if s.unit.locked {
		return errors.Wrapf(ErrScheduleLocked, "in schedule for %s", s.Name())
	}
	return nil
}

// invalidate drops cached artifacts after a mutation so no stale
// compiled schedule is ever returned.
func (s *Stage) invalidate() {
	s.unit.cache.invalidate()
}

// dumpArgumentList renders the current dimension names for error
// messages.
func (s *Stage) dumpArgumentList() string {
	out := "vars:"
	for _, d := range s.definition().schedule.dims {
		out += " " + d.Var
	}
	return out
}
