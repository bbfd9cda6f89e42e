package schedule

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/loftlang/loft"
)

func TestSplitDims(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x", "y"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := f.Stage().Split(V("x"), V("xo"), V("xi"), loft.I(8)); err != nil {
		t.Fatalf("Split: %v", err)
	}
	want := []string{"x.xi", "x.xo", "y"}
	if got := dimNames(f.Stage().Dims()); !cmp.Equal(want, got) {
		t.Errorf("dims = %v, want %v", got, want)
	}

	splits := f.Stage().Splits()
	if len(splits) != 1 {
		t.Fatalf("splits = %v", splits)
	}
	sp := splits[0]
	if sp.Kind != SplitVar || sp.OldVar != "x" || sp.Outer != "x.xo" || sp.Inner != "x.xi" {
		t.Errorf("history entry = %+v", sp)
	}
	if !loft.Equal(sp.Factor, loft.I(8)) {
		t.Errorf("factor = %s", sp.Factor)
	}
}

func TestSplitReusesOldName(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	// split(x, x, xi) keeps x as the outer loop.
	if err := f.Stage().Split(V("x"), V("x"), V("xi"), loft.I(4)); err != nil {
		t.Fatalf("Split: %v", err)
	}
	want := []string{"x.xi", "x.x"}
	if got := dimNames(f.Stage().Dims()); !cmp.Equal(want, got) {
		t.Errorf("dims = %v, want %v", got, want)
	}
}

func TestSplitNameCollision(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x", "y"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := f.Stage().Split(V("x"), V("y"), V("xi"), loft.I(4)); !errors.Is(err, ErrNameCollision) {
		t.Errorf("collision with y: got %v, want ErrNameCollision", err)
	}
	if err := f.Stage().Split(V("z"), V("zo"), V("zi"), loft.I(4)); !errors.Is(err, ErrDimensionNotFound) {
		t.Errorf("split of unknown var: got %v, want ErrDimensionNotFound", err)
	}
}

func TestSplitTailDefaults(t *testing.T) {
	u := newTestUnit()
	f, stage := sumOver(t, u, "f", 32)

	// Init definitions default to ShiftInwards.
	if err := f.Stage().Split(V("x"), V("xo"), V("xi"), loft.I(8)); err != nil {
		t.Fatalf("init split: %v", err)
	}
	if got := f.Stage().Splits()[0].Tail; got != ShiftInwards {
		t.Errorf("init split tail = %s, want ShiftInwards", got)
	}

	// A second split of a descendant with a factor the earlier one
	// provably covers switches to RoundUp.
	if err := f.Stage().Split(V("xo"), V("xoo"), V("xoi"), loft.I(4)); err != nil {
		t.Fatalf("second init split: %v", err)
	}
	if got := f.Stage().Splits()[1].Tail; got != RoundUp {
		t.Errorf("nested init split tail = %s, want RoundUp", got)
	}

	// Update definitions default to RoundUp on pure vars...
	if err := stage.Split(V("x"), V("xo"), V("xi"), loft.I(8)); err != nil {
		t.Fatalf("update split: %v", err)
	}
	if got := stage.Splits()[0].Tail; got != RoundUp {
		t.Errorf("update split tail = %s, want RoundUp", got)
	}
	// ...but a nested split of a derived inner var may recompute, so it
	// falls back to GuardWithIf.
	if err := stage.Split(V("xi"), V("xio"), V("xii"), loft.I(2)); err != nil {
		t.Fatalf("nested update split: %v", err)
	}
	if got := stage.Splits()[1].Tail; got != GuardWithIf {
		t.Errorf("nested update split tail = %s, want GuardWithIf", got)
	}

	// Reduction splits are exact and default to GuardWithIf.
	if err := stage.Split(R("r"), R("ro"), R("ri"), loft.I(4)); err != nil {
		t.Fatalf("rvar split: %v", err)
	}
	rsp := stage.Splits()[2]
	if rsp.Tail != GuardWithIf || !rsp.Exact {
		t.Errorf("rvar split = %+v, want exact GuardWithIf", rsp)
	}
}

func TestSplitTailRejections(t *testing.T) {
	u := newTestUnit()
	_, stage := sumOver(t, u, "f", 32)

	// ShiftInwards may recompute, which is illegal in an update.
	if err := stage.Split(V("x"), V("xo"), V("xi"), loft.I(8), ShiftInwards); !errors.Is(err, ErrInvalidTailStrategy) {
		t.Errorf("ShiftInwards on update: got %v, want ErrInvalidTailStrategy", err)
	}
	// An exact (reduction) split admits only GuardWithIf.
	if err := stage.Split(R("r"), R("ro"), R("ri"), loft.I(4), RoundUp); !errors.Is(err, ErrInvalidTailStrategy) {
		t.Errorf("RoundUp on rvar: got %v, want ErrInvalidTailStrategy", err)
	}
	// RoundUp on a derived inner var of an update may recompute.
	if err := stage.Split(V("x"), V("xo"), V("xi"), loft.I(8)); err != nil {
		t.Fatalf("split: %v", err)
	}
	if err := stage.Split(V("xi"), V("xio"), V("xii"), loft.I(2), RoundUp); !errors.Is(err, ErrInvalidTailStrategy) {
		t.Errorf("RoundUp on inner: got %v, want ErrInvalidTailStrategy", err)
	}
	// A rejected directive leaves no trace.
	if n := len(stage.Splits()); n != 1 {
		t.Errorf("history length = %d after rejections, want 1", n)
	}
	// Mixing pure and reduction variables is rejected outright.
	if err := stage.Split(R("r"), V("ro"), R("ri"), loft.I(4)); err == nil {
		t.Errorf("mixed-kind split succeeded")
	}
}

func TestSplitKindInherited(t *testing.T) {
	u := newTestUnit()
	_, stage := sumOver(t, u, "f", 32)
	if err := stage.Split(R("r"), R("ro"), R("ri"), loft.I(4)); err != nil {
		t.Fatalf("Split: %v", err)
	}
	for _, d := range stage.Dims() {
		if d.Var == "r.ri" || d.Var == "r.ro" {
			if d.Kind != PureRVar {
				t.Errorf("%s kind = %s, want PureRVar", d.Var, d.Kind)
			}
		}
	}
}

func TestFuse(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x", "y"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := f.Stage().Fuse(V("x"), V("y"), V("t")); err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	want := []string{"x.t"}
	if got := dimNames(f.Stage().Dims()); !cmp.Equal(want, got) {
		t.Errorf("dims = %v, want %v", got, want)
	}
	sp := f.Stage().Splits()[0]
	if sp.Kind != FuseVars || sp.OldVar != "x.t" || sp.Outer != "y" || sp.Inner != "x" {
		t.Errorf("history entry = %+v", sp)
	}
}

func TestSplitThenFuseRestoresShape(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x", "y"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	s := f.Stage()
	if err := s.Split(V("x"), V("xo"), V("xi"), loft.I(8)); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if err := s.Fuse(V("xi"), V("xo"), V("x")); err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	// One dimension again, addressable by the original name.
	if got := dimNames(s.Dims()); len(got) != 2 {
		t.Fatalf("dims = %v", got)
	}
	if _, found := findDim(s.Dims(), "x"); !found {
		t.Errorf("fused dimension not addressable as x: %v", dimNames(s.Dims()))
	}
	// Both operations stay on the record.
	if n := len(s.Splits()); n != 2 {
		t.Errorf("history length = %d, want 2", n)
	}
}

func TestFuseRVarKindMerge(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	stage, err := f.AddUpdate(
		NewRDom(RVarRange("rx", 0, 4), RVarRange("ry", 0, 4)),
		[]loft.Expr{loft.V("x")},
		loft.Add(loft.StageCall("f", loft.V("x")), loft.ExternCall("g", loft.V("rx"), loft.V("ry"))))
	if err != nil {
		t.Fatalf("AddUpdate: %v", err)
	}
	if err := stage.Fuse(R("rx"), R("ry"), R("rf")); err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	d := stage.Dims()[0]
	if d.Kind != PureRVar {
		t.Errorf("fusing two pure rvars gives %s, want PureRVar", d.Kind)
	}
	// Fusing an rvar with a pure var is rejected.
	if err := stage.Fuse(R("rf"), R("x"), R("q")); err == nil {
		t.Errorf("fusing rvar with pure dim succeeded")
	}
}
