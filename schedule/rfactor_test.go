package schedule

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/loftlang/loft"
)

func TestRFactorLiftEverything(t *testing.T) {
	u := newTestUnit()
	_, stage := sumOver(t, u, "f", 8)
	intm, err := stage.RFactor()
	if err != nil {
		t.Fatalf("RFactor: %v", err)
	}
	if intm.Name() != "f_intm" {
		t.Errorf("intermediate name = %q", intm.Name())
	}
	if diff := cmp.Diff([]string{"x"}, intm.Args()); diff != "" {
		t.Errorf("intermediate args (-want +got):\n%s", diff)
	}

	// Intermediate: identity init, the whole reduction as its update.
	if got := intm.Stage().Values(); len(got) != 1 || !loft.Equal(got[0], loft.I(0)) {
		t.Errorf("intermediate init values = %v", got)
	}
	iu := intm.UpdateStage(0)
	if got := iu.RVars(); len(got) != 1 || got[0].Var != "r" {
		t.Errorf("intermediate rvars = %v", got)
	}
	wantVal := loft.Add(loft.StageCall("f_intm", loft.V("x")), loft.ExternCall("g", loft.V("r")))
	if got := iu.Values(); !loft.Equal(got[0], wantVal) {
		t.Errorf("intermediate update value = %s, want %s", got[0], wantVal)
	}

	// Original: reduction domain gone, folds the single partial.
	if got := stage.RVars(); len(got) != 0 {
		t.Errorf("original rvars = %v, want none", got)
	}
	wantVal = loft.Add(loft.StageCall("f", loft.V("x")), loft.StageCall("f_intm", loft.V("x")))
	if got := stage.Values(); !loft.Equal(got[0], wantVal) {
		t.Errorf("original update value = %s, want %s", got[0], wantVal)
	}
	if got := dimNames(stage.Dims()); !cmp.Equal([]string{"x"}, got) {
		t.Errorf("original dims = %v", got)
	}
}

func TestRFactorPreserved2D(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	stage, err := f.AddUpdate(
		NewRDom(RVarRange("rx", 0, 4), RVarRange("ry", 0, 8)),
		[]loft.Expr{loft.V("x")},
		loft.Add(loft.StageCall("f", loft.V("x")), loft.ExternCall("g", loft.V("rx"), loft.V("ry"))))
	if err != nil {
		t.Fatalf("AddUpdate: %v", err)
	}
	intm, err := stage.RFactor(RFactorPair{RVar: "ry", Var: "v"})
	if err != nil {
		t.Fatalf("RFactor: %v", err)
	}

	if diff := cmp.Diff([]string{"x", "v"}, intm.Args()); diff != "" {
		t.Errorf("intermediate args (-want +got):\n%s", diff)
	}
	iu := intm.UpdateStage(0)
	if got := iu.RVars(); len(got) != 1 || got[0].Var != "rx" {
		t.Errorf("intermediate rvars = %v, want rx only", got)
	}
	wantVal := loft.Add(
		loft.StageCall("f_intm", loft.V("x"), loft.V("v")),
		loft.ExternCall("g", loft.V("rx"), loft.V("v")))
	if got := iu.Values(); !loft.Equal(got[0], wantVal) {
		t.Errorf("intermediate value = %s, want %s", got[0], wantVal)
	}
	// The preserved dimension is pure on the intermediate.
	idx, found := findDim(iu.Dims(), "v")
	if !found || iu.Dims()[idx].Kind != PureVar {
		t.Fatalf("dims = %v", iu.Dims())
	}
	if err := iu.Parallel(V("v")); err != nil {
		t.Errorf("parallel over purified dim: %v", err)
	}

	// Original folds the partials over the preserved rvar.
	if got := stage.RVars(); len(got) != 1 || got[0].Var != "ry" {
		t.Errorf("original rvars = %v, want ry", got)
	}
	wantVal = loft.Add(
		loft.StageCall("f", loft.V("x")),
		loft.StageCall("f_intm", loft.V("x"), loft.V("ry")))
	if got := stage.Values(); !loft.Equal(got[0], wantVal) {
		t.Errorf("original value = %s, want %s", got[0], wantVal)
	}
	want := []string{"ry", "x"}
	if got := dimNames(stage.Dims()); !cmp.Equal(want, got) {
		t.Errorf("original dims = %v, want %v", got, want)
	}
}

func TestRFactorAfterSplit(t *testing.T) {
	u := newTestUnit()
	_, stage := sumOver(t, u, "f", 32)
	if err := stage.Split(R("r"), R("ro"), R("ri"), loft.I(8)); err != nil {
		t.Fatalf("Split: %v", err)
	}
	intm, err := stage.RFactor(RFactorPair{RVar: "ro", Var: "u"})
	if err != nil {
		t.Fatalf("RFactor: %v", err)
	}

	// The intermediate reduces over the leaf inner rvar, guarded by the
	// exact-split predicate rewritten in terms of u.
	iu := intm.UpdateStage(0)
	if got := iu.RVars(); len(got) != 1 || got[0].Var != "r.ri" {
		t.Errorf("intermediate rvars = %v", got)
	}
	if got := iu.Predicates(); len(got) != 1 {
		t.Errorf("intermediate predicates = %v", got)
	}
	// The original keeps the outer leaf rvar and no predicate: the
	// guard depends only on lifted variables.
	if got := stage.RVars(); len(got) != 1 || got[0].Var != "r.ro" {
		t.Errorf("original rvars = %v", got)
	}
	if got := stage.Predicates(); len(got) != 0 {
		t.Errorf("original predicates = %v", got)
	}
	// The split entry consumed by the factoring is gone from the
	// original's history.
	if got := stage.Splits(); len(got) != 0 {
		t.Errorf("original history = %v", got)
	}
}

func TestRFactorNonCommutativeOrdering(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	stage, err := f.AddUpdate(
		NewRDom(RVarRange("ra", 0, 4), RVarRange("rb", 0, 4)),
		[]loft.Expr{loft.V("x")},
		loft.Sub(loft.StageCall("f", loft.V("x")), loft.ExternCall("g", loft.V("ra"), loft.V("rb"))))
	if err != nil {
		t.Fatalf("AddUpdate: %v", err)
	}
	// Preserving the inner rvar would interleave the partial folds.
	if _, err := stage.RFactor(RFactorPair{RVar: "ra", Var: "u"}); !errors.Is(err, ErrNonCommutativeOrder) {
		t.Errorf("got %v, want ErrNonCommutativeOrder", err)
	}
	// Preserving the outer rvar keeps every partial contiguous.
	if _, err := stage.RFactor(RFactorPair{RVar: "rb", Var: "u"}); err != nil {
		t.Errorf("outer rfactor of subtraction: %v", err)
	}
}

func TestRFactorSubtractionMerge(t *testing.T) {
	u := newTestUnit()
	f, err := u.Define("f", []string{"x"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	stage, err := f.AddUpdate(
		NewRDom(RVarRange("ra", 0, 4), RVarRange("rb", 0, 4)),
		[]loft.Expr{loft.V("x")},
		loft.Sub(loft.StageCall("f", loft.V("x")), loft.ExternCall("g", loft.V("ra"), loft.V("rb"))))
	if err != nil {
		t.Fatalf("AddUpdate: %v", err)
	}
	intm, err := stage.RFactor(RFactorPair{RVar: "rb", Var: "u"})
	if err != nil {
		t.Fatalf("RFactor: %v", err)
	}

	// Each partial starts from 0 and subtracts its share, so it already
	// carries the negation.
	iu := intm.UpdateStage(0)
	wantVal := loft.Sub(
		loft.StageCall("f_intm", loft.V("x"), loft.V("u")),
		loft.ExternCall("g", loft.V("ra"), loft.V("u")))
	if got := iu.Values(); !loft.Equal(got[0], wantVal) {
		t.Errorf("intermediate value = %s, want %s", got[0], wantVal)
	}
	// Merging the partials must therefore add them, not subtract them:
	// x - a - b == (x - a) + (0 - b).
	wantVal = loft.Add(
		loft.StageCall("f", loft.V("x")),
		loft.StageCall("f_intm", loft.V("x"), loft.V("rb")))
	if got := stage.Values(); !loft.Equal(got[0], wantVal) {
		t.Errorf("merged value = %s, want %s", got[0], wantVal)
	}
}

func TestRFactorRejections(t *testing.T) {
	u := newTestUnit()
	f, stage := sumOver(t, u, "f", 8)
	if _, err := f.Stage().RFactor(); err == nil {
		t.Errorf("rfactor of init definition succeeded")
	}
	if _, err := stage.RFactor(RFactorPair{RVar: "q", Var: "u"}); !errors.Is(err, ErrDimensionNotFound) {
		t.Errorf("unknown rvar: got %v, want ErrDimensionNotFound", err)
	}
	if _, err := stage.RFactor(RFactorPair{RVar: "r", Var: "x"}); !errors.Is(err, ErrNameCollision) {
		t.Errorf("replacement shadows pure arg: got %v, want ErrNameCollision", err)
	}

	g, err := u.Define("h", []string{"x"}, loft.I(0))
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	hs, err := g.AddUpdate(NewRDom(RVarRange("r", 0, 8)),
		[]loft.Expr{loft.V("x")},
		loft.Div(loft.StageCall("h", loft.V("x")), loft.ExternCall("g", loft.V("r"))))
	if err != nil {
		t.Fatalf("AddUpdate: %v", err)
	}
	if _, err := hs.RFactor(); !errors.Is(err, ErrNotAssociative) {
		t.Errorf("uncertifiable rfactor: got %v, want ErrNotAssociative", err)
	}
}

func TestRFactorFreshIntermediateName(t *testing.T) {
	u := newTestUnit()
	if _, err := u.Define("f_intm", []string{"x"}, loft.I(0)); err != nil {
		t.Fatalf("Define: %v", err)
	}
	_, stage := sumOver(t, u, "f", 8)
	intm, err := stage.RFactor()
	if err != nil {
		t.Fatalf("RFactor: %v", err)
	}
	if intm.Name() == "f_intm" {
		t.Errorf("intermediate name collides with existing function")
	}
}
