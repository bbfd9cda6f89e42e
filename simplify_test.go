package loft

import (
	"testing"
)

func TestSimplifyFolding(t *testing.T) {
	cases := []struct {
		expr Expr
		want Expr
	}{
		{Add(I(2), I(3)), I(5)},
		{Sub(I(2), I(3)), I(-1)},
		{Mul(I(4), I(8)), I(32)},
		{Div(I(9), I(2)), I(4)},
		{Div(I(-9), I(2)), I(-5)}, // floor division
		{Mod(I(-1), I(8)), I(7)},
		{Min(I(3), I(7)), I(3)},
		{Max(I(3), I(7)), I(7)},
		{Add(V("x"), I(0)), V("x")},
		{Add(I(0), V("x")), V("x")},
		{Sub(V("x"), I(0)), V("x")},
		{Sub(V("x"), V("x")), I(0)},
		{Mul(V("x"), I(1)), V("x")},
		{Mul(I(0), V("x")), I(0)},
		{Div(V("x"), I(1)), V("x")},
		{Min(V("x"), V("x")), V("x")},
		{LE(I(3), I(3)), I(1)},
		{LT(I(4), I(3)), I(0)},
	}
	for _, c := range cases {
		if got := Simplify(c.expr); !Equal(got, c.want) {
			t.Errorf("Simplify(%s) = %s, want %s", c.expr, got, c.want)
		}
	}
}

func TestSimplifyRecurses(t *testing.T) {
	// (x + 0) * (3 - 3) folds all the way to 0.
	e := Mul(Add(V("x"), I(0)), Sub(I(3), I(3)))
	if got := Simplify(e); !Equal(got, I(0)) {
		t.Errorf("Simplify(%s) = %s, want 0", e, got)
	}
	// Call arguments simplify too.
	e = StageCall("f", Add(V("x"), I(0)))
	if got := Simplify(e); !Equal(got, StageCall("f", V("x"))) {
		t.Errorf("Simplify(%s) = %s", e, got)
	}
}

func TestSimplifyDivByZeroUnfolded(t *testing.T) {
	e := Div(I(1), I(0))
	if got := Simplify(e); !Equal(got, e) {
		t.Errorf("division by zero folded to %s", got)
	}
}

func TestConstValue(t *testing.T) {
	if v, ok := ConstValue(Add(Mul(I(2), I(3)), I(1))); !ok || v != 7 {
		t.Errorf("ConstValue = %d, %v, want 7, true", v, ok)
	}
	if _, ok := ConstValue(Add(V("x"), I(1))); ok {
		t.Errorf("non-constant expression reported constant")
	}
}

func TestCanProveGE(t *testing.T) {
	if !CanProveGE(I(8), I(4)) {
		t.Errorf("8 >= 4 not provable")
	}
	if !CanProveGE(I(4), I(4)) {
		t.Errorf("4 >= 4 not provable")
	}
	if CanProveGE(I(3), I(4)) {
		t.Errorf("3 >= 4 proved")
	}
	// Unknown must be false, never a guess.
	if CanProveGE(V("n"), I(4)) {
		t.Errorf("symbolic comparison proved")
	}
}
