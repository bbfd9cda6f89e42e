package assoc

import (
	"testing"

	"github.com/loftlang/loft"
)

func selfRef(args ...loft.Expr) loft.Expr {
	return loft.StageCall("f", args...)
}

func TestProveCommutativeFolds(t *testing.T) {
	args := []loft.Expr{loft.V("x")}
	cases := []struct {
		name     string
		value    loft.Expr
		identity loft.Expr
	}{
		{"sum", loft.Add(selfRef(loft.V("x")), loft.ExternCall("g", loft.V("r"))), loft.I(0)},
		{"sum flipped", loft.Add(loft.ExternCall("g", loft.V("r")), selfRef(loft.V("x"))), loft.I(0)},
		{"product", loft.Mul(selfRef(loft.V("x")), loft.V("r")), loft.I(1)},
		{"max", loft.Max(selfRef(loft.V("x")), loft.ExternCall("g", loft.V("r"))), nil},
		{"min", loft.Min(loft.ExternCall("g", loft.V("r")), selfRef(loft.V("x"))), nil},
	}
	for _, c := range cases {
		res := Prove("f", args, []loft.Expr{c.value})
		if !res.Associative || !res.Commutative {
			t.Errorf("%s: not certified associative+commutative", c.name)
			continue
		}
		if res.Size() != 1 {
			t.Errorf("%s: %d patterns, want 1", c.name, res.Size())
			continue
		}
		if c.identity != nil && !loft.Equal(res.Patterns[0].Identity, c.identity) {
			t.Errorf("%s: identity = %s, want %s", c.name, res.Patterns[0].Identity, c.identity)
		}
	}
}

func TestProveSubtraction(t *testing.T) {
	args := []loft.Expr{loft.V("x")}
	res := Prove("f", args, []loft.Expr{loft.Sub(selfRef(loft.V("x")), loft.ExternCall("g", loft.V("r")))})
	if !res.Associative {
		t.Fatalf("subtraction not certified associative")
	}
	if res.Commutative {
		t.Fatalf("subtraction certified commutative")
	}
	if !loft.Equal(res.Patterns[0].Identity, loft.I(0)) {
		t.Errorf("identity = %s, want 0", res.Patterns[0].Identity)
	}
	// The negation lives in the contribution, so partial folds merge
	// with addition: x - a - b == (x - a) + (0 - b).
	wantOp := loft.Add(loft.V(OperandX), loft.V(OperandY))
	if !loft.Equal(res.Patterns[0].Op, wantOp) {
		t.Errorf("merge op = %s, want %s", res.Patterns[0].Op, wantOp)
	}
	// other - self is not the recognized shape.
	res = Prove("f", args, []loft.Expr{loft.Sub(loft.ExternCall("g", loft.V("r")), selfRef(loft.V("x")))})
	if res.Associative {
		t.Errorf("g(r) - f(x) certified")
	}
}

func TestProveRefusals(t *testing.T) {
	args := []loft.Expr{loft.V("x")}
	cases := []struct {
		name  string
		value loft.Expr
	}{
		{"overwrite", loft.ExternCall("g", loft.V("r"))},
		{"division", loft.Div(selfRef(loft.V("x")), loft.V("r"))},
		{"self on both sides", loft.Add(selfRef(loft.V("x")), selfRef(loft.V("x")))},
		{"self at shifted coords", loft.Add(loft.StageCall("f", loft.Add(loft.V("x"), loft.I(1))), loft.V("r"))},
		{"self buried in contribution", loft.Add(selfRef(loft.V("x")), loft.ExternCall("g", selfRef(loft.V("x"))))},
	}
	for _, c := range cases {
		if res := Prove("f", args, []loft.Expr{c.value}); res.Associative {
			t.Errorf("%s: certified, want refusal", c.name)
		}
	}
}

func TestProveTuple(t *testing.T) {
	args := []loft.Expr{loft.V("x")}
	sum := loft.Add(loft.StageCall("f", loft.V("x")), loft.V("r"))
	res := Prove("f", args, []loft.Expr{sum, sum})
	if !res.Associative || res.Size() != 2 {
		t.Fatalf("tuple of sums not certified: %+v", res)
	}
	// One bad slot poisons the whole verdict.
	res = Prove("f", args, []loft.Expr{sum, loft.ExternCall("g", loft.V("r"))})
	if res.Associative {
		t.Errorf("tuple with overwrite slot certified")
	}
}
