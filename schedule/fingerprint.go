package schedule

import (
	"crypto/sha256"
	"fmt"

	"github.com/loftlang/loft"
	"gopkg.in/yaml.v3"
)

// Schedule fingerprinting: a deterministic hex digest of a function's
// full schedule state (definitions, dimension lists, split histories,
// reduction domains, flags). Two functions with identical schedules
// fingerprint identically; any directive changes the fingerprint.
// Digests are cached per function and dropped by the same
// invalidate-on-write discipline as compiled artifacts.

type canonSplit struct {
	Kind   string `yaml:"kind"`
	Old    string `yaml:"old"`
	Outer  string `yaml:"outer"`
	Inner  string `yaml:"inner,omitempty"`
	Factor string `yaml:"factor,omitempty"`
	Exact  bool   `yaml:"exact,omitempty"`
	Tail   string `yaml:"tail"`
}

type canonDim struct {
	Var     string `yaml:"var"`
	Kind    string `yaml:"kind"`
	ForType string `yaml:"for"`
	Device  string `yaml:"device,omitempty"`
}

type canonRVar struct {
	Var    string `yaml:"var"`
	Min    string `yaml:"min"`
	Extent string `yaml:"extent"`
}

type canonDef struct {
	Args       []string     `yaml:"args"`
	Values     []string     `yaml:"values"`
	Predicates []string     `yaml:"predicates,omitempty"`
	Dims       []canonDim   `yaml:"dims"`
	Splits     []canonSplit `yaml:"splits,omitempty"`
	RVars      []canonRVar  `yaml:"rvars,omitempty"`
	AllowRaces bool         `yaml:"allow_races,omitempty"`
	Atomic     bool         `yaml:"atomic,omitempty"`
	FusedAt    string       `yaml:"fused_at,omitempty"`
}

type canonFunc struct {
	Name    string     `yaml:"name"`
	Args    []string   `yaml:"pure_args"`
	Storage []string   `yaml:"storage"`
	Init    canonDef   `yaml:"init"`
	Updates []canonDef `yaml:"updates,omitempty"`
}

// Fingerprint returns the function's schedule digest.
func (u *Unit) Fingerprint(f *Func) string {
	if sum, ok := u.cache.fingerprints[f.id]; ok {
		return sum
	}
	doc := canonicalizeFunc(u.function(f.id))
	data, err := yaml.Marshal(doc)
	internalAssert(err == nil, "canonical schedule failed to marshal: %v", err)
	sum := fmt.Sprintf("%x", sha256.Sum256(data))
	u.cache.fingerprints[f.id] = sum
	return sum
}

func canonicalizeFunc(fn *Function) canonFunc {
	doc := canonFunc{
		Name:    fn.name,
		Args:    fn.pureArgs,
		Storage: fn.storageDims,
		Init:    canonicalizeDef(&fn.init),
	}
	for _, def := range fn.updates {
		doc.Updates = append(doc.Updates, canonicalizeDef(def))
	}
	return doc
}

func canonicalizeDef(def *Definition) canonDef {
	out := canonDef{
		Args:       exprStrings(def.args),
		Values:     exprStrings(def.values),
		Predicates: exprStrings(def.predicates),
		AllowRaces: def.schedule.allowRaces,
		Atomic:     def.schedule.atomic,
	}
	for _, d := range def.schedule.dims {
		cd := canonDim{Var: d.Var, Kind: d.Kind.String(), ForType: d.ForType.String()}
		if d.DeviceAPI != DeviceNone {
			cd.Device = d.DeviceAPI.String()
		}
		out.Dims = append(out.Dims, cd)
	}
	for _, s := range def.schedule.splits {
		cs := canonSplit{
			Kind:  s.Kind.String(),
			Old:   s.OldVar,
			Outer: s.Outer,
			Inner: s.Inner,
			Exact: s.Exact,
			Tail:  s.Tail.String(),
		}
		if s.Factor != nil {
			cs.Factor = s.Factor.String()
		}
		out.Splits = append(out.Splits, cs)
	}
	for _, rv := range def.schedule.rvars {
		out.RVars = append(out.RVars, canonRVar{Var: rv.Var, Min: rv.Min.String(), Extent: rv.Extent.String()})
	}
	if def.schedule.fuseLevel.defined {
		out.FusedAt = fmt.Sprintf("%d/%d/%s", def.schedule.fuseLevel.Func,
			def.schedule.fuseLevel.StageIndex, def.schedule.fuseLevel.Var)
	}
	return out
}

func exprStrings(exprs []loft.Expr) []string {
	if len(exprs) == 0 {
		return nil
	}
	out := make([]string, len(exprs))
	for i, e := range exprs {
		out[i] = e.String()
	}
	return out
}
