package schedule

import (
	"strings"

	"github.com/pkg/errors"
)

// matchRemoved matches a split-history name against a removed
// dimension name; both sides may be qualified.
func matchRemoved(removed []string, name string) bool {
	for _, rv := range removed {
		if rv == name || strings.HasSuffix(rv, "."+name) {
			return true
		}
	}
	return false
}

// removeDimension erases a dimension from the stage and scrubs the
// split history of every entry that only existed to produce it. rfactor
// uses this to strip lifted reduction variables from the original
// stage. A dimension that a later entry already consumed cannot be
// removed.
func (s *Stage) removeDimension(name string) error {
	def := s.definition()
	dims := def.schedule.dims

	// The name may be fully qualified (rfactor passes leaf dimension
	// names), so try an exact match before suffix matching.
	idx, found := -1, false
	for i := range dims {
		if dims[i].Var == name {
			idx, found = i, true
			break
		}
	}
	if !found && !strings.Contains(name, ".") {
		idx, found = findDim(dims, name)
	}
	if !found {
		return errors.Wrapf(ErrDimensionNotFound,
			"in schedule for %s, could not find dimension %q to remove; %s",
			s.Name(), name, s.dumpArgumentList())
	}
	oldName := dims[idx].Var
	def.schedule.dims = append(dims[:idx], dims[idx+1:]...)

	removed := []string{oldName}
	splits := def.schedule.splits
	kept := make([]Split, 0, len(splits))
	for i := len(splits) - 1; i >= 0; i-- {
		sp := splits[i]
		drop := false
		switch sp.Kind {
		case FuseVars:
			if sp.Inner == oldName || sp.Outer == oldName {
				return errors.Wrapf(ErrDependentTransform,
					"in schedule for %s, can't remove dimension %q: it has already been fused into %q",
					s.Name(), oldName, sp.OldVar)
			}
			if matchRemoved(removed, sp.OldVar) {
				drop = true
				removed = append(removed, sp.Outer, sp.Inner)
			}
		case SplitVar:
			if matchRemoved(removed, sp.OldVar) {
				return errors.Wrapf(ErrDependentTransform,
					"in schedule for %s, can't remove dimension %q: it has already been renamed or split",
					s.Name(), oldName)
			}
			if matchRemoved(removed, sp.Inner) || matchRemoved(removed, sp.Outer) {
				drop = true
				removed = append(removed, sp.OldVar)
			}
		case RenameVar, PurifyRVar:
			if matchRemoved(removed, sp.OldVar) {
				return errors.Wrapf(ErrDependentTransform,
					"in schedule for %s, can't remove dimension %q: it has already been renamed or split",
					s.Name(), oldName)
			}
			if matchRemoved(removed, sp.Outer) {
				drop = true
				removed = append(removed, sp.OldVar)
			}
		}
		if !drop {
			kept = append(kept, sp)
		}
	}
	// kept was built back to front.
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	def.schedule.splits = kept
	s.invalidate()
	return nil
}
