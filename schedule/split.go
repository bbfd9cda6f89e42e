package schedule

import (
	"fmt"

	"github.com/loftlang/loft"
)

// SplitKind tags a split-history entry. The set is closed; history
// consumers switch exhaustively and a new kind must break them at
// compile time.
type SplitKind int

const (
	// SplitVar divides OldVar into Outer and Inner by Factor.
	SplitVar SplitKind = iota
	// FuseVars merges Inner and Outer into OldVar. The field roles are
	// inverted relative to SplitVar on purpose: replaying history
	// forwards always maps OldVar-side names to Outer/Inner-side names
	// for splits and the reverse for fuses.
	FuseVars
	// RenameVar renames OldVar to Outer.
	RenameVar
	// PurifyRVar converts the reduction variable OldVar into the pure
	// variable Outer.
	PurifyRVar
)

func (k SplitKind) String() string {
	switch k {
	case SplitVar:
		return "split"
	case FuseVars:
		return "fuse"
	case RenameVar:
		return "rename"
	case PurifyRVar:
		return "purify"
	default:
		return fmt.Sprintf("SplitKind(%d)", int(k))
	}
}

// Split is one entry of a stage's split history: an append-mostly log of
// how every current dimension name derives from an original one. Later
// directives and lowering replay it to reconstruct bound expressions.
// Only rfactor's removal of lifted variables may delete entries, and
// only when no later entry depends on them.
type Split struct {
	OldVar string
	Outer  string
	Inner  string
	// Factor is the split factor for SplitVar entries; nil otherwise.
	Factor loft.Expr
	// Exact requires the tail to be guarded rather than recomputed or
	// extended. Always set when splitting a reduction variable.
	Exact bool
	Tail  TailStrategy
	Kind  SplitKind
}

func (s Split) String() string {
	switch s.Kind {
	case SplitVar:
		return fmt.Sprintf("split %s -> %s, %s by %s (%s)", s.OldVar, s.Outer, s.Inner, s.Factor, s.Tail)
	case FuseVars:
		return fmt.Sprintf("fuse %s, %s -> %s", s.Inner, s.Outer, s.OldVar)
	case RenameVar:
		return fmt.Sprintf("rename %s -> %s", s.OldVar, s.Outer)
	case PurifyRVar:
		return fmt.Sprintf("purify %s -> %s", s.OldVar, s.Outer)
	default:
		return fmt.Sprintf("unknown split kind %d", int(s.Kind))
	}
}
