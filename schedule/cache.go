package schedule

// artifactCache holds compiled artifacts for the unit's functions. The
// invariant is "content of cache reflects current schedule state":
// every mutating directive invalidates the whole cache before it
// returns, so a stale artifact can never be observed. Callers do not
// check generation counters; they simply never see old entries.
type artifactCache struct {
	entries      map[FuncID]any
	fingerprints map[FuncID]string
}

func newArtifactCache() *artifactCache {
	return &artifactCache{
		entries:      make(map[FuncID]any),
		fingerprints: make(map[FuncID]string),
	}
}

func (c *artifactCache) invalidate() {
	clear(c.entries)
	clear(c.fingerprints)
}

// StoreArtifact associates an opaque compiled artifact with a function.
// The next mutating directive anywhere in the unit drops it.
func (u *Unit) StoreArtifact(f *Func, artifact any) {
	u.cache.entries[f.id] = artifact
}

// Artifact returns the cached artifact for a function, if the schedule
// has not been mutated since it was stored.
func (u *Unit) Artifact(f *Func) (any, bool) {
	a, ok := u.cache.entries[f.id]
	return a, ok
}
