package cache

// noopCache implements ICache without storing anything. It exists so that
// callers can disable caching through configuration without branching logic:
// every read is a miss, every write is discarded.
type noopCache[V any] struct{}

// NewNoop creates a cache that never stores anything.
func NewNoop[V any]() ICache[V] {
	return noopCache[V]{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache/interface.go)
// --------------------------------------------------------------------------

func (noopCache[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (noopCache[V]) GetOrLoad(key string, loader Loader[V]) (V, bool) {
	// the loader still runs, its result is just not cached
	return loader(key)
}

func (noopCache[V]) Put(string, V) {}

func (noopCache[V]) PutIfAbsent(string, V) bool { return false }

func (noopCache[V]) Invalidate(string) {}

func (noopCache[V]) InvalidateIf(func(string) bool) int { return 0 }

func (noopCache[V]) InvalidateAll() {}

func (noopCache[V]) Contains(string) bool { return false }

func (noopCache[V]) Keys() []string { return nil }

func (noopCache[V]) Size() int { return 0 }

func (noopCache[V]) Stats() Stats { return Stats{} }

func (noopCache[V]) CleanUp() {}
