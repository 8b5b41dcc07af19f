package td

// enumCache memoizes enumeration results (sorted keys, nested key
// lists, flattened views) for one container instance. Entries are only
// written while the instance is locked and the whole cache is dropped
// on unlock, so a cache is non-empty iff its instance is currently
// locked.
type enumCache struct {
	entries map[string]any
}

func (c *enumCache) get(key string) (any, bool) {
	if c.entries == nil {
		return nil, false
	}
	v, ok := c.entries[key]
	return v, ok
}

func (c *enumCache) put(key string, v any) {
	if c.entries == nil {
		c.entries = make(map[string]any)
	}
	c.entries[key] = v
}

func (c *enumCache) clear() {
	c.entries = nil
}

// cached looks up key while d is locked, otherwise computes the value,
// memoizing it when d is locked. The same cached object is returned on
// repeated calls until unlock.
func cached[T any](d Dict, key string, compute func() T) T {
	n := d.lockState()
	if n == nil || !d.IsLocked() {
		return compute()
	}
	if v, ok := n.cache.get(key); ok {
		return v.(T)
	}
	v := compute()
	n.cache.put(key, v)
	return v
}

// cachedErr is cached for fallible computations; errors are never
// memoized.
func cachedErr[T any](d Dict, key string, compute func() (T, error)) (T, error) {
	n := d.lockState()
	if n == nil || !d.IsLocked() {
		return compute()
	}
	if v, ok := n.cache.get(key); ok {
		return v.(T), nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	n.cache.put(key, v)
	return v, nil
}
