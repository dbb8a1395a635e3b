package palm

import (
	"slices"
	"sync"
)

// InitializedModel is the translated form of one model on one connection.
// The same pointer is handed out for the lifetime of the cache entry; its
// instance is replaced in place as deferred fields resolve.
type InitializedModel struct {
	ModelName string

	cache        *TranslationCache
	hooks        HookInstancer
	instance     any
	hookInstance any
}

// Instance returns the current native instance.
func (im *InitializedModel) Instance() any {
	im.cache.mu.RLock()
	defer im.cache.mu.RUnlock()

	return im.instance
}

// HookInstance returns the instance custom hooks should see. Engines that
// do not implement HookInstancer get the native instance.
func (im *InitializedModel) HookInstance() any {
	im.cache.mu.RLock()
	defer im.cache.mu.RUnlock()

	if im.hookInstance != nil {
		return im.hookInstance
	}

	return im.instance
}

// ModifySelf replaces the native instance. The hook instance is derived
// again from the new one.
func (im *InitializedModel) ModifySelf(instance any) {
	view := hookView(im.hooks, im.ModelName, instance)

	im.cache.mu.Lock()
	defer im.cache.mu.Unlock()

	im.instance = instance
	im.hookInstance = view
}

// hookView runs outside the cache lock so engines may read their cache.
func hookView(hooks HookInstancer, name string, instance any) any {
	if hooks == nil {
		return nil
	}

	return hooks.ModelInstanceForHooks(name, instance)
}

// TranslationCache holds the initialized models of one engine connection.
// It is the only long-lived mutable state of a translation and is safe for
// concurrent use.
type TranslationCache struct {
	mu     sync.RWMutex
	models map[string]*InitializedModel
	order  []string
}

// NewTranslationCache creates an empty cache.
func NewTranslationCache() *TranslationCache {
	return &TranslationCache{models: make(map[string]*InitializedModel)}
}

// Get returns the initialized model for a model name.
func (c *TranslationCache) Get(name string) (*InitializedModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	im, ok := c.models[name]

	return im, ok
}

// Instance returns the native instance of a model.
func (c *TranslationCache) Instance(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	im, ok := c.models[name]
	if !ok {
		return nil, false
	}

	return im.instance, true
}

// Names returns cached model names in first-translation order.
func (c *TranslationCache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.order)
}

// Len returns the number of cached models.
func (c *TranslationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}

// Invalidate drops cached models. With no names the whole cache is cleared.
func (c *TranslationCache) Invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(names) == 0 {
		c.models = make(map[string]*InitializedModel)
		c.order = nil

		return
	}

	for _, name := range names {
		delete(c.models, name)
		c.order = slices.DeleteFunc(c.order, func(n string) bool { return n == name })
	}
}

// store records an instance. An existing entry keeps its pointer and has
// its instance replaced. hooks may be nil.
func (c *TranslationCache) store(name string, instance any, hooks HookInstancer) *InitializedModel {
	view := hookView(hooks, name, instance)

	c.mu.Lock()
	defer c.mu.Unlock()

	if im, ok := c.models[name]; ok {
		im.instance = instance
		im.hookInstance = view

		return im
	}

	im := &InitializedModel{ModelName: name, cache: c, hooks: hooks, instance: instance, hookInstance: view}
	c.models[name] = im
	c.order = append(c.order, name)

	return im
}

// modify replaces the instance of a cached model. It reports false when the
// model is not cached.
func (c *TranslationCache) modify(name string, instance any) bool {
	im, ok := c.Get(name)
	if !ok {
		return false
	}

	im.ModifySelf(instance)

	return true
}

// cacheEntry is the state of one cached model at snapshot time.
type cacheEntry struct {
	model        *InitializedModel
	instance     any
	hookInstance any
}

// cacheSnapshot is the content of a cache before a translation run.
type cacheSnapshot struct {
	entries map[string]cacheEntry
	order   []string
}

func (c *TranslationCache) snapshot() *cacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := &cacheSnapshot{entries: make(map[string]cacheEntry, len(c.models)), order: slices.Clone(c.order)}
	for name, im := range c.models {
		s.entries[name] = cacheEntry{model: im, instance: im.instance, hookInstance: im.hookInstance}
	}

	return s
}

// restore puts the cache back to a snapshot. Entries stored since are
// removed and earlier entries get their instances back.
func (c *TranslationCache) restore(s *cacheSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models = make(map[string]*InitializedModel, len(s.entries))
	for name, e := range s.entries {
		e.model.instance = e.instance
		e.model.hookInstance = e.hookInstance
		c.models[name] = e.model
	}

	c.order = slices.Clone(s.order)
}
