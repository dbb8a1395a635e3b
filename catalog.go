package palm

import (
	"errors"
	"fmt"
	"sync"
)

// Catalog owns every declared model of an application. Engines and the
// pipeline look models up by name through it.
type Catalog struct {
	mu      sync.Mutex
	models  []*Model
	byName  map[string]*Model
	err     error
	pending []func() error
}

// NewCatalog creates a catalog holding models. Registration errors are
// reported by Init.
func NewCatalog(models ...*Model) *Catalog {
	c := &Catalog{byName: make(map[string]*Model)}

	err := c.Register(models...)
	if err != nil {
		c.err = err
	}

	return c
}

// Register adds models to the catalog.
func (c *Catalog) Register(models ...*Model) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range models {
		if _, dup := c.byName[m.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, m.Name)
		}

		c.byName[m.Name] = m
		c.models = append(c.models, m)
	}

	return nil
}

// Model returns the named model or nil.
func (c *Catalog) Model(name string) *Model {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.byName[name]
}

// Models returns every model in registration order.
func (c *Catalog) Models() []*Model {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Model, len(c.models))
	copy(out, c.models)

	return out
}

// ForConnection returns the models translated for a connection, in
// registration order.
func (c *Catalog) ForConnection(connection string) []*Model {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Model

	for _, m := range c.models {
		if m.OnConnection(connection) {
			out = append(out, m)
		}
	}

	return out
}

// Init initializes every model not yet initialized. It is safe to call
// repeatedly.
func (c *Catalog) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	for _, m := range c.models {
		err := m.init(c)
		if err != nil {
			return err
		}
	}

	return nil
}

// OnModelsLoaded registers fn to run once the whole model graph is known.
func (c *Catalog) OnModelsLoaded(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, fn)
}

// FinalizeRelations runs the callbacks queued by Init and OnModelsLoaded.
// Each callback runs once.
func (c *Catalog) FinalizeRelations() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	var errs []error

	for _, fn := range pending {
		err := fn()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Load initializes the catalog and finalizes relations.
func (c *Catalog) Load() error {
	err := c.Init()
	if err != nil {
		return err
	}

	return c.FinalizeRelations()
}
