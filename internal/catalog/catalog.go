package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/dag"
)

// ErrDuplicateDefinition is returned when two definitions share an id.
var ErrDuplicateDefinition = errors.New("duplicate definition id")

// Catalog is a concurrency-safe set of validated definitions.
type Catalog struct {
	loader config.Loader
	paths  []string

	mu   sync.RWMutex
	defs map[string]*config.Definition
}

// New creates an empty catalog that loads from paths. loader may be nil for
// catalogs filled only through Add.
func New(loader config.Loader, paths ...string) *Catalog {
	return &Catalog{
		loader: loader,
		paths:  paths,
		defs:   make(map[string]*config.Definition),
	}
}

// Load reads every definition from the configured paths and replaces the
// catalog contents. On error the catalog is left unchanged.
func (c *Catalog) Load(ctx context.Context) error {
	if c.loader == nil {
		return errors.New("catalog has no loader")
	}
	defs, err := c.loader.Load(ctx, c.paths...)
	if err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}
	next, err := index(ctx, defs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.defs = next
	c.mu.Unlock()
	ctxlog.FromContext(ctx).Info("📚 Definitions loaded.", "count", len(next))
	return nil
}

// Add validates defs and adds them to the catalog, replacing definitions
// with the same id.
func (c *Catalog) Add(ctx context.Context, defs ...*config.Definition) error {
	added, err := index(ctx, defs)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, def := range added {
		c.defs[id] = def
	}
	return nil
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (*config.Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[id]
	return def, ok
}

// List returns every definition sorted by id.
func (c *Catalog) List() []*config.Definition {
	c.mu.RLock()
	out := make([]*config.Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}

// index validates defs and keys them by id.
func index(ctx context.Context, defs []*config.Definition) (map[string]*config.Definition, error) {
	out := make(map[string]*config.Definition, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		if _, dup := out[def.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateDefinition, def.ID)
		}
		if _, err := dag.Build(ctx, def); err != nil {
			return nil, fmt.Errorf("definition %q: %w", def.ID, err)
		}
		out[def.ID] = def
	}
	return out, nil
}
