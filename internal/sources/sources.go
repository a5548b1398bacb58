// Package sources is the catalog of crawlable data sources.
package sources

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/price-harvester/internal/fetch"
	"github.com/JakeFAU/price-harvester/internal/orchestrator"
	"github.com/JakeFAU/price-harvester/internal/sources/shopgrid"
	"github.com/JakeFAU/price-harvester/internal/sources/tapmc"
)

// ErrUnknownSource is returned for names missing from the catalog.
var ErrUnknownSource = errors.New("unknown source")

// Env is what source builders may draw on.
type Env struct {
	Fetcher *fetch.Fetcher
	// BaseURLs overrides the default entry URL per source name.
	BaseURLs map[string]string
}

// BaseURL returns the override for name. Config loaders lowercase map keys,
// so a lowercase entry matches too.
func (e Env) BaseURL(name string) string {
	if u, ok := e.BaseURLs[name]; ok {
		return u
	}
	return e.BaseURLs[strings.ToLower(name)]
}

// Builder creates the definition of one source.
type Builder func(env Env) orchestrator.Definition

// Catalog maps source names to builders.
type Catalog struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{builders: make(map[string]Builder)}
}

// Default returns a catalog holding every built-in source.
func Default() *Catalog {
	c := NewCatalog()
	c.MustRegister(tapmc.Name, func(env Env) orchestrator.Definition {
		return tapmc.Definition(tapmc.Config{URL: env.BaseURL(tapmc.Name)}, env.Fetcher)
	})
	c.MustRegister(shopgrid.Name, func(env Env) orchestrator.Definition {
		return shopgrid.Definition(shopgrid.Config{BaseURL: env.BaseURL(shopgrid.Name)})
	})
	return c
}

// Register adds a builder. Names are unique.
func (c *Catalog) Register(name string, b Builder) error {
	if name == "" || b == nil {
		return errors.New("source name and builder are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.builders[name]; ok {
		return fmt.Errorf("source %q already registered", name)
	}
	c.builders[name] = b
	return nil
}

// MustRegister is Register that panics on error.
func (c *Catalog) MustRegister(name string, b Builder) {
	if err := c.Register(name, b); err != nil {
		panic(err)
	}
}

// Names lists the registered sources in alphabetical order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.builders))
	for name := range c.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition builds the definition registered under name.
func (c *Catalog) Definition(name string, env Env) (orchestrator.Definition, error) {
	c.mu.RLock()
	b, ok := c.builders[name]
	c.mu.RUnlock()
	if !ok {
		return orchestrator.Definition{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	if env.Fetcher == nil {
		env.Fetcher = fetch.New(fetch.Config{}, nil)
	}
	return b(env), nil
}
