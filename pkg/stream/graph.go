package stream

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/tap-searchstax/pkg/decode"
)

// ErrInvalidCatalog marks a rejected set of definitions.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Graph is a validated, immutable set of definitions forming a forest.
type Graph struct {
	defs     []*Definition
	byName   map[string]*Definition
	children map[string][]*Definition
}

// NewGraph validates defs and builds the parent/child forest. Names must be
// unique, parents must exist, the parent relation must be acyclic and path
// expressions must compile. Declaration order is preserved.
func NewGraph(defs []Definition) (*Graph, error) {
	g := &Graph{
		byName:   make(map[string]*Definition, len(defs)),
		children: make(map[string][]*Definition),
	}

	for i := range defs {
		d := defs[i]
		d.applyDefaults()

		if d.Name == "" {
			return nil, fmt.Errorf("%w: definition %d has no name", ErrInvalidCatalog, i)
		}
		if d.Path == "" {
			return nil, fmt.Errorf("%w: %s: path is required", ErrInvalidCatalog, d.Name)
		}
		if _, dup := g.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate resource %q", ErrInvalidCatalog, d.Name)
		}
		if err := decode.ValidatePath(d.RecordsPath); err != nil {
			return nil, fmt.Errorf("%w: %s: records path: %v", ErrInvalidCatalog, d.Name, err)
		}
		if err := decode.ValidatePath(d.NextPagePath); err != nil {
			return nil, fmt.Errorf("%w: %s: next page path: %v", ErrInvalidCatalog, d.Name, err)
		}

		g.defs = append(g.defs, &d)
		g.byName[d.Name] = &d
	}

	for _, d := range g.defs {
		if d.IsRoot() {
			continue
		}
		if _, ok := g.byName[d.Parent]; !ok {
			return nil, fmt.Errorf("%w: %s: unknown parent %q", ErrInvalidCatalog, d.Name, d.Parent)
		}
		g.children[d.Parent] = append(g.children[d.Parent], d)
	}

	for _, d := range g.defs {
		seen := map[string]bool{d.Name: true}
		for p := d.Parent; p != ""; p = g.byName[p].Parent {
			if seen[p] {
				return nil, fmt.Errorf("%w: %s: parent cycle through %q", ErrInvalidCatalog, d.Name, p)
			}
			seen[p] = true
		}
	}

	return g, nil
}

// Get returns the definition named name.
func (g *Graph) Get(name string) (*Definition, bool) {
	d, ok := g.byName[name]
	return d, ok
}

// All returns every definition in declaration order.
func (g *Graph) All() []*Definition {
	return append([]*Definition(nil), g.defs...)
}

// Roots returns the parentless definitions in declaration order.
func (g *Graph) Roots() []*Definition {
	var roots []*Definition
	for _, d := range g.defs {
		if d.IsRoot() {
			roots = append(roots, d)
		}
	}
	return roots
}

// Children returns the direct children of name in declaration order.
func (g *Graph) Children(name string) []*Definition {
	return g.children[name]
}

// Ancestors returns the chain of parents of name, nearest first.
func (g *Graph) Ancestors(name string) []*Definition {
	var chain []*Definition
	d, ok := g.byName[name]
	for ok && d.Parent != "" {
		d, ok = g.byName[d.Parent]
		if ok {
			chain = append(chain, d)
		}
	}
	return chain
}
