package catalog

import (
	"log/slog"

	"github.com/samber/lo"

	"github.com/getsolus/eopkg2stone/pkg/index"
)

// Catalog is a read-only name lookup over the packages of a decoded index.
// It is built once and is safe for concurrent use afterwards.
type Catalog struct {
	records map[string]index.Package
	names   []string // insertion order
}

// New builds a catalog from the decoded index. Package names are unique
// within an index; should a duplicate appear the first record wins and the
// duplicate is dropped with a warning.
func New(idx *index.Index) *Catalog {
	c := &Catalog{
		records: make(map[string]index.Package, len(idx.Packages)),
		names:   make([]string, 0, len(idx.Packages)),
	}
	for _, pkg := range idx.Packages {
		if _, ok := c.records[pkg.Name]; ok {
			slog.Warn("Duplicate package name in index", slog.String("name", pkg.Name))
			continue
		}
		c.records[pkg.Name] = pkg
		c.names = append(c.names, pkg.Name)
	}
	return c
}

// Get returns the package record for name.
func (c *Catalog) Get(name string) (index.Package, bool) {
	pkg, ok := c.records[name]
	return pkg, ok
}

func (c *Catalog) Len() int {
	return len(c.names)
}

// Names returns all package names in index order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// Bootstrap selects the initial package set for closure building: every
// package belonging to one of the given components, plus the explicitly
// requested extras. Extras are not validated here; an unknown name fails
// during graph construction.
func (c *Catalog) Bootstrap(components []string, extras []string) []string {
	names := lo.Filter(c.Names(), func(name string, _ int) bool {
		pkg := c.records[name]
		return pkg.PartOf != "" && lo.Contains(components, pkg.PartOf)
	})
	return append(names, extras...)
}
