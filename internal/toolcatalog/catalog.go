// Package toolcatalog holds the tool-name → (package-spec, installer-kind)
// table and the download-URL resolver contract consulted by the installer
// and the command scanner. The map-of-maps shape mirrors goclaw's own
// groups/aliases/profiles idiom in internal/tools/policy.go; unlike that
// file, entries here are data, not policy — the concrete tool list is an
// external collaborator, so this catalog ships only a small fixture set
// sufficient to exercise all three installer kinds.
package toolcatalog

import "fmt"

// InstallerKind selects which of the installer's three code paths
// materializes a tool.
type InstallerKind string

const (
	InstallerBinary   InstallerKind = "binary"
	InstallerPackageA InstallerKind = "packageA" // node ecosystem (npm)
	InstallerPackageB InstallerKind = "packageB" // python ecosystem (pip/venv)
)

// Entry is one catalog row: a binary name, its ecosystem package spec
// (empty for InstallerBinary), and which installer handles it.
type Entry struct {
	Name    string
	Package string
	Kind    InstallerKind
}

// Catalog is an immutable, build-time name→Entry table.
type Catalog struct {
	entries map[string]Entry
	names   []string
}

// New builds a Catalog from entries, rejecting duplicate names.
func New(entries []Entry) (*Catalog, error) {
	m := make(map[string]Entry, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, exists := m[e.Name]; exists {
			return nil, fmt.Errorf("toolcatalog: duplicate tool name %q", e.Name)
		}
		m[e.Name] = e
		names = append(names, e.Name)
	}
	return &Catalog{entries: m, names: names}, nil
}

// Default returns the fixture catalog shipped with the edge: enough real
// tool names to exercise all three installer kinds.
func Default() *Catalog {
	c, err := New([]Entry{
		{Name: "rg", Package: "", Kind: InstallerBinary},
		{Name: "fd", Package: "", Kind: InstallerBinary},
		{Name: "jq", Package: "", Kind: InstallerBinary},
		{Name: "prettier", Package: "prettier", Kind: InstallerPackageA},
		{Name: "black", Package: "black", Kind: InstallerPackageB},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Names returns all catalog tool names, used by the command scanner to
// build its detection regex.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Lookup returns the entry for name, if present.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// URLResolver resolves a tool name to a download URL and whether that
// download is an archive needing extraction. The concrete source of
// download URLs lives outside this package — the core only depends on
// this interface.
type URLResolver interface {
	ResolveURL(name string) (url string, isArchive bool, err error)
}

// StaticURLResolver is a map-backed URLResolver usable in tests and as a
// minimal default.
type StaticURLResolver map[string]struct {
	URL       string
	IsArchive bool
}

func (r StaticURLResolver) ResolveURL(name string) (string, bool, error) {
	e, ok := r[name]
	if !ok {
		return "", false, fmt.Errorf("toolcatalog: no download URL known for %q", name)
	}
	return e.URL, e.IsArchive, nil
}
