// Package inventory enumerates the distributions installed in the manager's
// environment and splits them into the manager's own root package and a
// lookup repository of everything else.
package inventory

import (
	"errors"
	"fmt"
	"sort"

	"pluginpm/internal/envloc"
	"pluginpm/internal/requirement"
)

// UnsafeSet is an immutable set of project names, compared canonically.
type UnsafeSet struct {
	names map[string]struct{}
}

// NewUnsafeSet builds a set from names.
func NewUnsafeSet(names ...string) UnsafeSet {
	s := UnsafeSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[requirement.Canonical(n)] = struct{}{}
	}
	return s
}

// Contains reports whether name is in the set.
func (s UnsafeSet) Contains(name string) bool {
	_, ok := s.names[requirement.Canonical(name)]
	return ok
}

// Names returns the canonical names in sorted order.
func (s UnsafeSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RootMissingError is returned when the manager's own distribution is not
// installed in the environment.
type RootMissingError struct {
	Name string
	Root string
}

func (e *RootMissingError) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("INV_ROOT_MISSING: package %q is not installed", e.Name)
	}
	return fmt.Sprintf("INV_ROOT_MISSING: package %q is not installed in %s", e.Name, e.Root)
}

// RootPackage is the manifest-level record of the manager itself. Its
// requirements seed the synthesized manifest's dependency section.
type RootPackage struct {
	Name           string
	Version        string
	Description    string
	Authors        []string
	PythonVersions string
	Requires       []requirement.Requirement
}

// Repository is a case-insensitive lookup of installed packages.
type Repository struct {
	pkgs  []Package
	index map[string]int
}

func NewRepository() *Repository {
	return &Repository{index: map[string]int{}}
}

// Add inserts pkg, replacing an earlier package with the same name.
func (r *Repository) Add(pkg Package) {
	key := requirement.Canonical(pkg.Name)
	if i, ok := r.index[key]; ok {
		r.pkgs[i] = pkg
		return
	}
	r.index[key] = len(r.pkgs)
	r.pkgs = append(r.pkgs, pkg)
}

func (r *Repository) Find(name string) (Package, bool) {
	if r == nil {
		return Package{}, false
	}
	i, ok := r.index[requirement.Canonical(name)]
	if !ok {
		return Package{}, false
	}
	return r.pkgs[i], true
}

func (r *Repository) Len() int {
	if r == nil {
		return 0
	}
	return len(r.pkgs)
}

// Inventory is the snapshot of an environment.
type Inventory struct {
	Root       *RootPackage
	Repository *Repository
}

// Build splits pkgs into the root package named rootName and a repository of
// the rest, dropping unsafe packages. python is the interpreter version that
// becomes the root's runtime constraint.
func Build(pkgs []Package, rootName string, unsafe UnsafeSet, python string) (*Inventory, error) {
	inv := &Inventory{Repository: NewRepository()}
	for _, pkg := range pkgs {
		if unsafe.Contains(pkg.Name) {
			continue
		}
		if requirement.SameName(pkg.Name, rootName) {
			root := &RootPackage{
				Name:           pkg.Name,
				Version:        pkg.Version,
				Description:    pkg.Summary,
				Authors:        append([]string(nil), pkg.Authors...),
				PythonVersions: python,
			}
			for _, req := range pkg.Requires {
				if req.IsOptional() {
					continue
				}
				root.Requires = append(root.Requires, req)
			}
			inv.Root = root
			continue
		}
		inv.Repository.Add(pkg)
	}
	if inv.Root == nil {
		return nil, &RootMissingError{Name: rootName}
	}
	return inv, nil
}

// Loader scans an Environment and builds its Inventory.
type Loader struct {
	RootName string
	Unsafe   UnsafeSet
}

func (l *Loader) Load(env *envloc.Environment) (*Inventory, error) {
	pkgs, err := Scan(env.Root)
	if err != nil {
		return nil, err
	}
	inv, err := Build(pkgs, l.RootName, l.Unsafe, env.Python.String())
	if err != nil {
		var missing *RootMissingError
		if errors.As(err, &missing) {
			missing.Root = env.Root
		}
		return nil, err
	}
	return inv, nil
}
