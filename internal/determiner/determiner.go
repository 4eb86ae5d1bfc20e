// Package determiner turns free-form plugin specifiers into structured
// dependency specs, consulting the package index for bare names.
package determiner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sync/errgroup"

	"pluginpm/internal/logging"
)

// Spec is a resolved plugin request. Exactly one of Version, Git, Path or
// URL identifies the source; Rev and Extras refine it.
type Spec struct {
	Name    string
	Version string
	Git     string
	Rev     string
	Path    string
	URL     string
	Extras  []string
	Raw     string
}

// UnresolvableError reports a specifier that cannot be turned into a Spec.
type UnresolvableError struct {
	Specifier string
	Reason    string
	Err       error
}

func (e *UnresolvableError) Error() string {
	msg := fmt.Sprintf("DET_UNRESOLVABLE: cannot resolve %q", e.Specifier)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnresolvableError) Unwrap() error { return e.Err }

var (
	specRE     = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)(?:\[([^\]]*)\])?\s*(.*)$`)
	wheelRE    = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._]*[A-Za-z0-9])?)-[0-9][^-]*(-[^-]+)?-[^-]+-[^-]+-[^-]+\.whl$`)
	sdistRE    = regexp.MustCompile(`^(.+?)-[0-9][^-]*\.(tar\.gz|tar\.bz2|tgz|zip)$`)
	archiveExt = []string{".whl", ".tar.gz", ".tar.bz2", ".tgz", ".zip"}
)

// Determiner resolves specifiers. Index is only consulted for bare names
// and name@latest.
type Determiner struct {
	Index            Index
	AllowPrereleases bool
	Concurrency      int
	// WorkDir anchors relative paths; empty means the process directory.
	WorkDir string
}

// Determine resolves every specifier, querying the index concurrently.
// Results keep the order of names; the first failure aborts the rest.
func (d *Determiner) Determine(ctx context.Context, names []string) ([]Spec, error) {
	out := make([]Spec, len(names))
	g, gctx := errgroup.WithContext(ctx)
	limit := d.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			spec, err := d.determine(gctx, name)
			if err != nil {
				return err
			}
			out[i] = spec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Determiner) determine(ctx context.Context, raw string) (Spec, error) {
	spec, lookup, err := d.Parse(raw)
	if err != nil {
		return Spec{}, err
	}
	if !lookup {
		return spec, nil
	}
	if d.Index == nil {
		return Spec{}, &UnresolvableError{Specifier: raw, Reason: "no package index configured"}
	}
	project, err := d.Index.Latest(ctx, spec.Name, d.AllowPrereleases)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return Spec{}, &UnresolvableError{Specifier: raw, Reason: "no such package on the index"}
		}
		return Spec{}, &UnresolvableError{Specifier: raw, Err: err}
	}
	logging.FromContext(ctx).Debug("resolved latest", "plugin", project.Name, "version", project.Version)
	spec.Name = project.Name
	spec.Version = "^" + project.Version
	return spec, nil
}

// Parse classifies a specifier. lookup is true when the version still has
// to come from the index.
func (d *Determiner) Parse(raw string) (spec Spec, lookup bool, err error) {
	in := strings.TrimSpace(raw)
	if in == "" {
		return Spec{}, false, &UnresolvableError{Specifier: raw, Reason: "empty specifier"}
	}
	switch {
	case strings.HasPrefix(in, "git+"):
		spec, err = parseGit(in)
	case strings.HasPrefix(in, "http://"), strings.HasPrefix(in, "https://"):
		spec, err = parseURL(in)
	case looksLikePath(in):
		spec, err = d.parsePath(in)
	default:
		spec, lookup, err = parseNamed(in)
	}
	if err != nil {
		return Spec{}, false, &UnresolvableError{Specifier: raw, Reason: err.Error()}
	}
	spec.Raw = raw
	return spec, lookup, nil
}

func parseGit(in string) (Spec, error) {
	loc := strings.TrimPrefix(in, "git+")
	loc, rev, _ := strings.Cut(loc, "#")
	name := strings.TrimSuffix(path.Base(strings.TrimRight(loc, "/")), ".git")
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == "/" {
		return Spec{}, errors.New("no repository name in url")
	}
	return Spec{Name: name, Git: loc, Rev: rev}, nil
}

func parseURL(in string) (Spec, error) {
	trimmed, _, _ := strings.Cut(in, "#")
	name, ok := nameFromArchive(path.Base(trimmed))
	if !ok {
		return Spec{}, errors.New("url does not name a wheel or source archive")
	}
	return Spec{Name: name, URL: in}, nil
}

func (d *Determiner) parsePath(in string) (Spec, error) {
	p := in
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Spec{}, err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		base := d.WorkDir
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return Spec{}, err
			}
			base = wd
		}
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	info, err := os.Stat(p)
	if err != nil {
		return Spec{}, fmt.Errorf("path %s does not exist", p)
	}
	if info.IsDir() {
		name, err := projectName(filepath.Join(p, "pyproject.toml"))
		if err != nil {
			return Spec{}, err
		}
		return Spec{Name: name, Path: p}, nil
	}
	name, ok := nameFromArchive(filepath.Base(p))
	if !ok {
		return Spec{}, fmt.Errorf("%s is not a wheel or source archive", filepath.Base(p))
	}
	return Spec{Name: name, Path: p}, nil
}

func parseNamed(in string) (Spec, bool, error) {
	m := specRE.FindStringSubmatch(in)
	if m == nil {
		return Spec{}, false, errors.New("invalid package name")
	}
	spec := Spec{Name: m[1]}
	if m[2] != "" {
		for _, extra := range strings.Split(m[2], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				spec.Extras = append(spec.Extras, extra)
			}
		}
	}
	rest := strings.TrimSpace(m[3])
	switch {
	case rest == "":
		return spec, true, nil
	case strings.HasPrefix(rest, "@"):
		rest = strings.TrimSpace(rest[1:])
		if rest == "" {
			return Spec{}, false, errors.New("missing constraint after @")
		}
		if rest == "latest" {
			return spec, true, nil
		}
	case strings.ContainsAny(rest[:1], "<>=!~^*0123456789"):
	default:
		return Spec{}, false, fmt.Errorf("unexpected %q after package name", rest)
	}
	spec.Version = rest
	return spec, false, nil
}

func looksLikePath(in string) bool {
	if strings.HasPrefix(in, ".") || strings.HasPrefix(in, "/") || strings.HasPrefix(in, "~") {
		return true
	}
	if strings.ContainsAny(in, `/\`) {
		return true
	}
	for _, ext := range archiveExt {
		if strings.HasSuffix(strings.ToLower(in), ext) {
			return true
		}
	}
	return false
}

func nameFromArchive(file string) (string, bool) {
	if m := wheelRE.FindStringSubmatch(file); m != nil {
		return m[1], true
	}
	if m := sdistRE.FindStringSubmatch(file); m != nil {
		return m[1], true
	}
	return "", false
}

type pyproject struct {
	Tool struct {
		Poetry struct {
			Name string `toml:"name"`
		} `toml:"poetry"`
	} `toml:"tool"`
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
}

func projectName(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("directory has no readable pyproject.toml: %w", err)
	}
	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse %s: %w", file, err)
	}
	switch {
	case doc.Tool.Poetry.Name != "":
		return doc.Tool.Poetry.Name, nil
	case doc.Project.Name != "":
		return doc.Project.Name, nil
	}
	return "", fmt.Errorf("%s declares no project name", file)
}
