// Package requirement parses PEP 508 dependency specifications as they appear
// in installed distribution metadata (Requires-Dist).
package requirement

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	nameRE       = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?`)
	canonicalRE  = regexp.MustCompile(`[-_.]+`)
	extraMarker  = regexp.MustCompile(`\bextra\s*==`)
	vcsSchemeRE  = regexp.MustCompile(`^(git|hg|svn|bzr)\+`)
	specifierSep = regexp.MustCompile(`\s*,\s*`)
)

// Requirement is a single parsed PEP 508 requirement.
type Requirement struct {
	Name      string
	Extras    []string
	Specifier string
	Markers   string
	URL       string
}

// Canonical returns the PEP 503 normalized form of a project name.
func Canonical(name string) string {
	return strings.ToLower(canonicalRE.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// SameName reports whether two project names refer to the same project.
func SameName(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// Parse parses a PEP 508 requirement string such as
// `click (>=7.0) ; python_version >= "3.7"` or `demo[cli] @ git+https://host/demo.git@main`.
func Parse(raw string) (Requirement, error) {
	in := strings.TrimSpace(raw)
	if in == "" {
		return Requirement{}, fmt.Errorf("REQ_PARSE: empty requirement")
	}
	name := nameRE.FindString(in)
	if name == "" {
		return Requirement{}, fmt.Errorf("REQ_PARSE: invalid project name in %q", raw)
	}
	req := Requirement{Name: name}
	rest := strings.TrimSpace(in[len(name):])

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return Requirement{}, fmt.Errorf("REQ_PARSE: unterminated extras in %q", raw)
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				req.Extras = append(req.Extras, extra)
			}
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if strings.HasPrefix(rest, "@") {
		rest = strings.TrimSpace(rest[1:])
		// A URL is terminated by whitespace before the marker separator.
		loc, marker := rest, ""
		if i := strings.Index(rest, " ;"); i >= 0 {
			loc, marker = rest[:i], rest[i+2:]
		} else if i := strings.Index(rest, "\t;"); i >= 0 {
			loc, marker = rest[:i], rest[i+2:]
		}
		loc = strings.TrimSpace(loc)
		if loc == "" {
			return Requirement{}, fmt.Errorf("REQ_PARSE: missing url in %q", raw)
		}
		req.URL = loc
		req.Markers = normalizeMarker(marker)
		return req, nil
	}

	spec, marker, _ := strings.Cut(rest, ";")
	req.Markers = normalizeMarker(marker)
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "(") {
		if !strings.HasSuffix(spec, ")") {
			return Requirement{}, fmt.Errorf("REQ_PARSE: unbalanced parentheses in %q", raw)
		}
		spec = strings.TrimSpace(spec[1 : len(spec)-1])
	}
	if spec != "" {
		parts := specifierSep.Split(spec, -1)
		for i := range parts {
			parts[i] = strings.Join(strings.Fields(parts[i]), "")
		}
		req.Specifier = strings.Join(parts, ",")
	}
	return req, nil
}

func normalizeMarker(marker string) string {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return ""
	}
	return strings.ReplaceAll(marker, "'", `"`)
}

// PrettyConstraint renders the version specifier the way a manifest entry
// would declare it.
func (r Requirement) PrettyConstraint() string {
	if r.Specifier == "" {
		return "*"
	}
	return r.Specifier
}

// IsOptional reports whether the requirement is only pulled in through an extra.
func (r Requirement) IsOptional() bool {
	return extraMarker.MatchString(r.Markers)
}

// SortedExtras returns a sorted copy of the extras.
func (r Requirement) SortedExtras() []string {
	if len(r.Extras) == 0 {
		return nil
	}
	out := append([]string(nil), r.Extras...)
	sort.Strings(out)
	return out
}

// VCS splits a version-control URL (`git+https://host/repo.git@rev`) into
// its kind, repository URL and revision.
func (r Requirement) VCS() (kind, repo, rev string, ok bool) {
	m := vcsSchemeRE.FindStringSubmatch(r.URL)
	if m == nil {
		return "", "", "", false
	}
	kind = m[1]
	repo = strings.TrimPrefix(r.URL, m[0])
	if i := strings.Index(repo, "#"); i >= 0 {
		repo = repo[:i]
	}
	if slash := strings.LastIndex(repo, "/"); slash >= 0 {
		if at := strings.LastIndex(repo[slash:], "@"); at >= 0 {
			rev = repo[slash+at+1:]
			repo = repo[:slash+at]
		}
	}
	return kind, repo, rev, true
}

// LocalPath returns the filesystem path of a `file://` requirement.
func (r Requirement) LocalPath() (string, bool) {
	if !strings.HasPrefix(r.URL, "file:") {
		return "", false
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Path == "" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}
