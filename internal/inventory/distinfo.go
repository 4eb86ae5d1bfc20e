package inventory

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pluginpm/internal/requirement"
)

// Source records how a distribution was installed when it did not come
// from a package index (PEP 610 direct_url.json).
type Source struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Reference string `json:"reference,omitempty"`
}

// Package is one installed distribution.
type Package struct {
	Name     string
	Version  string
	Summary  string
	Authors  []string
	Requires []requirement.Requirement
	Source   *Source
}

// Scan enumerates the distributions installed under root's site-packages.
func Scan(root string) ([]Package, error) {
	var dirs []string
	for _, pattern := range []string{
		filepath.Join(root, "lib", "python*", "site-packages", "*.dist-info"),
		filepath.Join(root, "lib64", "python*", "site-packages", "*.dist-info"),
		filepath.Join(root, "Lib", "site-packages", "*.dist-info"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, matches...)
	}
	sort.Strings(dirs)

	seen := map[string]struct{}{}
	out := make([]Package, 0, len(dirs))
	for _, dir := range dirs {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			if _, dup := seen[resolved]; dup {
				continue
			}
			seen[resolved] = struct{}{}
		}
		pkg, err := ReadDistInfo(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, nil
}

// ReadDistInfo reads METADATA and the optional direct_url.json of a
// *.dist-info directory.
func ReadDistInfo(dir string) (Package, error) {
	f, err := os.Open(filepath.Join(dir, "METADATA"))
	if err != nil {
		return Package{}, fmt.Errorf("INV_METADATA: %w", err)
	}
	defer f.Close()
	pkg, err := ParseMetadata(f)
	if err != nil {
		return Package{}, fmt.Errorf("INV_METADATA: %s: %w", filepath.Base(dir), err)
	}

	blob, err := os.ReadFile(filepath.Join(dir, "direct_url.json"))
	switch {
	case err == nil:
		src, perr := parseDirectURL(blob)
		if perr != nil {
			return Package{}, fmt.Errorf("INV_DIRECT_URL: %s: %w", filepath.Base(dir), perr)
		}
		pkg.Source = src
	case !errors.Is(err, os.ErrNotExist):
		return Package{}, fmt.Errorf("INV_DIRECT_URL: %w", err)
	}
	return pkg, nil
}

// ParseMetadata parses core metadata headers. The description body after
// the first blank line is ignored.
func ParseMetadata(r io.Reader) (Package, error) {
	h, err := textproto.NewReader(bufio.NewReader(r)).ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return Package{}, err
	}
	pkg := Package{
		Name:    strings.TrimSpace(h.Get("Name")),
		Version: strings.TrimSpace(h.Get("Version")),
		Summary: strings.TrimSpace(h.Get("Summary")),
		Authors: authors(h.Get("Author"), h.Get("Author-Email")),
	}
	if pkg.Name == "" || pkg.Version == "" {
		return Package{}, fmt.Errorf("missing Name or Version")
	}
	for _, raw := range h.Values("Requires-Dist") {
		req, err := requirement.Parse(raw)
		if err != nil {
			return Package{}, err
		}
		pkg.Requires = append(pkg.Requires, req)
	}
	return pkg, nil
}

func authors(name, email string) []string {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	switch {
	case name == "" && email == "":
		return nil
	case email == "":
		return []string{name}
	case name == "" || strings.Contains(email, "<"):
		var out []string
		for _, e := range strings.Split(email, ",") {
			if e = strings.TrimSpace(e); e != "" {
				out = append(out, e)
			}
		}
		return out
	}
	return []string{fmt.Sprintf("%s <%s>", name, email)}
}

type directURL struct {
	URL     string `json:"url"`
	DirInfo *struct {
		Editable bool `json:"editable"`
	} `json:"dir_info"`
	VCSInfo *struct {
		VCS         string `json:"vcs"`
		CommitID    string `json:"commit_id"`
		RequestedID string `json:"requested_revision"`
	} `json:"vcs_info"`
	ArchiveInfo *struct{} `json:"archive_info"`
}

func parseDirectURL(blob []byte) (*Source, error) {
	var d directURL
	if err := json.Unmarshal(blob, &d); err != nil {
		return nil, err
	}
	switch {
	case d.VCSInfo != nil:
		return &Source{Type: d.VCSInfo.VCS, URL: d.URL, Reference: d.VCSInfo.CommitID}, nil
	case d.DirInfo != nil:
		return &Source{Type: "directory", URL: d.URL}, nil
	case strings.HasPrefix(d.URL, "file:"):
		return &Source{Type: "file", URL: d.URL}, nil
	case d.URL != "":
		return &Source{Type: "url", URL: d.URL}, nil
	}
	return nil, nil
}
