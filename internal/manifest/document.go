// Package manifest reads, edits and synthesizes the pyproject.toml manifest
// that describes the manager's global environment.
//
// Edits are applied to the original text line by line: only the lines of
// the entries being changed are rewritten, so comments, formatting and the
// order of everything else survive a load/save round trip unchanged.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"pluginpm/internal/fsutil"
	"pluginpm/internal/requirement"
)

var (
	poetryTable     = []string{"tool", "poetry"}
	dependencyTable = []string{"tool", "poetry", "dependencies"}
)

// Document is a manifest held as its original lines.
type Document struct {
	lines []string
	crlf  bool
}

type decoded struct {
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// Parse validates data as TOML and wraps it in a Document.
func Parse(data []byte) (*Document, error) {
	var probe map[string]any
	if err := toml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("DOC_MANIFEST_PARSE: %w", err)
	}
	d := &Document{lines: strings.Split(string(data), "\n")}
	d.crlf = len(d.lines) > 1 && strings.HasSuffix(d.lines[0], "\r")
	return d, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("DOC_MANIFEST_READ: %w", err)
	}
	return Parse(data)
}

// Bytes returns the current document text.
func (d *Document) Bytes() []byte {
	return []byte(strings.Join(d.lines, "\n"))
}

// Save writes the document atomically.
func (d *Document) Save(path string) error {
	if err := d.validate(); err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(path, d.Bytes(), 0o644); err != nil {
		return fmt.Errorf("DOC_MANIFEST_WRITE: %w", err)
	}
	return nil
}

func (d *Document) validate() error {
	var probe map[string]any
	if err := toml.Unmarshal(d.Bytes(), &probe); err != nil {
		return fmt.Errorf("DOC_MANIFEST_EDIT: edit produced invalid TOML: %w", err)
	}
	return nil
}

func (d *Document) decode() (decoded, error) {
	var out decoded
	if err := toml.Unmarshal(d.Bytes(), &out); err != nil {
		return decoded{}, fmt.Errorf("DOC_MANIFEST_PARSE: %w", err)
	}
	return out, nil
}

// DependencyNames returns the keys of the dependency section in file order,
// with their original casing. Dotted keys and sub-tables count; names only
// reachable through an inline `dependencies = { ... }` table follow in
// sorted order.
func (d *Document) DependencyNames() []string {
	var names []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	n := len(dependencyTable)
	for _, t := range d.scan() {
		if len(t.name) > n && hasPrefix(t.name, dependencyTable) {
			add(t.name[n])
		}
		for _, e := range t.entries {
			if full := t.path(e); len(full) > n && hasPrefix(full, dependencyTable) {
				add(full[n])
			}
		}
	}
	if out, err := d.decode(); err == nil {
		var rest []string
		for key := range out.Tool.Poetry.Dependencies {
			if _, ok := seen[key]; !ok {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		names = append(names, rest...)
	}
	return names
}

// Dependency returns the declared constraint for name, matched
// case-insensitively. Multiple-constraint arrays are not representable and
// report false.
func (d *Document) Dependency(name string) (Constraint, bool) {
	out, err := d.decode()
	if err != nil {
		return Constraint{}, false
	}
	for key, v := range out.Tool.Poetry.Dependencies {
		if requirement.SameName(key, name) {
			return fromValue(v)
		}
	}
	return Constraint{}, false
}

// Set upserts a dependency. An existing entry whose name matches
// case-insensitively keeps its key and position and only has its value
// replaced; a new entry is appended to the end of the section.
func (d *Document) Set(name string, c Constraint) error {
	// A dependency declared as its own [tool.poetry.dependencies.<name>]
	// table is folded back into the section as an inline entry.
	for {
		t, ok := d.findDependencySubTable(name)
		if !ok {
			break
		}
		d.deleteLines(t.header, t.last)
	}
	if err := d.set(dependencyTable, name, c.Encode(), requirement.SameName); err != nil {
		return err
	}
	return d.validate()
}

// SetField sets a scalar field of [tool.poetry].
func (d *Document) SetField(key string, value any) error {
	if err := d.set(poetryTable, key, encodeValue(value), func(a, b string) bool { return a == b }); err != nil {
		return err
	}
	return d.validate()
}

// set upserts key into the table tableName, which may be spelled as a
// [header], as dotted keys inside a parent table, or both.
func (d *Document) set(tableName []string, key, encoded string, match func(a, b string) bool) error {
	n := len(tableName)
	var (
		hits     []hit
		header   *table
		siblings *hit
	)
	tables := d.scan()
	for i := range tables {
		t := &tables[i]
		if sameTable(t.name, tableName) && header == nil {
			header = t
		}
		if len(t.name) > n {
			continue
		}
		for _, e := range t.entries {
			full := t.path(e)
			if len(full) <= n && hasPrefix(tableName, full) {
				return fmt.Errorf("DOC_MANIFEST_LAYOUT: %s is declared inline; move it to a [%s] table", joinTableName(full), joinTableName(tableName))
			}
			if !hasPrefix(full, tableName) {
				continue
			}
			h := hit{entry: e, prefix: full[len(t.name):n], name: full[n]}
			if len(full) == n+1 {
				sib := h
				siblings = &sib
			}
			if match(h.name, key) {
				hits = append(hits, h)
			}
		}
	}

	if len(hits) > 0 {
		first := hits[0]
		replacement := d.line(joinTableName(append(append([]string(nil), first.prefix...), first.name)) + " = " + encoded)
		// Remove later spans first so earlier indexes stay valid.
		rest := hits[1:]
		sort.Slice(rest, func(i, j int) bool { return rest[i].start > rest[j].start })
		for _, h := range rest {
			d.deleteLines(h.start, h.end)
		}
		d.replaceLines(first.start, first.end, replacement)
		return nil
	}
	if header != nil {
		d.insertLines(header.last+1, d.line(encodeKey(key)+" = "+encoded))
		return nil
	}
	if siblings != nil {
		d.insertLines(siblings.end+1, d.line(joinTableName(append(append([]string(nil), siblings.prefix...), key))+" = "+encoded))
		return nil
	}

	// The table does not exist yet: append it at the end of the document,
	// keeping the trailing newline.
	at := len(d.lines)
	if at > 0 && strings.TrimSpace(d.lines[at-1]) == "" {
		at--
	}
	var block []string
	if at > 0 && strings.TrimSpace(d.lines[at-1]) != "" {
		block = append(block, d.line(""))
	}
	block = append(block, d.line("["+joinTableName(tableName)+"]"), d.line(encodeKey(key)+" = "+encoded))
	if at == len(d.lines) {
		block = append(block, "")
	}
	d.insertLines(at, block...)
	return nil
}

// hit is an entry that addresses a key of the table being edited. prefix
// is the dotted path from the entry's own table down to that table.
type hit struct {
	entry
	prefix []string
	name   string
}

func (d *Document) findDependencySubTable(name string) (table, bool) {
	for _, t := range d.scan() {
		if len(t.name) == len(dependencyTable)+1 &&
			sameTable(t.name[:len(dependencyTable)], dependencyTable) &&
			requirement.SameName(t.name[len(dependencyTable)], name) {
			return t, true
		}
	}
	return table{}, false
}

func (d *Document) line(s string) string {
	if d.crlf && s != "" {
		return s + "\r"
	}
	if d.crlf {
		return "\r"
	}
	return s
}

func (d *Document) insertLines(at int, lines ...string) {
	out := make([]string, 0, len(d.lines)+len(lines))
	out = append(out, d.lines[:at]...)
	out = append(out, lines...)
	out = append(out, d.lines[at:]...)
	d.lines = out
}

func (d *Document) deleteLines(start, end int) {
	d.lines = append(d.lines[:start], d.lines[end+1:]...)
}

func (d *Document) replaceLines(start, end int, line string) {
	d.deleteLines(start, end)
	d.insertLines(start, line)
}

// entry is a key/value pair spanning lines start..end inclusive. key holds
// the dotted key segments.
type entry struct {
	key        []string
	start, end int
}

// table is a [header] and the entries that follow it. last is the final
// line owned by an entry, or the header line when the table is empty.
type table struct {
	name    []string
	header  int
	last    int
	entries []entry
}

func (d *Document) scan() []table {
	var tables []table
	cur := table{header: -1, last: -1}
	for i := 0; i < len(d.lines); {
		raw := strings.TrimSuffix(d.lines[i], "\r")
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			i++
		case strings.HasPrefix(trimmed, "["):
			tables = append(tables, cur)
			offset := 1
			if strings.HasPrefix(trimmed, "[[") {
				offset = 2
			}
			segs, _ := readKey(trimmed, offset)
			cur = table{name: segs, header: i, last: i}
			i++
		default:
			segs, eq := readKey(raw, 0)
			end := valueEnd(d.lines, i, eq)
			cur.entries = append(cur.entries, entry{key: segs, start: i, end: end})
			cur.last = end
			i = end + 1
		}
	}
	return append(tables, cur)
}

// readKey reads a dotted key starting at s[j] and returns its segments and
// the index just past the `=` (or the closing `]` for headers).
func readKey(s string, j int) ([]string, int) {
	var segs []string
	skipSpace := func() {
		for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
			j++
		}
	}
	for {
		skipSpace()
		if j >= len(s) {
			return segs, j
		}
		switch s[j] {
		case '"':
			k := j + 1
			for k < len(s) && s[k] != '"' {
				if s[k] == '\\' {
					k++
				}
				k++
			}
			end := min(k+1, len(s))
			seg, err := strconv.Unquote(s[j:end])
			if err != nil {
				seg = s[j+1 : min(k, len(s))]
			}
			segs = append(segs, seg)
			j = end
		case '\'':
			k := strings.IndexByte(s[j+1:], '\'')
			if k < 0 {
				return segs, len(s)
			}
			segs = append(segs, s[j+1:j+1+k])
			j += k + 2
		default:
			k := j
			for k < len(s) && isBareKeyChar(s[k]) {
				k++
			}
			if k == j {
				return segs, j
			}
			segs = append(segs, s[j:k])
			j = k
		}
		skipSpace()
		if j < len(s) && s[j] == '.' {
			j++
			continue
		}
		if j < len(s) && (s[j] == '=' || s[j] == ']') {
			return segs, j + 1
		}
		return segs, j
	}
}

// valueEnd returns the last line of the value that starts on line start at
// byte offset from. It follows brackets and multi-line strings.
func valueEnd(lines []string, start, from int) int {
	depth := 0
	multi := ""
	for i := start; i < len(lines); i++ {
		s := lines[i]
		j := 0
		if i == start {
			j = min(max(from, 0), len(s))
		}
		for j < len(s) {
			if multi != "" {
				switch {
				case strings.HasPrefix(s[j:], multi):
					j += 3
					multi = ""
				case multi == `"""` && s[j] == '\\':
					j += 2
				default:
					j++
				}
				continue
			}
			switch c := s[j]; {
			case strings.HasPrefix(s[j:], `"""`), strings.HasPrefix(s[j:], `'''`):
				multi = s[j : j+3]
				j += 3
			case c == '"':
				j++
				for j < len(s) && s[j] != '"' {
					if s[j] == '\\' {
						j++
					}
					j++
				}
				j++
			case c == '\'':
				j++
				for j < len(s) && s[j] != '\'' {
					j++
				}
				j++
			case c == '#':
				j = len(s)
			case c == '[' || c == '{':
				depth++
				j++
			case c == ']' || c == '}':
				depth--
				j++
			default:
				j++
			}
		}
		if multi == "" && depth <= 0 {
			return i
		}
	}
	return len(lines) - 1
}

// path is the absolute key path of e.
func (t table) path(e entry) []string {
	return append(append([]string(nil), t.name...), e.key...)
}

func hasPrefix(name, prefix []string) bool {
	return len(name) >= len(prefix) && sameTable(name[:len(prefix)], prefix)
}

func sameTable(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinTableName(name []string) string {
	parts := make([]string, len(name))
	for i, n := range name {
		parts[i] = encodeKey(n)
	}
	return strings.Join(parts, ".")
}
