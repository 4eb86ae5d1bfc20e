package manifest

import (
	"fmt"
	"sort"
	"strings"

	"pluginpm/internal/requirement"
)

// Kind tags a Constraint.
type Kind uint8

const (
	KindPlain Kind = iota
	KindTable
)

// Field is one key of a structured constraint. Value is a string, a
// []string or a bool.
type Field struct {
	Key   string
	Value any
}

// Constraint is the on-disk representation of a dependency: either a bare
// version string or an inline table of version/source fields.
type Constraint struct {
	Kind   Kind
	Text   string
	Fields []Field
}

// Plain returns a bare version constraint.
func Plain(text string) Constraint {
	return Constraint{Kind: KindPlain, Text: text}
}

// Table returns a structured constraint with fields in the given order.
func Table(fields ...Field) Constraint {
	return Constraint{Kind: KindTable, Fields: fields}
}

// Normalize collapses a table whose only field is `version` into the
// plain form.
func (c Constraint) Normalize() Constraint {
	if c.Kind != KindTable || len(c.Fields) != 1 || c.Fields[0].Key != "version" {
		return c
	}
	if s, ok := c.Fields[0].Value.(string); ok {
		return Plain(s)
	}
	return c
}

// Encode renders the normalized constraint as a TOML value.
func (c Constraint) Encode() string {
	c = c.Normalize()
	if c.Kind == KindPlain {
		return quote(c.Text)
	}
	parts := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		parts = append(parts, encodeKey(f.Key)+" = "+encodeValue(f.Value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (c Constraint) String() string { return c.Encode() }

// FromRequirement builds the representation of an installed requirement:
// VCS sources become {<vcs> = url, rev}, local files and directories
// become {path}, other direct URLs {url}, everything else {version}.
// Markers and sorted extras are appended.
func FromRequirement(req requirement.Requirement) Constraint {
	var fields []Field
	if kind, repo, rev, ok := req.VCS(); ok {
		fields = append(fields, Field{Key: kind, Value: repo})
		if rev != "" {
			fields = append(fields, Field{Key: "rev", Value: rev})
		}
	} else if path, ok := req.LocalPath(); ok {
		fields = append(fields, Field{Key: "path", Value: path})
	} else if req.URL != "" {
		fields = append(fields, Field{Key: "url", Value: req.URL})
	} else {
		fields = append(fields, Field{Key: "version", Value: req.PrettyConstraint()})
	}
	if req.Markers != "" {
		fields = append(fields, Field{Key: "markers", Value: req.Markers})
	}
	if extras := req.SortedExtras(); len(extras) > 0 {
		fields = append(fields, Field{Key: "extras", Value: extras})
	}
	return Table(fields...).Normalize()
}

var fieldOrder = map[string]int{
	"version": 0, "git": 1, "hg": 1, "svn": 1, "bzr": 1, "path": 1, "url": 1,
	"rev": 2, "branch": 2, "tag": 2, "subdirectory": 3, "develop": 4,
	"python": 5, "platform": 5, "markers": 6, "extras": 7, "optional": 8,
}

// fromValue converts a decoded TOML value. Decoding loses inline-table key
// order, so table fields come back in a fixed canonical order.
func fromValue(v any) (Constraint, bool) {
	switch val := v.(type) {
	case string:
		return Plain(val), true
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			oi, iok := fieldOrder[keys[i]]
			oj, jok := fieldOrder[keys[j]]
			if !iok {
				oi = len(fieldOrder)
			}
			if !jok {
				oj = len(fieldOrder)
			}
			if oi != oj {
				return oi < oj
			}
			return keys[i] < keys[j]
		})
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			switch fv := val[k].(type) {
			case []any:
				items := make([]string, 0, len(fv))
				for _, item := range fv {
					items = append(items, fmt.Sprint(item))
				}
				fields = append(fields, Field{Key: k, Value: items})
			default:
				fields = append(fields, Field{Key: k, Value: fv})
			}
		}
		return Table(fields...), true
	}
	return Constraint{}, false
}

func encodeValue(v any) string {
	switch val := v.(type) {
	case string:
		return quote(val)
	case []string:
		items := make([]string, 0, len(val))
		for _, s := range val {
			items = append(items, quote(s))
		}
		return "[" + strings.Join(items, ", ") + "]"
	case bool:
		if val {
			return "true"
		}
		return "false"
	}
	return quote(fmt.Sprint(v))
}

func isBareKeyChar(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func encodeKey(k string) string {
	if k == "" {
		return `""`
	}
	for i := 0; i < len(k); i++ {
		if !isBareKeyChar(k[i]) {
			return quote(k)
		}
	}
	return k
}

// quote renders s as a TOML basic string.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
