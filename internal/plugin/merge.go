// Package plugin adds plugins to the manager's global environment: it
// filters requests already declared in the environment manifest, merges the
// rest into it and delegates the scoped install.
package plugin

import (
	"strings"

	"pluginpm/internal/determiner"
	"pluginpm/internal/manifest"
	"pluginpm/internal/requirement"
)

// ExistingNames returns the requested names, as typed, that match a
// declared dependency key case-insensitively.
func ExistingNames(requested, keys []string) []string {
	var out []string
	for _, name := range requested {
		for _, key := range keys {
			if strings.EqualFold(name, key) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// Validator checks constraint syntax.
type Validator func(text string) error

// ValidateSpecs checks every version constraint and stops at the first
// malformed one.
func ValidateSpecs(specs []determiner.Spec, validate Validator) error {
	if validate == nil {
		return nil
	}
	for _, spec := range specs {
		if spec.Version == "" {
			continue
		}
		if err := validate(spec.Version); err != nil {
			return err
		}
	}
	return nil
}

// Representation is the manifest entry for a resolved spec.
func Representation(spec determiner.Spec) manifest.Constraint {
	var fields []manifest.Field
	if spec.Version != "" {
		fields = append(fields, manifest.Field{Key: "version", Value: spec.Version})
	}
	if spec.Git != "" {
		fields = append(fields, manifest.Field{Key: "git", Value: spec.Git})
		if spec.Rev != "" {
			fields = append(fields, manifest.Field{Key: "rev", Value: spec.Rev})
		}
	}
	if spec.Path != "" {
		fields = append(fields, manifest.Field{Key: "path", Value: spec.Path})
	}
	if spec.URL != "" {
		fields = append(fields, manifest.Field{Key: "url", Value: spec.URL})
	}
	if len(spec.Extras) > 0 {
		fields = append(fields, manifest.Field{Key: "extras", Value: append([]string(nil), spec.Extras...)})
	}
	if len(fields) == 0 {
		return manifest.Plain("*")
	}
	return manifest.Table(fields...).Normalize()
}

// Merge validates all specs and then upserts them into doc in order. It
// returns the dependency names to scope the update to. Nothing in doc is
// changed when validation fails.
func Merge(doc *manifest.Document, specs []determiner.Spec, validate Validator) ([]string, error) {
	if err := ValidateSpecs(specs, validate); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(specs))
	seen := map[string]struct{}{}
	for _, spec := range specs {
		if err := doc.Set(spec.Name, Representation(spec)); err != nil {
			return nil, err
		}
		key := requirement.Canonical(spec.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, spec.Name)
	}
	return names, nil
}
