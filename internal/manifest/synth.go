package manifest

import (
	"errors"
	"fmt"
	"os"

	"pluginpm/internal/envloc"
	"pluginpm/internal/inventory"
)

const defaultTemplate = `[tool.poetry]
name = ""
version = ""
description = ""
authors = []

[tool.poetry.dependencies]

[tool.poetry.dev-dependencies]

[build-system]
requires = ["poetry-core>=1.0.0"]
build-backend = "poetry.core.masonry.api"
`

// Render builds the manifest describing root: its identity, the interpreter
// constraint and one dependency entry per requirement.
func Render(root *inventory.RootPackage) (*Document, error) {
	doc, err := Parse([]byte(defaultTemplate))
	if err != nil {
		return nil, err
	}
	authors := root.Authors
	if authors == nil {
		authors = []string{}
	}
	for _, f := range []Field{
		{Key: "name", Value: root.Name},
		{Key: "version", Value: root.Version},
		{Key: "description", Value: root.Description},
		{Key: "authors", Value: authors},
	} {
		if err := doc.SetField(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	if err := doc.Set("python", Plain(root.PythonVersions)); err != nil {
		return nil, err
	}
	for _, req := range root.Requires {
		if err := doc.Set(req.Name, FromRequirement(req)); err != nil {
			return nil, fmt.Errorf("DOC_SYNTHESIZE: %s: %w", req.Name, err)
		}
	}
	return doc, nil
}

// Synthesize writes a manifest for root at env.ManifestPath unless one is
// already there. It reports whether a file was created.
func Synthesize(env *envloc.Environment, root *inventory.RootPackage) (bool, error) {
	if _, err := os.Stat(env.ManifestPath); err == nil {
		env.HasManifest = true
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("DOC_SYNTHESIZE: %w", err)
	}
	if root == nil {
		return false, fmt.Errorf("DOC_SYNTHESIZE: no root package")
	}
	doc, err := Render(root)
	if err != nil {
		return false, err
	}
	if err := doc.Save(env.ManifestPath); err != nil {
		return false, err
	}
	env.HasManifest = true
	return true, nil
}
