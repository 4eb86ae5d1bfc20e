// Package doctor checks that the global environment is in a state where
// plugins can be added.
package doctor

import (
	"context"
	"fmt"
	"os"

	"pluginpm/internal/config"
	"pluginpm/internal/inventory"
	"pluginpm/internal/manifest"
	"pluginpm/internal/plugin"
	"pluginpm/internal/requirement"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy     bool      `json:"healthy"`
	Findings    []Finding `json:"findings"`
	Root        string    `json:"root,omitempty"`
	Python      string    `json:"python,omitempty"`
	RootPackage string    `json:"rootPackage,omitempty"`
	Plugins     []Plugin  `json:"plugins,omitempty"`
}

// Plugin is a dependency declared in the manifest alongside what is
// currently installed for it.
type Plugin struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
	Installed  string `json:"installed,omitempty"`
	Source     string `json:"source,omitempty"`
}

type Service struct {
	ConfigPath string
	Locator    plugin.Locator
	Inventory  plugin.InventoryLoader
	// LookPath finds the manager executable; nil skips the check.
	LookPath func(name string) (string, error)
	Manager  string
}

func (s *Service) Run(ctx context.Context) Report {
	findings := []Finding{}
	report := Report{}
	if _, err := os.Stat(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_MISSING", Level: "warn", Message: err.Error()})
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		findings = append(findings, Finding{Code: "DOC_CONFIG_INVALID", Level: "error", Message: err.Error()})
	}

	if s.LookPath != nil {
		name := s.Manager
		if name == "" {
			name = "poetry"
		}
		if _, err := s.LookPath(name); err != nil {
			findings = append(findings, Finding{Code: "PIPE_MANAGER_MISSING", Level: "warn", Message: name + " not found on PATH"})
		}
	}

	env, err := s.Locator.Locate(ctx)
	if err != nil {
		findings = append(findings, Finding{Code: "ENV_NOT_FOUND", Level: "error", Message: err.Error()})
		return finish(report, findings)
	}
	report.Root = env.Root
	report.Python = env.Python.String()

	inv, err := s.Inventory.Load(env)
	if err != nil {
		findings = append(findings, Finding{Code: errCode(err, "INV_LOAD"), Level: "error", Message: err.Error()})
	} else {
		report.RootPackage = inv.Root.Name + " " + inv.Root.Version
	}

	if !env.HasManifest {
		findings = append(findings, Finding{Code: "DOC_MANIFEST_ABSENT", Level: "info", Message: "manifest will be created on the first plugin add"})
		return finish(report, findings)
	}
	doc, err := manifest.Load(env.ManifestPath)
	if err != nil {
		findings = append(findings, Finding{Code: "DOC_MANIFEST_INVALID", Level: "error", Message: err.Error()})
		return finish(report, findings)
	}
	for _, name := range doc.DependencyNames() {
		if name == "python" {
			continue
		}
		p := Plugin{Name: name}
		if c, ok := doc.Dependency(name); ok {
			p.Constraint = c.String()
		}
		if inv != nil {
			if pkg, ok := inv.Repository.Find(name); ok {
				p.Installed = pkg.Version
				p.Source = describeSource(pkg.Source)
			} else if !isRoot(inv.Root, name) {
				findings = append(findings, Finding{Code: "INV_PLUGIN_MISSING", Level: "warn", Message: name + " is declared but not installed"})
			}
		}
		report.Plugins = append(report.Plugins, p)
	}
	return finish(report, findings)
}

// isRoot reports whether name is the root package, which is never placed in
// the repository.
func isRoot(root *inventory.RootPackage, name string) bool {
	return root != nil && requirement.SameName(root.Name, name)
}

func describeSource(src *inventory.Source) string {
	if src == nil {
		return ""
	}
	if src.Reference != "" {
		return fmt.Sprintf("%s %s@%s", src.Type, src.URL, src.Reference)
	}
	return src.Type + " " + src.URL
}

func finish(report Report, findings []Finding) Report {
	report.Healthy = true
	for _, f := range findings {
		if f.Level == "error" {
			report.Healthy = false
			break
		}
	}
	report.Findings = findings
	return report
}

func errCode(err error, fallback string) string {
	if code := plugin.ErrorCode(err); code != "" {
		return code
	}
	return fallback
}
