package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"pluginpm/internal/audit"
	"pluginpm/internal/determiner"
	"pluginpm/internal/envloc"
	"pluginpm/internal/inventory"
	"pluginpm/internal/logging"
	"pluginpm/internal/manifest"
	"pluginpm/internal/pipeline"
)

// Locator finds the global environment plugins are added to.
type Locator interface {
	Locate(ctx context.Context) (*envloc.Environment, error)
}

// Determiner resolves typed plugin names into structured specs.
type Determiner interface {
	Determine(ctx context.Context, names []string) ([]determiner.Spec, error)
}

// InventoryLoader snapshots the packages installed in an environment.
type InventoryLoader interface {
	Load(env *envloc.Environment) (*inventory.Inventory, error)
}

// Auditor records one phase of an operation.
type Auditor interface {
	Log(ev audit.Event) error
}

// Notifier receives the requested names that are already declared.
type Notifier func(names []string)

// Service runs plugin additions against one global environment. Concurrent
// calls against the same environment must be serialized by the caller.
type Service struct {
	Locator    Locator
	Determiner Determiner
	Inventory  InventoryLoader
	Pipeline   pipeline.Runner
	Validate   Validator
	Notify     Notifier
	Audit      Auditor
	// NewRunID labels the audit events of one Add call; nil uses a random UUID.
	NewRunID func() string
}

// Result describes one Add call.
type Result struct {
	Run          string   `json:"run"`
	ExitCode     int      `json:"exitCode"`
	Skipped      []string `json:"skipped,omitempty"`
	Added        []string `json:"added,omitempty"`
	ManifestPath string   `json:"manifestPath,omitempty"`
	Synthesized  bool     `json:"synthesized"`
	DryRun       bool     `json:"dryRun"`
}

// Add declares names in the environment manifest and runs an update scoped
// to them. A non-zero ExitCode is the delegate's status, returned with a
// nil error.
func (s *Service) Add(ctx context.Context, names []string, dryRun bool) (Result, error) {
	res := Result{Run: s.runID(), DryRun: dryRun}
	res, err := s.add(ctx, names, res)
	if err != nil {
		s.audit(res.Run, audit.Event{
			Operation: audit.OpPluginAdd,
			Phase:     audit.PhaseFailed,
			Status:    "error",
			Code:      ErrorCode(err),
			Message:   err.Error(),
			Plugins:   names,
		})
	}
	return res, err
}

func (s *Service) add(ctx context.Context, names []string, res Result) (Result, error) {
	logger := logging.FromContext(ctx).With("run", res.Run)
	if len(names) == 0 {
		return res, errors.New("PLUGIN_ADD: no plugins given")
	}
	env, err := s.Locator.Locate(ctx)
	if err != nil {
		return res, err
	}
	res.ManifestPath = env.ManifestPath
	logger.Debug("located environment", "root", env.Root, "python", env.Python.String(), "manifest", env.HasManifest)
	s.audit(res.Run, audit.Event{
		Operation: audit.OpPluginAdd,
		Phase:     audit.PhaseStart,
		Status:    "ok",
		Plugins:   names,
		Fields:    map[string]string{"root": env.Root, "dry_run": fmt.Sprint(res.DryRun)},
	})

	if exists(env.ManifestPath) {
		doc, err := manifest.Load(env.ManifestPath)
		if err != nil {
			return res, err
		}
		res.Skipped = ExistingNames(names, doc.DependencyNames())
		if len(res.Skipped) > 0 {
			if s.Notify != nil {
				s.Notify(res.Skipped)
			}
			s.audit(res.Run, audit.Event{Operation: audit.OpPluginAdd, Phase: audit.PhaseSkipped, Status: "ok", Plugins: res.Skipped})
			names = without(names, res.Skipped)
		}
	}
	if len(names) == 0 {
		logger.Info("nothing to add")
		return res, nil
	}

	specs, err := s.Determiner.Determine(ctx, names)
	if err != nil {
		return res, err
	}
	// Every constraint is checked before anything is written.
	if err := ValidateSpecs(specs, s.Validate); err != nil {
		return res, err
	}

	inv, err := s.Inventory.Load(env)
	if err != nil {
		return res, err
	}
	logger.Debug("loaded inventory", "root", inv.Root.Name, "version", inv.Root.Version, "packages", inv.Repository.Len())

	res.Synthesized, err = manifest.Synthesize(env, inv.Root)
	if err != nil {
		return res, err
	}
	if res.Synthesized {
		logger.Info("created manifest", "path", env.ManifestPath)
		s.audit(res.Run, audit.Event{Operation: audit.OpPluginAdd, Phase: audit.PhaseSynthesis, Status: "ok", Fields: map[string]string{"manifest": env.ManifestPath}})
	}

	doc, err := manifest.Load(env.ManifestPath)
	if err != nil {
		return res, err
	}
	added, err := Merge(doc, specs, s.Validate)
	if err != nil {
		return res, err
	}
	if err := doc.Save(env.ManifestPath); err != nil {
		return res, err
	}
	res.Added = added
	s.audit(res.Run, audit.Event{Operation: audit.OpPluginAdd, Phase: audit.PhaseMerged, Status: "ok", Plugins: added})

	code, err := s.Pipeline.Run(ctx, pipeline.Request{
		ManifestPath: env.ManifestPath,
		Env:          env,
		Names:        added,
		DryRun:       res.DryRun,
	})
	if err != nil {
		return res, err
	}
	res.ExitCode = code
	status := "ok"
	if code != 0 {
		status = "error"
	}
	s.audit(res.Run, audit.Event{Operation: audit.OpPluginAdd, Phase: audit.PhaseDelegated, Status: status, Plugins: added, ExitCode: audit.Exit(code)})
	return res, nil
}

func (s *Service) runID() string {
	if s.NewRunID != nil {
		return s.NewRunID()
	}
	return uuid.NewString()
}

func (s *Service) audit(run string, ev audit.Event) {
	if s.Audit == nil {
		return
	}
	ev.Run = run
	_ = s.Audit.Log(ev)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func without(names, drop []string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := skip[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// ErrorCode extracts the upper-case prefix of an error message.
func ErrorCode(err error) string {
	msg := err.Error()
	for i, r := range msg {
		switch {
		case r == ':':
			if i > 0 {
				return msg[:i]
			}
			return ""
		case r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
		default:
			return ""
		}
	}
	return ""
}
