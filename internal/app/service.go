package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"

	"pluginpm/internal/audit"
	"pluginpm/internal/config"
	"pluginpm/internal/constraint"
	"pluginpm/internal/determiner"
	"pluginpm/internal/doctor"
	"pluginpm/internal/envloc"
	"pluginpm/internal/inventory"
	"pluginpm/internal/logging"
	"pluginpm/internal/pipeline"
	"pluginpm/internal/plugin"
)

type Options struct {
	ConfigPath string
	HTTPClient *http.Client
	// Environ replaces the process environment for overrides; nil reads os.
	Environ map[string]string
	Verbose bool
	Notify  plugin.Notifier
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

type Service struct {
	ConfigPath string
	Config     config.Config
	StateRoot  string

	Logger  *log.Logger
	Audit   *audit.Logger
	Locator *envloc.Locator
	Plugins *plugin.Service
	Doctor  *doctor.Service
}

func New(opts Options) (*Service, error) {
	var overrides config.EnvOverrides
	var err error
	if opts.Environ != nil {
		overrides, err = config.ParseEnvFrom(opts.Environ)
	} else {
		overrides, err = config.ParseEnv()
	}
	if err != nil {
		return nil, err
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = overrides.ConfigPath
	}
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err = config.ApplyEnv(cfg, overrides)
	if err != nil {
		return nil, err
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(stderr, level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	stateRoot, err := config.ResolveStorageRoot(cfg)
	if err != nil {
		return nil, err
	}
	auditPath, err := config.AuditPath(cfg)
	if err != nil {
		return nil, err
	}
	auditLog := audit.New(auditPath)

	home := ""
	if cfg.Manager.Home != "" {
		if home, err = config.ExpandPath(cfg.Manager.Home); err != nil {
			return nil, err
		}
	}
	locator := &envloc.Locator{
		Override:     home,
		Manager:      cfg.Manager.Executable,
		ManifestFile: cfg.Manager.ManifestFile,
	}
	loader := &inventory.Loader{
		RootName: cfg.Manager.RootPackage,
		Unsafe:   inventory.NewUnsafeSet(cfg.Manager.UnsafePackages...),
	}

	index := determiner.NewPyPI(cfg.Index.URL, cfg.Index.TimeoutDuration())
	if opts.HTTPClient != nil {
		index.Client = opts.HTTPClient
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	plugins := &plugin.Service{
		Locator: locator,
		Determiner: &determiner.Determiner{
			Index:            index,
			AllowPrereleases: cfg.Index.AllowPrereleases,
			Concurrency:      cfg.Index.Concurrency,
			WorkDir:          cwd,
		},
		Inventory: loader,
		Pipeline: &pipeline.Exec{
			Manager: cfg.Manager.Executable,
			Stdin:   opts.Stdin,
			Stdout:  stdout,
			Stderr:  stderr,
		},
		Validate: constraint.Validate,
		Notify:   opts.Notify,
		Audit:    auditLog,
	}
	doctorSvc := &doctor.Service{
		ConfigPath: configPath,
		Locator:    locator,
		Inventory:  loader,
		LookPath:   exec.LookPath,
		Manager:    cfg.Manager.Executable,
	}
	return &Service{
		ConfigPath: configPath,
		Config:     cfg,
		StateRoot:  stateRoot,
		Logger:     logger,
		Audit:      auditLog,
		Locator:    locator,
		Plugins:    plugins,
		Doctor:     doctorSvc,
	}, nil
}

func (s *Service) withLogger(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, s.Logger)
}

// AddPlugins adds names to the manager's global environment.
func (s *Service) AddPlugins(ctx context.Context, names []string, dryRun bool) (plugin.Result, error) {
	return s.Plugins.Add(s.withLogger(ctx), names, dryRun)
}

// Environment reports the located global environment.
func (s *Service) Environment(ctx context.Context) (*envloc.Environment, error) {
	return s.Locator.Locate(s.withLogger(ctx))
}

func (s *Service) DoctorRun(ctx context.Context) doctor.Report {
	return s.Doctor.Run(s.withLogger(ctx))
}

// History returns the latest n audit events.
func (s *Service) History(n int) ([]audit.Event, error) {
	return s.Audit.Tail(n)
}

func (s *Service) ConfigGet(key string) (string, error) {
	return config.Get(s.Config, key)
}

// ConfigSet updates a key in the config file. Environment overrides are not
// persisted.
func (s *Service) ConfigSet(key, value string) error {
	onDisk, err := config.Load(s.ConfigPath)
	if err != nil {
		return err
	}
	if err := config.Set(&onDisk, key, value); err != nil {
		return err
	}
	if err := config.Save(s.ConfigPath, onDisk); err != nil {
		return err
	}
	return config.Set(&s.Config, key, value)
}
