// Package pipeline hands a finalized manifest to the manager's own
// resolve-and-install machinery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"pluginpm/internal/envloc"
	"pluginpm/internal/logging"
)

// Request scopes one delegated update.
type Request struct {
	ManifestPath string
	Env          *envloc.Environment
	Names        []string
	DryRun       bool
}

// Args is the manager command line for r.
func (r Request) Args() []string {
	args := append([]string{"update"}, r.Names...)
	if r.DryRun {
		args = append(args, "--dry-run")
	}
	return args
}

// Runner executes a scoped update and returns its exit status verbatim.
type Runner interface {
	Run(ctx context.Context, req Request) (int, error)
}

// Exec runs the manager executable as a child process.
type Exec struct {
	// Manager is the executable name or path; empty means "poetry".
	Manager string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

func (e *Exec) Run(ctx context.Context, req Request) (int, error) {
	if req.Env == nil {
		return 0, errors.New("PIPE_EXEC: no environment")
	}
	if len(req.Names) == 0 {
		return 0, errors.New("PIPE_EXEC: no plugins to update")
	}
	bin, err := e.executable(req.Env)
	if err != nil {
		return 0, err
	}
	cmd := exec.CommandContext(ctx, bin, req.Args()...)
	cmd.Dir = filepath.Dir(req.ManifestPath)
	cmd.Env = append(os.Environ(),
		"VIRTUAL_ENV="+req.Env.Root,
		"POETRY_VIRTUALENVS_CREATE=false",
	)
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr

	logging.FromContext(ctx).Debug("delegating update",
		"manager", bin,
		"args", req.Args(),
		"dir", cmd.Dir,
	)
	err = cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("PIPE_EXEC: %w", err)
}

// executable prefers the manager installed inside the environment itself.
func (e *Exec) executable(env *envloc.Environment) (string, error) {
	name := e.Manager
	if name == "" {
		name = "poetry"
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	local := filepath.Join(env.Root, "bin", name)
	if runtime.GOOS == "windows" {
		local = filepath.Join(env.Root, "Scripts", name+".exe")
	}
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("PIPE_EXEC: manager %q not found: %w", name, err)
	}
	return path, nil
}
