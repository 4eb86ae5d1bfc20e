// Package envloc finds the manager's globally-scoped Python environment: the
// virtual environment the manager itself runs from, or an explicit override.
package envloc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const pyvenvCfg = "pyvenv.cfg"

// PythonVersion is the interpreter version triple.
type PythonVersion struct {
	Major, Minor, Patch int
}

// String joins the version triple with dots.
func (v PythonVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Environment identifies the target runtime.
type Environment struct {
	Root         string
	Interpreter  string
	Python       PythonVersion
	ManifestPath string
	HasManifest  bool
}

// NotFoundError is returned when no candidate root holds a usable interpreter.
type NotFoundError struct {
	Tried  []string
	Reason string
}

func (e *NotFoundError) Error() string {
	msg := "ENV_NOT_FOUND: no usable environment"
	if len(e.Tried) > 0 {
		msg += fmt.Sprintf(" (tried %s)", strings.Join(e.Tried, ", "))
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ProbeFunc asks an interpreter for its version, e.g. "3.11.4".
type ProbeFunc func(ctx context.Context, interpreter string) (string, error)

// Locator resolves the Environment. Override is tried first, then the
// installer layout <Override>/venv, then the system location derived from
// the manager executable. When Override names an existing directory the
// manifest lives there even if the interpreter was found elsewhere.
type Locator struct {
	Override     string
	Manager      string
	ManifestFile string
	Probe        ProbeFunc
}

// Locate returns the Environment for the manager's global runtime.
func (l *Locator) Locate(ctx context.Context) (*Environment, error) {
	manifestFile := l.ManifestFile
	if manifestFile == "" {
		manifestFile = "pyproject.toml"
	}

	var (
		candidates  []string
		manifestDir string
	)
	if l.Override != "" {
		home := filepath.Clean(l.Override)
		candidates = append(candidates, home, filepath.Join(home, "venv"))
		if info, err := os.Stat(home); err == nil && info.IsDir() {
			manifestDir = home
		}
	}

	nf := &NotFoundError{}
	try := func(root string) *Environment {
		nf.Tried = append(nf.Tried, root)
		interpreter, ok := findInterpreter(root)
		if !ok {
			nf.Reason = "no python interpreter"
			return nil
		}
		version, err := l.pythonVersion(ctx, root, interpreter)
		if err != nil {
			nf.Reason = err.Error()
			return nil
		}
		return &Environment{Root: root, Interpreter: interpreter, Python: version}
	}

	var env *Environment
	for _, root := range candidates {
		if env = try(root); env != nil {
			break
		}
	}
	if env == nil {
		sys, err := l.systemRoot()
		if err != nil {
			nf.Tried = append(nf.Tried, l.managerName())
			nf.Reason = err.Error()
			return nil, nf
		}
		if env = try(sys); env == nil {
			return nil, nf
		}
	}

	if manifestDir == "" {
		manifestDir = env.Root
	}
	env.ManifestPath = filepath.Join(manifestDir, manifestFile)
	if info, err := os.Stat(env.ManifestPath); err == nil && !info.IsDir() {
		env.HasManifest = true
	}
	return env, nil
}

func (l *Locator) managerName() string {
	if l.Manager == "" {
		return "poetry"
	}
	return l.Manager
}

// systemRoot derives the environment root from the manager executable:
// <root>/bin/poetry (or <root>\Scripts\poetry.exe).
func (l *Locator) systemRoot() (string, error) {
	manager := l.managerName()
	exe := manager
	if !filepath.IsAbs(manager) {
		found, err := exec.LookPath(manager)
		if err != nil {
			return "", err
		}
		exe = found
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	return filepath.Dir(filepath.Dir(abs)), nil
}

func findInterpreter(root string) (string, bool) {
	var candidates []string
	if runtime.GOOS == "windows" {
		candidates = []string{filepath.Join(root, "Scripts", "python.exe")}
	} else {
		candidates = []string{filepath.Join(root, "bin", "python"), filepath.Join(root, "bin", "python3")}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

func (l *Locator) pythonVersion(ctx context.Context, root, interpreter string) (PythonVersion, error) {
	raw, err := readPyvenvVersion(filepath.Join(root, pyvenvCfg))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return PythonVersion{}, err
	}
	if raw == "" {
		probe := l.Probe
		if probe == nil {
			probe = execProbe
		}
		raw, err = probe(ctx, interpreter)
		if err != nil {
			return PythonVersion{}, fmt.Errorf("probe interpreter: %w", err)
		}
	}
	return ParsePythonVersion(raw)
}

// readPyvenvVersion reads `version_info` (or `version`) from pyvenv.cfg.
func readPyvenvVersion(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if v := values["version_info"]; v != "" {
		return v, nil
	}
	return values["version"], nil
}

func execProbe(ctx context.Context, interpreter string) (string, error) {
	out, err := exec.CommandContext(ctx, interpreter, "-c",
		"import sys; print('.'.join(str(v) for v in sys.version_info[:3]))").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ParsePythonVersion reads the leading major.minor.patch of a version string
// such as "3.11.4" or "3.11.4.final.0".
func ParsePythonVersion(raw string) (PythonVersion, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) < 2 {
		return PythonVersion{}, fmt.Errorf("ENV_PYTHON_VERSION: invalid python version %q", raw)
	}
	nums := [3]int{}
	for i := 0; i < 3 && i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return PythonVersion{}, fmt.Errorf("ENV_PYTHON_VERSION: invalid python version %q", raw)
		}
		nums[i] = n
	}
	return PythonVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}
