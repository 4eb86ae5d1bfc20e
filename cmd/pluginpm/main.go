package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pluginpm/internal/app"
	"pluginpm/internal/config"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err)
		}
		if ex, ok := err.(ExitCoder); ok {
			os.Exit(ex.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var jsonOutput bool
	var verbose bool

	newSvc := func() (*app.Service, error) {
		opts := app.Options{ConfigPath: configPath, Verbose: verbose}
		if jsonOutput {
			// stdout carries the JSON payload only.
			opts.Stdout = os.Stderr
		} else {
			opts.Notify = notifyExisting
		}
		return app.New(opts)
	}

	cmd := &cobra.Command{
		Use:           "pluginpm",
		Short:         "Add plugins to the Poetry global environment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newAddCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newEnvCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newHistoryCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newConfigCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

func newAddCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:     "add <plugins...>",
		Aliases: []string{"install", "i"},
		Short:   "Add plugins to the global environment",
		Long: `Add one or more plugins to the Poetry global environment.

Plugins are declared in the environment's pyproject.toml (created from the
installed Poetry package when missing) and installed by running a scoped
"poetry update". Accepted forms:

  mkdocs                  latest release, pinned with ^
  mkdocs@^1.5             explicit constraint
  mkdocs[i18n]>=1.5       extras and PEP 508 style constraint
  git+https://host/x.git  VCS source, optional #rev
  ./path/to/project       local directory or archive
  https://host/x.whl      remote archive`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.AddPlugins(context.Background(), args, dryRun)
			if err != nil {
				return err
			}
			if *jsonOutput {
				if err := print(true, res, ""); err != nil {
					return err
				}
			}
			if res.ExitCode != 0 {
				msg := ""
				if *jsonOutput {
					msg = fmt.Sprintf("PIPE_EXEC: update exited with status %d", res.ExitCode)
				}
				return &exitError{code: res.ExitCode, msg: msg}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "output the operations but do not execute anything")
	return cmd
}

func newEnvCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the located global environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			env, err := svc.Environment(context.Background())
			if err != nil {
				return err
			}
			payload := map[string]any{
				"root":        env.Root,
				"interpreter": env.Interpreter,
				"python":      env.Python.String(),
				"manifest":    env.ManifestPath,
				"hasManifest": env.HasManifest,
			}
			return print(*jsonOutput, payload, fmt.Sprintf("root: %s\npython: %s\nmanifest: %s (present=%t)",
				env.Root, env.Python, env.ManifestPath, env.HasManifest))
		},
	}
}

func newDoctorCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag", "checkup"},
		Short:   "Run diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.DoctorRun(context.Background())
			if *jsonOutput {
				return print(true, report, "")
			}
			if report.Healthy {
				fmt.Println("healthy")
			} else {
				fmt.Println("issues found:")
			}
			for _, f := range report.Findings {
				fmt.Printf("- %s %s: %s\n", levelStyle(f.Level).Render("["+f.Level+"]"), f.Code, f.Message)
			}
			for _, p := range report.Plugins {
				line := fmt.Sprintf("%s %s", styleC2.Render(p.Name), p.Constraint)
				if p.Installed != "" {
					line += styleDim.Render(" (installed " + p.Installed + ")")
				}
				if p.Source != "" {
					line += styleDim.Render(" from " + p.Source)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newHistoryCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"log"},
		Short:   "Show recent plugin operations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			events, err := svc.History(limit)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, events, "")
			}
			if len(events) == 0 {
				fmt.Println("no history")
				return nil
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s %s %s %s", ev.Timestamp, ev.Operation, ev.Phase, ev.Status)
				if len(ev.Plugins) > 0 {
					line += " " + strings.Join(ev.Plugins, ",")
				}
				if ev.ExitCode != nil {
					line += fmt.Sprintf(" exit=%d", *ev.ExitCode)
				}
				if ev.Code != "" {
					line += " " + ev.Code
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return cmd
}

func newConfigCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Aliases: []string{"cfg"}, Short: "Inspect and change settings"}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			value, err := svc.ConfigGet(args[0])
			if err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{args[0]: value}, value)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.ConfigSet(args[0], args[1]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{args[0]: args[1]}, fmt.Sprintf("%s = %s", args[0], args[1]))
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			values := map[string]string{}
			var lines []string
			for _, key := range config.Keys() {
				value, err := svc.ConfigGet(key)
				if err != nil {
					return err
				}
				values[key] = value
				lines = append(lines, key+" = "+value)
			}
			return print(*jsonOutput, values, strings.Join(lines, "\n"))
		},
	}

	configCmd.AddCommand(getCmd, setCmd, listCmd)
	return configCmd
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
