package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"testatlas/internal/config"
	"testatlas/internal/logger"
	"testatlas/internal/model"
	"testatlas/internal/provider"
	"testatlas/internal/provider/cli"
	"testatlas/internal/watcher"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var workspace string

	rootCmd := &cobra.Command{
		Use:   "testatlas",
		Short: "Incremental test-model explorer for external test runners",
		Long: `testatlas keeps an in-memory model of the test projects and files an
external test runner reports, reconciles it against filesystem changes,
and exposes the resulting tree.

Examples:
  testatlas list                     # discover projects and files
  testatlas tests tests/a.spec.ts    # parse specific files
  testatlas run --project chromium   # run and stream results
  testatlas watch                    # keep the model live`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace root directory")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newListCmd(&workspace),
		newTestsCmd(&workspace),
		newRunCmd(&workspace),
		newWatchCmd(&workspace),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildModel wires the logger, config discovery, and the exec-backed
// provider into a model rooted at the workspace.
func buildModel(workspace string) (*model.Model, *logger.FileLogger, error) {
	_ = godotenv.Load()

	fileLogger, err := logger.NewFileLogger(filepath.Join(workspace, ".testatlas"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create debug logger: %w", err)
	}

	cfg, err := config.First(workspace, nil)
	if err != nil {
		_ = fileLogger.Close()
		return nil, nil, err
	}

	m, err := model.New(cfg, cli.New(fileLogger), nil, fileLogger)
	if err != nil {
		_ = fileLogger.Close()
		return nil, nil, err
	}
	return m, fileLogger, nil
}

func newListCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Run full discovery and print the project/file tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, log, err := buildModel(*workspace)
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			if err := m.ListFiles(cmd.Context()); err != nil {
				return err
			}
			printTree(m)
			return nil
		},
	}
}

func newTestsCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tests [files...]",
		Short: "Parse specific files and print their test entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, log, err := buildModel(*workspace)
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			if err := m.ListFiles(cmd.Context()); err != nil {
				return err
			}
			files := make([]string, len(args))
			for i, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				files[i] = abs
			}
			parseErrors, err := m.ListTests(cmd.Context(), files)
			if err != nil {
				return err
			}
			for _, perr := range parseErrors {
				fmt.Fprintf(os.Stderr, "parse error: %s\n", perr.Message)
			}

			for _, p := range m.AllProjects() {
				for _, path := range files {
					f, ok := p.File(path)
					if !ok {
						continue
					}
					entries, parsed := f.Entries()
					if !parsed {
						continue
					}
					fmt.Printf("%s [%s] (revision %d)\n", path, p.Name, f.Revision())
					for _, e := range entries {
						printEntry(e, 1)
					}
				}
			}
			return nil
		},
	}
}

func newRunCmd(workspace *string) *cobra.Command {
	var projects []string
	var grep string

	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Run tests and stream results",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, log, err := buildModel(*workspace)
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			if err := m.ListFiles(cmd.Context()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			req := provider.RunRequest{
				Projects:    projects,
				Locations:   m.NarrowDownFilesToEnabledProjects(absAll(args)),
				TitleFilter: grep,
			}
			return m.RunTests(ctx, req, &consoleReporter{})
		},
	}
	cmd.Flags().StringArrayVar(&projects, "project", nil, "project to run (repeatable, default all enabled)")
	cmd.Flags().StringVar(&grep, "grep", "", "only run tests whose title matches")
	return cmd
}

func newWatchCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace and keep the model reconciled",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, log, err := buildModel(*workspace)
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			if err := m.ListFiles(cmd.Context()); err != nil {
				return err
			}
			printTree(m)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			changes, unsubscribe := m.Subscribe()
			defer unsubscribe()

			w, err := watcher.New(m.Config().WorkspaceDir, func(created, changed, deleted []string) {
				if _, err := m.WorkspaceChanged(ctx, model.Change{
					Created: created,
					Changed: changed,
					Deleted: deleted,
				}); err != nil {
					log.Error("reconciliation failed: %v", err)
				}
			}, log)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			fmt.Println("watching for changes (ctrl-c to stop)")
			for {
				select {
				case <-changes:
					fmt.Printf("model changed: %s\n", summarize(m))
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}

func absAll(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if abs, err := filepath.Abs(arg); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

func printTree(m *model.Model) {
	for _, p := range m.AllProjects() {
		state := "enabled"
		if !p.Enabled() {
			state = "disabled"
		}
		fmt.Printf("%s (%s, testDir=%s)\n", p.Name, state, p.TestDir())
		for _, path := range p.FilePaths() {
			f, _ := p.File(path)
			if entries, ok := f.Entries(); ok {
				fmt.Printf("  %s (%d entries)\n", path, len(entries))
			} else {
				fmt.Printf("  %s (unparsed)\n", path)
			}
		}
	}
}

func printEntry(e *provider.Entry, depth int) {
	marker := "○"
	if e.Kind == provider.EntryKindSuite {
		marker = "▸"
	}
	fmt.Printf("%s%s %s:%d %s\n", strings.Repeat("  ", depth), marker, e.Location.File, e.Location.Line, e.Title)
	for _, c := range e.Children {
		printEntry(c, depth+1)
	}
}

func summarize(m *model.Model) string {
	projects := m.AllProjects()
	files := 0
	for _, p := range projects {
		files += len(p.FilePaths())
	}
	return fmt.Sprintf("%d project(s), %d file(s)", len(projects), files)
}

// consoleReporter prints one line per finished test.
type consoleReporter struct{}

func (r *consoleReporter) OnBegin(suites []provider.ProjectSuite) {
	fmt.Printf("run started: %d project(s)\n", len(suites))
}

func (r *consoleReporter) OnTestBegin(loc provider.Location, title string) {}

func (r *consoleReporter) OnTestEnd(loc provider.Location, title string, result provider.TestResult) {
	fmt.Printf("%-7s %s (%s:%d)\n", strings.ToUpper(result.Status), title, loc.File, loc.Line)
	if result.Error != "" {
		fmt.Printf("        %s\n", result.Error)
	}
}

func (r *consoleReporter) OnError(err provider.TestError) {
	fmt.Fprintf(os.Stderr, "error: %s\n", err.Message)
}

func (r *consoleReporter) OnEnd(failed bool) {
	if failed {
		fmt.Println("run finished: FAIL")
	} else {
		fmt.Println("run finished: PASS")
	}
}
