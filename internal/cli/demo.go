package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lienwatch/internal/harness"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	GoldenDir string // compare rendered runs against <golden-dir>/<name>.golden
	Update    bool   // rewrite golden files instead of comparing
	Filter    string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario run.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Trace  []string `json:"trace,omitempty"`
}

// DemoResult holds the overall result.
type DemoResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo <scenario-file-or-dir>...",
		Short: "Replay scripted sessions against a simulated registry",
		Long: `Run scenario files against an in-memory registry and a scripted wallet.
No node or key is needed.

Each scenario is traced step by step and checked against its assertions and,
with --golden-dir, against a golden rendering of the run.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing files, etc.)

Examples:
  lienwatch demo testdata/scenarios
  lienwatch demo testdata/scenarios --filter "double_*" -v
  lienwatch demo testdata/scenarios --golden-dir internal/harness/testdata/golden --update`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "directory of golden files to compare against")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runDemo(opts *DemoOptions, paths []string, cmd *cobra.Command) error {
	if opts.Update && opts.GoldenDir == "" {
		return NewExitError(ExitCommandError, "--update requires --golden-dir")
	}

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeScenario, err)
		}
		files = append(files, found...)
	}

	result := DemoResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenario(opts, file, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputDemoJSON(cmd, result)
	}
	return outputDemoText(cmd, result)
}

// findScenarioFiles returns path itself if it is a file, or the YAML files
// under it if it is a directory.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path not found: %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(filepath.Base(p), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

// runScenario loads, runs and checks one scenario file.
func runScenario(opts *DemoOptions, file string, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"

	fail := func(name string, errs ...string) ScenarioResult {
		if text {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Pass: false, Errors: errs}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("execution error: %v", err))
	}
	rendered := result.Render(scenario.Name)

	if opts.GoldenDir != "" {
		goldenPath := filepath.Join(opts.GoldenDir, scenario.Name+".golden")
		if opts.Update {
			if err := os.MkdirAll(opts.GoldenDir, 0755); err != nil {
				return fail(scenario.Name, fmt.Sprintf("golden update error: %v", err))
			}
			if err := os.WriteFile(goldenPath, rendered, 0644); err != nil {
				return fail(scenario.Name, fmt.Sprintf("golden update error: %v", err))
			}
		} else {
			want, err := os.ReadFile(goldenPath)
			switch {
			case os.IsNotExist(err):
				// No golden file: assertions only.
			case err != nil:
				return fail(scenario.Name, fmt.Sprintf("golden read error: %v", err))
			case !bytes.Equal(want, rendered):
				result.AddError("trace does not match golden file (run with --update to regenerate)")
			}
		}
	}

	if !result.Pass {
		sr := fail(scenario.Name, result.Errors...)
		sr.Trace = result.Trace
		return sr
	}

	if text {
		fmt.Fprintf(w, "✓ %s\n", scenario.Name)
		if opts.Verbose {
			for _, line := range strings.Split(strings.TrimRight(string(rendered), "\n"), "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}
	return ScenarioResult{Name: scenario.Name, Pass: true, Trace: result.Trace}
}

func outputDemoJSON(cmd *cobra.Command, result DemoResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeScenario,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputDemoText(cmd *cobra.Command, result DemoResult) error {
	w := cmd.OutOrStdout()
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Demo Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
