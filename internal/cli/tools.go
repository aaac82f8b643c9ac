package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/models"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/steps"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/synth"
)

var (
	toolName  string
	toolOut   string
	toolSuite bool
)

var parseScriptCmd = &cobra.Command{
	Use:   "parse-script [file]",
	Short: "Convert generated automation script text into steps",
	Long:  `Read a generated automation script (a file, or stdin when the file is omitted or "-") and print its steps as JSON.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		list, errs := steps.Build(capture.ParseScript(string(text)), models.SourceGeneratedScript, steps.NewNormalizer())
		warn(cmd.ErrOrStderr(), errs)
		return writeOutput(cmd.OutOrStdout(), toolOut, stepsJSON(list))
	},
}

var parseTraceCmd = &cobra.Command{
	Use:   "parse-trace <trace.zip>",
	Short: "Extract steps from a recorded trace archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := capture.ParseTraceFile(args[0])
		if err != nil {
			return err
		}
		list, errs := steps.Build(events, models.SourceTrace, steps.NewNormalizer())
		warn(cmd.ErrOrStderr(), errs)
		return writeOutput(cmd.OutOrStdout(), toolOut, stepsJSON(list))
	},
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize [steps.json...]",
	Short: "Render a runnable script from step files",
	Long: `Render a runnable automation script from a JSON step list (a file, or stdin when omitted).
With --suite every file becomes one script of a suite runner named after the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if toolSuite {
			if len(args) == 0 {
				return fmt.Errorf("--suite needs at least one step file")
			}
			scripts := make([]synth.Script, 0, len(args))
			for _, path := range args {
				list, err := loadSteps(cmd.InOrStdin(), []string{path})
				if err != nil {
					return err
				}
				name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".json"), ".steps")
				scripts = append(scripts, synth.Script{Name: name, Steps: list})
			}
			return writeOutput(cmd.OutOrStdout(), toolOut, []byte(synth.SynthesizeSuite(nameOr(toolName, "suite"), scripts)))
		}
		if len(args) > 1 {
			return fmt.Errorf("expected one step file, got %d (use --suite for several)", len(args))
		}
		list, err := loadSteps(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), toolOut, []byte(synth.Synthesize(list, nameOr(toolName, "recording"))))
	},
}

func init() {
	parseScriptCmd.Flags().StringVarP(&toolOut, "out", "o", "", "Write output to this file instead of stdout")
	parseTraceCmd.Flags().StringVarP(&toolOut, "out", "o", "", "Write output to this file instead of stdout")
	synthesizeCmd.Flags().StringVarP(&toolOut, "out", "o", "", "Write output to this file instead of stdout")
	synthesizeCmd.Flags().StringVar(&toolName, "name", "", "Script name (default: recording, or suite with --suite)")
	synthesizeCmd.Flags().BoolVar(&toolSuite, "suite", false, "Render a suite runner with one script per file")
	rootCmd.AddCommand(parseScriptCmd, parseTraceCmd, synthesizeCmd)
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}

func loadSteps(stdin io.Reader, args []string) ([]models.Step, error) {
	data, err := readInput(stdin, args)
	if err != nil {
		return nil, err
	}
	var list []models.Step
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	return list, nil
}

func stepsJSON(list []models.Step) []byte {
	if list == nil {
		list = []models.Step{}
	}
	data, _ := json.MarshalIndent(list, "", "  ")
	return append(data, '\n')
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func warn(w io.Writer, errs []error) {
	for _, err := range errs {
		fmt.Fprintf(w, "warning: skipped %v\n", err)
	}
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
