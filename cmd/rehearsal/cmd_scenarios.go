package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rehearsal/internal/harness"
	"rehearsal/internal/scenario"
)

// scenariosCmd lists, validates, and shows scenarios.
var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the loaded scenarios",
	Long: `List every scenario the harness would load: the built-ins plus any
YAML files under the configured directory.

Subcommands:
  validate - check scenario files without running anything
  show     - print one scenario as YAML`,
	RunE: runScenariosList,
}

var scenariosValidateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate scenario files",
	RunE:  runScenariosValidate,
}

var scenariosShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print one scenario as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runScenariosShow,
}

func init() {
	scenariosCmd.AddCommand(scenariosValidateCmd)
	scenariosCmd.AddCommand(scenariosShowCmd)
}

func loadScenarioIndex() (*harness.Harness, error) {
	return harness.New("", cfg, os.Stdout, "console", logger)
}

func runScenariosList(cmd *cobra.Command, args []string) error {
	h, err := loadScenarioIndex()
	if err != nil {
		return err
	}
	for _, name := range h.ListScenarios() {
		sc, _ := h.Scenario(name)
		fmt.Printf("%-20s script=%-9s steps=%-3d %s\n", name, sc.Script, len(sc.Steps), sc.Description)
	}
	return nil
}

func runScenariosValidate(cmd *cobra.Command, args []string) error {
	// No files named: validate the configured directory.
	if len(args) == 0 {
		if cfg.Scenarios.Dir == "" {
			return fmt.Errorf("no files named and no scenario dir configured")
		}
		loaded, err := scenario.LoadDir(cfg.Scenarios.Dir)
		if err != nil {
			return err
		}
		fmt.Printf("%d scenarios in %s, all valid\n", len(loaded), cfg.Scenarios.Dir)
		return nil
	}

	failed := 0
	for _, path := range args {
		if _, err := scenario.Load(path); err != nil {
			fmt.Printf("✗ %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("✓ %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files invalid", failed, len(args))
	}
	return nil
}

func runScenariosShow(cmd *cobra.Command, args []string) error {
	h, err := loadScenarioIndex()
	if err != nil {
		return err
	}
	sc, ok := h.Scenario(args[0])
	if !ok {
		return fmt.Errorf("scenario %q not found", args[0])
	}
	out, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to render scenario: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
