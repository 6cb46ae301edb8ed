package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/dataset"
	"github.com/promptgate/promptgate/pkg/logging"
	"github.com/promptgate/promptgate/pkg/regexeval"
	"github.com/promptgate/promptgate/pkg/types"
)

var (
	rulesPath    string
	outputFormat string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage rule datasets",
	Long:  "Commands for listing and inspecting rule datasets",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded rules",
	Long:  "Display every rule from the dataset directory, or the embedded datasets when it is empty",
	RunE:  runRulesList,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesListCmd.Flags().StringVar(&rulesPath, "datasets", "", "Path to datasets directory (overrides L0_DATASET_PATH)")
	rulesListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if rulesPath != "" {
		cfg.DatasetPath = rulesPath
	}

	log := logging.New("text", logLevel("warn"))
	defer log.Sync()

	eval := regexeval.New(cfg.RegexEngine, cfg.RegexTimeout())
	loader := dataset.New(cfg.DatasetPath, cfg.DatasetHMACSecret, cfg.FailOpen, eval, log)

	datasets, err := loader.LoadAll()
	if err != nil {
		return fmt.Errorf("loading datasets: %w", err)
	}
	if len(datasets) == 0 {
		datasets, err = loader.LoadBuiltin()
		if err != nil {
			return fmt.Errorf("loading embedded datasets: %w", err)
		}
	}

	switch outputFormat {
	case "json":
		return outputDatasetsJSON(cmd, datasets)
	case "table":
		return outputDatasetsTable(cmd, datasets)
	default:
		return fmt.Errorf("unknown output format: %s", outputFormat)
	}
}

func outputDatasetsJSON(cmd *cobra.Command, datasets map[string]*types.Dataset) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(datasets)
}

func outputDatasetsTable(cmd *cobra.Command, datasets map[string]*types.Dataset) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Dataset\tRule\tName\tSeverity\tState\tEnabled\n")
	fmt.Fprintf(w, "-------\t----\t----\t--------\t-----\t-------\n")

	for name, ds := range datasets {
		for _, r := range ds.Rules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
				name, r.ID, r.Name, r.Severity, r.State, r.Enabled)
		}
	}
	return nil
}
