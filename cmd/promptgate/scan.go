package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/logging"
	"github.com/promptgate/promptgate/pkg/scanner"
	"github.com/promptgate/promptgate/pkg/types"
)

var (
	scanChunks []string
	scanFormat string
)

var scanCmd = &cobra.Command{
	Use:   "scan [text]",
	Short: "Scan text from the command line",
	Long:  "Run the full scan pipeline over one input. Reads stdin when no argument is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringArrayVar(&scanChunks, "chunk", nil, "External content chunk (repeatable)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "human", "Output format: human, json")
}

func runScan(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	}

	cfg := config.FromEnv()
	log := logging.New("text", logLevel("warn"))
	defer log.Sync()

	core, err := scanner.NewCore(&cfg, log)
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}

	input := types.PreparedInput{
		UserInput:      text,
		ExternalChunks: scanChunks,
	}
	if err := input.Validate(cfg.MaxInputLength, cfg.MaxChunks); err != nil {
		return err
	}

	result, err := core.Scan(context.Background(), input)
	if err != nil {
		return err
	}

	switch scanFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "human":
		printResult(cmd.OutOrStdout(), result)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", scanFormat)
	}
}

func printResult(out io.Writer, result types.ScanResult) {
	statusColor := color.New(color.Bold, color.FgHiGreen)
	switch result.Status {
	case types.StatusRejected:
		statusColor = color.New(color.Bold, color.FgHiRed)
	case types.StatusWarn, types.StatusReviewRequired:
		statusColor = color.New(color.Bold, color.FgHiYellow)
	case types.StatusError:
		statusColor = color.New(color.Bold, color.FgHiMagenta)
	}

	fmt.Fprintf(out, "Status:   %s\n", statusColor.Sprint(strings.ToUpper(string(result.Status))))
	if result.RuleID != "" {
		fmt.Fprintf(out, "Rule:     %s (%s, severity %s)\n", result.RuleID, result.Dataset, result.Severity)
	}
	if result.Note != "" {
		fmt.Fprintf(out, "Note:     %s\n", result.Note)
	}
	fmt.Fprintf(out, "Ruleset:  %s\n", result.RuleSetVersion)
	fmt.Fprintf(out, "Took:     %.2fms\n", result.ProcessingTimeMs)
	fmt.Fprintf(out, "Audit:    %s\n", result.AuditToken)
}
