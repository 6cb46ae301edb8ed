package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/dataset"
)

var signWrite bool

var signCmd = &cobra.Command{
	Use:   "sign <dataset.yaml>",
	Short: "Sign a dataset file",
	Long: `Compute the HMAC-SHA256 signature of a dataset file using the
configured secret (L0_DATASET_HMAC_SECRET). By default the signature is
printed; with --write it is stored into metadata.hmac_signature.`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().BoolVar(&signWrite, "write", false, "Write the signature into the file")
}

func runSign(cmd *cobra.Command, args []string) error {
	file := args[0]
	cfg := config.FromEnv()

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}
	meta, ok := doc["metadata"].(map[string]any)
	if !ok {
		return fmt.Errorf("%s: missing metadata section", file)
	}

	sig, err := dataset.Sign(doc, []byte(cfg.DatasetHMACSecret))
	if err != nil {
		return err
	}

	if !signWrite {
		fmt.Fprintln(cmd.OutOrStdout(), sig)
		return nil
	}

	meta["hmac_signature"] = sig
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, out, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed %s (%s)\n", file, sig)
	return nil
}
