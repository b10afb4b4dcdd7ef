package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/kurve-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML with secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printConfig(os.Stdout, cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:       "validate <mode>",
	Short:     "Check the configuration for a command mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"ingest", "merge", "serve", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(args[0]); err != nil {
			return err
		}
		cmd.Printf("configuration is valid for %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func printConfig(w io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return eris.Wrap(err, "config: encode yaml")
	}
	return eris.Wrap(enc.Close(), "config: encode yaml")
}
