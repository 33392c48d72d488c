package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// configCmd prints the effective configuration after flag overrides
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := globalConfig
		if shown.S3SecretAccessKey != "" {
			shown.S3SecretAccessKey = "********"
		}
		out, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		fmt.Println("--- Effective Config ---")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
