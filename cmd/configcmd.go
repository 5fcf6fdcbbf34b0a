package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/AvaProtocol/ap-staking/core/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and the
environment are merged. Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := config.LoadRaw(configPath)
		if err != nil {
			return err
		}
		body, err := yaml.Marshal(raw.Redacted())
		if err != nil {
			return fmt.Errorf("cannot encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(body)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
