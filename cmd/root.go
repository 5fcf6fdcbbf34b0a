package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "./config/staking.yaml"
	rootCmd    = &cobra.Command{
		Use:   "ap-staking",
		Short: "Stake MON through an ERC-4337 smart account",
		Long: `ap-staking stakes, unstakes and claims MON rewards on Monad testnet.

Every intent goes through your smart account as a user operation. Sign with
owner_private_key in the config file, or point wallet_rpc_url at a wallet that
speaks the EIP-1193 methods.

Such as "ap-staking stake --amount 1.5" or "ap-staking info" and so on
`,
		SilenceUsage: true,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/staking.yaml", "Path to config file")
}
