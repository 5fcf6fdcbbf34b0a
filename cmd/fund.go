package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-staking/core/staking"
)

func newFundCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Send MON from the owner wallet to the smart account",
		Long: `Send MON from the owner wallet to its smart account.

The account pays for stake value and UserOp gas from its own balance, so it
needs funding before the first stake.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			wei, err := staking.ParseAmount(amount, staking.Decimals)
			if err != nil {
				return err
			}
			return withRuntime(ctx, func(rt *runtime) error {
				sess, err := rt.session(ctx)
				if err != nil {
					return err
				}
				res, err := rt.service.Fund(ctx, sess, wei)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if err := printJSON(out, res); err != nil {
					return err
				}
				if res.Pending {
					fmt.Fprintf(out, "transaction %s is still pending\n", res.TxHash.Hex())
				} else if res.Balance != nil {
					fmt.Fprintf(out, "account %s now holds %s MON\n", res.Account.Hex(), staking.FormatAmount(res.Balance, staking.Decimals))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "amount of MON, e.g. 0.5")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func init() {
	rootCmd.AddCommand(newFundCmd())
}
