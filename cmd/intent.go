package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-staking/core/staking"
	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/preset"
)

type intentFlags struct {
	amount         string
	idempotencyKey string
	dryRun         bool
}

func newIntentCmd(op model.Operation, short string) *cobra.Command {
	flags := &intentFlags{}
	cmd := &cobra.Command{
		Use:   string(op),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			amount, err := parseIntentAmount(op, flags.amount)
			if err != nil {
				return err
			}
			return withRuntime(ctx, func(rt *runtime) error {
				return runIntent(ctx, cmd.OutOrStdout(), rt, op, amount, flags)
			})
		},
	}
	if op != model.OperationClaim {
		cmd.Flags().StringVarP(&flags.amount, "amount", "a", "", "amount of MON, e.g. 1.5")
		_ = cmd.MarkFlagRequired("amount")
	}
	cmd.Flags().StringVar(&flags.idempotencyKey, "idempotency-key", "", "return the earlier outcome when this key is reused")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "build and sign the user operation without submitting it")
	return cmd
}

// parseIntentAmount is offline so bad input fails before any dial.
func parseIntentAmount(op model.Operation, amount string) (*big.Int, error) {
	if op == model.OperationClaim {
		return nil, nil
	}
	return staking.ParseAmount(amount, staking.Decimals)
}

func runIntent(ctx context.Context, out io.Writer, rt *runtime, op model.Operation, amount *big.Int, flags *intentFlags) error {
	sess, err := rt.session(ctx)
	if err != nil {
		return err
	}
	if sess.Handle.Degraded() {
		fmt.Fprintf(out, "warning: smart account unavailable on %s, acting from %s directly\n",
			rt.cfg.Chain.Name(), sess.Handle.Owner.Hex())
	}

	if flags.dryRun {
		calls, err := rt.service.IntentCalls(ctx, sess.Handle, op, amount)
		if err != nil {
			return err
		}
		res, err := rt.builder.DryRun(ctx, preset.Request{
			Operation: string(op),
			Handle:    sess.Handle,
			Wallet:    sess.Wallet,
			Calls:     calls,
		})
		if err != nil {
			return err
		}
		printer := pp.New()
		printer.SetOutput(out)
		printer.SetColoringEnabled(false)
		printer.Println(res.UserOp)
		fmt.Fprintf(out, "userOpHash: %s\nscheme: %s\nnonce: %s\ngas: %s\n",
			res.UserOpHash.Hex(), res.Scheme, res.NonceSource, res.GasSource)
		return nil
	}

	opts := staking.IntentOptions{IdempotencyKey: flags.idempotencyKey}
	var outcome *staking.Outcome
	switch op {
	case model.OperationStake:
		outcome, err = rt.service.Stake(ctx, sess, amount, opts)
	case model.OperationUnstake:
		outcome, err = rt.service.Unstake(ctx, sess, amount, opts)
	default:
		outcome, err = rt.service.ClaimRewards(ctx, sess, opts)
	}
	if err != nil {
		return err
	}
	return printOutcome(out, outcome)
}

func printOutcome(out io.Writer, o *staking.Outcome) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(o); err != nil {
		return err
	}
	switch {
	case o.Pending && o.Degraded:
		fmt.Fprintf(out, "transaction %s is still pending\n", o.TxHash.Hex())
	case o.Pending:
		fmt.Fprintf(out, "still pending; check later with: ap-staking status %s\n", o.UserOpHash.Hex())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(
		newIntentCmd(model.OperationStake, "Stake MON from your smart account"),
		newIntentCmd(model.OperationUnstake, "Unstake MON once the lock period is over"),
		newIntentCmd(model.OperationClaim, "Claim pending staking rewards"),
	)
}
