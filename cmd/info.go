package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	"github.com/AvaProtocol/ap-staking/core/staking"
	"github.com/AvaProtocol/ap-staking/model"
)

var (
	infoUser  string
	infoWatch bool

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show the staking position of your smart account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return withRuntime(ctx, func(rt *runtime) error {
				user, err := rt.targetAccount(ctx, infoUser)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !infoWatch {
					info, err := rt.service.GetStakeInfo(ctx, user)
					if err != nil {
						return err
					}
					return printJSON(out, staking.FormatStakeInfo(info, staking.Decimals))
				}

				w, err := rt.service.Watch(user, rt.cfg.RefreshInterval, func(info *model.StakeInfo) {
					_ = printJSON(out, staking.FormatStakeInfo(info, staking.Decimals))
				}, func(err error) {
					fmt.Fprintf(cmd.ErrOrStderr(), "refresh failed: %v\n", err)
				})
				if err != nil {
					return err
				}
				<-ctx.Done()
				return w.Stop()
			})
		},
	}

	accountCmd = &cobra.Command{
		Use:   "account",
		Short: "Show the smart account derived for your wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(rt *runtime) error {
				sess, err := rt.session(ctx)
				if err != nil {
					return err
				}
				h := sess.Handle
				if !h.Degraded() {
					h.IsDeployed(ctx, rt.conn)
				}
				view := struct {
					*model.SmartWallet
					Balance string `json:"balance"`
					Deposit string `json:"entrypoint_deposit,omitempty"`
				}{SmartWallet: h.ToModel(rt.cfg.Chain.AddressURL(h.Address))}

				if bal, err := rt.conn.BalanceAt(ctx, h.Address, nil); err == nil {
					view.Balance = staking.FormatAmount(bal, staking.Decimals)
				}
				if !h.Degraded() {
					deposit, err := aa.NewEntryPoint(rt.cfg.EntryPoint, rt.conn).DepositOf(ctx, h.Address)
					if err == nil {
						view.Deposit = staking.FormatAmount(deposit, staking.Decimals)
					}
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}

	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Deploy your smart account explicitly",
		Long: `Deploy your smart account with a transaction from the owner wallet.

Deployment is optional: the first user operation deploys the account through
its init code. Use this when you want the account on chain beforehand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(rt *runtime) error {
				sess, err := rt.session(ctx)
				if err != nil {
					return err
				}
				poll := chainio.PollPolicy{Interval: rt.cfg.Poll.Interval, Attempts: rt.cfg.Poll.Attempts}
				res, err := aa.Deploy(ctx, sess.Handle, sess.Wallet, rt.conn, poll, rt.logger)
				if err != nil {
					return err
				}
				out := struct {
					Account common.Address   `json:"account"`
					State   aa.DeployOutcome `json:"state"`
					TxHash  string           `json:"tx_hash,omitempty"`
					Link    string           `json:"explorer_url,omitempty"`
				}{Account: sess.Handle.Address, State: res.State}
				if res.TxHash != (common.Hash{}) {
					out.TxHash = res.TxHash.Hex()
					out.Link = rt.cfg.Chain.TxURL(res.TxHash)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	historyUser string
	historyCmd  = &cobra.Command{
		Use:   "history",
		Short: "List recent stake, unstake and claim events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(rt *runtime) error {
				user, err := rt.targetAccount(ctx, historyUser)
				if err != nil {
					return err
				}
				events, err := rt.service.History(ctx, user)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), events)
				return nil
			})
		},
	}
)

// targetAccount is user when given, else the connected smart account.
func (rt *runtime) targetAccount(ctx context.Context, user string) (common.Address, error) {
	if user != "" {
		if !common.IsHexAddress(user) {
			return common.Address{}, apperr.Validationf(apperr.CodeInvalidInput, "%q is not an address", user)
		}
		return common.HexToAddress(user), nil
	}
	sess, err := rt.session(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return sess.Handle.Address, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHistory(out io.Writer, events []*model.StakingEvent) {
	if len(events) == 0 {
		fmt.Fprintln(out, "no staking activity")
		return
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-14s %s MON", time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339), e.Kind,
			staking.FormatAmount(e.Amount, staking.Decimals))
		if e.Reward != nil && e.Reward.Sign() > 0 {
			line += fmt.Sprintf(" (+%s reward)", staking.FormatAmount(e.Reward, staking.Decimals))
		}
		fmt.Fprintf(out, "%s  %s\n", line, e.TxHash.Hex())
	}
}

func init() {
	infoCmd.Flags().StringVar(&infoUser, "user", "", "address to inspect instead of your smart account")
	infoCmd.Flags().BoolVarP(&infoWatch, "watch", "w", false, "keep refreshing until interrupted")
	historyCmd.Flags().StringVar(&historyUser, "user", "", "address to inspect instead of your smart account")

	rootCmd.AddCommand(infoCmd, accountCmd, deployCmd, historyCmd)
}
