package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/core/staking"
	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/storage"
)

var (
	statusCmd = &cobra.Command{
		Use:   "status [userOpHash | intentId]",
		Short: "Display intent status",
		Long: `Display the status of an intent.

With a userOpHash the bundler is polled again and a timed out intent gets the
late result recorded next to it. With an intent id the journal entry is shown
as it is. Without arguments the journal is summarised per state.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return withJournal(ctx, func(j *staking.Journal) error {
					return printJournalSummary(out, j)
				})
			}

			ref := args[0]
			if isUserOpHash(ref) {
				return withRuntime(ctx, func(rt *runtime) error {
					outcome, err := rt.service.Resume(ctx, common.HexToHash(ref))
					if err != nil {
						return err
					}
					return printOutcome(out, outcome)
				})
			}
			return withJournal(ctx, func(j *staking.Journal) error {
				intent, err := j.Get(ref)
				if err != nil {
					return err
				}
				return printJSON(out, intent)
			})
		},
	}

	summaryStates = []model.IntentState{
		model.StateBuilding,
		model.StateEstimating,
		model.StateSigning,
		model.StateSubmitting,
		model.StatePending,
		model.StateConfirmed,
		model.StateFailed,
		model.StateTimedOut,
	}
)

func isUserOpHash(s string) bool {
	return strings.HasPrefix(s, "0x") && len(s) == 66
}

func withJournal(ctx context.Context, fn func(j *staking.Journal) error) error {
	return withJournalDB(ctx, func(cfg *config.Config, db storage.Storage) error {
		return fn(staking.NewJournal(db, cfg.Logger))
	})
}

func printJournalSummary(out io.Writer, j *staking.Journal) error {
	fmt.Fprintf(out, "%-12s %s\n", "STATE", "INTENTS")
	for _, s := range summaryStates {
		n, err := j.CountByState(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-12s %d\n", s, n)
	}

	stuck, err := j.ListByState(model.StateTimedOut)
	if err != nil {
		return err
	}
	for _, intent := range stuck {
		if intent.Resolution != nil || intent.UserOpHash == "" {
			continue
		}
		fmt.Fprintf(out, "unresolved %s %s: ap-staking status %s\n", intent.Operation, intent.ID, intent.UserOpHash)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
