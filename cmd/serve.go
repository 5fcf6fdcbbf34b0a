package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-staking/gateway"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only HTTP gateway",
	Long: `Run the HTTP gateway.

The gateway serves stake info, history, intents and unsigned user operations
for a browser wallet to sign. It never holds a key and never submits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return withRuntime(ctx, func(rt *runtime) error {
			addr := serveAddress
			if addr == "" {
				addr = rt.cfg.GatewayAddress
			}
			srv := gateway.New(gateway.Options{
				Chain:    rt.cfg.Chain,
				Client:   rt.conn,
				Service:  rt.service,
				Builder:  rt.builder,
				Gatherer: rt.registry,
				Logger:   rt.logger,
			})
			srv.MarkReady()
			rt.logger.Info("gateway listening", "address", addr, "chain", rt.cfg.Chain.Name())
			return srv.Start(ctx, addr)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address, overrides gateway_address")
	rootCmd.AddCommand(serveCmd)
}
