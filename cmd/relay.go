package cmd

import (
	"log/slog"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/relay"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagListenAddr string
	flagAdvertise  bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the WebSocket signaling relay that pairs two participants per room and
forwards their offers, answers, ICE candidates and chat messages.

Examples:
  warpcall relay
  warpcall relay --listen :9000 --advertise`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := config.Options{ListenAddr: flagListenAddr}
		if cmd.Flags().Changed("advertise") {
			opts.Advertise = &flagAdvertise
		}

		cfg, cleanup, err := setup(opts, false)
		if err != nil {
			return err
		}
		defer cleanup()

		srv := &relay.Server{
			Addr:      cfg.ListenAddr,
			Advertise: cfg.Advertise,
			Logger:    slog.Default(),
		}
		ui.PrintInfof("Relay listening on %s (WebSocket at /ws)", cfg.ListenAddr)
		return srv.ListenAndServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagListenAddr, "listen", "l", "", "Listen address (default "+config.DefaultListenAddr+")")
	relayCmd.Flags().BoolVar(&flagAdvertise, "advertise", false, "Advertise the relay on the local network over mDNS")
}
