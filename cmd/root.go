package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/BioHazard786/warpcall/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfigFile string
	flagLogLevel   string
	flagLogFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warpcall",
	Short: "Peer-to-peer video calls over WebRTC with chat and screen sharing",
	Long: `WarpCall connects two participants in a WebRTC call through a small signaling relay.
Once the call is up, media flows directly between the peers. Either side can
swap its camera for a screen capture mid-call and exchange chat messages
through the relay.

Run "warpcall relay" somewhere both peers can reach, then "warpcall join" on
each side.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// setup loads configuration and configures logging. quiet discards logs that
// would otherwise go to the terminal. The returned cleanup closes the log file.
func setup(opts config.Options, quiet bool) (*config.Config, func(), error) {
	opts.ConfigFile = flagConfigFile
	opts.LogLevel = flagLogLevel
	opts.LogFile = flagLogFile

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if quiet && cfg.LogFile == "" {
		level = "none"
	}

	f, err := logging.Init(level, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if f != nil {
			f.Close()
		}
	}
	return cfg, cleanup, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error or none (default from LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Write logs as JSON to this file")
}
