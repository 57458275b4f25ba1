package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/types"
	"github.com/vitwit/chai/utils"
)

type globals struct {
	configPath string
	logLevel   string

	cfg *types.Config
	log logger.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "chai",
		Short:         "Buy Me a Chai: send a memo with a small payment and read everyone else's",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := utils.LoadConfig(g.configPath)
			if err != nil {
				return err
			}
			if g.logLevel != "" {
				cfg.LogLevel = g.logLevel
			}
			g.cfg = cfg

			g.log, err = logger.NewZapLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if s, ok := g.log.(interface{ Sync() error }); ok {
				_ = s.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newAccountCmd(g),
		newMemosCmd(g),
		newSendCmd(g),
		newWatchCmd(g),
		newVersionCmd(),
	)
	return root
}
