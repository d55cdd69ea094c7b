// Package cli provides the command-line interface for the orchestrator.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feichai0017/prp-orchestrator/config"
	"github.com/feichai0017/prp-orchestrator/pkg/logger"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	envFile    string

	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Rate-limited batch pipeline for PRP definitions",
	Long: `The orchestrator turns queued definition files into ready artifacts.

Each item is drafted and then generated through the Message Batches API,
one item at a time, under an hourly submission ceiling. Artifacts land in
ready/ and are optionally handed to an execution command.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath, envFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logCfg := cfg.Log
		if logCfg.InitialFields == nil {
			logCfg.InitialFields = make(map[string]interface{})
		}
		logCfg.InitialFields["environment"] = cfg.Environment
		log, err = logger.New(logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		for _, w := range cfg.Warnings {
			log.Warn(w)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file with secrets and overrides")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pruneCmd)
}

