package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	agentCmd "clinsync/cmd/client/cmd/agent"
	"clinsync/cmd/client/cmd/cli"
	"clinsync/cmd/client/cmd/doc"
	"clinsync/cmd/client/cmd/queue"
	"clinsync/cmd/client/cmd/sync"
	"clinsync/internal/app/client/config"
	"clinsync/internal/utils/logger"
)

var (
	cfgFile    string
	debug      bool
	jsonOutput bool
	serverAddr string
	agentAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "clinsync",
	Short: "Offline-first sync client for clinical case documents",
	Long: `clinsync keeps case documents editable without a network connection.

Edits are queued locally and pushed to the sync server when it is reachable;
the server state is merged back so concurrent edits converge. Run "clinsync
agent" to start the background agent; the other commands talk to it.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if serverAddr != "" {
		cfg.ServerAddress = serverAddr
	}
	if agentAddr != "" {
		cfg.AgentAddress = agentAddr
	}
	level := cfg.LogLevel
	if debug {
		level = "debug"
	}

	env := &cli.Env{
		Config: cfg,
		Log:    logger.NewLevel(cfg.Env, level),
		JSON:   jsonOutput,
	}
	cmd.SetContext(cli.WithEnv(cmd.Context(), env))
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		viper.AddConfigPath(filepath.Join(home, ".clinsync"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.clinsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON output")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "sync server address")
	rootCmd.PersistentFlags().StringVar(&agentAddr, "agent", "", "local agent address")

	rootCmd.AddCommand(agentCmd.AgentCmd)
	rootCmd.AddCommand(doc.DocCmd)
	rootCmd.AddCommand(queue.QueueCmd)
	rootCmd.AddCommand(sync.SyncCmd)
	rootCmd.AddCommand(statusCmd)
}
