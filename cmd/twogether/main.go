package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/twogether/internal/config"
	"github.com/MarcoPoloResearchLab/twogether/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "twogether",
		Short:         "Shared challenges and a co-owned pet for two partners",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newTokenCommand(),
		newPartnershipCommand(),
		newSyncCommand(),
		newChallengeCommand(),
		newPetCommand(),
		newMilestonesCommand(),
		newHistoryCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address of the hosted backend")
	cmd.PersistentFlags().String("database-path", defaults.GetString("backend.database_path"), "SQLite database path of the hosted backend")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("store-path", defaults.GetString("device.store_path"), "SQLite path of the device store")
	cmd.PersistentFlags().String("remote-url", defaults.GetString("device.remote_url"), "Base URL of the hosted backend")
	cmd.PersistentFlags().String("access-token", "", "Access token presented to the hosted backend (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "Write logs to a rotated file instead of stderr")
	cmd.PersistentFlags().Int("sync-max-attempts", defaults.GetInt("sync.max_attempts"), "Failed attempts before a queued change is dropped")
	cmd.PersistentFlags().Int("sync-interval-seconds", defaults.GetInt("sync.interval_seconds"), "Seconds between periodic queue drains")
	cmd.PersistentFlags().Bool("sync-halt-on-failure", defaults.GetBool("sync.halt_on_failure"), "Stop a drain pass at the first failed change")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "backend.database_path", "database-path")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "device.store_path", "store-path")
	bindFlag(cmd, "device.remote_url", "remote-url")
	bindFlag(cmd, "device.access_token", "access-token")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "sync.max_attempts", "sync-max-attempts")
	bindFlag(cmd, "sync.interval_seconds", "sync-interval-seconds")
	bindFlag(cmd, "sync.halt_on_failure", "sync-halt-on-failure")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// loadRuntime reads configuration and builds the process logger.
func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, FilePath: appConfig.LogFile})
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}
