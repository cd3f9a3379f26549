package app

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var RootCmd = &cobra.Command{
	Use:          "racer",
	Short:        "Race a pre-signed claim and recover transaction across many RPC endpoints",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().String("config", "", "Path to a yaml config file")
	bindPersistentFlag("config", "config")

	RootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	bindPersistentFlag("log_level", "log-level")

	RootCmd.PersistentFlags().String("db-dir", "", "Directory of the race journal, races are not journaled when empty")
	bindPersistentFlag("db_dir", "db-dir")

	RootCmd.PersistentFlags().String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9100")
	bindPersistentFlag("metrics_addr", "metrics-addr")

	RootCmd.PersistentFlags().Int64("chain-id", 0, "Exclude endpoints reporting another chain id, 0 disables the check")
	bindPersistentFlag("chain_id", "chain-id")

	RootCmd.PersistentFlags().Int("connect-max-attempts", 0, "Connection attempts per endpoint (default 10)")
	bindPersistentFlag("connect_max_attempts", "connect-max-attempts")

	RootCmd.PersistentFlags().Duration("connect-retry-interval", 0, "Delay between connection attempts (default 1s)")
	bindPersistentFlag("connect_retry_interval", "connect-retry-interval")

	RootCmd.PersistentFlags().Int("batch-size", 0, "Concurrent sends per broadcast cycle (default 100)")
	bindPersistentFlag("batch_size", "batch-size")

	RootCmd.PersistentFlags().Int("submit-concurrency", 0, "Sends of one batch in flight at once (default: batch size)")
	bindPersistentFlag("submit_concurrency", "submit-concurrency")

	RootCmd.PersistentFlags().Int("watcher-max-polls", 0, "Receipt polls per watcher (default 30)")
	bindPersistentFlag("watcher_max_polls", "watcher-max-polls")

	RootCmd.PersistentFlags().Duration("watcher-poll-interval", 0, "Delay between receipt polls (default 500ms)")
	bindPersistentFlag("watcher_poll_interval", "watcher-poll-interval")

	RootCmd.PersistentFlags().Duration("request-timeout", 0, "Timeout of a single RPC request (default 15s)")
	bindPersistentFlag("request_timeout", "request-timeout")

	RootCmd.PersistentFlags().Duration("timeout", 0, "Give up after this long without a confirmation, 0 races until interrupted")
	bindPersistentFlag("timeout", "timeout")

	RootCmd.AddCommand(RaceCmd)
	RootCmd.AddCommand(ResumeCmd)
	RootCmd.AddCommand(HistoryCmd)
}

func Execute() error {
	return RootCmd.Execute()
}

func bindPersistentFlag(key string, flag string) {
	err := viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(flag))
	if err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RACER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configFile := viper.GetString("config")
	if configFile == "" {
		return
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("failed to read config file: %v\n", err)
	}
}
