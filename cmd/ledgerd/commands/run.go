package commands

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mosaicnetworks/ledgerd/src/config"
	"github.com/mosaicnetworks/ledgerd/src/ledgerd"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a ledgerd node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runLedgerd,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runLedgerd(cmd *cobra.Command, args []string) error {
	engine := ledgerd.NewLedgerd(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		_config.Logger().WithField("signal", sig.String()).Info("Shutting down")
		engine.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write JSON logs to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().String("store", _config.Store, "inmem, badger, leveldb or postgres")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().String("postgres-dsn", _config.PostgresDSN, "Postgres connection string")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")
	cmd.Flags().Uint32("keep-ledgers", _config.KeepLedgers, "Number of historical ledgers to keep, 0 keeps all")

	// Ledger
	cmd.Flags().Uint32("catchup-trigger-gap", _config.CatchupTriggerGap, "Ledgers a value must be ahead to start a catchup")
	cmd.Flags().Uint64("min-close-gap", _config.MinCloseGap, "Minimum seconds between ledger close times")
	cmd.Flags().Duration("metrics-interval", _config.MetricsInterval, "Period of ledger age and stats updates")
	cmd.Flags().Bool("maintenance-mode", _config.MaintenanceMode, "Start suspended")

	// Genesis
	cmd.Flags().String("root-account", _config.RootAccount, "Account holding every coin at genesis")
	cmd.Flags().Int64("base-fee", _config.BaseFee, "Genesis fee per operation")
	cmd.Flags().Int64("base-reserve", _config.BaseReserve, "Genesis reserve per ledger entry")
	cmd.Flags().Uint32("max-tx-set-size", _config.MaxTxSetSize, "Genesis maximum transactions per ledger")
	cmd.Flags().Int64("total-coins", _config.TotalCoins, "Genesis coin supply")

	// Archive
	cmd.Flags().String("archive", _config.ArchiveURL, "URL of the archive to catch up from")
	cmd.Flags().String("archive-pubkey", _config.ArchivePubKey, "Public key the archive signs checkpoints with")
	cmd.Flags().Uint64("archive-retries", _config.ArchiveRetries, "Retries of a failed archive fetch")
	cmd.Flags().Duration("archive-timeout", _config.ArchiveTimeout, "Timeout of archive requests")
	cmd.Flags().Bool("replay", _config.Replay, "Replay archived values instead of trusting archived state")
	cmd.Flags().Bool("publish", _config.Publish, "Serve this node's ledgers as an archive")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":           _config.DataDir,
		"LogLevel":          _config.LogLevel,
		"Moniker":           _config.Moniker,
		"ServiceAddr":       _config.ServiceAddr,
		"NoService":         _config.NoService,
		"Store":             _config.Store,
		"CacheSize":         _config.CacheSize,
		"KeepLedgers":       _config.KeepLedgers,
		"CatchupTriggerGap": _config.CatchupTriggerGap,
		"MinCloseGap":       _config.MinCloseGap,
		"MaintenanceMode":   _config.MaintenanceMode,
		"Archive":           _config.ArchiveURL,
		"Replay":            _config.Replay,
		"Publish":           _config.Publish,
	}

	switch _config.Store {
	case config.StoreBadger, config.StoreLevelDB:
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Settings can also come from LEDGERD_* variables, optionally listed in a
	// .env file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	viper.SetEnvPrefix("ledgerd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/ledgerd.toml (.json, .yaml also work)
	viper.SetConfigName("ledgerd")       // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
