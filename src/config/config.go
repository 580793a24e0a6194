package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the archive
	// signing key.
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultLevelDBFile is the default name of the folder containing the
	// LevelDB database
	DefaultLevelDBFile = "leveldb"

	// DefaultConfigFile is the name of the config file read from the datadir.
	DefaultConfigFile = "ledgerd.toml"
)

// Store types.
const (
	StoreInmem    = "inmem"
	StoreBadger   = "badger"
	StoreLevelDB  = "leveldb"
	StorePostgres = "postgres"
)

// Default configuration values.
const (
	DefaultLogLevel          = "debug"
	DefaultServiceAddr       = "127.0.0.1:8000"
	DefaultStore             = StoreBadger
	DefaultCacheSize         = 5000
	DefaultCatchupTriggerGap = 16
	DefaultMinCloseGap       = 1
	DefaultArchiveRetries    = 10
	DefaultArchiveTimeout    = 10 * time.Second
	DefaultMetricsInterval   = 5 * time.Second
	DefaultKeepLedgers       = 0
	DefaultRootAccount       = "root"
	DefaultMaintenanceMode   = false
)

// Config contains all the configuration properties of a ledgerd node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry as JSON.
	LogFile string `mapstructure:"log-file"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store is the storage engine: inmem, badger, leveldb or postgres.
	Store string `mapstructure:"store"`

	// DatabaseDir is the directory containing badger or leveldb files.
	DatabaseDir string `mapstructure:"db"`

	// PostgresDSN is the connection string used when Store is postgres.
	PostgresDSN string `mapstructure:"postgres-dsn"`

	// CacheSize is the max number of headers kept in the store caches.
	CacheSize int `mapstructure:"cache-size"`

	// CatchupTriggerGap is how far ahead of the last closed ledger a finalized
	// value must be before the node stops waiting for the missing ledgers and
	// catches up from an archive.
	CatchupTriggerGap uint32 `mapstructure:"catchup-trigger-gap"`

	// MinCloseGap is the minimum number of seconds between the close times of
	// consecutive ledgers.
	MinCloseGap uint64 `mapstructure:"min-close-gap"`

	// ArchiveURL is the base URL of the HTTP service of the node publishing
	// checkpoints. Catchup is not possible without it.
	ArchiveURL string `mapstructure:"archive"`

	// ArchivePubKey is the hex encoded public key that must have signed the
	// checkpoints fetched from ArchiveURL.
	ArchivePubKey string `mapstructure:"archive-pubkey"`

	// ArchiveRetries is the number of times a failed fetch is retried.
	ArchiveRetries uint64 `mapstructure:"archive-retries"`

	// ArchiveTimeout bounds every HTTP request to the archive.
	ArchiveTimeout time.Duration `mapstructure:"archive-timeout"`

	// Replay makes automatic catchups replay the archived values instead of
	// trusting the archived state.
	Replay bool `mapstructure:"replay"`

	// Publish serves signed checkpoints of this node's ledger so that other
	// nodes can use it as an archive.
	Publish bool `mapstructure:"publish"`

	// KeepLedgers is the number of historical ledgers kept in the store. Zero
	// keeps everything.
	KeepLedgers uint32 `mapstructure:"keep-ledgers"`

	// MetricsInterval is the period of the gauges refreshed by the node loop.
	MetricsInterval time.Duration `mapstructure:"metrics-interval"`

	// MaintenanceMode starts the node without processing finalized values.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	// RootAccount owns every coin of the genesis ledger.
	RootAccount string `mapstructure:"root-account"`

	// BaseFee, BaseReserve, MaxTxSetSize and TotalCoins are the protocol
	// parameters of the genesis ledger. They are ignored once the store holds
	// a ledger.
	BaseFee      int64  `mapstructure:"base-fee"`
	BaseReserve  int64  `mapstructure:"base-reserve"`
	MaxTxSetSize uint32 `mapstructure:"max-tx-set-size"`
	TotalCoins   int64  `mapstructure:"total-coins"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the archive signing key.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		ServiceAddr:       DefaultServiceAddr,
		Store:             DefaultStore,
		DatabaseDir:       DefaultDatabaseDir(),
		CacheSize:         DefaultCacheSize,
		CatchupTriggerGap: DefaultCatchupTriggerGap,
		MinCloseGap:       DefaultMinCloseGap,
		ArchiveRetries:    DefaultArchiveRetries,
		ArchiveTimeout:    DefaultArchiveTimeout,
		KeepLedgers:       DefaultKeepLedgers,
		MetricsInterval:   DefaultMetricsInterval,
		MaintenanceMode:   DefaultMaintenanceMode,
		RootAccount:       DefaultRootAccount,
		BaseFee:           ledger.DefaultParams.BaseFee,
		BaseReserve:       ledger.DefaultParams.BaseReserve,
		MaxTxSetSize:      ledger.DefaultParams.MaxTxSetSize,
		TotalCoins:        ledger.DefaultParams.TotalCoins,
	}

	return config
}

// NewTestConfig returns a config object with default values, an in-memory
// store, a small catchup gap, and a special logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.Store = StoreInmem
	config.CatchupTriggerGap = 3
	config.NoService = true
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, c.defaultDatabaseFile())
	}
}

func (c *Config) defaultDatabaseFile() string {
	if c.Store == StoreLevelDB {
		return DefaultLevelDBFile
	}
	return DefaultBadgerFile
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// ConfigFile returns the full path of the toml config file.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, DefaultConfigFile)
}

// GenesisParams returns the protocol parameters of a new ledger.
func (c *Config) GenesisParams() ledger.Params {
	params := ledger.DefaultParams
	params.BaseFee = c.BaseFee
	params.BaseReserve = c.BaseReserve
	params.MaxTxSetSize = c.MaxTxSetSize
	params.TotalCoins = c.TotalCoins
	return params
}

// Logger returns a formatted logrus Entry, with prefix set to "ledgerd".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, l := range logrus.AllLevels {
				pathMap[l] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.JSONFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "ledgerd")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config based
// on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Ledgerd")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Ledgerd")
		} else {
			return filepath.Join(home, ".ledgerd")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
