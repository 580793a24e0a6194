package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/sirupsen/logrus"
)

// Config holds the parameters of a Node and its Core.
type Config struct {
	// CatchupTriggerGap is how far ahead of the last closed ledger a value must
	// be before an automatic catchup starts.
	CatchupTriggerGap uint32 `mapstructure:"catchup-trigger-gap"`

	// MinCloseGap is the minimum number of seconds between two close times.
	MinCloseGap uint64 `mapstructure:"min-close-gap"`

	// Verify is the verification mode of automatic catchups.
	Verify archive.VerifyMode

	// KeepLedgers is the number of historical ledgers kept after each close.
	// Zero disables pruning.
	KeepLedgers uint32 `mapstructure:"keep-ledgers"`

	// MetricsInterval is the period at which the run loop refreshes gauges.
	MetricsInterval time.Duration `mapstructure:"metrics-interval"`

	// MaintenanceMode starts the node Suspended.
	MaintenanceMode bool `mapstructure:"maintenance-mode"`

	// GenesisParams and RootAccount define the genesis ledger written to an
	// empty store.
	GenesisParams ledger.Params
	RootAccount   string

	// Applier runs transaction operations. Nil means ledger.OperationApplier.
	Applier ledger.Applier

	Logger *logrus.Entry
}

// NewConfig creates a Config.
func NewConfig(triggerGap uint32,
	minCloseGap uint64,
	verify archive.VerifyMode,
	keepLedgers uint32,
	metricsInterval time.Duration,
	maintenanceMode bool,
	genesisParams ledger.Params,
	rootAccount string,
	logger *logrus.Entry) *Config {

	return &Config{
		CatchupTriggerGap: triggerGap,
		MinCloseGap:       minCloseGap,
		Verify:            verify,
		KeepLedgers:       keepLedgers,
		MetricsInterval:   metricsInterval,
		MaintenanceMode:   maintenanceMode,
		GenesisParams:     genesisParams,
		RootAccount:       rootAccount,
		Logger:            logger,
	}
}

// DefaultConfig returns the default Config.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		CatchupTriggerGap: 16,
		MinCloseGap:       ledger.DefaultMinCloseGap,
		Verify:            archive.TrustArchive,
		MetricsInterval:   5 * time.Second,
		GenesisParams:     ledger.DefaultParams,
		RootAccount:       "root",
		Logger:            logrus.NewEntry(logger),
	}
}

// TestConfig returns a Config for tests: a trigger gap of 3 and a logger
// writing through t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.CatchupTriggerGap = 3
	config.MetricsInterval = time.Hour
	config.Logger = common.NewTestEntry(t, "node")
	return config
}
