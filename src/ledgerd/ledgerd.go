// Package ledgerd wires the components of a ledgerd node together.
package ledgerd

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/config"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/metrics"
	"github.com/mosaicnetworks/ledgerd/src/node"
	"github.com/mosaicnetworks/ledgerd/src/service"
	"github.com/mosaicnetworks/ledgerd/src/store"
	"github.com/sirupsen/logrus"
)

// Ledgerd is the engine of a node: its store, archive client, node and API.
type Ledgerd struct {
	Config  *config.Config
	Node    *node.Node
	Store   store.Store
	Fetcher archive.Fetcher
	Source  *archive.StoreSource
	Metrics *metrics.Metrics
	Service *service.Service
	logger  *logrus.Entry
}

// NewLedgerd is a factory method to produce a Ledgerd instance.
func NewLedgerd(c *config.Config) *Ledgerd {
	return &Ledgerd{
		Config: c,
		logger: c.Logger(),
	}
}

// Init initialises the engine from its configuration.
func (l *Ledgerd) Init() error {
	l.logger.WithFields(logrus.Fields{
		"datadir": l.Config.DataDir,
		"store":   l.Config.Store,
		"archive": l.Config.ArchiveURL,
		"publish": l.Config.Publish,
	}).Debug("Init")

	if err := l.initStore(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initStore")
		return err
	}

	if err := l.initKey(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initKey")
		return err
	}

	if err := l.initArchive(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initArchive")
		return err
	}

	l.Metrics = metrics.NewMetrics()

	if err := l.initNode(); err != nil {
		l.logger.WithError(err).Error("ledgerd.go:Init() initNode")
		return err
	}

	l.initService()

	return nil
}

func (l *Ledgerd) initStore() error {
	var err error

	switch l.Config.Store {
	case config.StoreInmem:
		l.Store = store.NewInmemStore()
		l.logger.Debug("created new in-mem store")
	case config.StoreBadger:
		l.logger.WithField("path", l.Config.DatabaseDir).Debug("Opening badger store")
		l.Store, err = store.NewBadgerStore(l.Config.CacheSize, l.Config.DatabaseDir, l.logger)
	case config.StoreLevelDB:
		l.logger.WithField("path", l.Config.DatabaseDir).Debug("Opening leveldb store")
		l.Store, err = store.NewLevelDBStore(l.Config.CacheSize, l.Config.DatabaseDir, l.logger)
	case config.StorePostgres:
		l.logger.Debug("Connecting to postgres store")
		l.Store, err = store.NewPostgresStore(context.Background(), l.Config.PostgresDSN, l.logger)
	default:
		err = fmt.Errorf("unknown store type %q", l.Config.Store)
	}

	return err
}

func (l *Ledgerd) initKey() error {
	if l.Config.Key != nil {
		return nil
	}

	keyfile := keys.NewKeyfile(l.Config.Keyfile())

	privKey, err := keyfile.ReadKey()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}

		l.logger.WithField("path", keyfile.Path()).Warn("No private key, generating one")

		privKey, err = Keygen(l.Config.Keyfile())
		if err != nil {
			return err
		}
	}

	l.logger.WithField("public_key", keys.PublicKeyHex(&privKey.PublicKey)).Info("Loaded key")

	l.Config.Key = privKey

	return nil
}

func (l *Ledgerd) initArchive() error {
	if l.Config.Publish {
		l.Source = archive.NewStoreSource(l.Store, l.Config.Key)
	}

	if l.Config.ArchiveURL == "" {
		l.logger.Warn("No archive configured, catchups will block")
		return nil
	}

	if l.Config.ArchivePubKey == "" {
		return fmt.Errorf("archive %s requires archive-pubkey", l.Config.ArchiveURL)
	}

	trusted, err := keys.ParsePublicKeyHex(l.Config.ArchivePubKey)
	if err != nil {
		return fmt.Errorf("archive-pubkey: %w", err)
	}

	l.Fetcher = archive.NewWorker(
		archive.NewHTTPSource(l.Config.ArchiveURL, l.Config.ArchiveTimeout),
		archive.WorkerConfig{
			Retries: l.Config.ArchiveRetries,
			Trusted: trusted,
			Logger:  l.logger,
		},
	)

	return nil
}

func (l *Ledgerd) initNode() error {
	verify := archive.TrustArchive
	if l.Config.Replay {
		verify = archive.Replay
	}

	conf := node.NewConfig(
		l.Config.CatchupTriggerGap,
		l.Config.MinCloseGap,
		verify,
		l.Config.KeepLedgers,
		l.Config.MetricsInterval,
		l.Config.MaintenanceMode,
		l.Config.GenesisParams(),
		l.Config.RootAccount,
		l.logger,
	)

	n, err := node.NewNode(conf, l.Store, l.Fetcher, l.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}

	l.Node = n

	return nil
}

func (l *Ledgerd) initService() {
	if !l.Config.NoService {
		l.Service = service.NewService(l.Config.ServiceAddr, l.Node, l.Source, l.Metrics, l.logger)
	}
}

// Run starts the API service in the background and runs the node until it is
// shut down.
func (l *Ledgerd) Run() {
	if l.Service != nil {
		go l.Service.Serve()
	}

	l.Node.RunAsync()
	l.Node.WaitRoutines()
}

// Shutdown stops the node and closes the store.
func (l *Ledgerd) Shutdown() {
	if l.Node != nil {
		l.Node.Shutdown()
	}
}

// Keygen generates a new key and writes it to path.
func Keygen(path string) (*ecdsa.PrivateKey, error) {
	keyfile := keys.NewKeyfile(path)

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", path)
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(key); err != nil {
		return nil, err
	}

	return key, nil
}
