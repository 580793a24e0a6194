package store

import (
	"os"

	lru "github.com/hashicorp/golang-lru"
	cm "github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore implements the Store interface on top of LevelDB. Commits and
// resets are written as a single synced batch. It uses the same key layout as
// BadgerStore.
type LevelDBStore struct {
	db          *leveldb.DB
	path        string
	headerCache *lru.Cache
	logger      *logrus.Entry
}

// NewLevelDBStore opens an existing database or creates a new one in path. A
// corrupted database is recovered before use.
func NewLevelDBStore(cacheSize int, path string, logger *logrus.Entry) (*LevelDBStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	options := opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(path, &options)
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		logger.WithError(err).Warn("Recovering corrupted leveldb")
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &LevelDBStore{
		db:          db,
		path:        path,
		headerCache: cache,
		logger:      logger,
	}, nil
}

var syncWrite = &opt.WriteOptions{Sync: true}

// LastClosed implements the Store interface.
func (s *LevelDBStore) LastClosed() (ledger.HeaderEntry, error) {
	data, err := s.db.Get([]byte(lclKey), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return ledger.HeaderEntry{}, cm.NewStoreErr("LastClosed", cm.Empty, "")
		}
		return ledger.HeaderEntry{}, err
	}
	seq, err := decodeSeq(data)
	if err != nil {
		return ledger.HeaderEntry{}, cm.NewStoreErr("LastClosed", cm.Corrupted, string(data))
	}
	return s.GetHeader(seq)
}

// GetHeader implements the Store interface.
func (s *LevelDBStore) GetHeader(seq uint32) (ledger.HeaderEntry, error) {
	if h, ok := s.headerCache.Get(seq); ok {
		return h.(ledger.HeaderEntry), nil
	}
	data, err := s.db.Get(headerKey(seq), nil)
	if err != nil {
		return ledger.HeaderEntry{}, mapLevelDBError(err, "Header", string(headerKey(seq)))
	}
	h, err := decodeHeader(data)
	if err != nil {
		return ledger.HeaderEntry{}, cm.NewStoreErr("Header", cm.Corrupted, string(headerKey(seq)))
	}
	s.headerCache.Add(seq, h)
	return h, nil
}

// GetResults implements the Store interface.
func (s *LevelDBStore) GetResults(seq uint32) (ledger.ResultSet, error) {
	data, err := s.db.Get(resultsKey(seq), nil)
	if err != nil {
		return ledger.ResultSet{}, mapLevelDBError(err, "Results", string(resultsKey(seq)))
	}
	return decodeResults(data)
}

// GetValue implements the Store interface.
func (s *LevelDBStore) GetValue(seq uint32) (*ledger.Value, error) {
	data, err := s.db.Get(valueKey(seq), nil)
	if err != nil {
		return nil, mapLevelDBError(err, "Value", string(valueKey(seq)))
	}
	return decodeValue(data)
}

// State implements the Store interface.
func (s *LevelDBStore) State() (*ledger.State, error) {
	var accounts []ledger.Account
	it := s.db.NewIterator(util.BytesPrefix(prefixOf(accountPrefix)), nil)
	defer it.Release()
	for it.Next() {
		a, err := decodeAccount(it.Value())
		if err != nil {
			return nil, cm.NewStoreErr("Account", cm.Corrupted, string(it.Key()))
		}
		accounts = append(accounts, a)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return ledger.NewState(accounts...), nil
}

// Commit implements the Store interface.
func (s *LevelDBStore) Commit(c *Commit) error {
	lcl, err := s.LastClosed()
	empty := cm.IsStore(err, cm.Empty)
	if err != nil && !empty {
		return err
	}
	if err := checkCommit(lcl, empty, c); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	seq := c.Header.Seq()
	if err := putHeader(batch, c.Header); err != nil {
		return err
	}
	val, err := c.Results.Marshal()
	if err != nil {
		return err
	}
	batch.Put(resultsKey(seq), val)
	if c.Value != nil {
		val, err := c.Value.Marshal()
		if err != nil {
			return err
		}
		batch.Put(valueKey(seq), val)
	}
	for i := range c.Changes {
		if err := putAccount(batch, &c.Changes[i]); err != nil {
			return err
		}
	}
	batch.Put([]byte(lclKey), encodeSeq(seq))

	if err := s.db.Write(batch, syncWrite); err != nil {
		return err
	}
	s.headerCache.Add(seq, c.Header)
	return nil
}

// Reset implements the Store interface.
func (s *LevelDBStore) Reset(snap *Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(prefixOf(accountPrefix)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	for i := range snap.Accounts {
		if err := putAccount(batch, &snap.Accounts[i]); err != nil {
			return err
		}
	}
	for _, h := range snap.Headers {
		if err := putHeader(batch, h); err != nil {
			return err
		}
	}
	if err := putHeader(batch, snap.Header); err != nil {
		return err
	}
	batch.Put([]byte(lclKey), encodeSeq(snap.Header.Seq()))

	if err := s.db.Write(batch, syncWrite); err != nil {
		return err
	}
	s.headerCache.Purge()
	return nil
}

// Prune implements the Store interface.
func (s *LevelDBStore) Prune(before uint32) error {
	lcl, err := s.LastClosed()
	if err != nil && !cm.IsStore(err, cm.Empty) {
		return err
	}

	prefix := prefixOf(headerPrefix)
	batch := new(leveldb.Batch)
	var seqs []uint32
	it := s.db.NewIterator(&util.Range{Start: prefix, Limit: headerKey(before)}, nil)
	for it.Next() {
		seq, err := decodeSeq(it.Key()[len(prefix):])
		if err != nil {
			it.Release()
			return err
		}
		if seq == lcl.Seq() {
			continue
		}
		seqs = append(seqs, seq)
		batch.Delete(headerKey(seq))
		batch.Delete(resultsKey(seq))
		batch.Delete(valueKey(seq))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	if err := s.db.Write(batch, syncWrite); err != nil {
		return err
	}
	for _, seq := range seqs {
		s.headerCache.Remove(seq)
	}
	s.logger.WithFields(logrus.Fields{
		"before": before,
		"pruned": len(seqs),
	}).Debug("Pruned ledger history")
	return nil
}

// Close implements the Store interface.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *LevelDBStore) StorePath() string {
	return s.path
}

func putHeader(batch *leveldb.Batch, h ledger.HeaderEntry) error {
	val, err := h.Header.Marshal()
	if err != nil {
		return err
	}
	batch.Put(headerKey(h.Seq()), val)
	return nil
}

func putAccount(batch *leveldb.Batch, a *ledger.Account) error {
	val, err := a.Marshal()
	if err != nil {
		return err
	}
	batch.Put(accountKey(a.ID), val)
	return nil
}

func mapLevelDBError(err error, name, key string) error {
	if err == leveldb.ErrNotFound {
		return cm.NewStoreErr(name, cm.KeyNotFound, key)
	}
	return err
}
