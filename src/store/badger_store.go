package store

import (
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru"
	cm "github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/sirupsen/logrus"
)

const (
	headerPrefix  = "header"
	resultsPrefix = "results"
	valuePrefix   = "value"
	accountPrefix = "account"
	lclKey        = "lcl"
)

// BadgerStore implements the Store interface on top of a Badger database.
// Recently read headers are kept in an LRU cache.
type BadgerStore struct {
	db          *badger.DB
	path        string
	headerCache *lru.Cache
	logger      *logrus.Entry
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerStore(cacheSize int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithTruncate(true).
		WithLogger(logger.WithFields(logrus.Fields{"ns": "badger"}))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		handle.Close()
		return nil, err
	}

	return &BadgerStore{
		db:          handle,
		path:        path,
		headerCache: cache,
		logger:      logger,
	}, nil
}

/*******************************************************************************
Keys
*******************************************************************************/

func headerKey(seq uint32) []byte {
	return []byte(fmt.Sprintf("%s_%09d", headerPrefix, seq))
}

func resultsKey(seq uint32) []byte {
	return []byte(fmt.Sprintf("%s_%09d", resultsPrefix, seq))
}

func valueKey(seq uint32) []byte {
	return []byte(fmt.Sprintf("%s_%09d", valuePrefix, seq))
}

func accountKey(id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", accountPrefix, id))
}

func prefixOf(prefix string) []byte {
	return []byte(prefix + "_")
}

func encodeSeq(seq uint32) []byte {
	return []byte(strconv.FormatUint(uint64(seq), 10))
}

func decodeSeq(data []byte) (uint32, error) {
	seq, err := strconv.ParseUint(string(data), 10, 32)
	return uint32(seq), err
}

/*******************************************************************************
Implement the Store interface
*******************************************************************************/

// LastClosed implements the Store interface.
func (s *BadgerStore) LastClosed() (ledger.HeaderEntry, error) {
	data, err := s.get([]byte(lclKey))
	if err != nil {
		if isDBKeyNotFound(err) {
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
func (s *BadgerStore) GetHeader(seq uint32) (ledger.HeaderEntry, error) {
	if h, ok := s.headerCache.Get(seq); ok {
		return h.(ledger.HeaderEntry), nil
	}
	data, err := s.get(headerKey(seq))
	if err != nil {
		return ledger.HeaderEntry{}, mapError(err, "Header", string(headerKey(seq)))
	}
	h, err := decodeHeader(data)
	if err != nil {
		return ledger.HeaderEntry{}, cm.NewStoreErr("Header", cm.Corrupted, string(headerKey(seq)))
	}
	s.headerCache.Add(seq, h)
	return h, nil
}

// GetResults implements the Store interface.
func (s *BadgerStore) GetResults(seq uint32) (ledger.ResultSet, error) {
	data, err := s.get(resultsKey(seq))
	if err != nil {
		return ledger.ResultSet{}, mapError(err, "Results", string(resultsKey(seq)))
	}
	return decodeResults(data)
}

// GetValue implements the Store interface.
func (s *BadgerStore) GetValue(seq uint32) (*ledger.Value, error) {
	data, err := s.get(valueKey(seq))
	if err != nil {
		return nil, mapError(err, "Value", string(valueKey(seq)))
	}
	return decodeValue(data)
}

// State implements the Store interface.
func (s *BadgerStore) State() (*ledger.State, error) {
	var accounts []ledger.Account
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := prefixOf(accountPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			a, err := decodeAccount(data)
			if err != nil {
				return cm.NewStoreErr("Account", cm.Corrupted, string(it.Item().Key()))
			}
			accounts = append(accounts, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ledger.NewState(accounts...), nil
}

// Commit implements the Store interface. The header, results, value, account
// changes and pointer are written in a single transaction.
func (s *BadgerStore) Commit(c *Commit) error {
	lcl, err := s.LastClosed()
	empty := cm.IsStore(err, cm.Empty)
	if err != nil && !empty {
		return err
	}
	if err := checkCommit(lcl, empty, c); err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	seq := c.Header.Seq()
	if err := setHeader(tx, c.Header); err != nil {
		return err
	}
	val, err := c.Results.Marshal()
	if err != nil {
		return err
	}
	if err := tx.Set(resultsKey(seq), val); err != nil {
		return err
	}
	if c.Value != nil {
		val, err := c.Value.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Set(valueKey(seq), val); err != nil {
			return err
		}
	}
	for i := range c.Changes {
		if err := setAccount(tx, &c.Changes[i]); err != nil {
			return err
		}
	}
	if err := tx.Set([]byte(lclKey), encodeSeq(seq)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.headerCache.Add(seq, c.Header)
	return nil
}

// Reset implements the Store interface. Existing accounts are deleted and
// replaced by the snapshot accounts in the same transaction that moves the
// pointer.
func (s *BadgerStore) Reset(snap *Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := prefixOf(accountPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i := range snap.Accounts {
			if err := setAccount(txn, &snap.Accounts[i]); err != nil {
				return err
			}
		}
		for _, h := range snap.Headers {
			if err := setHeader(txn, h); err != nil {
				return err
			}
		}
		if err := setHeader(txn, snap.Header); err != nil {
			return err
		}
		return txn.Set([]byte(lclKey), encodeSeq(snap.Header.Seq()))
	})
	if err != nil {
		return err
	}

	s.headerCache.Purge()
	return nil
}

// Prune implements the Store interface.
func (s *BadgerStore) Prune(before uint32) error {
	lcl, err := s.LastClosed()
	if err != nil && !cm.IsStore(err, cm.Empty) {
		return err
	}

	var seqs []uint32
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := prefixOf(headerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			seq, err := decodeSeq(it.Item().Key()[len(prefix):])
			if err != nil {
				return err
			}
			if seq >= before {
				break
			}
			if seq != lcl.Seq() {
				seqs = append(seqs, seq)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, seq := range seqs {
			for _, k := range [][]byte{headerKey(seq), resultsKey(seq), valueKey(seq)} {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
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
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func (s *BadgerStore) get(key []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func setHeader(txn *badger.Txn, h ledger.HeaderEntry) error {
	val, err := h.Header.Marshal()
	if err != nil {
		return err
	}
	return txn.Set(headerKey(h.Seq()), val)
}

func setAccount(txn *badger.Txn, a *ledger.Account) error {
	val, err := a.Marshal()
	if err != nil {
		return err
	}
	return txn.Set(accountKey(a.ID), val)
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
