package store

import (
	"sync"

	cm "github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// InmemStore implements the Store interface with in-memory maps. Nothing
// survives a restart.
type InmemStore struct {
	sync.RWMutex

	lcl      ledger.HeaderEntry
	empty    bool
	headers  map[uint32]ledger.HeaderEntry
	results  map[uint32]ledger.ResultSet
	values   map[uint32]*ledger.Value
	accounts map[string]ledger.Account
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		empty:    true,
		headers:  make(map[uint32]ledger.HeaderEntry),
		results:  make(map[uint32]ledger.ResultSet),
		values:   make(map[uint32]*ledger.Value),
		accounts: make(map[string]ledger.Account),
	}
}

// LastClosed implements the Store interface.
func (s *InmemStore) LastClosed() (ledger.HeaderEntry, error) {
	s.RLock()
	defer s.RUnlock()
	if s.empty {
		return ledger.HeaderEntry{}, cm.NewStoreErr("LastClosed", cm.Empty, "")
	}
	return s.lcl, nil
}

// GetHeader implements the Store interface.
func (s *InmemStore) GetHeader(seq uint32) (ledger.HeaderEntry, error) {
	s.RLock()
	defer s.RUnlock()
	h, ok := s.headers[seq]
	if !ok {
		return ledger.HeaderEntry{}, cm.NewStoreErr("Header", cm.KeyNotFound, seqKey(seq))
	}
	return h, nil
}

// GetResults implements the Store interface.
func (s *InmemStore) GetResults(seq uint32) (ledger.ResultSet, error) {
	s.RLock()
	defer s.RUnlock()
	rs, ok := s.results[seq]
	if !ok {
		return ledger.ResultSet{}, cm.NewStoreErr("Results", cm.KeyNotFound, seqKey(seq))
	}
	return rs, nil
}

// GetValue implements the Store interface.
func (s *InmemStore) GetValue(seq uint32) (*ledger.Value, error) {
	s.RLock()
	defer s.RUnlock()
	v, ok := s.values[seq]
	if !ok {
		return nil, cm.NewStoreErr("Value", cm.KeyNotFound, seqKey(seq))
	}
	return v, nil
}

// State implements the Store interface.
func (s *InmemStore) State() (*ledger.State, error) {
	s.RLock()
	defer s.RUnlock()
	accounts := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	return ledger.NewState(accounts...), nil
}

// Commit implements the Store interface.
func (s *InmemStore) Commit(c *Commit) error {
	s.Lock()
	defer s.Unlock()
	if err := checkCommit(s.lcl, s.empty, c); err != nil {
		return err
	}
	seq := c.Header.Seq()
	s.headers[seq] = c.Header
	s.results[seq] = c.Results
	if c.Value != nil {
		s.values[seq] = c.Value
	}
	for _, a := range c.Changes {
		s.accounts[a.ID] = a
	}
	s.lcl = c.Header
	s.empty = false
	return nil
}

// Reset implements the Store interface.
func (s *InmemStore) Reset(snap *Snapshot) error {
	if err := checkSnapshot(snap); err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.accounts = make(map[string]ledger.Account, len(snap.Accounts))
	for _, a := range snap.Accounts {
		s.accounts[a.ID] = a
	}
	for _, h := range snap.Headers {
		s.headers[h.Seq()] = h
	}
	s.headers[snap.Header.Seq()] = snap.Header
	s.lcl = snap.Header
	s.empty = false
	return nil
}

// Prune implements the Store interface.
func (s *InmemStore) Prune(before uint32) error {
	s.Lock()
	defer s.Unlock()
	for seq := range s.headers {
		if seq < before && (s.empty || seq != s.lcl.Seq()) {
			delete(s.headers, seq)
			delete(s.results, seq)
			delete(s.values, seq)
		}
	}
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
