// Package store persists closed ledgers.
//
// A Store holds the header chain, the per-ledger transaction results and
// finalized values, the current account state, and the last-closed-ledger
// pointer. Every change goes through Commit (one closed ledger) or Reset (a
// snapshot obtained by catchup), and each of them is atomic: after a crash the
// store either reflects the whole operation or none of it.
package store

import (
	"bytes"
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// Commit is everything produced by closing one ledger.
type Commit struct {
	Header  ledger.HeaderEntry
	Results ledger.ResultSet
	// Value is nil for the genesis ledger.
	Value *ledger.Value
	// Changes are the accounts created or modified by the close.
	Changes []ledger.Account
}

// Snapshot replaces the ledger state of a store. It is obtained from an
// archive when catching up.
type Snapshot struct {
	Header ledger.HeaderEntry
	// Headers is the verified history leading to Header, Header included.
	Headers  []ledger.HeaderEntry
	Accounts []ledger.Account
}

// Store is the durable storage of a node.
type Store interface {
	// LastClosed returns the last closed ledger, or a StoreErr of type Empty.
	LastClosed() (ledger.HeaderEntry, error)
	GetHeader(seq uint32) (ledger.HeaderEntry, error)
	GetResults(seq uint32) (ledger.ResultSet, error)
	GetValue(seq uint32) (*ledger.Value, error)
	// State loads the account state of the last closed ledger.
	State() (*ledger.State, error)
	// Commit atomically persists a closed ledger and advances the last closed
	// ledger pointer. The ledger must directly follow the current one.
	Commit(c *Commit) error
	// Reset atomically replaces the account state and the last closed ledger.
	Reset(s *Snapshot) error
	// Prune deletes the headers, results and values of ledgers below before.
	// The last closed ledger is never pruned.
	Prune(before uint32) error
	Close() error
	StorePath() string
}

// checkCommit verifies that c extends the ledger lcl. empty is true when the
// store holds no ledger yet, in which case any ledger may be committed.
func checkCommit(lcl ledger.HeaderEntry, empty bool, c *Commit) error {
	if empty {
		return nil
	}
	seq := c.Header.Seq()
	switch {
	case seq <= lcl.Seq():
		return common.NewStoreErr("Header", common.PassedIndex, seqKey(seq))
	case seq > lcl.Seq()+1:
		return common.NewStoreErr("Header", common.SkippedIndex, seqKey(seq))
	}
	if !bytes.Equal(c.Header.Header.PrevHash, lcl.Hash) {
		return fmt.Errorf("ledger %d does not extend last closed ledger %s", seq, lcl.Hex())
	}
	return nil
}

func checkSnapshot(s *Snapshot) error {
	for _, h := range s.Headers {
		if h.Seq() > s.Header.Seq() {
			return fmt.Errorf("snapshot header %d is past snapshot ledger %d", h.Seq(), s.Header.Seq())
		}
	}
	return nil
}

func seqKey(seq uint32) string {
	return fmt.Sprintf("%09d", seq)
}

func decodeHeader(data []byte) (ledger.HeaderEntry, error) {
	var h ledger.Header
	if err := h.Unmarshal(data); err != nil {
		return ledger.HeaderEntry{}, err
	}
	return ledger.NewHeaderEntry(h)
}

func decodeResults(data []byte) (ledger.ResultSet, error) {
	var rs ledger.ResultSet
	err := rs.Unmarshal(data)
	return rs, err
}

func decodeValue(data []byte) (*ledger.Value, error) {
	v := new(ledger.Value)
	if err := v.Unmarshal(data); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeAccount(data []byte) (ledger.Account, error) {
	var a ledger.Account
	err := a.Unmarshal(data)
	return a, err
}
