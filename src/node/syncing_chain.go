package node

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// ErrConflictingValue is returned when a second, different value is finalized
// for a sequence number. Consensus guarantees this never happens, so it is
// reported as a protocol violation.
var ErrConflictingValue = errors.New("conflicting finalized value")

// Classification places an incoming value relative to the last closed ledger.
type Classification uint8

const (
	// Closed values directly follow the last closed ledger and can be applied.
	Closed Classification = iota
	// Stale values are for ledgers that are already closed.
	Stale
	// Ahead values are for ledgers after the next one.
	Ahead
)

func (c Classification) String() string {
	switch c {
	case Closed:
		return "closed"
	case Stale:
		return "stale"
	case Ahead:
		return "ahead"
	default:
		return "unknown"
	}
}

// Classify returns the classification of a value for ledger incoming when the
// last closed ledger is applied. Every pair maps to exactly one class.
func Classify(applied, incoming uint32) Classification {
	switch {
	case incoming <= applied:
		return Stale
	case incoming == applied+1:
		return Closed
	default:
		return Ahead
	}
}

// SyncingChain buffers the finalized values that cannot be applied yet,
// ordered by sequence number. It only ever holds values for ledgers after the
// last closed one.
type SyncingChain struct {
	values map[uint32]*ledger.Value
	hashes map[uint32][]byte
}

// NewSyncingChain returns an empty SyncingChain.
func NewSyncingChain() *SyncingChain {
	return &SyncingChain{
		values: make(map[uint32]*ledger.Value),
		hashes: make(map[uint32][]byte),
	}
}

// Add buffers v. It returns false if an identical value is already buffered,
// and ErrConflictingValue if a different one is.
func (sc *SyncingChain) Add(applied uint32, v *ledger.Value) (bool, error) {
	if v.Seq <= applied {
		return false, fmt.Errorf("value %d is not ahead of ledger %d", v.Seq, applied)
	}
	h, err := v.Hash()
	if err != nil {
		return false, err
	}
	if existing, ok := sc.hashes[v.Seq]; ok {
		if bytes.Equal(existing, h) {
			return false, nil
		}
		return false, fmt.Errorf("%w for ledger %d", ErrConflictingValue, v.Seq)
	}
	sc.values[v.Seq] = v
	sc.hashes[v.Seq] = h
	return true, nil
}

// PopNext removes and returns the value for applied+1, if buffered.
func (sc *SyncingChain) PopNext(applied uint32) (*ledger.Value, bool) {
	next := applied + 1
	v, ok := sc.values[next]
	if ok {
		sc.remove(next)
	}
	return v, ok
}

// Prune drops every value for a ledger up to applied and returns how many were
// dropped.
func (sc *SyncingChain) Prune(applied uint32) int {
	n := 0
	for seq := range sc.values {
		if seq <= applied {
			sc.remove(seq)
			n++
		}
	}
	return n
}

// Get returns the value buffered for seq.
func (sc *SyncingChain) Get(seq uint32) (*ledger.Value, bool) {
	v, ok := sc.values[seq]
	return v, ok
}

// Len returns the number of buffered values.
func (sc *SyncingChain) Len() int {
	return len(sc.values)
}

// Highest returns the highest buffered sequence number, or 0.
func (sc *SyncingChain) Highest() uint32 {
	var h uint32
	for seq := range sc.values {
		if seq > h {
			h = seq
		}
	}
	return h
}

// Seqs returns the buffered sequence numbers in increasing order.
func (sc *SyncingChain) Seqs() []uint32 {
	seqs := make([]uint32, 0, len(sc.values))
	for seq := range sc.values {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func (sc *SyncingChain) remove(seq uint32) {
	delete(sc.values, seq)
	delete(sc.hashes, seq)
}
