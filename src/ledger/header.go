package ledger

import (
	"bytes"
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
)

// Params are the protocol parameters carried forward from header to header and
// changed only by upgrades.
type Params struct {
	ProtocolVersion uint32
	BaseFee         int64
	BaseReserve     int64
	MaxTxSetSize    uint32
	TotalCoins      int64
}

// MinBalance returns the minimum balance of an account owning ownerCount
// sub-entries.
func (p Params) MinBalance(ownerCount uint32) int64 {
	return (2 + int64(ownerCount)) * p.BaseReserve
}

// Header describes one closed ledger.
type Header struct {
	Seq         uint32
	PrevHash    []byte
	TxSetHash   []byte
	ResultsHash []byte
	StateHash   []byte
	CloseTime   uint64
	FeePool     int64
	Params      Params
}

// Marshal returns the canonical encoding of the header.
func (h *Header) Marshal() ([]byte, error) {
	return marshal(h)
}

// Unmarshal decodes a header produced by Marshal.
func (h *Header) Unmarshal(data []byte) error {
	return unmarshal(data, h)
}

// Hash returns the SHA256 hash of the canonical encoding.
func (h *Header) Hash() ([]byte, error) {
	return hashOf(h)
}

// HeaderEntry is a header together with its hash. It is what the node keeps as
// its last closed ledger.
type HeaderEntry struct {
	Header Header
	Hash   []byte
}

// NewHeaderEntry computes the hash of h.
func NewHeaderEntry(h Header) (HeaderEntry, error) {
	hash, err := h.Hash()
	if err != nil {
		return HeaderEntry{}, err
	}
	return HeaderEntry{Header: h, Hash: hash}, nil
}

// Seq returns the sequence number of the header.
func (e HeaderEntry) Seq() uint32 {
	return e.Header.Seq
}

// Hex returns the hex representation of the header hash.
func (e HeaderEntry) Hex() string {
	return common.EncodeToString(e.Hash)
}

// Verify recomputes the hash of the header and compares it to Hash.
func (e HeaderEntry) Verify() error {
	hash, err := e.Header.Hash()
	if err != nil {
		return err
	}
	if !bytes.Equal(hash, e.Hash) {
		return fmt.Errorf("header %d hash mismatch: have %s, computed %s",
			e.Seq(), common.ShortHex(e.Hash, 12), common.ShortHex(hash, 12))
	}
	return nil
}

// VerifyChain checks that headers form a valid hash chain starting right after
// prev: sequence numbers are contiguous, every entry hash is the hash of its
// header, and every PrevHash links to the previous entry.
func VerifyChain(prev HeaderEntry, headers []HeaderEntry) error {
	last := prev
	for _, h := range headers {
		if err := h.Verify(); err != nil {
			return err
		}
		if h.Seq() != last.Seq()+1 {
			return fmt.Errorf("header %d does not follow %d", h.Seq(), last.Seq())
		}
		if !bytes.Equal(h.Header.PrevHash, last.Hash) {
			return fmt.Errorf("header %d does not link to header %d", h.Seq(), last.Seq())
		}
		last = h
	}
	return nil
}
