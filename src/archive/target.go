package archive

import (
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
)

// Mode tells how a catchup was requested.
type Mode uint8

const (
	// Automatic catchups are started by the node when it falls behind.
	Automatic Mode = iota
	// Manual catchups are requested by an operator.
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "automatic"
}

// VerifyMode tells how the state of the target ledger is obtained.
type VerifyMode uint8

const (
	// TrustArchive installs the account state published by the archive after
	// checking it against the signed header.
	TrustArchive VerifyMode = iota
	// Replay re-executes the archived values through the ledger closer.
	Replay
)

func (v VerifyMode) String() string {
	if v == Replay {
		return "replay"
	}
	return "trust"
}

// Target is the range of ledgers a catchup must obtain.
type Target struct {
	// From is the first ledger the node does not have.
	From uint32
	// To is the ledger the node must at least reach.
	To     uint32
	Mode   Mode
	Verify VerifyMode
	// Hash, when set, is the hash the header HashSeq must have. Only manual
	// catchups set it.
	Hash    []byte
	HashSeq uint32
}

// NewTarget returns the target of an automatic catchup.
func NewTarget(from, to uint32, verify VerifyMode) Target {
	return Target{
		From:   from,
		To:     to,
		Mode:   Automatic,
		Verify: verify,
	}
}

// NewManualTarget returns the target of an operator catchup. hash may be nil.
func NewManualTarget(from, to uint32, verify VerifyMode, hash []byte) Target {
	t := Target{
		From:   from,
		To:     to,
		Mode:   Manual,
		Verify: verify,
	}
	if len(hash) > 0 {
		t.Hash = hash
		t.HashSeq = to
	}
	return t
}

func (t Target) String() string {
	s := fmt.Sprintf("%d..%d %s %s", t.From, t.To, t.Mode, t.Verify)
	if len(t.Hash) > 0 {
		s += fmt.Sprintf(" %d=%s", t.HashSeq, common.ShortHex(t.Hash, 12))
	}
	return s
}

// ParseVerifyMode reads the output of VerifyMode.String. The empty string is
// TrustArchive.
func ParseVerifyMode(s string) (VerifyMode, error) {
	switch s {
	case "", "trust":
		return TrustArchive, nil
	case "replay":
		return Replay, nil
	default:
		return TrustArchive, fmt.Errorf("unknown verify mode %q", s)
	}
}
