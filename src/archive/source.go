package archive

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/store"
)

// ErrBehind is returned by a Source that has not reached the requested ledger
// yet. It is worth retrying.
var ErrBehind = errors.New("archive is behind the requested ledger")

// Request describes the checkpoint a Source must produce. For a request
// without Values the checkpoint ends at the newest ledger of the archive, which
// must be at least To. For a request with Values it ends exactly at To.
type Request struct {
	From   uint32
	To     uint32
	State  bool
	Values bool
}

// Source is where checkpoints come from.
type Source interface {
	Checkpoint(ctx context.Context, req Request) (*Checkpoint, error)
}

// StoreSource publishes the ledgers of a Store, signed with the archive key.
type StoreSource struct {
	store store.Store
	key   *ecdsa.PrivateKey
}

// NewStoreSource returns a Source serving the ledgers of s.
func NewStoreSource(s store.Store, key *ecdsa.PrivateKey) *StoreSource {
	return &StoreSource{
		store: s,
		key:   key,
	}
}

// maxSnapshotAttempts bounds the retries of a state read racing with commits.
const maxSnapshotAttempts = 5

// Checkpoint implements Source.
func (s *StoreSource) Checkpoint(ctx context.Context, req Request) (*Checkpoint, error) {
	if req.From == 0 || req.From > req.To {
		return nil, fmt.Errorf("invalid range %d..%d", req.From, req.To)
	}

	for attempt := 0; attempt < maxSnapshotAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lcl, err := s.store.LastClosed()
		if err != nil {
			return nil, err
		}
		if lcl.Seq() < req.To {
			return nil, fmt.Errorf("%w: have %d, want %d", ErrBehind, lcl.Seq(), req.To)
		}

		end := lcl
		if req.Values {
			if end, err = s.store.GetHeader(req.To); err != nil {
				return nil, err
			}
		}

		cp := &Checkpoint{Header: end}

		if req.State && !req.Values {
			state, err := s.store.State()
			if err != nil {
				return nil, err
			}
			// A commit may have landed between the two reads.
			again, err := s.store.LastClosed()
			if err != nil {
				return nil, err
			}
			if again.Seq() != lcl.Seq() {
				continue
			}
			cp.Accounts = state.Accounts()
		}

		for seq := req.From; seq <= end.Seq(); seq++ {
			h, err := s.store.GetHeader(seq)
			if err != nil {
				return nil, err
			}
			cp.Headers = append(cp.Headers, h)
			if req.Values {
				v, err := s.store.GetValue(seq)
				if err != nil {
					return nil, err
				}
				cp.Values = append(cp.Values, v)
			}
		}

		if err := cp.Sign(s.key); err != nil {
			return nil, err
		}
		return cp, nil
	}

	return nil, fmt.Errorf("%w: ledger moved during %d snapshot attempts", ErrBehind, maxSnapshotAttempts)
}

// Latest returns the last closed ledger of the published store.
func (s *StoreSource) Latest() (ledger.HeaderEntry, error) {
	return s.store.LastClosed()
}
