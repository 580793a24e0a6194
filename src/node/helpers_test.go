package node

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/store"
	"github.com/stretchr/testify/require"
)

// reference is a chain closed independently of the node under test, from the
// same genesis.
type reference struct {
	headers []ledger.HeaderEntry
	values  []*ledger.Value
	states  []*ledger.State
}

func newReference(t *testing.T, conf *Config, n int) *reference {
	genesis, st, err := ledger.Genesis(conf.GenesisParams, conf.RootAccount)
	require.NoError(t, err)

	ref := &reference{
		headers: []ledger.HeaderEntry{{}, genesis},
		values:  []*ledger.Value{nil, nil},
		states:  []*ledger.State{nil, st.Copy()},
	}

	closer := ledger.NewCloser(nil, conf.MinCloseGap)
	params := conf.GenesisParams
	lcl := genesis
	for seq := lcl.Seq() + 1; seq <= uint32(n); seq++ {
		root, _ := st.Account(conf.RootAccount)
		tx := ledger.Transaction{
			Source: conf.RootAccount,
			SeqNum: root.SeqNum + 1,
			Fee:    params.BaseFee,
			Operations: []ledger.Operation{{
				Type:        ledger.CreateAccount,
				Destination: fmt.Sprintf("acct%d", seq),
				Amount:      params.MinBalance(0),
			}},
		}
		v, err := ledger.NewValue(seq, lcl.Hash, []ledger.Transaction{tx}, uint64(seq)*5)
		require.NoError(t, err)
		res, err := closer.Close(lcl, st, v)
		require.NoError(t, err)
		st.Apply(res.Changes)

		ref.headers = append(ref.headers, res.Header)
		ref.values = append(ref.values, v)
		ref.states = append(ref.states, st.Copy())
		lcl = res.Header
	}
	return ref
}

func (r *reference) value(seq uint32) *ledger.Value {
	return r.values[seq]
}

func (r *reference) header(seq uint32) ledger.HeaderEntry {
	return r.headers[seq]
}

// result builds the archive result of a successful fetch from target.From to
// ledger to.
func (r *reference) result(target archive.Target, to uint32) *archive.Result {
	res := &archive.Result{
		Target:  target,
		Header:  r.headers[to],
		Headers: append([]ledger.HeaderEntry{}, r.headers[target.From:to+1]...),
		Status:  archive.StatusOK,
	}
	if target.Verify == archive.Replay {
		res.Values = append([]*ledger.Value{}, r.values[target.From:to+1]...)
	} else {
		res.Accounts = r.states[to].Accounts()
	}
	return res
}

// fakeHandle is a Handle completed by the test.
type fakeHandle struct {
	sync.Mutex
	target  archive.Target
	extends []uint32
	done    chan *archive.Result
}

func (h *fakeHandle) Target() archive.Target {
	h.Lock()
	defer h.Unlock()
	return h.target
}

func (h *fakeHandle) Extend(to uint32) {
	h.Lock()
	defer h.Unlock()
	h.extends = append(h.extends, to)
	if to > h.target.To {
		h.target.To = to
	}
}

func (h *fakeHandle) Done() <-chan *archive.Result {
	return h.done
}

// fakeFetcher records the fetches it is asked to start.
type fakeFetcher struct {
	sync.Mutex
	handles []*fakeHandle
}

func (f *fakeFetcher) StartFetch(ctx context.Context, target archive.Target) archive.Handle {
	f.Lock()
	defer f.Unlock()
	h := &fakeHandle{
		target: target,
		done:   make(chan *archive.Result, 1),
	}
	f.handles = append(f.handles, h)
	return h
}

func (f *fakeFetcher) count() int {
	f.Lock()
	defer f.Unlock()
	return len(f.handles)
}

func (f *fakeFetcher) last() *fakeHandle {
	f.Lock()
	defer f.Unlock()
	return f.handles[len(f.handles)-1]
}

// failingStore fails every commit once armed.
type failingStore struct {
	*store.InmemStore
	fail bool
}

func (s *failingStore) Commit(c *store.Commit) error {
	if s.fail {
		return fmt.Errorf("disk full")
	}
	return s.InmemStore.Commit(c)
}

func newTestCore(t *testing.T, conf *Config, s store.Store, fetcher archive.Fetcher) *Core {
	if s == nil {
		s = store.NewInmemStore()
	}
	core, err := NewCore(context.Background(), conf, s, fetcher, nil)
	require.NoError(t, err)
	return core
}

// feed delivers the reference values from..to in order.
func feed(t *testing.T, core *Core, ref *reference, from, to uint32) {
	for seq := from; seq <= to; seq++ {
		require.NoError(t, core.ValueExternalized(ref.value(seq)), "value %d", seq)
	}
}

func requireLCL(t *testing.T, core *Core, want ledger.HeaderEntry) {
	lcl := core.LCL()
	require.Equal(t, want.Seq(), lcl.Seq())
	require.Equal(t, want.Hex(), lcl.Hex(), "ledger %d hash", want.Seq())
}
