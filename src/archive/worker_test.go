package archive

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publisher is a store holding a chain, closed one ledger at a time.
type publisher struct {
	t      *testing.T
	store  *store.InmemStore
	closer *ledger.Closer
	state  *ledger.State
	lcl    ledger.HeaderEntry
}

func newPublisher(t *testing.T, n int) *publisher {
	genesis, state, err := ledger.Genesis(ledger.DefaultParams, "root")
	require.NoError(t, err)
	p := &publisher{
		t:      t,
		store:  store.NewInmemStore(),
		closer: ledger.NewCloser(nil, ledger.DefaultMinCloseGap),
		state:  state,
		lcl:    genesis,
	}
	require.NoError(t, p.store.Commit(&store.Commit{Header: genesis, Changes: state.Accounts()}))
	p.advance(n)
	return p
}

// advance closes n ledgers, each paying a new account.
func (p *publisher) advance(n int) {
	params := ledger.DefaultParams
	for i := 0; i < n; i++ {
		seq := p.lcl.Seq() + 1
		root, _ := p.state.Account("root")
		tx := ledger.Transaction{
			Source: "root",
			SeqNum: root.SeqNum + 1,
			Fee:    params.BaseFee,
			Operations: []ledger.Operation{{
				Type:        ledger.CreateAccount,
				Destination: fmt.Sprintf("acct%d", seq),
				Amount:      params.MinBalance(0),
			}},
		}
		v, err := ledger.NewValue(seq, p.lcl.Hash, []ledger.Transaction{tx}, uint64(seq)*5)
		require.NoError(p.t, err)
		res, err := p.closer.Close(p.lcl, p.state, v)
		require.NoError(p.t, err)
		require.NoError(p.t, p.store.Commit(&store.Commit{
			Header:  res.Header,
			Results: res.Results,
			Value:   v,
			Changes: res.Changes,
		}))
		p.state.Apply(res.Changes)
		p.lcl = res.Header
	}
}

type ecdsaPair struct {
	priv *ecdsa.PrivateKey
	pub  *ecdsa.PublicKey
}

func newPair(t *testing.T) *ecdsaPair {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	return &ecdsaPair{priv: key, pub: &key.PublicKey}
}

func newArchive(t *testing.T) (*StoreSource, *publisher, *ecdsaPair) {
	p := newPublisher(t, 6)
	pair := newPair(t)
	return NewStoreSource(p.store, pair.priv), p, pair
}

func testWorker(t *testing.T, source Source, pair *ecdsaPair, retries uint64) *Worker {
	return NewWorker(source, WorkerConfig{
		Retries:       retries,
		RetryInterval: time.Millisecond,
		Trusted:       pair.pub,
		Logger:        common.NewTestEntry(t, "archive"),
	})
}

func wait(t *testing.T, h Handle) *Result {
	select {
	case res := <-h.Done():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for fetch")
		return nil
	}
}

func TestWorkerTrustArchive(t *testing.T) {
	source, p, pair := newArchive(t)
	w := testWorker(t, source, pair, 0)

	target := NewTarget(3, 5, TrustArchive)
	res := wait(t, w.StartFetch(context.Background(), target))

	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, p.lcl.Hash, res.Header.Hash)
	assert.Len(t, res.Headers, int(p.lcl.Seq())-2)
	assert.Equal(t, uint32(3), res.Headers[0].Seq())

	stateHash, err := ledger.NewState(res.Accounts...).Hash()
	require.NoError(t, err)
	assert.Equal(t, res.Header.Header.StateHash, stateHash)
	assert.Empty(t, res.Values)
}

func TestWorkerReplay(t *testing.T) {
	source, _, pair := newArchive(t)
	w := testWorker(t, source, pair, 0)

	res := wait(t, w.StartFetch(context.Background(), NewTarget(3, 5, Replay)))

	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, uint32(5), res.Header.Seq())
	require.Len(t, res.Values, 3)
	for i, v := range res.Values {
		assert.Equal(t, uint32(3+i), v.Seq)
	}
	assert.Empty(t, res.Accounts)
}

func TestWorkerBadSignature(t *testing.T) {
	source, _, _ := newArchive(t)
	counting := &countingSource{inner: source}
	w := testWorker(t, counting, newPair(t), 5)

	res := wait(t, w.StartFetch(context.Background(), NewTarget(3, 5, TrustArchive)))

	assert.Equal(t, StatusBadSignature, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, counting.count(), "verification failures must not be retried")
}

func TestWorkerTargetHash(t *testing.T) {
	source, p, pair := newArchive(t)
	w := testWorker(t, source, pair, 0)

	good, err := p.store.GetHeader(5)
	require.NoError(t, err)

	res := wait(t, w.StartFetch(context.Background(), NewManualTarget(3, 5, TrustArchive, good.Hash)))
	require.True(t, res.OK(), "%v", res.Err)

	res = wait(t, w.StartFetch(context.Background(), NewManualTarget(3, 5, TrustArchive, ledger.ZeroHash)))
	assert.Equal(t, StatusTargetMismatch, res.Status)
}

func TestWorkerBadState(t *testing.T) {
	source, _, pair := newArchive(t)
	tampered := &tamperSource{inner: source, tamper: func(cp *Checkpoint) {
		cp.Accounts[0].Balance++
	}}
	w := testWorker(t, tampered, pair, 0)

	res := wait(t, w.StartFetch(context.Background(), NewTarget(3, 5, TrustArchive)))
	assert.Equal(t, StatusBadState, res.Status)
}

func TestWorkerBadHashChain(t *testing.T) {
	source, _, pair := newArchive(t)
	tampered := &tamperSource{inner: source, tamper: func(cp *Checkpoint) {
		cp.Headers = append(cp.Headers[:1], cp.Headers[2:]...)
	}}
	w := testWorker(t, tampered, pair, 0)

	res := wait(t, w.StartFetch(context.Background(), NewTarget(3, 5, TrustArchive)))
	assert.Equal(t, StatusBadHashChain, res.Status)
}

func TestWorkerRetry(t *testing.T) {
	source, _, pair := newArchive(t)
	flaky := &countingSource{inner: source, failures: 2}
	w := testWorker(t, flaky, pair, 5)

	res := wait(t, w.StartFetch(context.Background(), NewTarget(3, 5, TrustArchive)))

	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, 3, flaky.count())
}

func TestWorkerUnavailable(t *testing.T) {
	source, p, pair := newArchive(t)
	w := testWorker(t, source, pair, 2)

	res := wait(t, w.StartFetch(context.Background(), NewTarget(3, p.lcl.Seq()+10, TrustArchive)))

	assert.Equal(t, StatusUnavailable, res.Status)
	assert.True(t, errors.Is(res.Err, ErrBehind), "%v", res.Err)
}

func TestWorkerExtend(t *testing.T) {
	source, p, pair := newArchive(t)
	gated := &gatedSource{
		countingSource: countingSource{inner: source},
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	w := testWorker(t, gated, pair, 0)

	h := w.StartFetch(context.Background(), NewTarget(3, 5, TrustArchive))
	<-gated.started

	// The archive moves on while the first fetch is in flight.
	first := p.lcl.Seq()
	p.advance(3)
	h.Extend(p.lcl.Seq())
	h.Extend(4)
	assert.Equal(t, p.lcl.Seq(), h.Target().To)
	close(gated.release)

	res := wait(t, h)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, first+3, res.Header.Seq())
	assert.Equal(t, 2, gated.count())
}

func TestHTTPSource(t *testing.T) {
	source, p, pair := newArchive(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := ParseRequest(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cp, err := source.Checkpoint(r.Context(), req)
		if errors.Is(err, ErrBehind) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(cp)
	}))
	defer server.Close()

	w := testWorker(t, NewHTTPSource(server.URL, time.Second), pair, 0)

	res := wait(t, w.StartFetch(context.Background(), NewTarget(2, 4, Replay)))
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, uint32(4), res.Header.Seq())
	require.Len(t, res.Values, 3)

	res = wait(t, w.StartFetch(context.Background(), NewTarget(2, 4, TrustArchive)))
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, p.lcl.Hash, res.Header.Hash)

	_, err := NewHTTPSource(server.URL, time.Second).Checkpoint(context.Background(),
		Request{From: 2, To: p.lcl.Seq() + 1, State: true})
	assert.True(t, errors.Is(err, ErrBehind), "%v", err)
}

/*******************************************************************************
Test sources
*******************************************************************************/

type countingSource struct {
	sync.Mutex
	inner    Source
	calls    int
	failures int
}

func (s *countingSource) Checkpoint(ctx context.Context, req Request) (*Checkpoint, error) {
	s.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return s.inner.Checkpoint(ctx, req)
}

func (s *countingSource) count() int {
	s.Lock()
	defer s.Unlock()
	return s.calls
}

type tamperSource struct {
	inner  Source
	tamper func(*Checkpoint)
}

func (s *tamperSource) Checkpoint(ctx context.Context, req Request) (*Checkpoint, error) {
	cp, err := s.inner.Checkpoint(ctx, req)
	if err != nil {
		return nil, err
	}
	s.tamper(cp)
	return cp, nil
}

// gatedSource holds its first answer until release is closed.
type gatedSource struct {
	countingSource
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) Checkpoint(ctx context.Context, req Request) (*Checkpoint, error) {
	cp, err := s.countingSource.Checkpoint(ctx, req)
	if s.count() == 1 {
		close(s.started)
		<-s.release
	}
	return cp, err
}
