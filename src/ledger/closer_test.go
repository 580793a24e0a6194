package ledger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		ProtocolVersion: 1,
		BaseFee:         100,
		BaseReserve:     25,
		MaxTxSetSize:    10,
		TotalCoins:      1000000000,
	}
}

type fixture struct {
	t      *testing.T
	closer *Closer
	lcl    HeaderEntry
	state  *State
}

func newFixture(t *testing.T) *fixture {
	genesis, state, err := Genesis(testParams(), "root")
	require.NoError(t, err)
	return &fixture{
		t:      t,
		closer: NewCloser(nil, DefaultMinCloseGap),
		lcl:    genesis,
		state:  state,
	}
}

func (f *fixture) value(txs []Transaction, closeTime uint64, upgrades ...Upgrade) *Value {
	v, err := NewValue(f.lcl.Seq()+1, f.lcl.Hash, txs, closeTime, upgrades...)
	require.NoError(f.t, err)
	return v
}

// close applies txs on top of the fixture and advances it.
func (f *fixture) close(txs []Transaction, closeTime uint64, upgrades ...Upgrade) *CloseResult {
	res, err := f.closer.Close(f.lcl, f.state, f.value(txs, closeTime, upgrades...))
	require.NoError(f.t, err)
	f.state.Apply(res.Changes)
	f.lcl = res.Header
	return res
}

func (f *fixture) account(id string) Account {
	a, ok := f.state.Account(id)
	require.True(f.t, ok, "account %s", id)
	return a
}

// fund creates alice, bob and poor in ledger 2.
func (f *fixture) fund() {
	f.close([]Transaction{{
		Source: "root",
		SeqNum: 1,
		Fee:    300,
		Operations: []Operation{
			{Type: CreateAccount, Destination: "alice", Amount: 1000000},
			{Type: CreateAccount, Destination: "bob", Amount: 1000000},
			{Type: CreateAccount, Destination: "poor", Amount: 60},
		},
	}}, 100)
}

func resultFor(t *testing.T, res *CloseResult, tx Transaction) Result {
	h, err := tx.Hash()
	require.NoError(t, err)
	for _, r := range res.Results.Results {
		if string(r.TxHash) == string(h) {
			return r
		}
	}
	t.Fatalf("no result for transaction %+v", tx)
	return Result{}
}

func TestGenesis(t *testing.T) {
	g1, s1, err := Genesis(testParams(), "root")
	require.NoError(t, err)
	g2, _, err := Genesis(testParams(), "root")
	require.NoError(t, err)

	assert.Equal(t, GenesisSeq, g1.Seq())
	assert.Equal(t, ZeroHash, g1.Header.PrevHash)
	assert.Equal(t, g1.Hash, g2.Hash)
	assert.NoError(t, g1.Verify())

	root, ok := s1.Account("root")
	require.True(t, ok)
	assert.Equal(t, testParams().TotalCoins, root.Balance)
}

func TestCloseFund(t *testing.T) {
	f := newFixture(t)
	genesis := f.lcl
	f.fund()

	assert.Equal(t, uint32(2), f.lcl.Seq())
	assert.Equal(t, genesis.Hash, f.lcl.Header.PrevHash)
	assert.Equal(t, int64(300), f.lcl.Header.FeePool)

	alice := f.account("alice")
	assert.Equal(t, int64(1000000), alice.Balance)
	assert.Equal(t, int64(2)<<32, alice.SeqNum)

	root := f.account("root")
	assert.Equal(t, testParams().TotalCoins-300-2000060, root.Balance)
	assert.Equal(t, int64(1), root.SeqNum)

	stateHash, err := f.state.Hash()
	require.NoError(t, err)
	assert.Equal(t, stateHash, f.lcl.Header.StateHash)
}

func TestCloseFeeAndSequence(t *testing.T) {
	f := newFixture(t)
	f.fund()

	next := f.account("alice").SeqNum + 1
	noAccount := Transaction{Source: "carol", SeqNum: 1, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}}
	lowFee := Transaction{Source: "alice", SeqNum: next, Fee: 50,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}}
	good := Transaction{Source: "alice", SeqNum: next, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 10}}}
	badSeq := Transaction{Source: "alice", SeqNum: next + 4, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}}
	broke := Transaction{Source: "poor", SeqNum: f.account("poor").SeqNum + 1, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}}

	alice := f.account("alice")
	bob := f.account("bob")
	pool := f.lcl.Header.FeePool

	res := f.close([]Transaction{noAccount, lowFee, good, badSeq, broke}, 200)

	require.Len(t, res.Results.Results, 5)

	r := resultFor(t, res, noAccount)
	assert.Equal(t, TxNoAccount, r.Code)
	assert.Zero(t, r.FeeCharged)

	r = resultFor(t, res, lowFee)
	assert.Equal(t, TxInsufficientFee, r.Code)
	assert.Zero(t, r.FeeCharged)

	r = resultFor(t, res, good)
	assert.Equal(t, TxSuccess, r.Code)
	assert.Equal(t, int64(100), r.FeeCharged)
	assert.Equal(t, []OpCode{OpSuccess}, r.OpCodes)

	r = resultFor(t, res, badSeq)
	assert.Equal(t, TxBadSeq, r.Code)
	assert.Equal(t, int64(100), r.FeeCharged)

	r = resultFor(t, res, broke)
	assert.Equal(t, TxInsufficientBalance, r.Code)
	assert.Zero(t, r.FeeCharged)

	assert.Equal(t, alice.Balance-100-10-100, f.account("alice").Balance)
	assert.Equal(t, next, f.account("alice").SeqNum)
	assert.Equal(t, bob.Balance+10, f.account("bob").Balance)
	assert.Equal(t, int64(60), f.account("poor").Balance)
	assert.Equal(t, pool+200, f.lcl.Header.FeePool)
	assert.Equal(t, int64(200), res.FeesCharged)
}

func TestCloseTransactionAtomicity(t *testing.T) {
	f := newFixture(t)
	f.fund()

	alice := f.account("alice")
	bob := f.account("bob")
	tx := Transaction{Source: "alice", SeqNum: alice.SeqNum + 1, Fee: 200,
		Operations: []Operation{
			{Type: Payment, Destination: "bob", Amount: 10},
			{Type: Payment, Destination: "nobody", Amount: 5},
		}}
	after := Transaction{Source: "bob", SeqNum: bob.SeqNum + 1, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "alice", Amount: 7}}}

	res := f.close([]Transaction{tx, after}, 200)

	r := resultFor(t, res, tx)
	assert.Equal(t, TxFailed, r.Code)
	assert.Equal(t, []OpCode{OpSuccess, OpNoDestination}, r.OpCodes)
	assert.Equal(t, int64(200), r.FeeCharged)
	assert.Equal(t, TxSuccess, resultFor(t, res, after).Code)

	// The failed payment is rolled back, its fee and sequence number are not.
	assert.Equal(t, alice.Balance-200+7, f.account("alice").Balance)
	assert.Equal(t, alice.SeqNum+1, f.account("alice").SeqNum)
	assert.Equal(t, bob.Balance-100-7, f.account("bob").Balance)
}

func TestCloseMinBalance(t *testing.T) {
	f := newFixture(t)
	f.fund()

	alice := f.account("alice")
	drain := Transaction{Source: "alice", SeqNum: alice.SeqNum + 1, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: alice.Balance - 100 - 10}}}
	tooSmall := Transaction{Source: "bob", SeqNum: f.account("bob").SeqNum + 1, Fee: 100,
		Operations: []Operation{{Type: CreateAccount, Destination: "dave", Amount: 10}}}

	res := f.close([]Transaction{drain, tooSmall}, 200)

	assert.Equal(t, []OpCode{OpUnderfunded}, resultFor(t, res, drain).OpCodes)
	assert.Equal(t, []OpCode{OpLowReserve}, resultFor(t, res, tooSmall).OpCodes)
	assert.Equal(t, int64(50), testParams().MinBalance(0))
}

func TestCloseOrderIndependence(t *testing.T) {
	f := newFixture(t)
	f.fund()

	aliceSeq := f.account("alice").SeqNum
	bobSeq := f.account("bob").SeqNum
	txs := []Transaction{
		{Source: "alice", SeqNum: aliceSeq + 2, Fee: 100,
			Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 3}}},
		{Source: "alice", SeqNum: aliceSeq + 1, Fee: 100,
			Operations: []Operation{{Type: CreateAccount, Destination: "erin", Amount: 500}}},
		{Source: "bob", SeqNum: bobSeq + 1, Fee: 100,
			Operations: []Operation{{Type: Payment, Destination: "erin", Amount: 9}}},
		{Source: "bob", SeqNum: bobSeq + 2, Fee: 100,
			Operations: []Operation{{Type: Payment, Destination: "alice", Amount: 4}}},
		{Source: "root", SeqNum: 2, Fee: 100,
			Operations: []Operation{{Type: Payment, Destination: "alice", Amount: 1000}}},
	}

	var first *CloseResult
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := make([]Transaction, len(txs))
		copy(shuffled, txs)
		rnd.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		res, err := f.closer.Close(f.lcl, f.state, f.value(shuffled, 300))
		require.NoError(t, err)
		if first == nil {
			first = res
			continue
		}
		assert.Equal(t, first.Header.Hash, res.Header.Hash)
		assert.Equal(t, first.Results, res.Results)
		assert.Equal(t, first.Changes, res.Changes)
	}

	for _, r := range first.Results.Results {
		assert.Equal(t, TxSuccess, r.Code, "%v", r.OpCodes)
	}
}

func TestCloseResultSetMatchesHeader(t *testing.T) {
	f := newFixture(t)
	f.fund()

	alice := f.account("alice")
	txs := []Transaction{
		{Source: "alice", SeqNum: alice.SeqNum + 1, Fee: 100,
			Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}},
		{Source: "ghost", SeqNum: 1, Fee: 100,
			Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}},
	}
	res := f.close(txs, 200)

	require.Len(t, res.Results.Results, len(txs))
	h, err := res.Results.Hash()
	require.NoError(t, err)
	assert.Equal(t, h, res.Header.Header.ResultsHash)

	data, err := res.Results.Marshal()
	require.NoError(t, err)
	var decoded ResultSet
	require.NoError(t, decoded.Unmarshal(data))
	h2, err := decoded.Hash()
	require.NoError(t, err)
	assert.Equal(t, h, h2)
}

func TestCloseTime(t *testing.T) {
	f := newFixture(t)
	f.fund()
	require.Equal(t, uint64(100), f.lcl.Header.CloseTime)

	f.close(nil, 50)
	assert.Equal(t, uint64(101), f.lcl.Header.CloseTime)

	f.close(nil, 101)
	assert.Equal(t, uint64(102), f.lcl.Header.CloseTime)

	f.close(nil, 500)
	assert.Equal(t, uint64(500), f.lcl.Header.CloseTime)
}

func TestCloseUpgrades(t *testing.T) {
	f := newFixture(t)
	f.fund()

	alice := f.account("alice")
	tx := Transaction{Source: "alice", SeqNum: alice.SeqNum + 1, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}}

	res := f.close([]Transaction{tx}, 200,
		Upgrade{Type: UpgradeBaseFee, Value: 200},
		Upgrade{Type: UpgradeVersion, Value: 2},
	)

	// The transaction pays the fee in force before the upgrade.
	assert.Equal(t, TxSuccess, resultFor(t, res, tx).Code)
	assert.Equal(t, int64(100), resultFor(t, res, tx).FeeCharged)
	assert.Equal(t, int64(200), f.lcl.Header.Params.BaseFee)
	assert.Equal(t, uint32(2), f.lcl.Header.Params.ProtocolVersion)

	_, err := f.closer.Close(f.lcl, f.state, f.value(nil, 300, Upgrade{Type: UpgradeVersion, Value: 2}))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCloseMalformed(t *testing.T) {
	f := newFixture(t)
	f.fund()

	alice := f.account("alice")
	tx := Transaction{Source: "alice", SeqNum: alice.SeqNum + 1, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}}

	cases := map[string]func() *Value{
		"sequence gap": func() *Value {
			v, err := NewValue(f.lcl.Seq()+2, f.lcl.Hash, []Transaction{tx}, 200)
			require.NoError(t, err)
			return v
		},
		"tx set hash": func() *Value {
			v := f.value([]Transaction{tx}, 200)
			v.TxSetHash = ZeroHash
			return v
		},
		"previous ledger": func() *Value {
			v, err := NewValue(f.lcl.Seq()+1, ZeroHash, []Transaction{tx}, 200)
			require.NoError(t, err)
			return v
		},
		"duplicate": func() *Value {
			return f.value([]Transaction{tx, tx}, 200)
		},
		"too many": func() *Value {
			txs := make([]Transaction, testParams().MaxTxSetSize+1)
			for i := range txs {
				txs[i] = tx
				txs[i].SeqNum += int64(i)
			}
			return f.value(txs, 200)
		},
	}

	for name, mk := range cases {
		t.Run(name, func(t *testing.T) {
			before, err := f.state.Hash()
			require.NoError(t, err)

			res, err := f.closer.Close(f.lcl, f.state, mk())
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, res)

			after, err := f.state.Hash()
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestCloseDoesNotMutateInputs(t *testing.T) {
	f := newFixture(t)
	f.fund()

	alice := f.account("alice")
	v := f.value([]Transaction{{Source: "alice", SeqNum: alice.SeqNum + 1, Fee: 100,
		Operations: []Operation{{Type: Payment, Destination: "bob", Amount: 1}}}}, 200)

	valueHash, err := v.Hash()
	require.NoError(t, err)
	stateHash, err := f.state.Hash()
	require.NoError(t, err)

	res1, err := f.closer.Close(f.lcl, f.state, v)
	require.NoError(t, err)
	res2, err := f.closer.Close(f.lcl, f.state, v)
	require.NoError(t, err)
	assert.Equal(t, res1.Header.Hash, res2.Header.Hash)

	h, err := v.Hash()
	require.NoError(t, err)
	assert.Equal(t, valueHash, h)
	h, err = f.state.Hash()
	require.NoError(t, err)
	assert.Equal(t, stateHash, h)
	assert.Equal(t, alice, f.account("alice"))
}

func TestVerifyChain(t *testing.T) {
	f := newFixture(t)
	genesis := f.lcl
	f.fund()
	var chain []HeaderEntry
	chain = append(chain, f.lcl)
	for i := 0; i < 3; i++ {
		f.close(nil, uint64(200+i))
		chain = append(chain, f.lcl)
	}

	require.NoError(t, VerifyChain(genesis, chain))

	// Headers survive a round trip through their encoding.
	data, err := chain[1].Header.Marshal()
	require.NoError(t, err)
	var h Header
	require.NoError(t, h.Unmarshal(data))
	entry, err := NewHeaderEntry(h)
	require.NoError(t, err)
	assert.Equal(t, chain[1].Hash, entry.Hash)

	gap := []HeaderEntry{chain[0], chain[2]}
	assert.Error(t, VerifyChain(genesis, gap))

	tampered := make([]HeaderEntry, len(chain))
	copy(tampered, chain)
	tampered[2].Header.CloseTime++
	assert.Error(t, VerifyChain(genesis, tampered))

	assert.Error(t, VerifyChain(chain[0], chain))
}
