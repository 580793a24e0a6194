package ledger

// GenesisSeq is the sequence number of the first ledger.
const GenesisSeq uint32 = 1

// DefaultParams are the protocol parameters of a new network.
var DefaultParams = Params{
	ProtocolVersion: 1,
	BaseFee:         100,
	BaseReserve:     100000000,
	MaxTxSetSize:    100,
	TotalCoins:      1000000000000000000,
}

// Genesis builds the first ledger of a network: a single root account holding
// every coin.
func Genesis(params Params, rootID string) (HeaderEntry, *State, error) {
	state := NewState(Account{
		ID:      rootID,
		Balance: params.TotalCoins,
	})
	stateHash, err := state.Hash()
	if err != nil {
		return HeaderEntry{}, nil, err
	}
	empty := ResultSet{}
	resultsHash, err := empty.Hash()
	if err != nil {
		return HeaderEntry{}, nil, err
	}
	entry, err := NewHeaderEntry(Header{
		Seq:         GenesisSeq,
		PrevHash:    ZeroHash,
		TxSetHash:   ZeroHash,
		ResultsHash: resultsHash,
		StateHash:   stateHash,
		Params:      params,
	})
	if err != nil {
		return HeaderEntry{}, nil, err
	}
	return entry, state, nil
}
