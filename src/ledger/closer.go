package ledger

import (
	"bytes"
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
)

// DefaultMinCloseGap is the minimum number of seconds between the close times
// of two consecutive ledgers.
const DefaultMinCloseGap uint64 = 1

// CloseResult is the output of Closer.Close. The caller persists all of it
// atomically.
type CloseResult struct {
	Header      HeaderEntry
	Results     ResultSet
	Changes     []Account
	FeesCharged int64
}

// Closer computes ledger transitions. It holds no ledger state and is safe for
// concurrent use.
type Closer struct {
	applier     Applier
	minCloseGap uint64
}

// NewCloser returns a Closer that runs operations through applier. A nil
// applier defaults to OperationApplier.
func NewCloser(applier Applier, minCloseGap uint64) *Closer {
	if applier == nil {
		applier = OperationApplier{}
	}
	return &Closer{
		applier:     applier,
		minCloseGap: minCloseGap,
	}
}

// Close applies value on top of the ledger prev whose account state is state.
// Structural problems are reported as ErrMalformed before anything is
// computed. Neither prev, state nor value is modified.
func (c *Closer) Close(prev HeaderEntry, state *State, value *Value) (*CloseResult, error) {
	if err := c.checkValue(prev, value); err != nil {
		return nil, err
	}

	params := prev.Header.Params
	for _, u := range value.Upgrades {
		var err error
		if params, err = u.apply(params); err != nil {
			return nil, malformed("ledger %d: %v", value.Seq, err)
		}
	}

	order, err := applyOrder(value.TxSet.Txs, value.TxSetHash)
	if err != nil {
		return nil, err
	}

	ctx := ApplyContext{
		LedgerSeq: value.Seq,
		Params:    prev.Header.Params,
	}

	delta := NewDelta(state)
	results := make([]Result, len(order))
	eligible := make([]bool, len(order))
	var fees int64

	// Fees and sequence numbers, in apply order.
	for i, o := range order {
		results[i] = Result{
			TxHash:  o.hash,
			OpCodes: []OpCode{},
		}
		code, charged := chargeFee(ctx.Params, o.tx, delta)
		results[i].Code = code
		results[i].FeeCharged = charged
		fees += charged
		eligible[i] = code == TxSuccess
	}

	// Operations. Each transaction runs in its own scratch delta.
	for i, o := range order {
		if !eligible[i] {
			continue
		}
		scratch := NewDelta(delta)
		code, opCodes := c.applier.Apply(ctx, o.tx, scratch)
		if code == TxSuccess {
			delta.Merge(scratch)
		}
		results[i].Code = code
		if opCodes != nil {
			results[i].OpCodes = opCodes
		}
	}

	resultSet := ResultSet{Results: results}
	resultsHash, err := resultSet.Hash()
	if err != nil {
		return nil, err
	}

	changes := delta.Changes()
	stateHash, err := state.hashWith(changes)
	if err != nil {
		return nil, err
	}

	closeTime := value.CloseTime
	if earliest := prev.Header.CloseTime + c.minCloseGap; closeTime < earliest {
		closeTime = earliest
	}

	header := Header{
		Seq:         value.Seq,
		PrevHash:    prev.Hash,
		TxSetHash:   value.TxSetHash,
		ResultsHash: resultsHash,
		StateHash:   stateHash,
		CloseTime:   closeTime,
		FeePool:     prev.Header.FeePool + fees,
		Params:      params,
	}
	entry, err := NewHeaderEntry(header)
	if err != nil {
		return nil, err
	}

	return &CloseResult{
		Header:      entry,
		Results:     resultSet,
		Changes:     changes,
		FeesCharged: fees,
	}, nil
}

func (c *Closer) checkValue(prev HeaderEntry, value *Value) error {
	if value.Seq != prev.Seq()+1 {
		return malformed("value %d does not follow ledger %d", value.Seq, prev.Seq())
	}

	setHash, err := value.TxSet.Hash()
	if err != nil {
		return malformed("ledger %d: hashing tx set: %v", value.Seq, err)
	}
	if !bytes.Equal(setHash, value.TxSetHash) {
		return malformed("ledger %d: tx set hash %s does not match %s",
			value.Seq, common.ShortHex(setHash, 12), common.ShortHex(value.TxSetHash, 12))
	}

	if !bytes.Equal(value.TxSet.PreviousLedgerHash, prev.Hash) {
		return malformed("ledger %d: tx set built on %s, last closed ledger is %s",
			value.Seq, common.ShortHex(value.TxSet.PreviousLedgerHash, 12), common.ShortHex(prev.Hash, 12))
	}

	if limit := prev.Header.Params.MaxTxSetSize; uint32(len(value.TxSet.Txs)) > limit {
		return malformed("ledger %d: %d transactions exceed max tx set size %d",
			value.Seq, len(value.TxSet.Txs), limit)
	}

	seen := make(map[string]struct{}, len(value.TxSet.Txs))
	for i := range value.TxSet.Txs {
		h, err := value.TxSet.Txs[i].Hash()
		if err != nil {
			return malformed("ledger %d: hashing transaction %d: %v", value.Seq, i, err)
		}
		k := string(h)
		if _, ok := seen[k]; ok {
			return malformed("ledger %d: duplicate transaction %s", value.Seq, common.ShortHex(h, 12))
		}
		seen[k] = struct{}{}
	}

	return nil
}

// chargeFee takes the fee of tx from its source account and consumes its
// sequence number. It returns TxSuccess if the operations of tx may be
// applied, and the fee actually charged.
func chargeFee(params Params, tx *Transaction, accounts *Delta) (ResultCode, int64) {
	src, ok := accounts.Account(tx.Source)
	if !ok {
		return TxNoAccount, 0
	}
	if len(tx.Operations) == 0 {
		return TxMissingOperation, 0
	}
	fee := params.BaseFee * int64(len(tx.Operations))
	if tx.Fee < fee {
		return TxInsufficientFee, 0
	}
	if src.Balance < fee {
		return TxInsufficientBalance, 0
	}
	src.Balance -= fee
	code := TxSuccess
	if tx.SeqNum != src.SeqNum+1 {
		code = TxBadSeq
	} else {
		src.SeqNum = tx.SeqNum
	}
	accounts.Put(src)
	return code, fee
}

// TxFee returns the fee charged for a transaction with n operations.
func TxFee(params Params, n int) int64 {
	return params.BaseFee * int64(n)
}

func (r *CloseResult) String() string {
	return fmt.Sprintf("ledger %d hash=%s txs=%d fees=%d",
		r.Header.Seq(), common.ShortHex(r.Header.Hash, 12), len(r.Results.Results), r.FeesCharged)
}
