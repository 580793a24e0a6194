package ledger

import (
	"bytes"
	"sort"

	"github.com/mosaicnetworks/ledgerd/src/crypto"
)

type orderedTx struct {
	tx   *Transaction
	hash []byte
	key  []byte
}

// applyOrder returns the transactions of a set in the order they must be
// applied. Transactions are grouped by source account and sorted by sequence
// number within a group. The i-th transaction of every group forms batch i,
// and each batch is sorted by SHA256(setHash || txHash). Batches are applied
// one after the other.
//
// The result only depends on the contents of the set, never on the order of
// txs.
func applyOrder(txs []Transaction, setHash []byte) ([]orderedTx, error) {
	groups := make(map[string][]orderedTx)
	var sources []string
	for i := range txs {
		tx := &txs[i]
		h, err := tx.Hash()
		if err != nil {
			return nil, err
		}
		if _, ok := groups[tx.Source]; !ok {
			sources = append(sources, tx.Source)
		}
		groups[tx.Source] = append(groups[tx.Source], orderedTx{
			tx:   tx,
			hash: h,
			key:  crypto.SHA256Concat(setHash, h),
		})
	}

	depth := 0
	for _, src := range sources {
		g := groups[src]
		sort.Slice(g, func(i, j int) bool {
			if g[i].tx.SeqNum != g[j].tx.SeqNum {
				return g[i].tx.SeqNum < g[j].tx.SeqNum
			}
			return bytes.Compare(g[i].hash, g[j].hash) < 0
		})
		if len(g) > depth {
			depth = len(g)
		}
	}

	res := make([]orderedTx, 0, len(txs))
	for round := 0; round < depth; round++ {
		var batch []orderedTx
		for _, src := range sources {
			if g := groups[src]; len(g) > round {
				batch = append(batch, g[round])
			}
		}
		sort.Slice(batch, func(i, j int) bool {
			return bytes.Compare(batch[i].key, batch[j].key) < 0
		})
		res = append(res, batch...)
	}
	return res, nil
}
