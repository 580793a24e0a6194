package ledger

import (
	"bytes"
	"sort"

	"github.com/mosaicnetworks/ledgerd/src/crypto"
)

// OperationType identifies the kind of an Operation.
type OperationType uint8

const (
	// CreateAccount funds a new account from the source account.
	CreateAccount OperationType = iota
	// Payment moves funds from the source account to an existing account.
	Payment
)

func (t OperationType) String() string {
	switch t {
	case CreateAccount:
		return "CreateAccount"
	case Payment:
		return "Payment"
	default:
		return "Unknown"
	}
}

// Operation is a single effect of a transaction.
type Operation struct {
	Type        OperationType
	Destination string
	Amount      int64
}

// Transaction is a signed-off unit of change submitted by a source account.
// Signatures are checked before consensus and are not part of the ledger
// transition.
type Transaction struct {
	Source     string
	SeqNum     int64
	Fee        int64
	Operations []Operation
}

// Marshal returns the canonical encoding of the transaction.
func (tx *Transaction) Marshal() ([]byte, error) {
	return marshal(tx)
}

// Hash returns the SHA256 hash of the canonical encoding.
func (tx *Transaction) Hash() ([]byte, error) {
	n := tx.normalized()
	return hashOf(&n)
}

func (tx Transaction) normalized() Transaction {
	if tx.Operations == nil {
		tx.Operations = []Operation{}
	}
	return tx
}

// TxSet is the set of transactions agreed on for one ledger.
type TxSet struct {
	PreviousLedgerHash []byte
	Txs                []Transaction
}

// Hash is computed over the previous ledger hash followed by the sorted hashes
// of the transactions, so it does not depend on the order of Txs.
func (ts *TxSet) Hash() ([]byte, error) {
	hashes := make([][]byte, 0, len(ts.Txs)+1)
	for i := range ts.Txs {
		h, err := ts.Txs[i].Hash()
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i], hashes[j]) < 0
	})
	return crypto.SHA256Concat(append([][]byte{ts.PreviousLedgerHash}, hashes...)...), nil
}
