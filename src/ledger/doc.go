// Package ledger implements the deterministic ledger-close transition.
//
// A ledger is identified by a Header. Headers form a hash chain: every header
// carries the hash of its predecessor, the hash of the transaction set that was
// applied to produce it, the hash of the per-transaction results, and the hash
// of the account state after the close.
//
// Closing
//
// The consensus layer finalizes one Value per sequence number. Closer.Close
// takes the previous header, the current account State and that Value, and
// returns the next header together with the ordered TransactionResultSet and
// the account changes. Every node applying the same Value to the same previous
// ledger obtains byte-identical results: transactions are applied in an order
// derived only from their contents, and all hashes are computed over the
// canonical JSON encoding of the objects.
//
// Closing happens in two passes. The first pass charges fees and checks
// sequence numbers, strictly in order, so that a transaction observes the fee
// and sequence effects of every transaction before it. The second pass applies
// the operations of each transaction; a failing transaction is recorded as such
// but does not undo the transactions applied before it.
//
// Close never mutates its inputs. The caller persists the result and only then
// advances its in-memory state with State.Apply.
package ledger
