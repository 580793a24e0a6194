// Package node implements the reactive component of a ledgerd node.
//
// A node receives the values finalized by consensus, one per ledger, and turns
// them into closed ledgers. The Core holds the ledger state machine and Node
// drives it from a single goroutine, so the Core itself needs no locking.
//
// Ingestion
//
// Consensus gives no guarantee on the order in which values are delivered to
// the node. Every incoming value is classified against the last closed ledger
// (LCL):
//
//	Closed  the value is for LCL+1 and is applied immediately, followed by any
//	        buffered values it makes contiguous.
//	Stale   the value is for a ledger that is already closed and is ignored.
//	Ahead   the value is for a later ledger and is buffered in the
//	        SyncingChain.
//
// Closing a ledger is atomic: the header, results, value and account changes
// are written in one store commit, and the in-memory LCL only advances once the
// commit succeeded. A store failure halts the node.
//
// Catchup
//
// When a buffered value is more than CatchupTriggerGap ledgers ahead, the node
// fetches the missing history from an archive in the background (see the
// archive package). Values keep being buffered meanwhile, and values beyond
// the catchup target extend the running fetch. A verified result either
// replaces the ledger state (trust mode) or is replayed ledger by ledger
// (replay mode); the buffered values are then drained. A result that cannot
// be verified leaves the catchup blocked until an operator starts a new one or
// aborts it.
//
// Node states are defined in the state package.
package node
