// Package archive fetches and verifies ledger history for catchup.
//
// A node that falls too far behind the network does not re-execute the ledgers
// it missed. It asks a Fetcher for a Checkpoint: the chain of headers from the
// first missing ledger to a recent ledger, signed by a trusted archive key,
// together with either the account state of that ledger (TrustArchive) or the
// finalized values needed to re-execute the range (Replay).
//
// StartFetch returns immediately. The fetch runs on its own goroutine, retries
// transient failures with exponential backoff, verifies what it obtained, and
// reports exactly one Result on the Done channel of its Handle. While the
// fetch is running the target can be extended, in which case the worker
// fetches again instead of reporting a checkpoint that is already stale.
//
// Checkpoints are served by a StoreSource, which publishes the ledgers of a
// local Store, and consumed over HTTP by an HTTPSource.
package archive
