package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/metrics"
	"github.com/mosaicnetworks/ledgerd/src/node/state"
	"github.com/mosaicnetworks/ledgerd/src/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrHalted is returned for every input once a store operation failed.
	ErrHalted = errors.New("node halted after store failure")
	// ErrCatchupInProgress is returned when a catchup is requested while an
	// archive fetch is running.
	ErrCatchupInProgress = errors.New("catchup in progress")
	// ErrNoCatchup is returned when there is no catchup to complete or abort.
	ErrNoCatchup = errors.New("no catchup to act upon")
	// ErrNoArchive is the failure of a catchup started without an archive.
	ErrNoArchive = errors.New("no archive configured")
)

// Core is the ledger state machine of a node. It closes the ledgers of
// finalized values, buffers values that arrive early, and catches up from an
// archive when it falls too far behind. Core is not safe for concurrent use;
// Node drives it from a single goroutine.
type Core struct {
	conf   *Config
	store  store.Store
	closer *ledger.Closer

	// fetcher starts archive fetches. It may be nil, in which case every
	// catchup fails immediately.
	fetcher archive.Fetcher

	// state is the account state of the last closed ledger.
	state *ledger.State

	// sync is either *state.Normal or *state.CatchingUpLedger and is only
	// changed through transition.
	sync state.Sync

	// chain holds the values received ahead of the last closed ledger.
	chain *SyncingChain

	metrics *metrics.Metrics

	ctx       context.Context
	halted    error
	lastClose time.Time

	logger *logrus.Entry
}

// NewCore loads the last closed ledger from the store, or writes the genesis
// ledger if the store is empty.
func NewCore(ctx context.Context,
	conf *Config,
	store store.Store,
	fetcher archive.Fetcher,
	metrics *metrics.Metrics) (*Core, error) {

	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	core := &Core{
		conf:      conf,
		store:     store,
		closer:    ledger.NewCloser(conf.Applier, conf.MinCloseGap),
		fetcher:   fetcher,
		chain:     NewSyncingChain(),
		metrics:   metrics,
		ctx:       ctx,
		lastClose: time.Now(),
		logger:    logger.WithField("prefix", "core"),
	}

	if err := core.bootstrap(); err != nil {
		return nil, err
	}

	return core, nil
}

func (c *Core) bootstrap() error {
	lcl, err := c.store.LastClosed()
	switch {
	case err == nil:
		st, err := c.store.State()
		if err != nil {
			return err
		}
		if err := checkStateHash(lcl, st); err != nil {
			return err
		}
		c.state = st
		c.sync = &state.Normal{Last: lcl}
		c.logger.WithFields(logrus.Fields{
			"lcl":      lcl.Seq(),
			"hash":     lcl.Hex(),
			"accounts": st.Len(),
		}).Info("Loaded last closed ledger")
	case common.IsStore(err, common.Empty):
		return c.startNewLedger()
	default:
		return err
	}

	c.metrics.SetLastClosed(lcl.Seq())
	return nil
}

func (c *Core) startNewLedger() error {
	genesis, st, err := ledger.Genesis(c.conf.GenesisParams, c.conf.RootAccount)
	if err != nil {
		return err
	}
	err = c.store.Commit(&store.Commit{
		Header:  genesis,
		Results: ledger.ResultSet{},
		Changes: st.Accounts(),
	})
	if err != nil {
		return err
	}
	c.state = st
	c.sync = &state.Normal{Last: genesis}
	c.metrics.SetLastClosed(genesis.Seq())

	c.logger.WithFields(logrus.Fields{
		"hash": genesis.Hex(),
		"root": c.conf.RootAccount,
	}).Info("Created genesis ledger")

	return nil
}

// ValueExternalized ingests a finalized value. Values may arrive in any order
// and more than once. While catching up they are buffered. Otherwise a value
// for the next ledger is closed immediately, followed by any buffered values
// it makes contiguous; a value for a closed ledger is ignored; a value further
// ahead is buffered and may start a catchup.
func (c *Core) ValueExternalized(v *ledger.Value) error {
	if c.halted != nil {
		return c.haltedErr()
	}
	if v == nil {
		return fmt.Errorf("%w: nil value", ledger.ErrMalformed)
	}

	if cu, ok := c.sync.(*state.CatchingUpLedger); ok {
		return c.bufferDuringCatchup(cu, v)
	}

	applied := c.sync.LCL().Seq()
	class := Classify(applied, v.Seq)
	c.metrics.ValueReceived(class.String())

	switch class {
	case Stale:
		c.logger.WithFields(logrus.Fields{
			"seq": v.Seq,
			"lcl": applied,
		}).Debug("Ignoring stale value")
		return nil
	case Closed:
		if err := c.applyValue(v); err != nil {
			return err
		}
		if err := c.drain(); err != nil {
			return err
		}
		c.maybeCatchup()
		return nil
	default:
		added, err := c.chain.Add(applied, v)
		if err != nil {
			c.logger.WithError(err).Error("Protocol violation")
			return err
		}
		if added {
			c.logger.WithFields(logrus.Fields{
				"seq": v.Seq,
				"lcl": applied,
			}).Debug("Buffered value ahead of ledger")
		}
		c.metrics.Buffered(c.chain.Len())
		c.maybeCatchup()
		return nil
	}
}

// applyValue closes the next ledger with v and persists it. The in-memory
// ledger only advances once the store has committed it.
func (c *Core) applyValue(v *ledger.Value) error {
	start := time.Now()
	prev := c.sync.LCL()

	res, err := c.closer.Close(prev, c.state, v)
	if err != nil {
		c.logger.WithError(err).WithField("seq", v.Seq).Error("Rejecting value")
		return err
	}
	closing := time.Since(start)

	err = c.store.Commit(&store.Commit{
		Header:  res.Header,
		Results: res.Results,
		Value:   v,
		Changes: res.Changes,
	})
	if err != nil {
		return c.halt(err)
	}

	c.state.Apply(res.Changes)
	if err := c.transition(state.WithLCL(c.sync, res.Header)); err != nil {
		return err
	}
	c.lastClose = time.Now()

	codes := make([]string, len(res.Results.Results))
	for i, r := range res.Results.Results {
		codes[i] = r.Code.String()
	}
	c.metrics.LedgerClosed(res.Header.Seq(), closing, time.Since(start), codes)

	c.logger.WithFields(logrus.Fields{
		"seq":  res.Header.Seq(),
		"hash": res.Header.Hex(),
		"txs":  len(codes),
		"fees": res.FeesCharged,
	}).Debug("Closed ledger")

	c.prune()

	return nil
}

// drain closes buffered values while they follow the last closed ledger.
func (c *Core) drain() error {
	defer func() { c.metrics.Buffered(c.chain.Len()) }()
	for {
		v, ok := c.chain.PopNext(c.sync.LCL().Seq())
		if !ok {
			return nil
		}
		if err := c.applyValue(v); err != nil {
			return err
		}
	}
}

// transition replaces the sync state. The last closed ledger never moves
// backwards.
func (c *Core) transition(next state.Sync) error {
	cur, nxt := c.sync.LCL().Seq(), next.LCL().Seq()
	if nxt < cur {
		return fmt.Errorf("transition from %s to %s moves ledger backwards", c.sync, next)
	}
	c.logger.WithFields(logrus.Fields{
		"from": c.sync.String(),
		"to":   next.String(),
	}).Debug("Transition")
	c.sync = next
	return nil
}

func (c *Core) halt(err error) error {
	c.halted = err
	c.metrics.SetHalted()
	c.logger.WithError(err).Error("Store failure, halting")
	return c.haltedErr()
}

func (c *Core) haltedErr() error {
	return fmt.Errorf("%w: %v", ErrHalted, c.halted)
}

// prune deletes the history older than KeepLedgers. Failures are logged only:
// the last closed ledger is not affected.
func (c *Core) prune() {
	keep := c.conf.KeepLedgers
	lcl := c.sync.LCL().Seq()
	if keep == 0 || lcl <= keep {
		return
	}
	if err := c.store.Prune(lcl - keep); err != nil {
		c.logger.WithError(err).Warn("Pruning old ledgers")
	}
}

// CheckState recomputes the state hash of the stored accounts and compares it
// with the last closed ledger and with the in-memory state.
func (c *Core) CheckState() error {
	lcl, err := c.store.LastClosed()
	if err != nil {
		return err
	}
	if lcl.Seq() != c.sync.LCL().Seq() || !bytes.Equal(lcl.Hash, c.sync.LCL().Hash) {
		return fmt.Errorf("stored ledger %d differs from ledger %d in memory", lcl.Seq(), c.sync.LCL().Seq())
	}
	st, err := c.store.State()
	if err != nil {
		return err
	}
	if err := checkStateHash(lcl, st); err != nil {
		return err
	}
	return checkStateHash(lcl, c.state)
}

func checkStateHash(lcl ledger.HeaderEntry, st *ledger.State) error {
	h, err := st.Hash()
	if err != nil {
		return err
	}
	if !bytes.Equal(h, lcl.Header.StateHash) {
		return fmt.Errorf("state hash %s does not match ledger %d state hash %s",
			common.EncodeToString(h), lcl.Seq(), common.EncodeToString(lcl.Header.StateHash))
	}
	return nil
}

// SyncMetrics refreshes the gauges that change with time.
func (c *Core) SyncMetrics() {
	c.metrics.SetLedgerAge(time.Since(c.lastClose))
	c.metrics.Buffered(c.chain.Len())
}

/*******************************************************************************
Queries
*******************************************************************************/

// LCL returns the last closed ledger.
func (c *Core) LCL() ledger.HeaderEntry {
	return c.sync.LCL()
}

// Sync returns the sync state.
func (c *Core) Sync() state.Sync {
	return c.sync
}

// Halted returns the store error that halted the core, if any.
func (c *Core) Halted() error {
	return c.halted
}

// Account returns an account of the last closed ledger.
func (c *Core) Account(id string) (ledger.Account, bool) {
	return c.state.Account(id)
}

// Params returns the protocol parameters of the last closed ledger.
func (c *Core) Params() ledger.Params {
	return c.sync.LCL().Header.Params
}

// MinBalance returns the minimum balance of an account owning ownerCount
// entries.
func (c *Core) MinBalance(ownerCount uint32) int64 {
	return c.Params().MinBalance(ownerCount)
}

// TxFee returns the fee of a transaction with ops operations.
func (c *Core) TxFee(ops int) int64 {
	return ledger.TxFee(c.Params(), ops)
}

// CloseTime returns the close time of the last closed ledger.
func (c *Core) CloseTime() uint64 {
	return c.sync.LCL().Header.CloseTime
}

// SecondsSinceLastClose returns the time elapsed since this core last closed
// or caught up a ledger.
func (c *Core) SecondsSinceLastClose() uint64 {
	return uint64(time.Since(c.lastClose).Seconds())
}

// BufferedSeqs returns the sequence numbers of the buffered values.
func (c *Core) BufferedSeqs() []uint32 {
	return c.chain.Seqs()
}

// BufferedValue returns the value buffered for seq, if any.
func (c *Core) BufferedValue(seq uint32) (*ledger.Value, bool) {
	return c.chain.Get(seq)
}

// StateHuman describes the sync state for operators.
func (c *Core) StateHuman() string {
	if c.halted != nil {
		return fmt.Sprintf("Halted at ledger %d: %v", c.LCL().Seq(), c.halted)
	}
	switch s := c.sync.(type) {
	case *state.CatchingUpLedger:
		if s.Blocked() {
			return fmt.Sprintf("Catchup to %d failed at ledger %d: %v", s.Target.To, s.Last.Seq(), s.Failure)
		}
		return fmt.Sprintf("Catching up from %d to %d (%d buffered)", s.Last.Seq(), s.Target.To, c.chain.Len())
	default:
		return fmt.Sprintf("Synced at ledger %d", s.LCL().Seq())
	}
}
