package node

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/node/state"
	"github.com/mosaicnetworks/ledgerd/src/store"
	"github.com/sirupsen/logrus"
)

// CatchupStatus is the machine readable catchup state.
type CatchupStatus struct {
	CatchingUp bool            `json:"catching_up"`
	Blocked    bool            `json:"blocked"`
	Target     *archive.Target `json:"target,omitempty"`
	Failure    string          `json:"failure,omitempty"`
	Since      time.Time       `json:"since,omitempty"`
	Buffered   []uint32        `json:"buffered"`
}

// CatchupStatus returns the catchup state.
func (c *Core) CatchupStatus() CatchupStatus {
	status := CatchupStatus{Buffered: c.chain.Seqs()}
	if cu, ok := c.sync.(*state.CatchingUpLedger); ok {
		target := cu.Target
		status.CatchingUp = true
		status.Blocked = cu.Blocked()
		status.Target = &target
		status.Since = cu.Started
		if cu.Failure != nil {
			status.Failure = cu.Failure.Error()
		}
	}
	return status
}

// CatchupHandle returns the handle of the running archive fetch, or nil.
func (c *Core) CatchupHandle() archive.Handle {
	if cu, ok := c.sync.(*state.CatchingUpLedger); ok && !cu.Blocked() {
		return cu.Handle
	}
	return nil
}

// maybeCatchup starts an automatic catchup when the highest buffered value is
// more than CatchupTriggerGap ledgers ahead.
func (c *Core) maybeCatchup() {
	if _, ok := c.sync.(*state.Normal); !ok {
		return
	}
	applied := c.sync.LCL().Seq()
	highest := c.chain.Highest()
	if highest <= applied || highest-applied <= c.conf.CatchupTriggerGap {
		return
	}
	c.startCatchup(archive.NewTarget(applied+1, highest, c.conf.Verify))
}

func (c *Core) startCatchup(target archive.Target) {
	lcl := c.sync.LCL()

	cu := &state.CatchingUpLedger{
		Last:      lcl,
		Target:    target,
		Requested: target.To,
		Started:   time.Now(),
	}
	if c.fetcher == nil {
		cu.Failure = ErrNoArchive
	} else {
		cu.Handle = c.fetcher.StartFetch(c.ctx, target)
	}

	c.logger.WithFields(logrus.Fields{
		"lcl":    lcl.Seq(),
		"target": target.String(),
	}).Info("Starting catchup")

	c.metrics.CatchupStarted()
	c.transition(cu)

	if cu.Failure != nil {
		c.logger.WithError(cu.Failure).Error("Catchup blocked")
		c.metrics.CatchupFinished(target.Verify.String(), archive.StatusUnavailable.String(), 0, true)
	}
}

// bufferDuringCatchup keeps v for after the catchup. A value beyond the target
// extends the running fetch instead of starting another one.
func (c *Core) bufferDuringCatchup(cu *state.CatchingUpLedger, v *ledger.Value) error {
	applied := cu.Last.Seq()
	class := Classify(applied, v.Seq)
	c.metrics.ValueReceived(class.String())

	if class == Stale {
		c.logger.WithField("seq", v.Seq).Debug("Ignoring stale value during catchup")
		return nil
	}

	if _, err := c.chain.Add(applied, v); err != nil {
		c.logger.WithError(err).Error("Protocol violation")
		return err
	}
	c.metrics.Buffered(c.chain.Len())

	if v.Seq <= cu.Target.To {
		return nil
	}

	next := *cu
	next.Target.To = v.Seq
	if cu.Handle != nil && !cu.Blocked() {
		cu.Handle.Extend(v.Seq)
		c.logger.WithFields(logrus.Fields{
			"from": cu.Target.To,
			"to":   v.Seq,
		}).Debug("Extended catchup target")
	}
	return c.transition(&next)
}

// CatchupDone completes the running catchup with the result of its fetch. A
// result that cannot be verified against the last closed ledger leaves the
// catchup blocked, with the ledger unchanged.
func (c *Core) CatchupDone(res *archive.Result) error {
	if c.halted != nil {
		return c.haltedErr()
	}
	cu, ok := c.sync.(*state.CatchingUpLedger)
	if !ok || cu.Blocked() {
		return ErrNoCatchup
	}

	if err := c.verifyCatchupCandidate(cu, res); err != nil {
		return c.failCatchup(cu, err)
	}

	var err error
	switch cu.Target.Verify {
	case archive.Replay:
		err = c.replay(cu, res)
	default:
		err = c.reset(res)
	}
	if err != nil {
		if c.halted != nil {
			return err
		}
		return c.failCatchup(cu, err)
	}

	return c.finishCatchup(cu)
}

// verifyCatchupCandidate checks that the fetched history extends the last
// closed ledger, reaches the ledger the fetch was started for, and carries the
// requested hash. Values buffered past that ledger are closed or caught up
// after the catchup finishes.
func (c *Core) verifyCatchupCandidate(cu *state.CatchingUpLedger, res *archive.Result) error {
	if res == nil {
		return fmt.Errorf("empty catchup result")
	}
	if !res.OK() {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("archive returned %s", res.Status)
		}
		if res.Status != archive.StatusOK && archive.StatusOf(err) != res.Status {
			err = &archive.VerifyError{Status: res.Status, Err: err}
		}
		return err
	}
	if len(res.Headers) == 0 {
		return mismatch(archive.StatusBadHashChain, fmt.Errorf("catchup result has no headers"))
	}
	if err := ledger.VerifyChain(cu.Last, res.Headers); err != nil {
		return mismatch(archive.StatusBadHashChain, fmt.Errorf("catchup does not extend ledger %d: %w", cu.Last.Seq(), err))
	}
	last := res.Headers[len(res.Headers)-1]
	if !bytes.Equal(last.Hash, res.Header.Hash) {
		return mismatch(archive.StatusBadHashChain, fmt.Errorf("catchup header %d is not the end of its chain", res.Header.Seq()))
	}
	if res.Header.Seq() < cu.Requested {
		return mismatch(archive.StatusTargetMismatch, fmt.Errorf("catchup reached %d, short of %d", res.Header.Seq(), cu.Requested))
	}

	target := cu.Target
	if len(target.Hash) > 0 {
		if target.HashSeq <= cu.Last.Seq() || target.HashSeq > res.Header.Seq() {
			return mismatch(archive.StatusTargetMismatch, fmt.Errorf("catchup does not cover ledger %d", target.HashSeq))
		}
		h := res.Headers[target.HashSeq-cu.Last.Seq()-1]
		if !bytes.Equal(h.Hash, target.Hash) {
			return mismatch(archive.StatusTargetMismatch, fmt.Errorf("ledger %d hash %s does not match requested %s",
				target.HashSeq, h.Hex(), common.EncodeToString(target.Hash)))
		}
	}

	if cu.Target.Verify == archive.Replay {
		if len(res.Values) != len(res.Headers) {
			return mismatch(archive.StatusBadState, fmt.Errorf("catchup has %d values for %d headers", len(res.Values), len(res.Headers)))
		}
		return nil
	}

	if err := checkStateHash(res.Header, ledger.NewState(res.Accounts...)); err != nil {
		return mismatch(archive.StatusBadState, err)
	}
	return nil
}

func mismatch(status archive.VerificationStatus, err error) error {
	return &archive.VerifyError{Status: status, Err: err}
}

// reset adopts the verified archive state.
func (c *Core) reset(res *archive.Result) error {
	err := c.store.Reset(&store.Snapshot{
		Header:   res.Header,
		Headers:  res.Headers,
		Accounts: res.Accounts,
	})
	if err != nil {
		return c.halt(err)
	}
	c.state = ledger.NewState(res.Accounts...)
	return c.transition(state.WithLCL(c.sync, res.Header))
}

// replay closes the archived values one by one, checking every resulting
// header against the archive.
func (c *Core) replay(cu *state.CatchingUpLedger, res *archive.Result) error {
	for i, v := range res.Values {
		expected := res.Headers[i]
		prev := c.sync.LCL()

		closed, err := c.closer.Close(prev, c.state, v)
		if err != nil {
			return mismatch(archive.StatusBadState, fmt.Errorf("replaying ledger %d: %w", v.Seq, err))
		}
		if !bytes.Equal(closed.Header.Hash, expected.Hash) {
			return mismatch(archive.StatusBadState, fmt.Errorf("replayed ledger %d hash %s differs from archive %s",
				v.Seq, closed.Header.Hex(), expected.Hex()))
		}

		err = c.store.Commit(&store.Commit{
			Header:  closed.Header,
			Results: closed.Results,
			Value:   v,
			Changes: closed.Changes,
		})
		if err != nil {
			return c.halt(err)
		}
		c.state.Apply(closed.Changes)
		if err := c.transition(state.WithLCL(c.sync, closed.Header)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) finishCatchup(cu *state.CatchingUpLedger) error {
	lcl := c.sync.LCL()
	d := time.Since(cu.Started)

	if err := c.transition(&state.Normal{Last: lcl}); err != nil {
		return err
	}
	c.lastClose = time.Now()
	c.metrics.CatchupFinished(cu.Target.Verify.String(), archive.StatusOK.String(), d, false)
	c.metrics.SetLastClosed(lcl.Seq())

	pruned := c.chain.Prune(lcl.Seq())
	c.logger.WithFields(logrus.Fields{
		"lcl":      lcl.Seq(),
		"hash":     lcl.Hex(),
		"from":     cu.Last.Seq(),
		"pruned":   pruned,
		"buffered": c.chain.Len(),
		"duration": d,
	}).Info("Catchup complete")

	c.prune()

	if err := c.drain(); err != nil {
		return err
	}
	c.maybeCatchup()
	return nil
}

// failCatchup blocks the catchup. The last closed ledger may have advanced
// during a replay, but only through verified ledgers; buffered values it
// covers are dropped.
func (c *Core) failCatchup(cu *state.CatchingUpLedger, err error) error {
	status := archive.StatusOf(err)
	blocked := &state.CatchingUpLedger{
		Last:      c.sync.LCL(),
		Target:    cu.Target,
		Requested: cu.Requested,
		Failure:   err,
		Started:   cu.Started,
	}
	c.transition(blocked)
	c.chain.Prune(blocked.Last.Seq())
	c.metrics.Buffered(c.chain.Len())
	c.metrics.CatchupFinished(cu.Target.Verify.String(), status.String(), time.Since(cu.Started), true)

	c.logger.WithError(err).WithFields(logrus.Fields{
		"lcl":    blocked.Last.Seq(),
		"target": cu.Target.String(),
		"status": status.String(),
	}).Error("Catchup failed")

	return fmt.Errorf("catchup to %d failed: %w", cu.Target.To, err)
}

// StartCatchup starts an operator catchup to ledger to. When hash is set the
// ledger to must have that hash. It is refused while a fetch is running but
// allowed when a previous catchup is blocked.
func (c *Core) StartCatchup(to uint32, hash []byte, verify archive.VerifyMode) error {
	if c.halted != nil {
		return c.haltedErr()
	}
	if cu, ok := c.sync.(*state.CatchingUpLedger); ok && !cu.Blocked() {
		return ErrCatchupInProgress
	}
	lcl := c.sync.LCL().Seq()
	if to <= lcl {
		return fmt.Errorf("ledger %d is already closed, last closed is %d", to, lcl)
	}
	c.startCatchup(archive.NewManualTarget(lcl+1, to, verify, hash))
	return nil
}

// AbortCatchup gives up on a blocked catchup and resumes closing ledgers from
// the unchanged last closed ledger. Buffered values that follow it are closed;
// a new automatic catchup only starts on the next value received.
func (c *Core) AbortCatchup() error {
	if c.halted != nil {
		return c.haltedErr()
	}
	cu, ok := c.sync.(*state.CatchingUpLedger)
	if !ok {
		return ErrNoCatchup
	}
	if !cu.Blocked() {
		return ErrCatchupInProgress
	}

	if err := c.transition(&state.Normal{Last: cu.Last}); err != nil {
		return err
	}
	c.metrics.CatchupAborted()
	c.logger.WithFields(logrus.Fields{
		"lcl":    cu.Last.Seq(),
		"target": cu.Target.String(),
	}).Warn("Catchup aborted")

	return c.drain()
}
