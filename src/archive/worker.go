package archive

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of a fetch. When Status is StatusOK, Header is the
// verified terminal ledger and Headers the verified chain from Target.From to
// Header. Accounts is set for TrustArchive targets, Values for Replay targets.
type Result struct {
	Target   Target
	Header   ledger.HeaderEntry
	Headers  []ledger.HeaderEntry
	Accounts []ledger.Account
	Values   []*ledger.Value
	Status   VerificationStatus
	Err      error
}

// OK returns true if the result can be used.
func (r *Result) OK() bool {
	return r.Status == StatusOK && r.Err == nil
}

// Handle tracks a running fetch.
type Handle interface {
	// Target returns the current target, including extensions.
	Target() Target
	// Extend raises the target to ledger to. Lower values are ignored.
	Extend(to uint32)
	// Done delivers exactly one Result.
	Done() <-chan *Result
}

// Fetcher starts fetches. StartFetch must not block.
type Fetcher interface {
	StartFetch(ctx context.Context, target Target) Handle
}

type job struct {
	sync.Mutex
	target Target
	done   chan *Result
}

func (j *job) Target() Target {
	j.Lock()
	defer j.Unlock()
	return j.target
}

func (j *job) Extend(to uint32) {
	j.Lock()
	defer j.Unlock()
	if to > j.target.To {
		j.target.To = to
	}
}

func (j *job) Done() <-chan *Result {
	return j.done
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Retries is the number of times a failed fetch is retried.
	Retries uint64
	// RetryInterval is the first delay of the exponential backoff.
	RetryInterval time.Duration
	// Trusted is the key checkpoints must be signed with.
	Trusted *ecdsa.PublicKey
	Logger  *logrus.Entry
}

// Worker is the Fetcher used by nodes. Each fetch runs on its own goroutine
// and touches nothing but its Source and its Handle.
type Worker struct {
	source Source
	conf   WorkerConfig
	logger *logrus.Entry
}

// NewWorker returns a Worker fetching from source.
func NewWorker(source Source, conf WorkerConfig) *Worker {
	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if conf.RetryInterval <= 0 {
		conf.RetryInterval = backoff.DefaultInitialInterval
	}
	return &Worker{
		source: source,
		conf:   conf,
		logger: logger.WithField("prefix", "archive"),
	}
}

// StartFetch implements Fetcher.
func (w *Worker) StartFetch(ctx context.Context, target Target) Handle {
	j := &job{
		target: target,
		done:   make(chan *Result, 1),
	}
	go w.run(ctx, j)
	return j
}

func (w *Worker) run(ctx context.Context, j *job) {
	start := time.Now()
	for {
		target := j.Target()
		res := w.fetch(ctx, target)

		// The target moved past what was fetched. Fetch again rather than
		// report a checkpoint the node would have to catch up from again.
		if res.OK() && j.Target().To > res.Header.Seq() {
			w.logger.WithFields(logrus.Fields{
				"fetched": res.Header.Seq(),
				"target":  j.Target().To,
			}).Debug("Target extended, fetching again")
			continue
		}

		fields := logrus.Fields{
			"target":   target.String(),
			"status":   res.Status.String(),
			"duration": time.Since(start).String(),
		}
		if res.OK() {
			fields["ledger"] = res.Header.Seq()
			w.logger.WithFields(fields).Info("Fetched checkpoint")
		} else {
			w.logger.WithFields(fields).WithError(res.Err).Error("Fetch failed")
		}

		j.done <- res
		return
	}
}

// fetch obtains and verifies one checkpoint for target. Source errors are
// retried with exponential backoff; verification failures are not.
func (w *Worker) fetch(ctx context.Context, target Target) *Result {
	req := Request{
		From:   target.From,
		To:     target.To,
		State:  target.Verify == TrustArchive,
		Values: target.Verify == Replay,
	}

	var cp *Checkpoint
	op := func() error {
		c, err := w.source.Checkpoint(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if err := Verify(c, target, w.conf.Trusted); err != nil {
			return backoff.Permanent(err)
		}
		cp = c
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.conf.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, w.conf.Retries), ctx)

	notify := func(err error, d time.Duration) {
		w.logger.WithFields(logrus.Fields{
			"target": target.String(),
			"retry":  d.String(),
		}).WithError(err).Warn("Fetch attempt failed")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var ve *VerifyError
		if !errors.As(err, &ve) {
			return &Result{Target: target, Status: StatusUnavailable, Err: err}
		}
		return &Result{Target: target, Status: ve.Status, Err: err}
	}

	return &Result{
		Target:   target,
		Header:   cp.Header,
		Headers:  cp.Headers,
		Accounts: cp.Accounts,
		Values:   cp.Values,
		Status:   StatusOK,
	}
}
