package node

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/metrics"
	"github.com/mosaicnetworks/ledgerd/src/node/state"
	"github.com/mosaicnetworks/ledgerd/src/store"
	"github.com/sirupsen/logrus"
)

// ErrShutdown is returned for inputs submitted to a node that is shut down.
var ErrShutdown = errors.New("node is shut down")

const finalizedBuffer = 64

// Status is a point-in-time view of a node, published by the run loop after
// every step so that readers never touch the Core.
type Status struct {
	State                 string             `json:"state"`
	Sync                  string             `json:"sync"`
	Human                 string             `json:"human"`
	LCL                   ledger.HeaderEntry `json:"lcl"`
	Params                ledger.Params      `json:"params"`
	Catchup               CatchupStatus      `json:"catchup"`
	SecondsSinceLastClose uint64             `json:"seconds_since_last_close"`
	Halted                string             `json:"halted,omitempty"`
}

type control struct {
	fn    func(*Core) error
	reply chan error
}

// Node runs a Core on a single goroutine, feeding it finalized values, archive
// results and operator requests.
type Node struct {
	// The node is implemented as a state-machine. The embedded state Manager
	// object is used to manage the node's state.
	state.Manager

	conf   *Config
	logger *logrus.Entry

	core    *Core
	store   store.Store
	metrics *metrics.Metrics

	finalizedCh chan *ledger.Value
	controlCh   chan control
	shutdownCh  chan struct{}
	cancel      context.CancelFunc

	status atomic.Value

	start   time.Time
	closed  uint64
	refused uint64
}

// NewNode loads or creates the ledger in store and returns a Node ready to
// run. fetcher may be nil when no archive is configured.
func NewNode(conf *Config,
	store store.Store,
	fetcher archive.Fetcher,
	metrics *metrics.Metrics,
) (*Node, error) {

	ctx, cancel := context.WithCancel(context.Background())

	core, err := NewCore(ctx, conf, store, fetcher, metrics)
	if err != nil {
		cancel()
		return nil, err
	}

	node := &Node{
		conf:        conf,
		logger:      conf.Logger.WithField("prefix", "node"),
		core:        core,
		store:       store,
		metrics:     metrics,
		finalizedCh: make(chan *ledger.Value, finalizedBuffer),
		controlCh:   make(chan control),
		shutdownCh:  make(chan struct{}),
		cancel:      cancel,
		start:       time.Now(),
	}

	if conf.MaintenanceMode {
		node.logger.Info("Maintenance mode => Suspended")
		node.SetState(state.Suspended)
	}

	node.updateState()
	node.publish()

	return node, nil
}

// RunAsync calls Run in a goroutine tracked by the state Manager.
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")
	n.GoFunc(n.Run)
}

// Run is the main loop of the node. It returns on Shutdown.
func (n *Node) Run() {
	interval := n.conf.MetricsInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var done <-chan *archive.Result
		if h := n.core.CatchupHandle(); h != nil {
			done = h.Done()
		}

		// A suspended node leaves finalized values queued.
		var finalized <-chan *ledger.Value
		if n.GetState() != state.Suspended {
			finalized = n.finalizedCh
		}

		select {
		case v := <-finalized:
			n.processValue(v)
		case res := <-done:
			if err := n.core.CatchupDone(res); err != nil {
				n.logger.WithError(err).Error("Completing catchup")
			}
		case c := <-n.controlCh:
			c.reply <- c.fn(n.core)
		case <-ticker.C:
			n.core.SyncMetrics()
			n.logStats()
		case <-n.shutdownCh:
			return
		}

		n.updateState()
		n.publish()
	}
}

func (n *Node) processValue(v *ledger.Value) {
	before := n.core.LCL().Seq()
	err := n.core.ValueExternalized(v)
	atomic.AddUint64(&n.closed, uint64(n.core.LCL().Seq()-before))
	if err != nil {
		atomic.AddUint64(&n.refused, 1)
		n.logger.WithError(err).WithField("seq", v.Seq).Error("Processing finalized value")
	}
}

// updateState mirrors the Core into the lifecycle state. Suspended and
// Shutdown are only left explicitly.
func (n *Node) updateState() {
	cur := n.GetState()
	switch {
	case cur == state.Shutdown:
	case n.core.Halted() != nil:
		n.SetState(state.Halted)
	case cur == state.Suspended:
	case n.core.CatchupStatus().CatchingUp:
		n.SetState(state.CatchingUp)
	default:
		n.SetState(state.Running)
	}
}

func (n *Node) publish() {
	s := Status{
		State:                 n.GetState().String(),
		Sync:                  n.core.Sync().String(),
		Human:                 n.core.StateHuman(),
		LCL:                   n.core.LCL(),
		Params:                n.core.Params(),
		Catchup:               n.core.CatchupStatus(),
		SecondsSinceLastClose: n.core.SecondsSinceLastClose(),
	}
	if err := n.core.Halted(); err != nil {
		s.Halted = err.Error()
	}
	n.status.Store(s)
}

// Status returns the last status published by the run loop.
func (n *Node) Status() Status {
	return n.status.Load().(Status)
}

// SubmitFinalized queues a value finalized by consensus.
func (n *Node) SubmitFinalized(v *ledger.Value) error {
	switch n.GetState() {
	case state.Halted:
		return ErrHalted
	case state.Shutdown:
		return ErrShutdown
	}
	select {
	case n.finalizedCh <- v:
		return nil
	case <-n.shutdownCh:
		return ErrShutdown
	}
}

// do runs fn on the run loop and returns its error.
func (n *Node) do(fn func(*Core) error) error {
	c := control{fn: fn, reply: make(chan error, 1)}
	select {
	case n.controlCh <- c:
	case <-n.shutdownCh:
		return ErrShutdown
	}
	select {
	case err := <-c.reply:
		return err
	case <-n.shutdownCh:
		return ErrShutdown
	}
}

// StartCatchup requests a catchup to ledger to. See Core.StartCatchup.
func (n *Node) StartCatchup(to uint32, hash []byte, verify archive.VerifyMode) error {
	return n.do(func(c *Core) error {
		return c.StartCatchup(to, hash, verify)
	})
}

// AbortCatchup abandons a blocked catchup. See Core.AbortCatchup.
func (n *Node) AbortCatchup() error {
	return n.do(func(c *Core) error {
		return c.AbortCatchup()
	})
}

// CheckState verifies the stored account state against the last closed
// ledger.
func (n *Node) CheckState() error {
	return n.do(func(c *Core) error {
		return c.CheckState()
	})
}

// Account returns an account of the last closed ledger.
func (n *Node) Account(id string) (ledger.Account, bool, error) {
	var (
		acc   ledger.Account
		found bool
	)
	err := n.do(func(c *Core) error {
		acc, found = c.Account(id)
		return nil
	})
	return acc, found, err
}

// Suspend stops the processing of finalized values. Values submitted
// meanwhile stay queued.
func (n *Node) Suspend() error {
	return n.do(func(c *Core) error {
		if n.GetState() != state.Halted {
			n.SetState(state.Suspended)
		}
		return nil
	})
}

// Resume leaves the Suspended state.
func (n *Node) Resume() error {
	return n.do(func(c *Core) error {
		if n.GetState() == state.Suspended {
			n.SetState(state.Running)
		}
		return nil
	})
}

// GetHeader returns a stored ledger header.
func (n *Node) GetHeader(seq uint32) (ledger.HeaderEntry, error) {
	return n.store.GetHeader(seq)
}

// GetResults returns the transaction results of a stored ledger.
func (n *Node) GetResults(seq uint32) (ledger.ResultSet, error) {
	return n.store.GetResults(seq)
}

// GetValue returns the value a stored ledger was closed with.
func (n *Node) GetValue(seq uint32) (*ledger.Value, error) {
	return n.store.GetValue(seq)
}

// GetBufferedValue returns a finalized value waiting for its ledger to be
// closed.
func (n *Node) GetBufferedValue(seq uint32) (*ledger.Value, bool, error) {
	var (
		v     *ledger.Value
		found bool
	)
	err := n.do(func(c *Core) error {
		v, found = c.BufferedValue(seq)
		return nil
	})
	return v, found, err
}

// Shutdown stops the run loop, cancels any archive fetch and closes the store.
func (n *Node) Shutdown() {
	if n.GetState() != state.Shutdown {
		n.logger.Debug("Shutdown")

		n.SetState(state.Shutdown)

		close(n.shutdownCh)
		n.cancel()

		// The store must only be closed once the run loop has returned.
		n.WaitRoutines()

		if err := n.store.Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
	}
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	s := n.Status()

	timeElapsed := time.Since(n.start)
	closed := atomic.LoadUint64(&n.closed)
	ledgersPerSecond := float64(closed) / timeElapsed.Seconds()

	stats := map[string]string{
		"state":                    s.State,
		"sync":                     s.Sync,
		"last_closed_ledger":       strconv.FormatUint(uint64(s.LCL.Seq()), 10),
		"last_closed_hash":         s.LCL.Hex(),
		"close_time":               strconv.FormatUint(s.LCL.Header.CloseTime, 10),
		"protocol_version":         strconv.FormatUint(uint64(s.Params.ProtocolVersion), 10),
		"base_fee":                 strconv.FormatInt(s.Params.BaseFee, 10),
		"base_reserve":             strconv.FormatInt(s.Params.BaseReserve, 10),
		"max_tx_set_size":          strconv.FormatUint(uint64(s.Params.MaxTxSetSize), 10),
		"buffered_values":          strconv.Itoa(len(s.Catchup.Buffered)),
		"catching_up":              strconv.FormatBool(s.Catchup.CatchingUp),
		"seconds_since_last_close": strconv.FormatUint(s.SecondsSinceLastClose, 10),
		"ledgers_closed":           strconv.FormatUint(closed, 10),
		"ledgers_per_second":       strconv.FormatFloat(ledgersPerSecond, 'f', 2, 64),
		"refused_values":           strconv.FormatUint(atomic.LoadUint64(&n.refused), 10),
	}
	if s.Halted != "" {
		stats["halted"] = s.Halted
	}
	return stats
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"state":          stats["state"],
		"lcl":            stats["last_closed_ledger"],
		"hash":           stats["last_closed_hash"],
		"buffered":       stats["buffered_values"],
		"catching_up":    stats["catching_up"],
		"since_close":    stats["seconds_since_last_close"],
		"ledgers_closed": stats["ledgers_closed"],
		"ledgers/s":      stats["ledgers_per_second"],
		"refused_values": stats["refused_values"],
	}).Debug("Stats")
}
