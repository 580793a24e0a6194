package state

import (
	"sync"
	"sync/atomic"
)

// State captures the lifecycle state of a node: Running, CatchingUp,
// Suspended, Halted, or Shutdown
type State uint32

const (
	// Running is the state in which a node closes ledgers as their values are
	// finalized.
	Running State = iota

	// CatchingUp is the state in which a node waits for an archive to bring it
	// to a recent ledger, buffering the values it receives meanwhile.
	CatchingUp

	// Suspended is the state in which a node answers queries but does not
	// process finalized values. Nodes started in maintenance mode are
	// Suspended.
	Suspended

	// Halted is the state in which a node refuses every input because its
	// store failed and the in-memory ledger may no longer match it.
	Halted

	// Shutdown is the state in which a node stops responding to external
	// events and closes its store.
	Shutdown
)

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.GoFunc
const WGLIMIT = 20

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case CatchingUp:
		return "CatchingUp"
	case Suspended:
		return "Suspended"
	case Halted:
		return "Halted"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Manager wraps a State with get and set methods. It is also used to limit the
// number of goroutines launched by the node, and to wait for all of them to
// complete.
type Manager struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

// GetState returns the current state.
func (b *Manager) GetState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (b *Manager) SetState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// GoFunc launches a goroutine for a given function, if there are currently
// less than WGLIMIT running. It increments the waitgroup.
func (b *Manager) GoFunc(f func()) {
	tempWgCount := atomic.LoadInt32(&b.wgCount)
	if tempWgCount < WGLIMIT {
		b.wg.Add(1)
		atomic.AddInt32(&b.wgCount, 1)
		go func() {
			defer b.wg.Done()
			defer atomic.AddInt32(&b.wgCount, -1)
			f()
		}()
	}
}

// WaitRoutines waits for all the goroutines in the waitgroup.
func (b *Manager) WaitRoutines() {
	b.wg.Wait()
}
