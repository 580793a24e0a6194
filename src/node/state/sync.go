package state

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// Sync is the ledger synchronization state of a node. It is either Normal or
// CatchingUpLedger, and always knows the last closed ledger.
type Sync interface {
	LCL() ledger.HeaderEntry
	String() string
	isSync()
}

// Normal means the node closes ledgers as their values arrive.
type Normal struct {
	Last ledger.HeaderEntry
}

// LCL implements Sync.
func (s *Normal) LCL() ledger.HeaderEntry { return s.Last }

func (s *Normal) String() string {
	return fmt.Sprintf("Normal(%d)", s.Last.Seq())
}

func (*Normal) isSync() {}

// CatchingUpLedger means an archive fetch was started for Target. Values are
// buffered until it completes. When Failure is set the fetch failed and the
// node is blocked until an operator restarts or aborts the catchup; Handle is
// then nil. Requested is the last ledger the fetch was started for; extending
// Target does not change it.
type CatchingUpLedger struct {
	Last      ledger.HeaderEntry
	Target    archive.Target
	Requested uint32
	Handle    archive.Handle
	Failure   error
	Started   time.Time
}

// LCL implements Sync.
func (s *CatchingUpLedger) LCL() ledger.HeaderEntry { return s.Last }

// Blocked returns true if the catchup failed and waits for an operator.
func (s *CatchingUpLedger) Blocked() bool {
	return s.Failure != nil
}

func (s *CatchingUpLedger) String() string {
	if s.Failure != nil {
		return fmt.Sprintf("CatchingUp(%d, %s, failed: %v)", s.Last.Seq(), s.Target, s.Failure)
	}
	return fmt.Sprintf("CatchingUp(%d, %s)", s.Last.Seq(), s.Target)
}

func (*CatchingUpLedger) isSync() {}

// WithLCL returns a copy of s whose last closed ledger is lcl.
func WithLCL(s Sync, lcl ledger.HeaderEntry) Sync {
	switch v := s.(type) {
	case *CatchingUpLedger:
		c := *v
		c.Last = lcl
		return &c
	default:
		return &Normal{Last: lcl}
	}
}
