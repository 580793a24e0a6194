package ledger

import (
	"sort"
)

// Account is a ledger entry owned by a single key.
type Account struct {
	ID      string
	Balance int64
	SeqNum  int64
}

// Marshal returns the canonical encoding of the account.
func (a *Account) Marshal() ([]byte, error) {
	return marshal(a)
}

// Unmarshal decodes an account produced by Marshal.
func (a *Account) Unmarshal(data []byte) error {
	return unmarshal(data, a)
}

// AccountReader gives read access to accounts.
type AccountReader interface {
	Account(id string) (Account, bool)
}

// State is the set of accounts as of the last closed ledger.
type State struct {
	accounts map[string]Account
}

// NewState returns a State holding accounts.
func NewState(accounts ...Account) *State {
	s := &State{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

// Account implements AccountReader.
func (s *State) Account(id string) (Account, bool) {
	a, ok := s.accounts[id]
	return a, ok
}

// Len returns the number of accounts.
func (s *State) Len() int {
	return len(s.accounts)
}

// Accounts returns all accounts sorted by ID.
func (s *State) Accounts() []Account {
	res := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		res = append(res, a)
	}
	sortAccounts(res)
	return res
}

// Apply overwrites accounts with changes. It is called once the close that
// produced the changes is durable.
func (s *State) Apply(changes []Account) {
	for _, a := range changes {
		s.accounts[a.ID] = a
	}
}

// Copy returns an independent copy.
func (s *State) Copy() *State {
	return NewState(s.Accounts()...)
}

// Hash returns the hash of the sorted account list.
func (s *State) Hash() ([]byte, error) {
	return hashOf(s.Accounts())
}

// hashWith returns the hash the state would have after Apply(changes),
// without modifying it.
func (s *State) hashWith(changes []Account) ([]byte, error) {
	merged := make(map[string]Account, len(s.accounts)+len(changes))
	for id, a := range s.accounts {
		merged[id] = a
	}
	for _, a := range changes {
		merged[a.ID] = a
	}
	res := make([]Account, 0, len(merged))
	for _, a := range merged {
		res = append(res, a)
	}
	sortAccounts(res)
	return hashOf(res)
}

func sortAccounts(accounts []Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})
}

// Delta collects account changes on top of a parent reader. Deltas nest: a
// transaction runs in a child delta which is merged into its parent only if
// every operation succeeded.
type Delta struct {
	parent  AccountReader
	changes map[string]Account
}

// NewDelta returns an empty delta over parent.
func NewDelta(parent AccountReader) *Delta {
	return &Delta{
		parent:  parent,
		changes: make(map[string]Account),
	}
}

// Account implements AccountReader.
func (d *Delta) Account(id string) (Account, bool) {
	if a, ok := d.changes[id]; ok {
		return a, true
	}
	return d.parent.Account(id)
}

// Put records a new version of an account.
func (d *Delta) Put(a Account) {
	d.changes[a.ID] = a
}

// Merge folds the changes of child into d.
func (d *Delta) Merge(child *Delta) {
	for id, a := range child.changes {
		d.changes[id] = a
	}
}

// Changes returns the changed accounts sorted by ID.
func (d *Delta) Changes() []Account {
	res := make([]Account, 0, len(d.changes))
	for _, a := range d.changes {
		res = append(res, a)
	}
	sortAccounts(res)
	return res
}
