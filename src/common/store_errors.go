package common

import "fmt"

// StoreErrType enumerates the failure modes of a ledger Store.
type StoreErrType uint32

const (
	// KeyNotFound means the requested item is not in the store.
	KeyNotFound StoreErrType = iota
	// SkippedIndex means a write would leave a gap in the header chain.
	SkippedIndex
	// PassedIndex means a write targets a sequence that is already durable.
	PassedIndex
	// Empty means the store holds no last-closed ledger yet.
	Empty
	// KeyAlreadyExists means a different item is already stored under the key.
	KeyAlreadyExists
	// Corrupted means a stored item could not be decoded.
	Corrupted
)

// StoreErr is the error type returned by Store implementations. It records the
// kind of item involved, the key that was looked up, and the failure mode.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case SkippedIndex:
		m = "Skipped Index"
	case PassedIndex:
		m = "Passed Index"
	case Empty:
		m = "Empty"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Corrupted:
		m = "Corrupted"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
