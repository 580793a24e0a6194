package archive

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// VerificationStatus is the outcome of verifying a Checkpoint.
type VerificationStatus uint8

const (
	StatusOK VerificationStatus = iota
	// StatusUnavailable means no checkpoint could be obtained.
	StatusUnavailable
	StatusBadHashChain
	StatusBadSignature
	StatusTargetMismatch
	StatusBadState
)

func (s VerificationStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusUnavailable:
		return "Unavailable"
	case StatusBadHashChain:
		return "BadHashChain"
	case StatusBadSignature:
		return "BadSignature"
	case StatusTargetMismatch:
		return "TargetMismatch"
	case StatusBadState:
		return "BadState"
	default:
		return "Unknown"
	}
}

// Checkpoint is what an archive publishes for a range of ledgers.
type Checkpoint struct {
	// Header is the last ledger of the range.
	Header ledger.HeaderEntry
	// Headers holds every header from the requested From to Header.
	Headers []ledger.HeaderEntry
	// Accounts is the state of Header, when requested.
	Accounts []ledger.Account
	// Values holds the finalized values of the range, when requested.
	Values []*ledger.Value
	// Signature signs the hash of Header.
	Signature string
}

// Sign signs the checkpoint header with the archive key.
func (c *Checkpoint) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := keys.Sign(priv, c.Header.Hash)
	if err != nil {
		return err
	}
	c.Signature = sig
	return nil
}

// VerifyError is returned by Verify.
type VerifyError struct {
	Status VerificationStatus
	Err    error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

func verifyErr(status VerificationStatus, format string, args ...interface{}) error {
	return &VerifyError{Status: status, Err: fmt.Errorf(format, args...)}
}

// StatusOf returns the verification status carried by err.
func StatusOf(err error) VerificationStatus {
	if err == nil {
		return StatusOK
	}
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Status
	}
	return StatusUnavailable
}

// Verify checks a checkpoint obtained for target. It does not check that the
// range links to the ledger of the caller; the caller does that with its own
// last closed ledger.
func Verify(c *Checkpoint, target Target, trusted *ecdsa.PublicKey) error {
	if trusted == nil || !keys.Verify(trusted, c.Header.Hash, c.Signature) {
		return verifyErr(StatusBadSignature, "checkpoint %d is not signed by the archive key", c.Header.Seq())
	}

	if err := c.Header.Verify(); err != nil {
		return verifyErr(StatusBadHashChain, "%v", err)
	}

	if c.Header.Seq() < target.To {
		return verifyErr(StatusTargetMismatch, "checkpoint %d is before target %d", c.Header.Seq(), target.To)
	}
	if target.Verify == Replay && c.Header.Seq() != target.To {
		return verifyErr(StatusTargetMismatch, "replay checkpoint %d is not target %d", c.Header.Seq(), target.To)
	}

	if n := int(c.Header.Seq()) - int(target.From) + 1; n < 1 || len(c.Headers) != n {
		return verifyErr(StatusBadHashChain, "expected %d headers, got %d", n, len(c.Headers))
	}
	first := c.Headers[0]
	if first.Seq() != target.From {
		return verifyErr(StatusBadHashChain, "chain starts at %d, not %d", first.Seq(), target.From)
	}
	if err := first.Verify(); err != nil {
		return verifyErr(StatusBadHashChain, "%v", err)
	}
	if err := ledger.VerifyChain(first, c.Headers[1:]); err != nil {
		return verifyErr(StatusBadHashChain, "%v", err)
	}
	if last := c.Headers[len(c.Headers)-1]; !bytes.Equal(last.Hash, c.Header.Hash) {
		return verifyErr(StatusBadHashChain, "chain does not end at checkpoint %d", c.Header.Seq())
	}

	if len(target.Hash) > 0 {
		if target.HashSeq < target.From || target.HashSeq > c.Header.Seq() {
			return verifyErr(StatusTargetMismatch, "ledger %d is outside the checkpoint range", target.HashSeq)
		}
		h := c.Headers[target.HashSeq-target.From]
		if !bytes.Equal(h.Hash, target.Hash) {
			return verifyErr(StatusTargetMismatch, "ledger %d is %s, requested %s",
				h.Seq(), h.Hex(), ledger.HeaderEntry{Hash: target.Hash}.Hex())
		}
	}

	switch target.Verify {
	case TrustArchive:
		stateHash, err := ledger.NewState(c.Accounts...).Hash()
		if err != nil {
			return verifyErr(StatusBadState, "%v", err)
		}
		if !bytes.Equal(stateHash, c.Header.Header.StateHash) {
			return verifyErr(StatusBadState, "state does not match header %d", c.Header.Seq())
		}
	case Replay:
		if len(c.Values) != len(c.Headers) {
			return verifyErr(StatusBadState, "expected %d values, got %d", len(c.Headers), len(c.Values))
		}
		for i, v := range c.Values {
			h := c.Headers[i]
			if v == nil || v.Seq != h.Seq() || !bytes.Equal(v.TxSetHash, h.Header.TxSetHash) {
				return verifyErr(StatusBadState, "value %d does not match its header", h.Seq())
			}
		}
	}

	return nil
}
