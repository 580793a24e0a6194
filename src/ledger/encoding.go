package ledger

import (
	"bytes"

	"github.com/mosaicnetworks/ledgerd/src/crypto"
	"github.com/ugorji/go/codec"
)

// HashSize is the length of every hash in a header.
const HashSize = 32

// ZeroHash is the previous-ledger hash of the genesis header.
var ZeroHash = make([]byte, HashSize)

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}

// marshal returns the canonical JSON encoding of v. Map keys are sorted, so the
// output only depends on the value.
func marshal(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle())
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewBuffer(data), jsonHandle())
	return dec.Decode(v)
}

func hashOf(v interface{}) ([]byte, error) {
	data, err := marshal(v)
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(data), nil
}
