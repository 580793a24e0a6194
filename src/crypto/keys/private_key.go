package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// GenerateECDSAKey creates a new private key on Curve().
func GenerateECDSAKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(Curve(), rand.Reader)
}

// DumpPrivateKey exports the private scalar as a fixed-size big-endian byte
// slice.
func DumpPrivateKey(priv *ecdsa.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return priv.D.FillBytes(make([]byte, priv.Params().BitSize/8))
}

// ParsePrivateKey rebuilds a private key from the output of DumpPrivateKey.
func ParsePrivateKey(d []byte) (*ecdsa.PrivateKey, error) {
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = Curve()

	if 8*len(d) != priv.Params().BitSize {
		return nil, fmt.Errorf("invalid length, need %d bits", priv.Params().BitSize)
	}

	priv.D = new(big.Int).SetBytes(d)

	if priv.D.Cmp(secp256k1N) >= 0 {
		return nil, fmt.Errorf("invalid private key, >=N")
	}

	if priv.D.Sign() <= 0 {
		return nil, fmt.Errorf("invalid private key, zero or negative")
	}

	priv.PublicKey.X, priv.PublicKey.Y = priv.PublicKey.Curve.ScalarBaseMult(d)
	if priv.PublicKey.X == nil {
		return nil, errors.New("invalid private key")
	}

	return priv, nil
}

// PrivateKeyHex returns the hex dump of a private key as written to keyfiles.
func PrivateKeyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(DumpPrivateKey(key))
}

// Keyfile reads and writes a private key as a raw hex dump in a file that is
// only accessible by its owner.
type Keyfile struct {
	l    sync.Mutex
	path string
}

// NewKeyfile returns a Keyfile backed by the file at path.
func NewKeyfile(path string) *Keyfile {
	return &Keyfile{path: path}
}

// Path returns the location of the underlying file.
func (k *Keyfile) Path() string {
	return k.path
}

// ReadKey loads the key. It refuses files readable by group or others.
func (k *Keyfile) ReadKey() (*ecdsa.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	info, err := os.Stat(k.path)
	if err != nil {
		return nil, err
	}

	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("%s permissions should exclude 'groups' and 'others'. Got %o", k.path, perm)
	}

	buf, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, err
	}

	return ParsePrivateKey(raw)
}

// WriteKey stores the key, creating parent directories as needed.
func (k *Keyfile) WriteKey(key *ecdsa.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return err
	}

	return os.WriteFile(k.path, []byte(PrivateKeyHex(key)), 0600)
}
