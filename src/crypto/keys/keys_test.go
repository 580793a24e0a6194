package keys

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/ledgerd/src/crypto"
)

func TestKeyfile(t *testing.T) {
	dir := t.TempDir()

	keyfile := NewKeyfile(filepath.Join(dir, "keys", "priv_key"))

	if _, err := keyfile.ReadKey(); err == nil {
		t.Fatalf("ReadKey should fail before a key is written")
	}

	key, err := GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := keyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := keyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(DumpPrivateKey(nKey), DumpPrivateKey(key)) {
		t.Fatalf("keys do not match")
	}
}

func TestKeyfilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "priv_key")

	key, _ := GenerateECDSAKey()

	for _, fm := range []os.FileMode{0777, 0644, 0640, 0604} {
		if err := os.WriteFile(path, []byte(PrivateKeyHex(key)), fm); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, fm); err != nil {
			t.Fatal(err)
		}
		if _, err := NewKeyfile(path).ReadKey(); err == nil {
			t.Fatalf("ReadKey should refuse permissions %o", fm)
		}
	}
}

func TestSignVerify(t *testing.T) {
	key, _ := GenerateECDSAKey()
	other, _ := GenerateECDSAKey()

	digest := crypto.SHA256([]byte("checkpoint"))

	sig, err := Sign(key, digest)
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(&key.PublicKey, digest, sig) {
		t.Fatalf("signature should verify with the signing key")
	}

	if Verify(&other.PublicKey, digest, sig) {
		t.Fatalf("signature should not verify with another key")
	}

	if Verify(&key.PublicKey, crypto.SHA256([]byte("other")), sig) {
		t.Fatalf("signature should not verify another digest")
	}

	if Verify(&key.PublicKey, digest, "garbage") {
		t.Fatalf("malformed signature should not verify")
	}
}

func TestPublicKeyHex(t *testing.T) {
	key, _ := GenerateECDSAKey()

	hex := PublicKeyHex(&key.PublicKey)

	pub, err := ParsePublicKeyHex(hex)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(FromPublicKey(pub), FromPublicKey(&key.PublicKey)) {
		t.Fatalf("public keys do not match")
	}

	if _, err := ParsePublicKeyHex("0X00"); err == nil {
		t.Fatalf("invalid public key should not parse")
	}
}
