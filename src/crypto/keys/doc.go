// Package keys implements the key-pairs used to sign and verify archive
// checkpoints.
//
// A node that publishes history signs the terminal header of every checkpoint
// it serves. Nodes catching up from that archive only accept checkpoints
// carrying a valid signature from one of the archive keys listed in their
// configuration.
//
// Keys are ECDSA keys on the secp256k1 curve, so that keys produced by Bitcoin
// or Ethereum tooling can also be used to operate an archive.
package keys
