package core

// crypto.go – signing and hashing primitives shared across the channel,
// escrow, and gossip layers.
//
// Signing/verification is Ed25519 (stdlib crypto/ed25519); content hashing
// is BLAKE3 (lukechampine.com/blake3). Both are specified as primitives by
// the core spec — no key management, derivation, or custody lives here.

import (
	"crypto/ed25519"
	"crypto/rand"

	"lukechampine.com/blake3"
)

// KeyPair is an Ed25519 signing keypair.
type KeyPair struct {
	Public  PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random Ed25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, wrapErr(ErrInvalidParameter, err, "generate keypair")
	}
	var pk PublicKey
	copy(pk[:], pub)
	return &KeyPair{Public: pk, private: priv}, nil
}

// Sign signs msg with the keypair's private key.
func (k *KeyPair) Sign(msg []byte) Signature {
	sig := ed25519.Sign(k.private, msg)
	var out Signature
	copy(out[:], sig)
	return out
}

// Verify reports whether sig is a valid Ed25519 signature over msg by pub.
func Verify(pub PublicKey, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// HashData returns the BLAKE3 digest of data.
func HashData(data []byte) Hash {
	sum := blake3.Sum256(data)
	return Hash(sum)
}

// HashMultiple hashes several byte slices together as if concatenated,
// without materializing the concatenation.
func HashMultiple(parts ...[]byte) Hash {
	h := blake3.New(HashSize, nil)
	for _, p := range parts {
		h.Write(p) //nolint:errcheck // hash.Hash.Write never fails
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
