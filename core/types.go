// Package core implements the off-chain correctness kernel of the layer-2
// marketplace: state channels, transition semantics, the escrow automaton,
// gossip-authenticated listing propagation, and the persistence/concurrency
// discipline binding them together.
package core

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of a BLAKE3 content digest.
const HashSize = 32

// PublicKeySize is the length in bytes of an Ed25519 verifying key.
const PublicKeySize = 32

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = 64

// Hash is a 32-byte BLAKE3 digest.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// PublicKey is a 32-byte Ed25519 verifying key.
type PublicKey [PublicKeySize]byte

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

func (s Signature) String() string { return hex.EncodeToString(s[:]) }

// Amount is an unsigned quantity of channel-denominated value. Arithmetic is
// always performed through the checked helpers below; a bare overflow/
// underflow must never silently wrap.
type Amount uint64

// Add returns a+b and an error if the result would overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("amount overflow: %d + %d", a, b)
	}
	return sum, nil
}

// Sub returns a-b and an error if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, fmt.Errorf("amount underflow: %d - %d", a, b)
	}
	return a - b, nil
}

// Timestamp is a Unix time in seconds.
type Timestamp uint64
