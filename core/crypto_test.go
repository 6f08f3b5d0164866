package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("transfer 10 units")
	sig := kp.Sign(msg)
	assert.True(t, Verify(kp.Public, msg, sig))

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, Verify(other.Public, msg, sig))

	tampered := append([]byte{}, msg...)
	tampered[0] ^= 0xFF
	assert.False(t, Verify(kp.Public, tampered, sig))
}

func TestHashDataDeterministic(t *testing.T) {
	data := []byte("channel-state-bytes")
	assert.Equal(t, HashData(data), HashData(data))
	assert.NotEqual(t, HashData(data), HashData([]byte("different")))
}

func TestHashMultipleMatchesConcatenation(t *testing.T) {
	a := []byte("abc")
	b := []byte("def")
	combined := append(append([]byte{}, a...), b...)
	assert.Equal(t, HashData(combined), HashMultiple(a, b))
}
