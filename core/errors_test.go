package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfRecognizesInsufficientBalanceError(t *testing.T) {
	err := newInsufficientBalance(100, 40)
	assert.Equal(t, ErrInsufficientBalance, KindOf(err))

	var insufficient *InsufficientBalanceError
	require := assert.New(t)
	require.True(errors.As(err, &insufficient))
	require.Equal(Amount(100), insufficient.Required)
	require.Equal(Amount(40), insufficient.Available)
}

func TestKindOfWalksWrappedErrors(t *testing.T) {
	base := errors.New("disk full")
	wrapped := wrapErr(ErrDatabase, base, "flush")
	assert.Equal(t, ErrDatabase, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, base))
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	assert.Equal(t, ErrUnknown, KindOf(errors.New("boom")))
}
