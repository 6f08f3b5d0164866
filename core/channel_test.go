package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) (*MarketplaceChannel, *KeyPair, *KeyPair) {
	t.Helper()
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	ch, err := NewMarketplaceChannel(ChannelConfig{
		Participants:        [2]PublicKey{a.Public, b.Public},
		InitialBalances:     map[PublicKey]Amount{a.Public: 1000, b.Public: 1000},
		ChallengePeriodSecs: 3600,
	})
	require.NoError(t, err)
	require.NoError(t, ch.Activate())
	return ch, a, b
}

func signBoth(a, b *KeyPair, update StateUpdate, nonce uint64) SignedStateUpdate {
	payload := SerializeSignedPayload(update, nonce)
	return SignedStateUpdate{
		Update: update,
		Nonce:  nonce,
		Signatures: map[PublicKey]Signature{
			a.Public: a.Sign(payload),
			b.Public: b.Sign(payload),
		},
	}
}

func TestChannelSetupAndActivate(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	ch, err := NewMarketplaceChannel(ChannelConfig{
		Participants:    [2]PublicKey{a.Public, b.Public},
		InitialBalances: map[PublicKey]Amount{a.Public: 1000, b.Public: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, ChannelOpening, ch.Status)
	assert.Equal(t, Amount(2000), ch.Collateral)
	assert.Equal(t, DeriveChannelID(ch.Participants), ch.ChannelID)

	require.NoError(t, ch.Activate())
	assert.Equal(t, ChannelActive, ch.Status)
}

func TestApplyUpdateSignedTransfer(t *testing.T) {
	ch, a, b := newTestChannel(t)

	signed := signBoth(a, b, NewTransfer(a.Public, b.Public, 100), 1)
	require.NoError(t, ch.ApplyUpdate(signed))

	bal, err := ch.GetBalance(a.Public)
	require.NoError(t, err)
	assert.Equal(t, Amount(900), bal)
	bal, err = ch.GetBalance(b.Public)
	require.NoError(t, err)
	assert.Equal(t, Amount(1100), bal)
	assert.Equal(t, uint64(1), ch.State.Nonce)
	assert.Len(t, ch.StateHistory, 1)
}

func TestApplyUpdateRejectsBadSignature(t *testing.T) {
	ch, a, b := newTestChannel(t)
	attacker, err := GenerateKeyPair()
	require.NoError(t, err)

	update := NewTransfer(a.Public, b.Public, 100)
	payload := SerializeSignedPayload(update, 1)
	signed := SignedStateUpdate{
		Update: update,
		Nonce:  1,
		Signatures: map[PublicKey]Signature{
			a.Public: attacker.Sign(payload), // wrong key over right payload
			b.Public: b.Sign(payload),
		},
	}

	err = ch.ApplyUpdate(signed)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidSignature, KindOf(err))
	assert.Equal(t, uint64(0), ch.State.Nonce)
}

func TestApplyUpdateRejectsWrongNonce(t *testing.T) {
	ch, a, b := newTestChannel(t)
	signed := signBoth(a, b, NewTransfer(a.Public, b.Public, 100), 5)

	err := ch.ApplyUpdate(signed)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidStateTransition, KindOf(err))
}

func TestApplyUpdateRejectsWhenNotActive(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)
	ch, err := NewMarketplaceChannel(ChannelConfig{
		Participants:    [2]PublicKey{a.Public, b.Public},
		InitialBalances: map[PublicKey]Amount{a.Public: 1000, b.Public: 1000},
	})
	require.NoError(t, err)

	signed := signBoth(a, b, NewTransfer(a.Public, b.Public, 100), 1)
	err = ch.ApplyUpdate(signed)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidChannelState, KindOf(err))
}

func TestDoubleApplySameNonceOnlyOneSucceeds(t *testing.T) {
	ch, a, b := newTestChannel(t)
	signed := signBoth(a, b, NewTransfer(a.Public, b.Public, 100), 1)

	require.NoError(t, ch.ApplyUpdate(signed))
	err := ch.ApplyUpdate(signed)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidStateTransition, KindOf(err))
}

func TestOrderCompletionMovesFundsAcrossChannel(t *testing.T) {
	ch, a, b := newTestChannel(t)
	listing := Listing{ID: hashFrom(9), Seller: a.Public, Price: 500, Active: true}

	require.NoError(t, ch.ApplyUpdate(signBoth(a, b, NewCreateListing(listing), 1)))

	order := Order{ID: hashFrom(10), ListingID: listing.ID, Buyer: b.Public, Seller: a.Public, Amount: 500}
	require.NoError(t, ch.ApplyUpdate(signBoth(a, b, NewCreateOrder(order), 2)))

	balA, _ := ch.GetBalance(a.Public)
	balB, _ := ch.GetBalance(b.Public)
	assert.Equal(t, Amount(1000), balA)
	assert.Equal(t, Amount(1000), balB)

	require.NoError(t, ch.ApplyUpdate(signBoth(a, b, NewUpdateOrderStatus(order.ID, OrderCompleted), 3)))
	balA, _ = ch.GetBalance(a.Public)
	balB, _ = ch.GetBalance(b.Public)
	assert.Equal(t, Amount(1500), balA)
	assert.Equal(t, Amount(500), balB)
}

func TestChannelLifecycleFSM(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	require.NoError(t, ch.InitiateClose())
	assert.Equal(t, ChannelClosing, ch.Status)

	require.Error(t, ch.Activate())
	require.NoError(t, ch.Finalize())
	assert.Equal(t, ChannelClosed, ch.Status)
}

func TestStateRootDeterministic(t *testing.T) {
	ch, a, b := newTestChannel(t)
	r1 := ch.StateRoot()
	signed := signBoth(a, b, NewTransfer(a.Public, b.Public, 1), 1)
	require.NoError(t, ch.ApplyUpdate(signed))
	r2 := ch.StateRoot()
	assert.NotEqual(t, r1, r2)
	assert.Equal(t, r2, ch.StateRoot())
}

func TestChannelRoundTripThroughRecordCodec(t *testing.T) {
	ch, a, b := newTestChannel(t)
	signed := signBoth(a, b, NewTransfer(a.Public, b.Public, 250), 1)
	require.NoError(t, ch.ApplyUpdate(signed))

	snap := ch.Snapshot()
	encoded := EncodeChannelRecord(snap)
	decoded, err := DecodeChannelRecord(encoded)
	require.NoError(t, err)

	assert.Equal(t, snap.ChannelID, decoded.ChannelID)
	assert.Equal(t, snap.Participants, decoded.Participants)
	assert.Equal(t, snap.Status, decoded.Status)
	assert.Equal(t, snap.State.Nonce, decoded.State.Nonce)
	assert.Equal(t, snap.State.Balances[a.Public], decoded.State.Balances[a.Public])
	assert.Equal(t, snap.State.Balances[b.Public], decoded.State.Balances[b.Public])
	require.Len(t, decoded.StateHistory, 1)
	assert.Equal(t, snap.StateHistory[0].Nonce, decoded.StateHistory[0].Nonce)
	assert.Equal(t, snap.StateHistory[0].Signatures[a.Public], decoded.StateHistory[0].Signatures[a.Public])
}
