package core

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (*MarketplaceManager, *KeyPair) {
	t.Helper()
	self, err := GenerateKeyPair()
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := NewMarketplaceManager(self, newMemStore(), NewNoopL1Adapter(log), NewNoopP2PAdapter(log), log)
	return m, self
}

func TestManagerCreateAndActivateChannel(t *testing.T) {
	m, _ := testManager(t)
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	ch, err := m.CreateChannel(context.Background(), ChannelConfig{
		Participants:    [2]PublicKey{a.Public, b.Public},
		InitialBalances: map[PublicKey]Amount{a.Public: 1000, b.Public: 1000},
	})
	require.NoError(t, err)

	_, err = m.CreateChannel(context.Background(), ChannelConfig{
		Participants:    [2]PublicKey{a.Public, b.Public},
		InitialBalances: map[PublicKey]Amount{a.Public: 1000, b.Public: 1000},
	})
	require.Error(t, err)
	assert.Equal(t, ErrChannelAlreadyExists, KindOf(err))

	require.NoError(t, m.ActivateChannel(ch.ChannelID))
	bal, err := m.GetBalance(ch.ChannelID, a.Public)
	require.NoError(t, err)
	assert.Equal(t, Amount(1000), bal)
}

func TestManagerCreateStateUpdateAndApply(t *testing.T) {
	m, self := testManager(t)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	ch, err := m.CreateChannel(context.Background(), ChannelConfig{
		Participants:    [2]PublicKey{self.Public, other.Public},
		InitialBalances: map[PublicKey]Amount{self.Public: 1000, other.Public: 1000},
	})
	require.NoError(t, err)
	require.NoError(t, m.ActivateChannel(ch.ChannelID))

	signed, err := m.Transfer(ch.ChannelID, self.Public, other.Public, 100)
	require.NoError(t, err)
	assert.Len(t, signed.Signatures, 1)

	payload := SerializeSignedPayload(signed.Update, signed.Nonce)
	signed.Signatures[other.Public] = other.Sign(payload)

	require.NoError(t, m.ApplyStateUpdate(ch.ChannelID, signed))
	bal, err := m.GetBalance(ch.ChannelID, self.Public)
	require.NoError(t, err)
	assert.Equal(t, Amount(900), bal)
}

func TestManagerAddSignatureToUpdate(t *testing.T) {
	m, self := testManager(t)
	signed := SignedStateUpdate{
		Update:     NewTransfer(self.Public, self.Public, 1),
		Nonce:      1,
		Signatures: map[PublicKey]Signature{},
	}
	m.AddSignatureToUpdate(&signed)
	require.Contains(t, signed.Signatures, self.Public)
	payload := SerializeSignedPayload(signed.Update, signed.Nonce)
	assert.True(t, Verify(self.Public, payload, signed.Signatures[self.Public]))
}

func TestManagerLoadChannelsHydratesFromStore(t *testing.T) {
	store := newMemStore()
	self, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)

	m1 := NewMarketplaceManager(self, store, NewNoopL1Adapter(log), NewNoopP2PAdapter(log), log)
	ch, err := m1.CreateChannel(context.Background(), ChannelConfig{
		Participants:    [2]PublicKey{self.Public, other.Public},
		InitialBalances: map[PublicKey]Amount{self.Public: 500, other.Public: 500},
	})
	require.NoError(t, err)

	m2 := NewMarketplaceManager(self, store, NewNoopL1Adapter(log), NewNoopP2PAdapter(log), log)
	require.NoError(t, m2.LoadChannels())
	bal, err := m2.GetBalance(ch.ChannelID, self.Public)
	require.NoError(t, err)
	assert.Equal(t, Amount(500), bal)
}

func TestManagerGlobalListingLifecycle(t *testing.T) {
	m, self := testManager(t)
	listing, err := m.CreateGlobalListing(context.Background(), self.Public, "widget", "a widget", 100, "")
	require.NoError(t, err)
	assert.True(t, listing.Active)

	seller, err := GenerateKeyPair()
	require.NoError(t, err)
	other := Listing{ID: hashFrom(77), Seller: seller.Public, Title: "gizmo", Price: 50, Active: true}
	sig := seller.Sign(SerializeListing(other))

	require.NoError(t, m.HandleReceivedListing(ListingBroadcast{Listing: other, Signature: sig, Timestamp: 1}))
	// duplicate delivery is a no-op, not an error
	require.NoError(t, m.HandleReceivedListing(ListingBroadcast{Listing: other, Signature: sig, Timestamp: 2}))

	tampered := other
	tampered.Title = "evil"
	err = m.HandleReceivedListing(ListingBroadcast{Listing: tampered, Signature: sig, Timestamp: 3})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidSignature, KindOf(err))
}

func TestManagerRequestGlobalListings(t *testing.T) {
	m, _ := testManager(t)
	reqID, err := m.RequestGlobalListings(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, Hash{}, reqID)
}

func TestManagerListGlobalListings(t *testing.T) {
	m, self := testManager(t)
	_, err := m.CreateGlobalListing(context.Background(), self.Public, "widget", "a widget", 100, "")
	require.NoError(t, err)

	listings := m.ListGlobalListings()
	require.Len(t, listings, 1)
	assert.Equal(t, "widget", listings[0].Title)
}

func TestManagerEscrowTimeoutSweep(t *testing.T) {
	m, _ := testManager(t)
	buyer, seller := pk(1), pk(2)
	esc, err := m.CreateEscrow(hashFrom(1), buyer, seller, 500, 3600, 0)
	require.NoError(t, err)
	require.NoError(t, m.FundEscrow(esc.ID, "tx1", 0))
	require.NoError(t, m.ShipEscrow(esc.ID, "UPS", 0))

	released := m.ProcessEscrowTimeouts(100)
	assert.Empty(t, released)

	released = m.ProcessEscrowTimeouts(3601)
	require.Len(t, released, 1)
	assert.Equal(t, esc.ID, released[0])
}
