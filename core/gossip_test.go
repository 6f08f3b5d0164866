package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingBroadcastRoundTripAndVerify(t *testing.T) {
	seller, err := GenerateKeyPair()
	require.NoError(t, err)
	listing := Listing{ID: hashFrom(1), Seller: seller.Public, Title: "widget", Price: 100, Active: true}
	sig := seller.Sign(SerializeListing(listing))

	b := ListingBroadcast{Listing: listing, Signature: sig, Timestamp: 1000}
	assert.True(t, VerifyListingBroadcast(b))

	encoded := EncodeGossipMessage(GossipMessage{Kind: GossipListingBroadcast, ListingBroadcast: b})
	decoded, err := DecodeGossipMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, GossipListingBroadcast, decoded.Kind)
	assert.True(t, VerifyListingBroadcast(decoded.ListingBroadcast))
}

func TestListingBroadcastTamperedRejected(t *testing.T) {
	seller, err := GenerateKeyPair()
	require.NoError(t, err)
	listing := Listing{ID: hashFrom(1), Seller: seller.Public, Title: "widget", Price: 100, Active: true}
	sig := seller.Sign(SerializeListing(listing))

	listing.Title = "tampered"
	b := ListingBroadcast{Listing: listing, Signature: sig, Timestamp: 1000}
	assert.False(t, VerifyListingBroadcast(b))
}

func TestDedupContentAndListingID(t *testing.T) {
	d := NewDedup()
	payload := []byte("some gossip message")
	assert.False(t, d.SeenContent(payload))
	assert.True(t, d.SeenContent(payload))

	id := hashFrom(5)
	assert.False(t, d.SeenListing(id))
	assert.True(t, d.SeenListing(id))
}

func TestIngestListingsResponseVerifiesEachEntry(t *testing.T) {
	goodSeller, err := GenerateKeyPair()
	require.NoError(t, err)
	badSeller, err := GenerateKeyPair()
	require.NoError(t, err)

	good := Listing{ID: hashFrom(1), Seller: goodSeller.Public, Price: 10, Active: true}
	goodSig := goodSeller.Sign(SerializeListing(good))

	forged := Listing{ID: hashFrom(2), Seller: badSeller.Public, Price: 20, Active: true}
	wrongSig := goodSeller.Sign(SerializeListing(forged)) // signed by the wrong key

	resp := ListingsResponse{
		RequestID: hashFrom(9),
		Listings: []SignedListing{
			{Listing: good, Signature: goodSig},
			{Listing: forged, Signature: wrongSig},
		},
	}

	dedup := NewDedup()
	accepted := IngestListingsResponse(resp, dedup)
	require.Len(t, accepted, 1)
	assert.Equal(t, good.ID, accepted[0].ID)

	// second delivery of the same response yields nothing new
	accepted = IngestListingsResponse(resp, dedup)
	assert.Len(t, accepted, 0)
}

func TestGossipMessageRoundTripStateUpdateProposal(t *testing.T) {
	a, b := pk(1), pk(2)
	msg := GossipMessage{
		Kind: GossipStateUpdateProposal,
		StateUpdateProposal: StateUpdateProposal{
			ChannelID: hashFrom(3),
			Update:    NewTransfer(a, b, 42),
			Nonce:     7,
		},
	}
	encoded := EncodeGossipMessage(msg)
	decoded, err := DecodeGossipMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, msg.StateUpdateProposal.ChannelID, decoded.StateUpdateProposal.ChannelID)
	assert.Equal(t, msg.StateUpdateProposal.Nonce, decoded.StateUpdateProposal.Nonce)
	assert.Equal(t, msg.StateUpdateProposal.Update.Transfer, decoded.StateUpdateProposal.Update.Transfer)
}
