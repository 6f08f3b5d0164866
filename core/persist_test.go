package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeListingRecordRoundTrip(t *testing.T) {
	seller := pk(3)
	l := Listing{ID: hashFrom(4), Seller: seller, Title: "t", Description: "d", Price: 77, IPFSHash: "Qm...", Active: true}
	encoded := EncodeListingRecord(l)
	decoded, err := DecodeListingRecord(encoded)
	require.NoError(t, err)
	assert.Equal(t, l, decoded)
}

func TestDecodeChannelRecordRejectsTruncated(t *testing.T) {
	_, err := DecodeChannelRecord([]byte{wireVersion})
	require.Error(t, err)
	assert.Equal(t, ErrSerialization, KindOf(err))
}

func TestDecodeChannelRecordRejectsBadVersion(t *testing.T) {
	_, err := DecodeChannelRecord([]byte{wireVersion + 1, 0, 0})
	require.Error(t, err)
	assert.Equal(t, ErrSerialization, KindOf(err))
}

func TestDecodeStateUpdateRoundTripAllVariants(t *testing.T) {
	a, b := pk(1), pk(2)
	listing := Listing{ID: hashFrom(5), Seller: a, Price: 10, Active: true}
	order := Order{ID: hashFrom(6), ListingID: listing.ID, Buyer: b, Seller: a, Amount: 10, Status: OrderShipping}

	updates := []StateUpdate{
		NewTransfer(a, b, 5),
		NewCreateListing(listing),
		NewUpdateListing(listing.ID, false),
		NewCreateOrder(order),
		NewUpdateOrderStatus(order.ID, OrderDelivered),
	}

	for _, u := range updates {
		d, err := newDecoder(SerializeStateUpdate(u))
		require.NoError(t, err)
		got, err := decodeStateUpdate(d)
		require.NoError(t, err)
		assert.Equal(t, u, got)
	}
}
