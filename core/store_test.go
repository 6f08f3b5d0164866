package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a map-backed KVStore stand-in for LevelDBStore, so tests
// don't need a real on-disk database.
type memStore struct {
	mu   sync.Mutex
	data map[Namespace]map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[Namespace]map[string][]byte)}
}

func (s *memStore) Put(ns Namespace, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[ns] == nil {
		s.data[ns] = make(map[string][]byte)
	}
	s.data[ns][string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Get(ns Namespace, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[ns][string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (s *memStore) Delete(ns Namespace, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[ns], string(key))
	return nil
}

func (s *memStore) IterKeys(ns Namespace) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys [][]byte
	for k := range s.data[ns] {
		keys = append(keys, []byte(k))
	}
	return keys, nil
}

func (s *memStore) Flush() error { return nil }
func (s *memStore) Close() error { return nil }

func TestStorePutGetDeleteRoundTrip(t *testing.T) {
	s := newMemStore()
	key := []byte("abc")
	require.NoError(t, s.Put(NamespaceListings, key, []byte("value")))

	v, err := s.Get(NamespaceListings, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)

	require.NoError(t, s.Delete(NamespaceListings, key))
	_, err = s.Get(NamespaceListings, key)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStoreChannelRoundTrip(t *testing.T) {
	s := newMemStore()
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)
	ch, err := NewMarketplaceChannel(ChannelConfig{
		Participants:    [2]PublicKey{a.Public, b.Public},
		InitialBalances: map[PublicKey]Amount{a.Public: 500, b.Public: 500},
	})
	require.NoError(t, err)

	require.NoError(t, StoreChannel(s, ch.Snapshot()))
	loaded, err := LoadChannel(s, ch.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, ch.ChannelID, loaded.ChannelID)
	assert.Equal(t, ch.Collateral, loaded.Collateral)

	ids, err := IterChannelIDs(s)
	require.NoError(t, err)
	assert.Contains(t, ids, ch.ChannelID)
}

func TestStoreListingRoundTrip(t *testing.T) {
	s := newMemStore()
	seller, err := GenerateKeyPair()
	require.NoError(t, err)
	listing := Listing{ID: hashFrom(3), Seller: seller.Public, Title: "gizmo", Price: 250, Active: true}

	require.NoError(t, StoreListing(s, listing))
	loaded, err := LoadListing(s, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing, loaded)

	require.NoError(t, DeleteListing(s, listing.ID))
	_, err = LoadListing(s, listing.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
