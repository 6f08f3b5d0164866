package core

// store.go – the durable keyed map over the two namespaces named in §4.5
// (channels, listings), backed by goleveldb.

import (
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Namespace tags a key so channels and listings cannot collide in the
// single underlying leveldb keyspace.
type Namespace byte

const (
	NamespaceChannels Namespace = 'c'
	NamespaceListings Namespace = 'l'
)

// KVStore is the durable map contract the manager persists through. Every
// Put/Delete is expected to be followed by Flush for durability (§4.5);
// concurrent reads must be safe, which LevelDB itself guarantees.
type KVStore interface {
	Put(ns Namespace, key []byte, value []byte) error
	Get(ns Namespace, key []byte) ([]byte, error)
	Delete(ns Namespace, key []byte) error
	IterKeys(ns Namespace) ([][]byte, error)
	Flush() error
	Close() error
}

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = newErr(ErrDatabase, "key not found")

func namespacedKey(ns Namespace, key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, byte(ns))
	out = append(out, key...)
	return out
}

// LevelDBStore is a goleveldb-backed KVStore. Safe for concurrent use:
// goleveldb's own DB handle is safe for concurrent Put/Get/Delete, which
// therefore take no lock; the mutex is taken only by Flush.
type LevelDBStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenLevelDBStore opens (creating if absent) a LevelDB database at dir.
func OpenLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, wrapErr(ErrDatabase, err, "open leveldb at "+dir)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Put(ns Namespace, key []byte, value []byte) error {
	if err := s.db.Put(namespacedKey(ns, key), value, nil); err != nil {
		return wrapErr(ErrDatabase, err, "put")
	}
	return nil
}

func (s *LevelDBStore) Get(ns Namespace, key []byte) ([]byte, error) {
	v, err := s.db.Get(namespacedKey(ns, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, wrapErr(ErrDatabase, err, "get")
	}
	return v, nil
}

func (s *LevelDBStore) Delete(ns Namespace, key []byte) error {
	if err := s.db.Delete(namespacedKey(ns, key), nil); err != nil {
		return wrapErr(ErrDatabase, err, "delete")
	}
	return nil
}

// IterKeys returns every key currently stored under ns, with the namespace
// prefix stripped.
func (s *LevelDBStore) IterKeys(ns Namespace) ([][]byte, error) {
	prefix := []byte{byte(ns)}
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys [][]byte
	for it.Next() {
		k := it.Key()
		cp := make([]byte, len(k)-1)
		copy(cp, k[1:])
		keys = append(keys, cp)
	}
	if err := it.Error(); err != nil {
		return nil, wrapErr(ErrDatabase, err, "iterate")
	}
	return keys, nil
}

// Flush is a no-op on goleveldb: every Put/Delete above already commits a
// write-ahead-logged batch of one. Kept as an explicit call site so a future
// engine swap (e.g. a batched writer) has somewhere to hook in.
func (s *LevelDBStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil
}

func (s *LevelDBStore) Close() error {
	if err := s.db.Close(); err != nil {
		return wrapErr(ErrDatabase, err, "close")
	}
	return nil
}

// StoreChannel persists a channel snapshot and flushes.
func StoreChannel(store KVStore, v MarketplaceChannelView) error {
	if err := store.Put(NamespaceChannels, v.ChannelID[:], EncodeChannelRecord(v)); err != nil {
		return err
	}
	return store.Flush()
}

// LoadChannel reads back a channel by id.
func LoadChannel(store KVStore, id Hash) (*MarketplaceChannel, error) {
	b, err := store.Get(NamespaceChannels, id[:])
	if err != nil {
		return nil, err
	}
	return DecodeChannelRecord(b)
}

// DeleteChannel removes a channel record and flushes.
func DeleteChannel(store KVStore, id Hash) error {
	if err := store.Delete(NamespaceChannels, id[:]); err != nil {
		return err
	}
	return store.Flush()
}

// IterChannelIDs lists every persisted channel id.
func IterChannelIDs(store KVStore) ([]Hash, error) {
	keys, err := store.IterKeys(NamespaceChannels)
	if err != nil {
		return nil, err
	}
	ids := make([]Hash, 0, len(keys))
	for _, k := range keys {
		var h Hash
		copy(h[:], k)
		ids = append(ids, h)
	}
	return ids, nil
}

// StoreListing persists a listing and flushes.
func StoreListing(store KVStore, l Listing) error {
	if err := store.Put(NamespaceListings, l.ID[:], EncodeListingRecord(l)); err != nil {
		return err
	}
	return store.Flush()
}

// LoadListing reads back a listing by id.
func LoadListing(store KVStore, id Hash) (Listing, error) {
	b, err := store.Get(NamespaceListings, id[:])
	if err != nil {
		return Listing{}, err
	}
	return DecodeListingRecord(b)
}

// DeleteListing removes a listing record and flushes.
func DeleteListing(store KVStore, id Hash) error {
	if err := store.Delete(NamespaceListings, id[:]); err != nil {
		return err
	}
	return store.Flush()
}

// IterListingIDs lists every persisted listing id.
func IterListingIDs(store KVStore) ([]Hash, error) {
	keys, err := store.IterKeys(NamespaceListings)
	if err != nil {
		return nil, err
	}
	ids := make([]Hash, 0, len(keys))
	for _, k := range keys {
		var h Hash
		copy(h[:], k)
		ids = append(ids, h)
	}
	return ids, nil
}
