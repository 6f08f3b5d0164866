package core

// gossip.go – the wire message variants and ingestion rules for the
// topic-based pub/sub layer (§4.6): listing broadcast/request/response,
// channel open/info handshakes, state update proposals/acks, and liveness
// pings. Bulk listing responses carry a per-entry signature so each one is
// verified independently against its own seller key rather than trusted
// wholesale.

import (
	"sync"
)

// Gossip topics (§4.6).
const (
	TopicMarketplace          = "marketplace"
	TopicStateUpdates         = "state-updates"
	TopicChannelAnnouncements = "channel-announcements"
	TopicCatchAll             = "marketplace-catchall"
)

// GossipKind tags which variant of GossipMessage is populated.
type GossipKind uint8

const (
	GossipListingBroadcast GossipKind = iota
	GossipListingsRequest
	GossipListingsResponse
	GossipChannelOpenRequest
	GossipChannelOpenResponse
	GossipChannelInfoRequest
	GossipChannelInfoResponse
	GossipStateUpdateProposal
	GossipStateUpdateAck
	GossipPing
	GossipPong
)

// ListingBroadcast announces a new or updated global listing, signed by
// the seller over serialize(listing).
type ListingBroadcast struct {
	Listing   Listing
	Signature Signature
	Timestamp Timestamp
}

// ListingsRequest asks a peer for its known global listings.
type ListingsRequest struct {
	RequestID Hash
}

// SignedListing pairs a listing with the seller's signature over its
// canonical body, the shape the bulk response actually carries (§4.9).
type SignedListing struct {
	Listing   Listing
	Signature Signature
}

// ListingsResponse bulk-returns listings in answer to a ListingsRequest.
type ListingsResponse struct {
	RequestID Hash
	Listings  []SignedListing
}

// ChannelOpenRequest proposes opening a channel with the given initial
// balances, before either side locally calls create_channel.
type ChannelOpenRequest struct {
	Participants    [2]PublicKey
	InitialBalances map[PublicKey]Amount
}

// ChannelOpenResponse answers a ChannelOpenRequest.
type ChannelOpenResponse struct {
	Accepted bool
	ChannelID Hash
}

// ChannelInfoRequest asks a counterparty for a channel's current snapshot.
type ChannelInfoRequest struct {
	ChannelID Hash
}

// ChannelInfoResponse answers a ChannelInfoRequest with a channel snapshot.
type ChannelInfoResponse struct {
	ChannelID Hash
	Found     bool
	Status    ChannelStatus
	Nonce     uint64
	StateRoot Hash
}

// StateUpdateProposal offers a counterparty a state update to co-sign.
type StateUpdateProposal struct {
	ChannelID Hash
	Update    StateUpdate
	Nonce     uint64
}

// StateUpdateAck returns the local signature over a proposed update.
type StateUpdateAck struct {
	ChannelID Hash
	Nonce     uint64
	Signature Signature
}

// Ping/Pong are liveness probes.
type Ping struct{ Nonce uint64 }
type Pong struct{ Nonce uint64 }

// GossipMessage is the tagged union of every wire variant dispatched by the
// gossip layer. Only the field matching Kind is populated.
type GossipMessage struct {
	Kind                GossipKind
	ListingBroadcast    ListingBroadcast
	ListingsRequest     ListingsRequest
	ListingsResponse    ListingsResponse
	ChannelOpenRequest  ChannelOpenRequest
	ChannelOpenResponse ChannelOpenResponse
	ChannelInfoRequest  ChannelInfoRequest
	ChannelInfoResponse ChannelInfoResponse
	StateUpdateProposal StateUpdateProposal
	StateUpdateAck      StateUpdateAck
	Ping                Ping
	Pong                Pong
}

// EncodeGossipMessage canonically encodes a GossipMessage for transport.
func EncodeGossipMessage(m GossipMessage) []byte {
	e := newEncoder()
	e.writeU8(uint8(m.Kind))
	switch m.Kind {
	case GossipListingBroadcast:
		writeListingBody(e, m.ListingBroadcast.Listing)
		e.writeSignature(m.ListingBroadcast.Signature)
		e.writeTimestamp(m.ListingBroadcast.Timestamp)
	case GossipListingsRequest:
		e.writeHash(m.ListingsRequest.RequestID)
	case GossipListingsResponse:
		e.writeHash(m.ListingsResponse.RequestID)
		e.writeU64(uint64(len(m.ListingsResponse.Listings)))
		for _, sl := range m.ListingsResponse.Listings {
			writeListingBody(e, sl.Listing)
			e.writeSignature(sl.Signature)
		}
	case GossipChannelOpenRequest:
		e.writePublicKey(m.ChannelOpenRequest.Participants[0])
		e.writePublicKey(m.ChannelOpenRequest.Participants[1])
		e.writeU64(uint64(len(m.ChannelOpenRequest.Participants)))
		for _, pk := range m.ChannelOpenRequest.Participants {
			e.writePublicKey(pk)
			e.writeAmount(m.ChannelOpenRequest.InitialBalances[pk])
		}
	case GossipChannelOpenResponse:
		e.writeBool(m.ChannelOpenResponse.Accepted)
		e.writeHash(m.ChannelOpenResponse.ChannelID)
	case GossipChannelInfoRequest:
		e.writeHash(m.ChannelInfoRequest.ChannelID)
	case GossipChannelInfoResponse:
		e.writeHash(m.ChannelInfoResponse.ChannelID)
		e.writeBool(m.ChannelInfoResponse.Found)
		e.writeU8(uint8(m.ChannelInfoResponse.Status))
		e.writeU64(m.ChannelInfoResponse.Nonce)
		e.writeHash(m.ChannelInfoResponse.StateRoot)
	case GossipStateUpdateProposal:
		e.writeHash(m.StateUpdateProposal.ChannelID)
		writeStateUpdateBody(e, m.StateUpdateProposal.Update)
		e.writeU64(m.StateUpdateProposal.Nonce)
	case GossipStateUpdateAck:
		e.writeHash(m.StateUpdateAck.ChannelID)
		e.writeU64(m.StateUpdateAck.Nonce)
		e.writeSignature(m.StateUpdateAck.Signature)
	case GossipPing:
		e.writeU64(m.Ping.Nonce)
	case GossipPong:
		e.writeU64(m.Pong.Nonce)
	}
	return e.bytes()
}

// DecodeGossipMessage decodes a message written by EncodeGossipMessage.
func DecodeGossipMessage(b []byte) (GossipMessage, error) {
	d, err := newDecoder(b)
	if err != nil {
		return GossipMessage{}, err
	}
	kindByte, err := d.readU8()
	if err != nil {
		return GossipMessage{}, err
	}
	kind := GossipKind(kindByte)
	m := GossipMessage{Kind: kind}

	switch kind {
	case GossipListingBroadcast:
		l, err := decodeListing(d)
		if err != nil {
			return m, err
		}
		sig, err := d.readSignature()
		if err != nil {
			return m, err
		}
		ts, err := d.readTimestamp()
		if err != nil {
			return m, err
		}
		m.ListingBroadcast = ListingBroadcast{Listing: l, Signature: sig, Timestamp: ts}

	case GossipListingsRequest:
		id, err := d.readHash()
		if err != nil {
			return m, err
		}
		m.ListingsRequest = ListingsRequest{RequestID: id}

	case GossipListingsResponse:
		id, err := d.readHash()
		if err != nil {
			return m, err
		}
		n, err := d.readU64()
		if err != nil {
			return m, err
		}
		listings := make([]SignedListing, 0, n)
		for i := uint64(0); i < n; i++ {
			l, err := decodeListing(d)
			if err != nil {
				return m, err
			}
			sig, err := d.readSignature()
			if err != nil {
				return m, err
			}
			listings = append(listings, SignedListing{Listing: l, Signature: sig})
		}
		m.ListingsResponse = ListingsResponse{RequestID: id, Listings: listings}

	case GossipChannelOpenRequest:
		p0, err := d.readPublicKey()
		if err != nil {
			return m, err
		}
		p1, err := d.readPublicKey()
		if err != nil {
			return m, err
		}
		n, err := d.readU64()
		if err != nil {
			return m, err
		}
		balances := make(map[PublicKey]Amount, n)
		for i := uint64(0); i < n; i++ {
			pk, err := d.readPublicKey()
			if err != nil {
				return m, err
			}
			amt, err := d.readAmount()
			if err != nil {
				return m, err
			}
			balances[pk] = amt
		}
		m.ChannelOpenRequest = ChannelOpenRequest{Participants: [2]PublicKey{p0, p1}, InitialBalances: balances}

	case GossipChannelOpenResponse:
		accepted, err := d.readBool()
		if err != nil {
			return m, err
		}
		id, err := d.readHash()
		if err != nil {
			return m, err
		}
		m.ChannelOpenResponse = ChannelOpenResponse{Accepted: accepted, ChannelID: id}

	case GossipChannelInfoRequest:
		id, err := d.readHash()
		if err != nil {
			return m, err
		}
		m.ChannelInfoRequest = ChannelInfoRequest{ChannelID: id}

	case GossipChannelInfoResponse:
		id, err := d.readHash()
		if err != nil {
			return m, err
		}
		found, err := d.readBool()
		if err != nil {
			return m, err
		}
		status, err := d.readU8()
		if err != nil {
			return m, err
		}
		nonce, err := d.readU64()
		if err != nil {
			return m, err
		}
		root, err := d.readHash()
		if err != nil {
			return m, err
		}
		m.ChannelInfoResponse = ChannelInfoResponse{ChannelID: id, Found: found, Status: ChannelStatus(status), Nonce: nonce, StateRoot: root}

	case GossipStateUpdateProposal:
		id, err := d.readHash()
		if err != nil {
			return m, err
		}
		u, err := decodeStateUpdate(d)
		if err != nil {
			return m, err
		}
		nonce, err := d.readU64()
		if err != nil {
			return m, err
		}
		m.StateUpdateProposal = StateUpdateProposal{ChannelID: id, Update: u, Nonce: nonce}

	case GossipStateUpdateAck:
		id, err := d.readHash()
		if err != nil {
			return m, err
		}
		nonce, err := d.readU64()
		if err != nil {
			return m, err
		}
		sig, err := d.readSignature()
		if err != nil {
			return m, err
		}
		m.StateUpdateAck = StateUpdateAck{ChannelID: id, Nonce: nonce, Signature: sig}

	case GossipPing:
		n, err := d.readU64()
		if err != nil {
			return m, err
		}
		m.Ping = Ping{Nonce: n}

	case GossipPong:
		n, err := d.readU64()
		if err != nil {
			return m, err
		}
		m.Pong = Pong{Nonce: n}

	default:
		return m, newErr(ErrSerialization, "unknown gossip kind %d", kind)
	}
	return m, nil
}

// Dedup tracks message content hashes and listing ids already seen, per
// §4.6: "deduplicates by message content hash at the transport and by
// listing id at the application layer."
type Dedup struct {
	mu           sync.Mutex
	seenContent  map[Hash]struct{}
	seenListings map[Hash]struct{}
}

// NewDedup builds an empty Dedup tracker.
func NewDedup() *Dedup {
	return &Dedup{
		seenContent:  make(map[Hash]struct{}),
		seenListings: make(map[Hash]struct{}),
	}
}

// SeenContent reports whether payload's content hash was already recorded,
// recording it if not (i.e. it returns true on the *second and later* call
// for the same bytes).
func (d *Dedup) SeenContent(payload []byte) bool {
	h := HashData(payload)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenContent[h]; ok {
		return true
	}
	d.seenContent[h] = struct{}{}
	return false
}

// SeenListing reports whether a listing id was already recorded, recording
// it if not.
func (d *Dedup) SeenListing(id Hash) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenListings[id]; ok {
		return true
	}
	d.seenListings[id] = struct{}{}
	return false
}

// VerifyListingBroadcast checks that signature is a valid signature by
// listing.Seller over serialize(listing) (§4.6: "signs the listing body;
// the receiver verifies before ingestion").
func VerifyListingBroadcast(b ListingBroadcast) bool {
	return Verify(b.Listing.Seller, SerializeListing(b.Listing), b.Signature)
}

// IngestListingsResponse validates and filters a bulk ListingsResponse:
// each entry is verified against its own embedded signature over
// serialize(listing), keyed by listing.Seller, rather than trusted
// unconditionally. Entries that fail verification or duplicate an id
// already in dedup are dropped; the rest are returned for the caller to
// persist and insert into global listings.
func IngestListingsResponse(resp ListingsResponse, dedup *Dedup) []Listing {
	var accepted []Listing
	for _, sl := range resp.Listings {
		if !Verify(sl.Listing.Seller, SerializeListing(sl.Listing), sl.Signature) {
			continue
		}
		if dedup.SeenListing(sl.Listing.ID) {
			continue
		}
		accepted = append(accepted, sl.Listing)
	}
	return accepted
}
