package core

// serialize.go – the single canonical binary encoding used everywhere a
// byte sequence must be deterministic: signed payloads, channel_id
// derivation, and state_root hashing. Length-prefixed, little-endian,
// fixed-width arrays, versioned with a leading byte so future schema
// changes can be migrated (§6/§9).

import (
	"bytes"
	"encoding/binary"
)

// wireVersion is a leading version byte on every encoded record, so future
// schema changes can be migrated (spec §6: "implementers SHOULD version the
// serialized records").
const wireVersion = 1

type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder {
	e := &encoder{}
	e.buf.WriteByte(wireVersion)
	return e
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

func (e *encoder) writeU8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.writeU8(1)
	} else {
		e.writeU8(0)
	}
}

func (e *encoder) writeFixed(b []byte) { e.buf.Write(b) }

// writeBytes writes a u32-length-prefixed byte slice.
func (e *encoder) writeBytes(b []byte) {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(b)))
	e.buf.Write(lb[:])
	e.buf.Write(b)
}

func (e *encoder) writeString(s string) { e.writeBytes([]byte(s)) }

func (e *encoder) writeHash(h Hash)           { e.writeFixed(h[:]) }
func (e *encoder) writePublicKey(p PublicKey) { e.writeFixed(p[:]) }
func (e *encoder) writeAmount(a Amount)       { e.writeU64(uint64(a)) }
func (e *encoder) writeTimestamp(t Timestamp) { e.writeU64(uint64(t)) }
func (e *encoder) writeSignature(s Signature) { e.writeFixed(s[:]) }

// decoder reads back values written by encoder, in the same order. It is
// used by the persistence codec (persist.go) and by DecodeGossipMessage
// (gossip.go) — the hash/signature payloads are never decoded.
type decoder struct {
	buf []byte
	off int
}

func newDecoder(b []byte) (*decoder, error) {
	if len(b) < 1 {
		return nil, newErr(ErrSerialization, "empty record")
	}
	if b[0] != wireVersion {
		return nil, newErr(ErrSerialization, "unsupported wire version %d", b[0])
	}
	return &decoder{buf: b, off: 1}, nil
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) readU8() (uint8, error) {
	if d.remaining() < 1 {
		return 0, newErr(ErrSerialization, "truncated u8")
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) readU64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, newErr(ErrSerialization, "truncated u64")
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off : d.off+8])
	d.off += 8
	return v, nil
}

func (d *decoder) readBool() (bool, error) {
	v, err := d.readU8()
	return v != 0, err
}

func (d *decoder) readFixed(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, newErr(ErrSerialization, "truncated fixed(%d)", n)
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	return v, nil
}

func (d *decoder) readBytes() ([]byte, error) {
	if d.remaining() < 4 {
		return nil, newErr(ErrSerialization, "truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return d.readFixed(int(n))
}

func (d *decoder) readString() (string, error) {
	b, err := d.readBytes()
	return string(b), err
}

func (d *decoder) readHash() (Hash, error) {
	var h Hash
	b, err := d.readFixed(HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func (d *decoder) readPublicKey() (PublicKey, error) {
	var p PublicKey
	b, err := d.readFixed(PublicKeySize)
	if err != nil {
		return p, err
	}
	copy(p[:], b)
	return p, nil
}

func (d *decoder) readSignature() (Signature, error) {
	var s Signature
	b, err := d.readFixed(SignatureSize)
	if err != nil {
		return s, err
	}
	copy(s[:], b)
	return s, nil
}

func (d *decoder) readAmount() (Amount, error) {
	v, err := d.readU64()
	return Amount(v), err
}

func (d *decoder) readTimestamp() (Timestamp, error) {
	v, err := d.readU64()
	return Timestamp(v), err
}

// SerializeParticipants canonically encodes a 2-party participant set for
// channel_id derivation. Order matters and is NOT normalized — callers must
// supply participants in a fixed, agreed order.
func SerializeParticipants(participants [2]PublicKey) []byte {
	e := newEncoder()
	e.writePublicKey(participants[0])
	e.writePublicKey(participants[1])
	return e.bytes()
}

// writeListingBody appends a Listing's fields to e with no leading version
// byte, so it can be embedded inside a larger record without desyncing that
// record's own decoder. SerializeListing and every embedding site (an
// update, a channel record, a gossip message) funnel through this so there
// is exactly one version byte per top-level encode/decode pair.
func writeListingBody(e *encoder, l Listing) {
	e.writeHash(l.ID)
	e.writePublicKey(l.Seller)
	e.writeString(l.Title)
	e.writeString(l.Description)
	e.writeAmount(l.Price)
	e.writeString(l.IPFSHash)
	e.writeBool(l.Active)
}

// SerializeListing canonically encodes a Listing, used both as the gossip
// signed payload and as the persisted record body.
func SerializeListing(l Listing) []byte {
	e := newEncoder()
	writeListingBody(e, l)
	return e.bytes()
}

// writeOrderBody appends an Order's fields to e with no leading version byte.
func writeOrderBody(e *encoder, o Order) {
	e.writeHash(o.ID)
	e.writeHash(o.ListingID)
	e.writePublicKey(o.Buyer)
	e.writePublicKey(o.Seller)
	e.writeAmount(o.Amount)
	e.writeU8(uint8(o.Status))
}

// SerializeOrder canonically encodes an Order.
func SerializeOrder(o Order) []byte {
	e := newEncoder()
	writeOrderBody(e, o)
	return e.bytes()
}

// writeStateUpdateBody appends a StateUpdate's fields to e with no leading
// version byte.
func writeStateUpdateBody(e *encoder, u StateUpdate) {
	e.writeU8(uint8(u.Kind))
	switch u.Kind {
	case UpdateTransfer:
		e.writePublicKey(u.Transfer.From)
		e.writePublicKey(u.Transfer.To)
		e.writeAmount(u.Transfer.Amount)
	case UpdateCreateListing:
		writeListingBody(e, u.CreateListing.Listing)
	case UpdateUpdateListing:
		e.writeHash(u.UpdateListing.ListingID)
		e.writeBool(u.UpdateListing.Active)
	case UpdateCreateOrder:
		writeOrderBody(e, u.CreateOrder.Order)
	case UpdateOrderStatusChange:
		e.writeHash(u.UpdateOrderStatus.OrderID)
		e.writeU8(uint8(u.UpdateOrderStatus.Status))
	}
}

// SerializeStateUpdate canonically encodes a StateUpdate variant. This is
// the payload that gets `‖ u64_le(nonce)` appended before signing (§4.1).
func SerializeStateUpdate(u StateUpdate) []byte {
	e := newEncoder()
	writeStateUpdateBody(e, u)
	return e.bytes()
}

// SerializeSignedPayload builds the exact byte sequence that every
// participant signature in a SignedStateUpdate is taken over:
// serialize(update) ‖ u64_le(nonce).
func SerializeSignedPayload(update StateUpdate, nonce uint64) []byte {
	body := SerializeStateUpdate(update)
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	out := make([]byte, 0, len(body)+8)
	out = append(out, body...)
	out = append(out, nb[:]...)
	return out
}

// SerializeChannelState canonically encodes a ChannelState for state_root
// hashing. Balances are encoded by participant in the channel's fixed
// participant order (supplied by the caller) so the same logical state
// always produces the same bytes regardless of Go map iteration order.
func SerializeChannelState(s ChannelState, participantOrder []PublicKey) []byte {
	e := newEncoder()
	e.writeU64(s.Nonce)
	e.writeU64(uint64(len(participantOrder)))
	for _, pk := range participantOrder {
		e.writePublicKey(pk)
		e.writeAmount(s.Balances[pk])
	}
	e.writeU64(uint64(len(s.Listings)))
	for _, l := range s.Listings {
		writeListingBody(e, l)
	}
	e.writeU64(uint64(len(s.Orders)))
	for _, o := range s.Orders {
		writeOrderBody(e, o)
	}
	return e.bytes()
}
