package core

// persist.go – full round-trip codecs for the two persisted record types
// named in §4.5 (`channels`, `listings`). Distinct from serialize.go's
// one-way signing/hashing payloads: these encode every field a channel or
// listing needs to survive a process restart, including status, history,
// and per-participant signatures, and decode back into the same struct.

// EncodeChannelRecord canonically encodes a channel snapshot for storage
// under the `channels` namespace, keyed by ChannelID.
func EncodeChannelRecord(v MarketplaceChannelView) []byte {
	e := newEncoder()
	e.writeHash(v.ChannelID)
	e.writePublicKey(v.Participants[0])
	e.writePublicKey(v.Participants[1])
	e.writeAmount(v.Collateral)
	e.writeU8(uint8(v.Status))
	e.writeU64(v.ChallengePeriodSecs)

	e.writeU64(v.State.Nonce)
	e.writeU64(uint64(len(v.Participants)))
	for _, pk := range [2]PublicKey{v.Participants[0], v.Participants[1]} {
		e.writePublicKey(pk)
		e.writeAmount(v.State.Balances[pk])
	}
	e.writeU64(uint64(len(v.State.Listings)))
	for _, l := range v.State.Listings {
		writeListingBody(e, l)
	}
	e.writeU64(uint64(len(v.State.Orders)))
	for _, o := range v.State.Orders {
		writeOrderBody(e, o)
	}

	e.writeU64(uint64(len(v.StateHistory)))
	for _, signed := range v.StateHistory {
		writeStateUpdateBody(e, signed.Update)
		e.writeU64(signed.Nonce)
		e.writeU64(uint64(len(signed.Signatures)))
		for _, pk := range [2]PublicKey{v.Participants[0], v.Participants[1]} {
			sig, ok := signed.Signatures[pk]
			if !ok {
				continue
			}
			e.writePublicKey(pk)
			e.writeSignature(sig)
		}
	}
	return e.bytes()
}

// DecodeChannelRecord decodes a record written by EncodeChannelRecord back
// into a MarketplaceChannel, ready to be handed to a manager. StateRoot is
// recomputed, not stored.
func DecodeChannelRecord(b []byte) (*MarketplaceChannel, error) {
	d, err := newDecoder(b)
	if err != nil {
		return nil, err
	}
	c := &MarketplaceChannel{}
	if c.ChannelID, err = d.readHash(); err != nil {
		return nil, err
	}
	if c.Participants[0], err = d.readPublicKey(); err != nil {
		return nil, err
	}
	if c.Participants[1], err = d.readPublicKey(); err != nil {
		return nil, err
	}
	if c.Collateral, err = d.readAmount(); err != nil {
		return nil, err
	}
	status, err := d.readU8()
	if err != nil {
		return nil, err
	}
	c.Status = ChannelStatus(status)
	if c.ChallengePeriodSecs, err = d.readU64(); err != nil {
		return nil, err
	}

	nonce, err := d.readU64()
	if err != nil {
		return nil, err
	}
	numBalances, err := d.readU64()
	if err != nil {
		return nil, err
	}
	balances := make(map[PublicKey]Amount, numBalances)
	for i := uint64(0); i < numBalances; i++ {
		pk, err := d.readPublicKey()
		if err != nil {
			return nil, err
		}
		amt, err := d.readAmount()
		if err != nil {
			return nil, err
		}
		balances[pk] = amt
	}
	numListings, err := d.readU64()
	if err != nil {
		return nil, err
	}
	listings := make([]Listing, 0, numListings)
	for i := uint64(0); i < numListings; i++ {
		l, err := decodeListing(d)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	numOrders, err := d.readU64()
	if err != nil {
		return nil, err
	}
	orders := make([]Order, 0, numOrders)
	for i := uint64(0); i < numOrders; i++ {
		o, err := decodeOrder(d)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	c.State = ChannelState{Nonce: nonce, Balances: balances, Listings: listings, Orders: orders}

	numHistory, err := d.readU64()
	if err != nil {
		return nil, err
	}
	history := make([]SignedStateUpdate, 0, numHistory)
	for i := uint64(0); i < numHistory; i++ {
		update, err := decodeStateUpdate(d)
		if err != nil {
			return nil, err
		}
		hNonce, err := d.readU64()
		if err != nil {
			return nil, err
		}
		numSigs, err := d.readU64()
		if err != nil {
			return nil, err
		}
		sigs := make(map[PublicKey]Signature, numSigs)
		for j := uint64(0); j < numSigs; j++ {
			pk, err := d.readPublicKey()
			if err != nil {
				return nil, err
			}
			sig, err := d.readSignature()
			if err != nil {
				return nil, err
			}
			sigs[pk] = sig
		}
		history = append(history, SignedStateUpdate{Update: update, Nonce: hNonce, Signatures: sigs})
	}
	c.StateHistory = history
	return c, nil
}

func decodeListing(d *decoder) (Listing, error) {
	var l Listing
	var err error
	if l.ID, err = d.readHash(); err != nil {
		return l, err
	}
	if l.Seller, err = d.readPublicKey(); err != nil {
		return l, err
	}
	if l.Title, err = d.readString(); err != nil {
		return l, err
	}
	if l.Description, err = d.readString(); err != nil {
		return l, err
	}
	if l.Price, err = d.readAmount(); err != nil {
		return l, err
	}
	if l.IPFSHash, err = d.readString(); err != nil {
		return l, err
	}
	if l.Active, err = d.readBool(); err != nil {
		return l, err
	}
	return l, nil
}

func decodeOrder(d *decoder) (Order, error) {
	var o Order
	var err error
	if o.ID, err = d.readHash(); err != nil {
		return o, err
	}
	if o.ListingID, err = d.readHash(); err != nil {
		return o, err
	}
	if o.Buyer, err = d.readPublicKey(); err != nil {
		return o, err
	}
	if o.Seller, err = d.readPublicKey(); err != nil {
		return o, err
	}
	if o.Amount, err = d.readAmount(); err != nil {
		return o, err
	}
	status, err := d.readU8()
	if err != nil {
		return o, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}

func decodeStateUpdate(d *decoder) (StateUpdate, error) {
	kindByte, err := d.readU8()
	if err != nil {
		return StateUpdate{}, err
	}
	kind := UpdateKind(kindByte)
	switch kind {
	case UpdateTransfer:
		from, err := d.readPublicKey()
		if err != nil {
			return StateUpdate{}, err
		}
		to, err := d.readPublicKey()
		if err != nil {
			return StateUpdate{}, err
		}
		amt, err := d.readAmount()
		if err != nil {
			return StateUpdate{}, err
		}
		return NewTransfer(from, to, amt), nil
	case UpdateCreateListing:
		l, err := decodeListing(d)
		if err != nil {
			return StateUpdate{}, err
		}
		return NewCreateListing(l), nil
	case UpdateUpdateListing:
		id, err := d.readHash()
		if err != nil {
			return StateUpdate{}, err
		}
		active, err := d.readBool()
		if err != nil {
			return StateUpdate{}, err
		}
		return NewUpdateListing(id, active), nil
	case UpdateCreateOrder:
		o, err := decodeOrder(d)
		if err != nil {
			return StateUpdate{}, err
		}
		return NewCreateOrder(o), nil
	case UpdateOrderStatusChange:
		id, err := d.readHash()
		if err != nil {
			return StateUpdate{}, err
		}
		status, err := d.readU8()
		if err != nil {
			return StateUpdate{}, err
		}
		return NewUpdateOrderStatus(id, OrderStatus(status)), nil
	default:
		return StateUpdate{}, newErr(ErrSerialization, "unknown update kind %d in record", kind)
	}
}

// EncodeListingRecord canonically encodes a Listing for storage under the
// `listings` namespace, keyed by Listing.ID. Identical wire shape to
// SerializeListing — kept as a distinct named entry point because the two
// call sites (signing vs. persistence) are conceptually different and may
// diverge later (§4.5 vs §9 signed payload).
func EncodeListingRecord(l Listing) []byte {
	return SerializeListing(l)
}

// DecodeListingRecord decodes a record written by EncodeListingRecord.
func DecodeListingRecord(b []byte) (Listing, error) {
	d, err := newDecoder(b)
	if err != nil {
		return Listing{}, err
	}
	return decodeListing(d)
}
