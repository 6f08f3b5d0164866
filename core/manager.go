package core

// manager.go – the concurrency façade over channels, global listings, and
// escrows (§4.4/§5). Each of the three maps is guarded by its own
// sync.RWMutex; a lock is held for the full read-modify-write-persist span
// of an operation but never across a call into the L1 or P2P adapters.

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// MarketplaceManager is the single entry point for every channel, listing,
// and escrow operation. It owns no business logic beyond dispatch,
// locking, and persistence — the rules live in channel.go/channel_state.go/
// escrow.go.
type MarketplaceManager struct {
	self *KeyPair
	log  *logrus.Logger

	store KVStore
	l1    L1Adapter
	p2p   P2PAdapter
	dedup *Dedup

	channelsMu sync.RWMutex
	channels   map[Hash]*MarketplaceChannel

	listingsMu     sync.RWMutex
	globalListings map[Hash]Listing

	escrowsMu sync.RWMutex
	escrows   map[Hash]*EscrowContract
}

// NewMarketplaceManager builds an empty manager wired to store/l1/p2p. Call
// LoadChannels afterward to hydrate from persistent storage.
func NewMarketplaceManager(self *KeyPair, store KVStore, l1 L1Adapter, p2p P2PAdapter, log *logrus.Logger) *MarketplaceManager {
	return &MarketplaceManager{
		self:           self,
		log:            log,
		store:          store,
		l1:             l1,
		p2p:            p2p,
		dedup:          NewDedup(),
		channels:       make(map[Hash]*MarketplaceChannel),
		globalListings: make(map[Hash]Listing),
		escrows:        make(map[Hash]*EscrowContract),
	}
}

// LoadChannels hydrates the in-memory channel map from the store (§4.4:
// "load_channels").
func (m *MarketplaceManager) LoadChannels() error {
	ids, err := IterChannelIDs(m.store)
	if err != nil {
		return err
	}
	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()
	for _, id := range ids {
		ch, err := LoadChannel(m.store, id)
		if err != nil {
			return wrapErr(ErrDatabase, err, "load channel "+id.String())
		}
		m.channels[id] = ch
	}
	m.log.Infof("manager: loaded %d channels", len(m.channels))

	listingIDs, err := IterListingIDs(m.store)
	if err != nil {
		return err
	}
	m.listingsMu.Lock()
	defer m.listingsMu.Unlock()
	for _, id := range listingIDs {
		l, err := LoadListing(m.store, id)
		if err != nil {
			return wrapErr(ErrDatabase, err, "load listing "+id.String())
		}
		m.globalListings[id] = l
	}
	m.log.Infof("manager: loaded %d global listings", len(m.globalListings))
	return nil
}

// CreateChannel opens a new channel between two participants, persists it,
// and registers it in memory; after releasing the lock it attempts to lock
// collateral on L1 (best-effort: failure is a warning, not fatal per §7).
func (m *MarketplaceManager) CreateChannel(ctx context.Context, cfg ChannelConfig) (*MarketplaceChannel, error) {
	ch, err := NewMarketplaceChannel(cfg)
	if err != nil {
		return nil, err
	}

	m.channelsMu.Lock()
	if _, exists := m.channels[ch.ChannelID]; exists {
		m.channelsMu.Unlock()
		return nil, newErr(ErrChannelAlreadyExists, "channel %s already exists", ch.ChannelID)
	}
	if err := StoreChannel(m.store, ch.Snapshot()); err != nil {
		m.channelsMu.Unlock()
		return nil, err
	}
	m.channels[ch.ChannelID] = ch
	m.channelsMu.Unlock()

	if txID, err := m.l1.LockCollateral(ctx, ch.ChannelID, ch.Collateral, cfg.Participants); err != nil {
		m.log.Warnf("manager: lock_collateral failed for channel %s: %v", ch.ChannelID, err)
	} else {
		m.log.Infof("manager: locked collateral for channel %s, tx %s", ch.ChannelID, txID)
	}
	return ch, nil
}

// ActivateChannel transitions a channel Opening → Active and persists.
func (m *MarketplaceManager) ActivateChannel(id Hash) error {
	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()

	ch, ok := m.channels[id]
	if !ok {
		return newErr(ErrChannelNotFound, "channel %s not found", id)
	}
	if err := ch.Activate(); err != nil {
		return err
	}
	return StoreChannel(m.store, ch.Snapshot())
}

func (m *MarketplaceManager) getChannelLocked(id Hash) (*MarketplaceChannel, error) {
	ch, ok := m.channels[id]
	if !ok {
		return nil, newErr(ErrChannelNotFound, "channel %s not found", id)
	}
	return ch, nil
}

// CreateStateUpdate builds a partially-signed SignedStateUpdate targeting
// the channel's next nonce, self-signed but not yet applied (§4.4).
func (m *MarketplaceManager) CreateStateUpdate(id Hash, update StateUpdate) (SignedStateUpdate, error) {
	m.channelsMu.RLock()
	ch, err := m.getChannelLocked(id)
	if err != nil {
		m.channelsMu.RUnlock()
		return SignedStateUpdate{}, err
	}
	nonce := ch.State.Nonce + 1
	m.channelsMu.RUnlock()

	payload := SerializeSignedPayload(update, nonce)
	sig := m.self.Sign(payload)
	return SignedStateUpdate{
		Update:     update,
		Nonce:      nonce,
		Signatures: map[PublicKey]Signature{m.self.Public: sig},
	}, nil
}

// AddSignatureToUpdate co-signs an existing SignedStateUpdate with the
// local key, mutating it in place.
func (m *MarketplaceManager) AddSignatureToUpdate(signed *SignedStateUpdate) {
	payload := SerializeSignedPayload(signed.Update, signed.Nonce)
	signed.Signatures[m.self.Public] = m.self.Sign(payload)
}

// ApplyStateUpdate delegates to the channel's FSM and, on success, persists
// the channel atomically under the same write-lock span (§4.4/§5:
// "defer in-memory commit until persistence succeeds" is not literally
// possible once ApplyUpdate has mutated the channel in place, so failure
// of StoreChannel here is treated as a DatabaseError the caller must
// surface — the in-memory state is already the source of truth it will be
// retried against).
func (m *MarketplaceManager) ApplyStateUpdate(id Hash, signed SignedStateUpdate) error {
	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()

	ch, err := m.getChannelLocked(id)
	if err != nil {
		return err
	}
	if err := ch.ApplyUpdate(signed); err != nil {
		return err
	}
	return StoreChannel(m.store, ch.Snapshot())
}

// Transfer is a thin wrapper building a Transfer update signed only with
// the local node key; it does not apply it. The counterparty co-signs via
// AddSignatureToUpdate before the update goes to ApplyStateUpdate.
func (m *MarketplaceManager) Transfer(id Hash, from, to PublicKey, amount Amount) (SignedStateUpdate, error) {
	return m.CreateStateUpdate(id, NewTransfer(from, to, amount))
}

// CreateListing builds a CreateListing channel update.
func (m *MarketplaceManager) CreateListing(id Hash, listing Listing) (SignedStateUpdate, error) {
	return m.CreateStateUpdate(id, NewCreateListing(listing))
}

// CreateOrder builds a CreateOrder channel update.
func (m *MarketplaceManager) CreateOrder(id Hash, order Order) (SignedStateUpdate, error) {
	return m.CreateStateUpdate(id, NewCreateOrder(order))
}

// UpdateOrderStatus builds an UpdateOrderStatus channel update.
func (m *MarketplaceManager) UpdateOrderStatus(id Hash, orderID Hash, status OrderStatus) (SignedStateUpdate, error) {
	return m.CreateStateUpdate(id, NewUpdateOrderStatus(orderID, status))
}

// GetBalance reads a participant's balance within a channel.
func (m *MarketplaceManager) GetBalance(id Hash, participant PublicKey) (Amount, error) {
	m.channelsMu.RLock()
	defer m.channelsMu.RUnlock()
	ch, err := m.getChannelLocked(id)
	if err != nil {
		return 0, err
	}
	return ch.GetBalance(participant)
}

// CloseChannel initiates close, snapshots final balances, and persists;
// after releasing the lock it calls unlock_collateral best-effort.
func (m *MarketplaceManager) CloseChannel(ctx context.Context, id Hash) error {
	m.channelsMu.Lock()
	ch, err := m.getChannelLocked(id)
	if err != nil {
		m.channelsMu.Unlock()
		return err
	}
	if err := ch.InitiateClose(); err != nil {
		m.channelsMu.Unlock()
		return err
	}
	snap := ch.Snapshot()
	if err := StoreChannel(m.store, snap); err != nil {
		m.channelsMu.Unlock()
		return err
	}
	m.channelsMu.Unlock()

	if txID, err := m.l1.UnlockCollateral(ctx, id, snap.State.Balances); err != nil {
		m.log.Warnf("manager: unlock_collateral failed for channel %s: %v", id, err)
	} else {
		m.log.Infof("manager: unlocked collateral for channel %s, tx %s", id, txID)
	}
	return nil
}

// CreateGlobalListing constructs an active Listing, persists it, inserts it
// into global_listings, and — if P2P is wired — signs and broadcasts it.
func (m *MarketplaceManager) CreateGlobalListing(ctx context.Context, seller PublicKey, title, description string, price Amount, ipfsHash string) (Listing, error) {
	id, err := randomHash()
	if err != nil {
		return Listing{}, err
	}
	listing := Listing{
		ID:          id,
		Seller:      seller,
		Title:       title,
		Description: description,
		Price:       price,
		IPFSHash:    ipfsHash,
		Active:      true,
	}

	m.listingsMu.Lock()
	if err := StoreListing(m.store, listing); err != nil {
		m.listingsMu.Unlock()
		return Listing{}, err
	}
	m.globalListings[listing.ID] = listing
	m.listingsMu.Unlock()

	zap.L().Sugar().Infow("marketplace listing created", "listing", listing.ID.String(), "seller", seller.String())

	if m.p2p == nil {
		return listing, nil
	}
	sig := m.self.Sign(SerializeListing(listing))
	msg := EncodeGossipMessage(GossipMessage{
		Kind: GossipListingBroadcast,
		ListingBroadcast: ListingBroadcast{
			Listing:   listing,
			Signature: sig,
			Timestamp: Timestamp(0),
		},
	})
	if err := m.p2p.Broadcast(ctx, TopicMarketplace, msg); err != nil {
		m.log.Warnf("manager: broadcast listing %s failed: %v", listing.ID, err)
	}
	return listing, nil
}

// HandleReceivedListing verifies and, if new, ingests a gossip-received
// listing (§4.4/§4.6).
func (m *MarketplaceManager) HandleReceivedListing(b ListingBroadcast) error {
	if !VerifyListingBroadcast(b) {
		return newErr(ErrInvalidSignature, "listing %s: signature invalid", b.Listing.ID)
	}
	if m.dedup.SeenListing(b.Listing.ID) {
		return nil
	}
	m.listingsMu.Lock()
	defer m.listingsMu.Unlock()
	if _, exists := m.globalListings[b.Listing.ID]; exists {
		return nil
	}
	if err := StoreListing(m.store, b.Listing); err != nil {
		return err
	}
	m.globalListings[b.Listing.ID] = b.Listing
	return nil
}

// ListGlobalListings returns a snapshot of every listing this node currently
// knows about, local or gossip-received (§4.4).
func (m *MarketplaceManager) ListGlobalListings() []Listing {
	m.listingsMu.RLock()
	defer m.listingsMu.RUnlock()
	out := make([]Listing, 0, len(m.globalListings))
	for _, l := range m.globalListings {
		out = append(out, l)
	}
	return out
}

// RequestGlobalListings broadcasts a ListingsRequest to TopicMarketplace so
// peers answer with their known listings (§4.6). The request id is the
// BLAKE3 hash of a fresh uuid, since the request itself carries no payload
// to hash over — only correlation with the eventual response matters.
func (m *MarketplaceManager) RequestGlobalListings(ctx context.Context) (Hash, error) {
	if m.p2p == nil {
		return Hash{}, newErr(ErrNetwork, "no p2p adapter configured")
	}
	reqID := HashData([]byte(uuid.New().String()))
	msg := EncodeGossipMessage(GossipMessage{
		Kind:            GossipListingsRequest,
		ListingsRequest: ListingsRequest{RequestID: reqID},
	})
	if err := m.p2p.Broadcast(ctx, TopicMarketplace, msg); err != nil {
		return Hash{}, wrapErr(ErrNetwork, err, "broadcast listings request")
	}
	return reqID, nil
}

// HandleGossipMessage is the entry point for a message pulled off the p2p
// transport: it drops anything already seen by content hash, then decodes
// and dispatches listing broadcasts and listing responses into the manager.
// Every other message kind, including ListingsRequest and the channel and
// state-update variants, is accepted and ignored.
func (m *MarketplaceManager) HandleGossipMessage(payload []byte) error {
	if m.dedup.SeenContent(payload) {
		return nil
	}
	msg, err := DecodeGossipMessage(payload)
	if err != nil {
		return wrapErr(ErrSerialization, err, "decode gossip message")
	}
	switch msg.Kind {
	case GossipListingBroadcast:
		return m.HandleReceivedListing(msg.ListingBroadcast)
	case GossipListingsResponse:
		_, err := m.HandleListingsResponse(msg.ListingsResponse)
		return err
	default:
		return nil
	}
}

// HandleListingsResponse ingests a bulk ListingsResponse, verifying each
// entry's embedded signature (§4.9) and persisting the accepted ones.
func (m *MarketplaceManager) HandleListingsResponse(resp ListingsResponse) ([]Listing, error) {
	accepted := IngestListingsResponse(resp, m.dedup)

	m.listingsMu.Lock()
	defer m.listingsMu.Unlock()
	for _, l := range accepted {
		if _, exists := m.globalListings[l.ID]; exists {
			continue
		}
		if err := StoreListing(m.store, l); err != nil {
			return nil, err
		}
		m.globalListings[l.ID] = l
	}
	return accepted, nil
}

// CreateEscrow opens a new escrow contract for an order and registers it.
func (m *MarketplaceManager) CreateEscrow(listingID Hash, buyer, seller PublicKey, amount Amount, timeoutPeriodSecs uint64, now Timestamp) (*EscrowContract, error) {
	esc, err := NewEscrowContract(listingID, buyer, seller, amount, timeoutPeriodSecs, now)
	if err != nil {
		return nil, err
	}
	m.escrowsMu.Lock()
	defer m.escrowsMu.Unlock()
	m.escrows[esc.ID] = esc
	zap.L().Sugar().Infow("marketplace deal opened", "escrow", esc.ID.String(), "listing", listingID.String())
	return esc, nil
}

func (m *MarketplaceManager) getEscrowLocked(id Hash) (*EscrowContract, error) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, newErr(ErrInvalidParameter, "escrow %s not found", id)
	}
	return esc, nil
}

// FundEscrow transitions an escrow Created → Funded.
func (m *MarketplaceManager) FundEscrow(id Hash, l1TxID string, now Timestamp) error {
	m.escrowsMu.RLock()
	esc, err := m.getEscrowLocked(id)
	m.escrowsMu.RUnlock()
	if err != nil {
		return err
	}
	return esc.Fund(l1TxID, now)
}

// ShipEscrow transitions an escrow Funded → Shipped.
func (m *MarketplaceManager) ShipEscrow(id Hash, trackingInfo string, now Timestamp) error {
	m.escrowsMu.RLock()
	esc, err := m.getEscrowLocked(id)
	m.escrowsMu.RUnlock()
	if err != nil {
		return err
	}
	return esc.MarkShipped(trackingInfo, now)
}

// ConfirmEscrowReceipt transitions an escrow Shipped → Completed.
func (m *MarketplaceManager) ConfirmEscrowReceipt(id Hash, now Timestamp) error {
	m.escrowsMu.RLock()
	esc, err := m.getEscrowLocked(id)
	m.escrowsMu.RUnlock()
	if err != nil {
		return err
	}
	if err := esc.ConfirmReceipt(now); err != nil {
		return err
	}
	zap.L().Sugar().Infow("marketplace deal completed", "escrow", esc.ID.String())
	return nil
}

// RequestEscrowRefund transitions an escrow into RefundRequested.
func (m *MarketplaceManager) RequestEscrowRefund(id Hash, reason string, now Timestamp) error {
	m.escrowsMu.RLock()
	esc, err := m.getEscrowLocked(id)
	m.escrowsMu.RUnlock()
	if err != nil {
		return err
	}
	return esc.RequestRefund(reason, now)
}

// ApproveEscrowRefund transitions an escrow RefundRequested → Refunded.
func (m *MarketplaceManager) ApproveEscrowRefund(id Hash, now Timestamp) error {
	m.escrowsMu.RLock()
	esc, err := m.getEscrowLocked(id)
	m.escrowsMu.RUnlock()
	if err != nil {
		return err
	}
	return esc.ApproveRefund(now)
}

// RaiseEscrowDispute transitions an escrow into Disputed.
func (m *MarketplaceManager) RaiseEscrowDispute(id Hash, reason string, now Timestamp) error {
	m.escrowsMu.RLock()
	esc, err := m.getEscrowLocked(id)
	m.escrowsMu.RUnlock()
	if err != nil {
		return err
	}
	return esc.RaiseDispute(reason, now)
}

// CancelEscrow transitions an escrow Created → Cancelled.
func (m *MarketplaceManager) CancelEscrow(id Hash, now Timestamp) error {
	m.escrowsMu.RLock()
	esc, err := m.getEscrowLocked(id)
	m.escrowsMu.RUnlock()
	if err != nil {
		return err
	}
	return esc.Cancel(now)
}

// ProcessEscrowTimeouts auto-releases every Shipped escrow that has timed
// out, returning the ids it released (§4.4).
func (m *MarketplaceManager) ProcessEscrowTimeouts(now Timestamp) []Hash {
	m.escrowsMu.RLock()
	candidates := make([]*EscrowContract, 0, len(m.escrows))
	for _, esc := range m.escrows {
		candidates = append(candidates, esc)
	}
	m.escrowsMu.RUnlock()

	var released []Hash
	for _, esc := range candidates {
		if !esc.IsTimedOut(now) {
			continue
		}
		if err := esc.AutoRelease(now); err != nil {
			m.log.Warnf("manager: auto_release failed for escrow %s: %v", esc.ID, err)
			continue
		}
		released = append(released, esc.ID)
	}
	return released
}
