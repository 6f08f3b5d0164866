package core

// channel.go – the off-chain payment/state channel object and its lifecycle
// FSM: Opening → Active → Closing → Closed, with a side branch to
// Challenged. Every balance-affecting transition is an Ed25519-multisigned
// SignedStateUpdate applied through ApplyUpdate, never mutated directly.

import (
	"sync"
)

// ChannelStatus is the lifecycle state of a MarketplaceChannel.
type ChannelStatus uint8

const (
	ChannelOpening ChannelStatus = iota
	ChannelActive
	ChannelClosing
	ChannelChallenged
	ChannelClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelOpening:
		return "Opening"
	case ChannelActive:
		return "Active"
	case ChannelClosing:
		return "Closing"
	case ChannelChallenged:
		return "Challenged"
	case ChannelClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SignedStateUpdate pairs a StateUpdate with the nonce it targets and every
// participant's signature over serialize(update) ‖ u64_le(nonce).
type SignedStateUpdate struct {
	Update     StateUpdate
	Nonce      uint64
	Signatures map[PublicKey]Signature
}

// Verify reports whether signatures cover exactly the given participants
// and every one verifies against the canonical signed payload.
func (s SignedStateUpdate) Verify(participants [2]PublicKey) bool {
	if len(s.Signatures) != len(participants) {
		return false
	}
	payload := SerializeSignedPayload(s.Update, s.Nonce)
	for _, pk := range participants {
		sig, ok := s.Signatures[pk]
		if !ok {
			return false
		}
		if !Verify(pk, payload, sig) {
			return false
		}
	}
	return true
}

// ChannelConfig parameterizes the creation of a new MarketplaceChannel.
type ChannelConfig struct {
	Participants        [2]PublicKey
	InitialBalances     map[PublicKey]Amount
	ChallengePeriodSecs uint64
}

// MarketplaceChannel is a bilateral off-chain ledger between two
// participants, collateralized on L1.
type MarketplaceChannel struct {
	mu sync.RWMutex

	ChannelID           Hash
	Participants        [2]PublicKey
	Collateral          Amount
	State               ChannelState
	Status              ChannelStatus
	ChallengePeriodSecs uint64
	StateHistory        []SignedStateUpdate
}

// DeriveChannelID computes channel_id = BLAKE3(serialize(participants)).
// Channels sharing the same participant pair collide by design (§3/§9):
// two parties have exactly one channel unless the id derivation is salted.
func DeriveChannelID(participants [2]PublicKey) Hash {
	return HashData(SerializeParticipants(participants))
}

// NewMarketplaceChannel constructs a channel in the Opening state.
func NewMarketplaceChannel(cfg ChannelConfig) (*MarketplaceChannel, error) {
	var collateral Amount
	for _, v := range cfg.InitialBalances {
		var err error
		collateral, err = collateral.Add(v)
		if err != nil {
			return nil, wrapErr(ErrInvalidParameter, err, "collateral overflow")
		}
	}
	return &MarketplaceChannel{
		ChannelID:           DeriveChannelID(cfg.Participants),
		Participants:        cfg.Participants,
		Collateral:          collateral,
		State:               NewChannelState(cfg.InitialBalances),
		Status:              ChannelOpening,
		ChallengePeriodSecs: cfg.ChallengePeriodSecs,
	}, nil
}

// Activate transitions Opening → Active.
func (c *MarketplaceChannel) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != ChannelOpening {
		return newErr(ErrInvalidChannelState, "activate: channel is %s, want Opening", c.Status)
	}
	c.Status = ChannelActive
	return nil
}

// InitiateClose transitions Active → Closing.
func (c *MarketplaceChannel) InitiateClose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != ChannelActive {
		return newErr(ErrInvalidChannelState, "initiate_close: channel is %s, want Active", c.Status)
	}
	c.Status = ChannelClosing
	return nil
}

// Challenge transitions Active or Closing into Challenged. Reserved for a
// future dispute flow; the core only gates it on status today (§4.2).
func (c *MarketplaceChannel) Challenge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != ChannelActive && c.Status != ChannelClosing {
		return newErr(ErrInvalidChannelState, "challenge: channel is %s, want Active or Closing", c.Status)
	}
	c.Status = ChannelChallenged
	return nil
}

// Finalize transitions Closing or Challenged into Closed.
func (c *MarketplaceChannel) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != ChannelClosing && c.Status != ChannelChallenged {
		return newErr(ErrInvalidChannelState, "finalize: channel is %s, want Closing or Challenged", c.Status)
	}
	c.Status = ChannelClosed
	return nil
}

// ApplyUpdate enforces, in order: channel must be Active; nonce must be
// current+1; every participant signature must verify; the pure Apply rules
// must succeed. On any failure the channel is left byte-for-byte unchanged
// (§4.1: "atomic: never partial").
func (c *MarketplaceChannel) ApplyUpdate(signed SignedStateUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status != ChannelActive {
		return newErr(ErrInvalidChannelState, "apply_update: channel is %s, want Active", c.Status)
	}
	if signed.Nonce != c.State.Nonce+1 {
		return newErr(ErrInvalidStateTransition, "apply_update: nonce %d, want %d", signed.Nonce, c.State.Nonce+1)
	}
	if !signed.Verify(c.Participants) {
		return newErr(ErrInvalidSignature, "apply_update: signature set invalid")
	}

	newState, err := Apply(c.State, signed.Update)
	if err != nil {
		return err
	}

	c.State = newState
	c.StateHistory = append(c.StateHistory, signed)
	return nil
}

// StateRoot returns BLAKE3(serialize(state)), the value an L1 adapter would
// anchor as a checkpoint.
func (c *MarketplaceChannel) StateRoot() Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateRootLocked()
}

func (c *MarketplaceChannel) stateRootLocked() Hash {
	order := []PublicKey{c.Participants[0], c.Participants[1]}
	return HashData(SerializeChannelState(c.State, order))
}

// Snapshot returns a value copy of the channel's current fields, safe to
// read or serialize without holding the channel's lock afterward.
func (c *MarketplaceChannel) Snapshot() MarketplaceChannelView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return MarketplaceChannelView{
		ChannelID:           c.ChannelID,
		Participants:        c.Participants,
		Collateral:          c.Collateral,
		State:               c.State.clone(),
		Status:              c.Status,
		ChallengePeriodSecs: c.ChallengePeriodSecs,
		StateHistory:        append([]SignedStateUpdate(nil), c.StateHistory...),
		StateRoot:           c.stateRootLocked(),
	}
}

// MarketplaceChannelView is a point-in-time, lock-free copy of a channel's
// state, used for persistence and for returning data to callers.
type MarketplaceChannelView struct {
	ChannelID           Hash
	Participants        [2]PublicKey
	Collateral          Amount
	State               ChannelState
	Status              ChannelStatus
	ChallengePeriodSecs uint64
	StateHistory        []SignedStateUpdate
	StateRoot           Hash
}

// GetBalance returns the balance of participant within the channel.
func (c *MarketplaceChannel) GetBalance(participant PublicKey) (Amount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if participant != c.Participants[0] && participant != c.Participants[1] {
		return 0, newErr(ErrParticipantNotFound, "participant %s not in channel", participant)
	}
	return c.State.Balances[participant], nil
}

// TruncateHistory drops state_history entries older than keepFrom, retaining
// only the post-checkpoint tail needed to produce a future dispute proof
// (§9: "implementers SHOULD truncate after L1 checkpoint").
func (c *MarketplaceChannel) TruncateHistory(keepFrom int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keepFrom <= 0 || keepFrom >= len(c.StateHistory) {
		return
	}
	c.StateHistory = append([]SignedStateUpdate(nil), c.StateHistory[keepFrom:]...)
}
