package core

// adapters.go – the opaque L1 and P2P contracts the manager calls through
// (§6). The core never implements a chain client or transport itself; it
// only defines what it needs from one and carries safe no-op defaults so
// the rest of the system runs without either wired.

import (
	"context"

	"github.com/sirupsen/logrus"
)

// L1Adapter is the boundary to the external UTXO layer-1 chain. Every
// method may fail; per §6/§7 only checkpoint/dispute failures on an
// already-disputed channel are correctness-critical — collateral lock/
// unlock failures are downgraded to warnings by the manager.
type L1Adapter interface {
	LockCollateral(ctx context.Context, channelID Hash, amount Amount, participants [2]PublicKey) (txID string, err error)
	UnlockCollateral(ctx context.Context, channelID Hash, finalBalances map[PublicKey]Amount) (txID string, err error)
	CheckpointState(ctx context.Context, channelID Hash, stateRoot Hash, signatures []Signature, blockHeight uint64) (txID string, err error)
	SubmitDispute(ctx context.Context, channelID Hash, proof DisputeProof) (txID string, err error)
}

// DisputeProof is the evidence submitted to L1 to contest a channel's final
// state: the latest fully-signed update plus the state-history tail since
// the last checkpoint, so an on-chain verifier can replay it.
type DisputeProof struct {
	ChannelID     Hash
	Latest        SignedStateUpdate
	HistorySince  []SignedStateUpdate
	DisputedState Hash
}

// P2PAdapter is the boundary to the gossip transport. Broadcast fires a
// message on a topic; Subscribe delivers inbound messages to handler until
// ctx is cancelled.
type P2PAdapter interface {
	Broadcast(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error
}

// NoopL1Adapter is an L1Adapter that performs no on-chain calls. Collateral
// and checkpoint calls succeed with an empty tx id; SubmitDispute fails with
// a NetworkError. Used for CLI/test runs without an L1 endpoint configured,
// keeping channel/escrow flows usable offline.
type NoopL1Adapter struct {
	log *logrus.Logger
}

// NewNoopL1Adapter builds a NoopL1Adapter, logging collateral and
// checkpoint calls at debug level so its use is visible in logs without
// being noisy by default; SubmitDispute logs at warn level.
func NewNoopL1Adapter(log *logrus.Logger) *NoopL1Adapter {
	return &NoopL1Adapter{log: log}
}

func (a *NoopL1Adapter) LockCollateral(_ context.Context, channelID Hash, amount Amount, _ [2]PublicKey) (string, error) {
	a.log.WithFields(logrus.Fields{"channel_id": channelID, "amount": amount}).Debug("l1 adapter: lock_collateral no-op")
	return "", nil
}

func (a *NoopL1Adapter) UnlockCollateral(_ context.Context, channelID Hash, _ map[PublicKey]Amount) (string, error) {
	a.log.WithField("channel_id", channelID).Debug("l1 adapter: unlock_collateral no-op")
	return "", nil
}

func (a *NoopL1Adapter) CheckpointState(_ context.Context, channelID Hash, stateRoot Hash, _ []Signature, blockHeight uint64) (string, error) {
	a.log.WithFields(logrus.Fields{"channel_id": channelID, "state_root": stateRoot, "block_height": blockHeight}).Debug("l1 adapter: checkpoint_state no-op")
	return "", nil
}

func (a *NoopL1Adapter) SubmitDispute(_ context.Context, channelID Hash, _ DisputeProof) (string, error) {
	a.log.WithField("channel_id", channelID).Warn("l1 adapter: submit_dispute has no L1 connectivity configured")
	return "", newErr(ErrNetwork, "submit_dispute: no L1 adapter configured")
}

// NoopP2PAdapter is a P2PAdapter that drops every broadcast and never
// delivers inbound messages. Used when a node runs without gossip wired.
type NoopP2PAdapter struct {
	log *logrus.Logger
}

func NewNoopP2PAdapter(log *logrus.Logger) *NoopP2PAdapter {
	return &NoopP2PAdapter{log: log}
}

func (a *NoopP2PAdapter) Broadcast(_ context.Context, topic string, payload []byte) error {
	a.log.WithFields(logrus.Fields{"topic": topic, "bytes": len(payload)}).Debug("p2p adapter: broadcast no-op")
	return nil
}

func (a *NoopP2PAdapter) Subscribe(ctx context.Context, topic string, _ func(payload []byte)) error {
	a.log.WithField("topic", topic).Debug("p2p adapter: subscribe no-op, blocking until cancelled")
	<-ctx.Done()
	return ctx.Err()
}
