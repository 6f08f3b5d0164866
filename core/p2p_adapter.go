package core

// p2p_adapter.go – a libp2p-backed P2PAdapter: a libp2p host running
// go-libp2p-pubsub GossipSub, with mDNS for local peer discovery and a
// static bootstrap peer list for everything else.

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// LibP2PAdapter implements P2PAdapter over a real libp2p host with
// GossipSub and mDNS peer discovery.
type LibP2PAdapter struct {
	host   host.Host
	pubsub *pubsub.PubSub
	log    *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic
}

// NewLibP2PAdapter bootstraps a host listening on listenAddr, joins
// GossipSub, starts mDNS discovery under discoveryTag, and dials any
// bootstrapPeers given as multiaddrs.
func NewLibP2PAdapter(listenAddr, discoveryTag string, bootstrapPeers []string, log *logrus.Logger) (*LibP2PAdapter, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, wrapErr(ErrNetwork, err, "create libp2p host")
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, wrapErr(ErrNetwork, err, "create gossipsub")
	}

	a := &LibP2PAdapter{
		host:   h,
		pubsub: ps,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
	}

	for _, addr := range bootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.Warnf("p2p adapter: invalid bootstrap addr %s: %v", addr, err)
			continue
		}
		if err := h.Connect(ctx, *pi); err != nil {
			log.Warnf("p2p adapter: dial bootstrap %s: %v", addr, err)
			continue
		}
	}

	notifee := &mdnsNotifee{host: h, log: log}
	if err := mdns.NewMdnsService(h, discoveryTag, notifee).Start(); err != nil {
		log.Warnf("p2p adapter: mdns discovery unavailable: %v", err)
	}

	return a, nil
}

type mdnsNotifee struct {
	host host.Host
	log  *logrus.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.log.Warnf("p2p adapter: mdns connect to %s failed: %v", info.ID, err)
		return
	}
	n.log.Infof("p2p adapter: connected to %s via mdns", info.ID)
}

func (a *LibP2PAdapter) joinedTopic(topic string) (*pubsub.Topic, error) {
	a.topicLock.Lock()
	defer a.topicLock.Unlock()
	t, ok := a.topics[topic]
	if ok {
		return t, nil
	}
	t, err := a.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	a.topics[topic] = t
	return t, nil
}

// Broadcast publishes payload on topic, joining it on first use.
func (a *LibP2PAdapter) Broadcast(ctx context.Context, topic string, payload []byte) error {
	t, err := a.joinedTopic(topic)
	if err != nil {
		return wrapErr(ErrNetwork, err, "broadcast")
	}
	if err := t.Publish(ctx, payload); err != nil {
		return wrapErr(ErrNetwork, err, "publish topic "+topic)
	}
	return nil
}

// Subscribe joins topic and invokes handler for every inbound message,
// including the adapter's own publishes (callers dedup by content hash per
// §4.6). Blocks until ctx is cancelled or the subscription errors.
func (a *LibP2PAdapter) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	t, err := a.joinedTopic(topic)
	if err != nil {
		return wrapErr(ErrNetwork, err, "subscribe")
	}
	sub, err := t.Subscribe()
	if err != nil {
		return wrapErr(ErrNetwork, err, "subscribe topic "+topic)
	}
	defer sub.Cancel()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return wrapErr(ErrNetwork, err, "subscription next")
		}
		handler(msg.Data)
	}
}

// Close tears down the pubsub context and host.
func (a *LibP2PAdapter) Close() error {
	a.cancel()
	return a.host.Close()
}
