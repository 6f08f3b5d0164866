package main

// marketl2d – the CLI entry point: one cobra root command with node,
// channel, and listing subcommands.

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tari-l2/marketplace/core"
	"github.com/tari-l2/marketplace/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "marketl2d"}
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(channelCmd())
	rootCmd.AddCommand(listingCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// buildManager opens storage, generates a fresh node identity, and wires a
// P2PAdapter: a real LibP2PAdapter when cfg.Network.ListenAddr is set,
// falling back to NoopP2PAdapter for offline CLI use otherwise.
func buildManager(cfg *config.Config, log *logrus.Logger) (*core.MarketplaceManager, *core.LevelDBStore, core.P2PAdapter, error) {
	store, err := core.OpenLevelDBStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}
	self, err := core.GenerateKeyPair()
	if err != nil {
		return nil, nil, nil, err
	}
	l1 := core.NewNoopL1Adapter(log)

	var p2p core.P2PAdapter
	if cfg.Network.ListenAddr != "" {
		p2p, err = core.NewLibP2PAdapter(cfg.Network.ListenAddr, cfg.Network.DiscoveryTag, cfg.Network.BootstrapPeers, log)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		p2p = core.NewNoopP2PAdapter(log)
	}

	m := core.NewMarketplaceManager(self, store, l1, p2p, log)
	if err := m.LoadChannels(); err != nil {
		return nil, nil, nil, err
	}
	log.Infof("node identity: %s", self.Public)
	return m, store, p2p, nil
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "start a marketl2d node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging.Level)

			manager, store, p2p, err := buildManager(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()
			if closer, ok := p2p.(io.Closer); ok {
				defer closer.Close()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sweepInterval := time.Duration(cfg.Escrow.SweepIntervalSecs) * time.Second
			if sweepInterval <= 0 {
				sweepInterval = 5 * time.Minute
			}
			go runEscrowSweep(ctx, manager, log, sweepInterval)
			go runGossipReceiver(ctx, p2p, manager, log, core.TopicMarketplace)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			log.Info("marketl2d: node started, awaiting shutdown signal")
			<-sigCh

			log.Info("marketl2d: shutdown signal received, flushing storage")
			cancel()
			return store.Flush()
		},
	})
	return cmd
}

// runGossipReceiver subscribes to topic and feeds every inbound payload
// through the manager's content-hash dedup and gossip dispatch. It retries
// the subscription with a short backoff if the adapter drops it, and exits
// once ctx is cancelled.
func runGossipReceiver(ctx context.Context, p2p core.P2PAdapter, m *core.MarketplaceManager, log *logrus.Logger, topic string) {
	for {
		err := p2p.Subscribe(ctx, topic, func(payload []byte) {
			if err := m.HandleGossipMessage(payload); err != nil {
				log.Warnf("gossip receiver: %v", err)
			}
		})
		if ctx.Err() != nil {
			return
		}
		log.Warnf("gossip receiver: subscription to %s ended: %v, retrying", topic, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func runEscrowSweep(ctx context.Context, m *core.MarketplaceManager, log *logrus.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			released := m.ProcessEscrowTimeouts(core.Timestamp(now.Unix()))
			if len(released) > 0 {
				log.Infof("escrow sweep: auto-released %d escrow(s)", len(released))
			}
		}
	}
}

func channelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "channel"}

	open := &cobra.Command{
		Use:   "open",
		Short: "open a new channel between two participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging.Level)
			manager, store, _, err := buildManager(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			a, err := core.GenerateKeyPair()
			if err != nil {
				return err
			}
			b, err := core.GenerateKeyPair()
			if err != nil {
				return err
			}
			ch, err := manager.CreateChannel(cmd.Context(), core.ChannelConfig{
				Participants:        [2]core.PublicKey{a.Public, b.Public},
				InitialBalances:     map[core.PublicKey]core.Amount{a.Public: 0, b.Public: 0},
				ChallengePeriodSecs: cfg.Channel.ChallengePeriodSecs,
			})
			if err != nil {
				return err
			}
			fmt.Printf("opened channel %s\n", ch.ChannelID)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "list persisted channel ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			store, err := core.OpenLevelDBStore(cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			ids, err := core.IterChannelIDs(store)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	cmd.AddCommand(open, list)
	return cmd
}

func listingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "listing"}

	create := &cobra.Command{
		Use:   "create [title] [price]",
		Short: "create a global listing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging.Level)
			manager, store, _, err := buildManager(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			var price uint64
			if _, err := fmt.Sscanf(args[1], "%d", &price); err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}

			self, err := core.GenerateKeyPair()
			if err != nil {
				return err
			}
			l, err := manager.CreateGlobalListing(cmd.Context(), self.Public, args[0], "", core.Amount(price), "")
			if err != nil {
				return err
			}
			fmt.Printf("created listing %s (seller %s)\n", hex.EncodeToString(l.ID[:]), l.Seller)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "list known global listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging.Level)
			manager, store, _, err := buildManager(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, l := range manager.ListGlobalListings() {
				fmt.Printf("%s\t%s\t%d\t%v\n", l.ID, l.Title, l.Price, l.Active)
			}
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
