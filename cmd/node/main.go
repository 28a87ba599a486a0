// Command node runs a TimeCoin validator: it owns storage, the UTXO
// and masternode state, the TSDC slot clock and consensus rounds, the
// chain engine, and (when peers are configured) the wire-protocol
// listener and sync coordinator.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"

	"github.com/timecoin/node/internal/aiclient"
	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/blacklist"
	"github.com/timecoin/node/internal/blockcache"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/logging"
	"github.com/timecoin/node/internal/masternode"
	"github.com/timecoin/node/internal/metrics"
	"github.com/timecoin/node/internal/p2p"
	"github.com/timecoin/node/internal/peerregistry"
	"github.com/timecoin/node/internal/rpcapi"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/syncengine"
	"github.com/timecoin/node/internal/timevote"
	"github.com/timecoin/node/internal/tsdc"
	"github.com/timecoin/node/internal/txpool"
	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/utxo"
	"github.com/timecoin/node/internal/wallet"
	"github.com/timecoin/node/internal/wire"
)

// identitySeedKey persists this node's Ed25519 VRF seed so its
// masternode identity (and leader-election eligibility) survives a
// restart instead of re-registering under a fresh key every time.
const identitySeedKey = "node_identity_seed"

func main() {
	dataDir := flag.String("data-dir", "", "badger data directory (empty = in-memory storage)")
	networkFlag := flag.String("network", "testnet", "mainnet | testnet")
	rpcAddr := flag.String("rpc-addr", ":24101", "rpcapi listen address")
	p2pAddr := flag.String("p2p-addr", ":24100", "wire-protocol listen address")
	aiURL := flag.String("ai-url", "", "anomaly scoring service URL (empty = disabled)")
	debug := flag.Bool("debug", false, "enable debug logging")
	genesisTimestamp := flag.Int64("genesis-timestamp", 1_733_011_200, "unix seconds of slot 0")
	selfAddress := flag.String("self-address", "", "this node's own masternode identity (ip:port); empty disables leader election and consensus voting for this node")
	flag.Parse()

	log, err := logging.New(*debug)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	activeNetwork := parseNetwork(*networkFlag)
	log.Infow("starting timecoin node", "network", activeNetwork.String(), "rpc_addr", *rpcAddr)

	store, err := openStorage(*dataDir)
	if err != nil {
		log.Fatalw("open storage", "err", err)
	}
	defer store.Close()

	m := metrics.New()

	nodes, err := masternode.NewRegistry(store, logging.Named(log, "masternode"))
	if err != nil {
		log.Fatalw("open masternode registry", "err", err)
	}

	cache, err := blockcache.New(1)
	if err != nil {
		log.Fatalw("open block cache", "err", err)
	}

	chain := chainengine.New(store, cache, nodes, *genesisTimestamp, logging.Named(log, "chainengine"))
	if err := chain.InitializeGenesis(); err != nil {
		log.Fatalw("initialize genesis", "err", err)
	}
	m.ChainHeight.Set(float64(chain.Height()))

	utxoMgr := utxo.NewManager(store, logging.Named(log, "utxo"))
	// Resolve the chainengine<->utxo cyclic ownership (utxo already
	// imports chainengine for StateNotifier) via setter injection, the
	// same pattern tsdc.Manager.SetBroadcastCallback uses below.
	chain.SetUTXOApplier(utxoMgr)

	pool := txpool.NewPool(utxoMgr, logging.Named(log, "txpool"))
	votes := timevote.NewCore(logging.Named(log, "timevote"))
	rounds := tsdc.NewManager(logging.Named(log, "tsdc"))

	peers := peerregistry.New()
	violations := blacklist.New()
	limiter := blacklist.NewLimiter()

	// Resolve the consensus Manager<->peer registry cyclic ownership
	// via setter injection: the consensus manager is constructed
	// before the peer registry has any connections, and is handed a
	// closure over it afterward rather than holding it directly.
	rounds.SetBroadcastCallback(func(kind types.MessageKind, payload interface{}) {
		peers.Broadcast(wire.Envelope{Kind: kind, Payload: payload})
	})

	var ai *aiclient.Client
	if *aiURL != "" {
		ai = aiclient.NewClient(*aiURL, 5*time.Second, true)
		log.Infow("anomaly scoring enabled", "url", *aiURL)
	}

	wallets := wallet.NewStore()

	// A node with no self-address never registers a masternode
	// identity of its own: it still answers queries and relays gossip,
	// but SelectLeader only ever considers validators present in the
	// signingKeys map it's given, and castPrepareVote/castPrecommitVote
	// both bail out on an empty SelfAddress, so it never wins leader
	// election or casts a consensus/TimeVote vote.
	var selfSigningKey ed25519.PrivateKey
	if *selfAddress != "" {
		_, priv, err := loadOrCreateIdentity(store)
		if err != nil {
			log.Fatalw("load node identity", "err", err)
		}
		selfSigningKey = priv

		rewardWallet, err := wallets.GenerateWallet()
		if err != nil {
			log.Fatalw("generate reward wallet", "err", err)
		}
		mn := types.Masternode{
			Address:       *selfAddress,
			WalletAddress: rewardWallet.Address,
			Tier:          types.TierFree,
			PublicKey:     []byte(selfSigningKey.Public().(ed25519.PublicKey)),
		}
		if err := nodes.Register(mn, rewardWallet.Address); err != nil {
			log.Debugw("self masternode already registered", "address", *selfAddress, "err", err)
		}
		nodes.TouchActivity(*selfAddress)
	}

	dialClient := p2p.NewDialClient(activeNetwork.Magic(), activeNetwork.String())
	syncer := syncengine.New(chain, peers, dialClient, logging.Named(log, "syncengine"))

	wireServer := p2p.NewServer(activeNetwork.Magic(), activeNetwork.String(), peers, p2p.Handlers{
		Chain:       chain,
		Pool:        pool,
		Nodes:       nodes,
		Votes:       votes,
		Rounds:      rounds,
		SelfAddress: *selfAddress,
		SigningKey:  selfSigningKey,
	}, violations, limiter, logging.Named(log, "p2p"))

	api := rpcapi.New(chain, pool, wallets, ai, *rpcAddr, logging.Named(log, "rpcapi"))
	api.SetOnAccepted(wireServer.SubmitLocalTransaction)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.Start(); err != nil {
			log.Errorw("rpcapi stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runLockCleanupLoop(ctx, utxoMgr, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSlotLoop(ctx, chain, nodes, peers, syncer, m, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runProductionLoop(ctx, chain, nodes, pool, wireServer, *selfAddress, selfSigningKey, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wireServer.Serve(ctx, *p2pAddr); err != nil {
			log.Errorw("p2p server stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runBanCleanupLoop(ctx, violations, limiter)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, draining")

	cancel()
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info("clean shutdown")
	case <-time.After(10 * time.Second):
		log.Warn("shutdown drain timed out after 10s")
	}
}

func parseNetwork(s string) types.Network {
	if s == "mainnet" {
		return types.Mainnet
	}
	return types.Testnet
}

func openStorage(dataDir string) (storage.Storage, error) {
	if dataDir == "" {
		return storage.NewMemoryStorage(), nil
	}
	return storage.OpenBadger(dataDir)
}

// loadOrCreateIdentity loads this node's persisted VRF seed, or
// generates and persists a fresh one on first run.
func loadOrCreateIdentity(store storage.Storage) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if seed, err := store.Get(storage.BucketMeta, []byte(identitySeedKey)); err == nil {
		pub, priv := cryptoutil.GenerateVRFKeyPair(seed)
		return pub, priv, nil
	}
	pub, priv := cryptoutil.GenerateVRFKeyPair(nil)
	if err := store.Set(storage.BucketMeta, []byte(identitySeedKey), priv.Seed()); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func runLockCleanupLoop(ctx context.Context, mgr *utxo.Manager, log *zap.SugaredLogger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mgr.CleanupExpiredLocks(); n > 0 {
				log.Debugw("reverted expired locks", "count", n)
			}
		}
	}
}

func runBanCleanupLoop(ctx context.Context, violations *blacklist.List, limiter *blacklist.Limiter) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			violations.Cleanup(time.Now())
		}
	}
}

// runSlotLoop wakes every CatchupPollInterval, tracks expected height against
// the local chain, and triggers a sync cycle against connected peers
// once the node has fallen far enough behind. Block origination is
// driven separately by runProductionLoop.
func runSlotLoop(ctx context.Context, chain *chainengine.Engine, nodes *masternode.Registry, peers *peerregistry.Registry, syncer *syncengine.Engine, m *metrics.Metrics, log *zap.SugaredLogger) {
	ticker := time.NewTicker(types.CatchupPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			expected := chain.CalculateExpectedHeight(now)
			m.ChainHeight.Set(float64(chain.Height()))
			if syncengine.ShouldTrigger(chain.Height(), expected) {
				genesisHash, err := chain.GetBlockHash(0)
				if err != nil {
					log.Debugw("sync cycle skipped", "err", err)
					continue
				}
				peerIPs := peers.PeerIPs()
				if len(peerIPs) == 0 {
					continue
				}
				if err := syncer.Run(ctx, peerIPs, genesisHash, nil, nodes.ListActive()); err != nil {
					if errors.Is(err, bcerrors.ErrForkDetected) || errors.Is(err, bcerrors.ErrReorgTooDeep) {
						log.Warnw("sync cycle found a competing branch it would not switch to", "err", err)
					} else {
						log.Debugw("sync cycle skipped", "err", err)
					}
				}
			}
		}
	}
}

// runProductionLoop wakes every CatchupPollInterval, runs VRF leader sortition
// for the next height this node hasn't yet proposed, and proposes a
// block when it wins. It also drives the fallback-unilateral-commit
// check for whatever block it most recently proposed, since this loop
// alone tracks which hash is awaiting finality. A node with no self
// identity (selfAddress empty) returns immediately: SelectLeader only
// ever considers validators present in the signingKeys map it's
// given, so an unregistered node could never win anyway.
func runProductionLoop(ctx context.Context, chain *chainengine.Engine, nodes *masternode.Registry, pool *txpool.Pool, server *p2p.Server, selfAddress string, signingKey ed25519.PrivateKey, log *zap.SugaredLogger) {
	if selfAddress == "" {
		return
	}
	ticker := time.NewTicker(types.CatchupPollInterval)
	defer ticker.Stop()

	var trackedHeight uint64
	var attempt uint32
	var attemptStartedAt int64
	var proposedHash types.Hash256
	var haveProposal bool

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()

			if haveProposal {
				server.MaybeFallbackCommit(proposedHash, now, chain.ConsensusTimeoutFor(now))
			}

			targetHeight := chain.Height() + 1
			if targetHeight != trackedHeight {
				trackedHeight = targetHeight
				attempt = 0
				attemptStartedAt = now
				haveProposal = false
			}
			if now < tsdc.SlotTimestamp(chain.GenesisTimestamp(), targetHeight) {
				continue
			}
			if haveProposal {
				if now-attemptStartedAt < types.LeaderTimeoutSecs {
					continue
				}
				attempt++
				attemptStartedAt = now
				haveProposal = false
			}

			active := nodes.ListActive()
			validators := make([]tsdc.Validator, 0, len(active))
			for _, info := range active {
				validators = append(validators, tsdc.Validator{
					Address:   info.Address,
					PublicKey: ed25519.PublicKey(info.PublicKey),
					Weight:    info.Tier.RewardWeight(),
				})
			}
			signingKeys := map[string]ed25519.PrivateKey{selfAddress: signingKey}

			candidate, ok := tsdc.SelectLeader(targetHeight, chain.Tip(), attempt, validators, signingKeys)
			if !ok || candidate.Validator.Address != selfAddress {
				continue
			}

			finalizedTxs := pool.GetFinalizedTransactions()
			fees := make(map[types.Hash256]uint64, len(finalizedTxs))
			for _, tx := range finalizedTxs {
				if entry, ok := pool.GetPendingEntry(tx.TxID()); ok {
					fees[tx.TxID()] = entry.Fee
				}
			}
			block, err := chain.ProduceBlockAtHeight(targetHeight, finalizedTxs, fees)
			if err != nil {
				log.Warnw("block production failed", "height", targetHeight, "err", err)
				continue
			}
			block.Header.Leader = selfAddress

			proposedHash = server.ProposeBlock(&block)
			haveProposal = true
			attemptStartedAt = now
			log.Infow("proposed block", "height", targetHeight, "attempt", attempt)
		}
	}
}
