// Package syncengine discovers the network's consensus height and
// pipelines block fetches to catch the local chain up to it.
package syncengine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/forkresolver"
	"github.com/timecoin/node/internal/peerregistry"
	"github.com/timecoin/node/internal/types"
)

const (
	maxPeersQueried = 5
	maxRangeRetries = 3
)

// PeerBlockSource fetches blocks from one peer. A real implementation
// goes through a short-lived dial per request; tests can fake it.
type PeerBlockSource interface {
	GetHeightAndGenesis(ctx context.Context, ip string) (height uint64, tipHash, genesisHash types.Hash256, rtt time.Duration, err error)
	GetBlocks(ctx context.Context, ip string, start, end uint64) ([]types.Block, error)
}

// Engine drives one sync cycle against a chainengine.Engine.
type Engine struct {
	chain  *chainengine.Engine
	peers  *peerregistry.Registry
	source PeerBlockSource
	log    *zap.SugaredLogger
}

// New wires a sync engine over the chain engine, peer registry, and
// block source.
func New(chain *chainengine.Engine, peers *peerregistry.Registry, source PeerBlockSource, log *zap.SugaredLogger) *Engine {
	return &Engine{chain: chain, peers: peers, source: source, log: log}
}

// ShouldTrigger reports whether the producer loop is far enough
// behind expectedHeight to kick off a sync cycle.
func ShouldTrigger(currentHeight, expectedHeight uint64) bool {
	if expectedHeight <= currentHeight {
		return false
	}
	return expectedHeight-currentHeight > types.SyncThresholdBlocks
}

type peerReport struct {
	ip          string
	height      uint64
	tipHash     types.Hash256
	genesisHash types.Hash256
	rtt         time.Duration
}

// Run performs one sync cycle: query peers, verify shared genesis,
// determine consensus height, fetch and apply missing ranges. A
// previous-hash mismatch partway through (a peer's branch having
// diverged from ours before our current tip) triggers fork
// resolution instead of simply failing the cycle.
func (e *Engine) Run(ctx context.Context, candidatePeers []string, localGenesisHash types.Hash256, fees map[types.Hash256]uint64, activeMasternodes []types.MasternodeInfo) error {
	queried := candidatePeers
	if len(queried) > maxPeersQueried {
		queried = queried[:maxPeersQueried]
	}

	reports := e.queryPeers(ctx, queried)
	if len(reports) == 0 {
		return bcerrors.ErrNoPeersAvailable
	}
	for _, r := range reports {
		if r.genesisHash != localGenesisHash {
			return bcerrors.ErrCheckpointMismatch
		}
	}

	consensusHeight, fastestIP := consensusHeightAndFastest(reports)
	if consensusHeight <= e.chain.Height() {
		return e.checkSameHeightFork(ctx, reports, fees, activeMasternodes)
	}

	start := e.chain.Height() + 1
	err := e.fetchAndApplyRanges(ctx, fastestIP, start, consensusHeight, fees, activeMasternodes)
	if errors.Is(err, bcerrors.ErrPreviousHashMismatch) {
		tipHash := reportTipHash(reports, fastestIP)
		return e.resolveFork(ctx, fastestIP, tipHash, consensusHeight, fees, activeMasternodes)
	}
	return err
}

// checkSameHeightFork looks for a peer reporting our own height with
// a different tip hash, which means we and it finalized competing
// blocks at the same height rather than one of us simply lagging.
func (e *Engine) checkSameHeightFork(ctx context.Context, reports []peerReport, fees map[types.Hash256]uint64, activeMasternodes []types.MasternodeInfo) error {
	localHeight := e.chain.Height()
	localTip := e.chain.Tip()
	for _, r := range reports {
		if r.height == localHeight && r.tipHash != localTip {
			return e.resolveFork(ctx, r.ip, r.tipHash, r.height, fees, activeMasternodes)
		}
	}
	return nil
}

func reportTipHash(reports []peerReport, ip string) types.Hash256 {
	for _, r := range reports {
		if r.ip == ip {
			return r.tipHash
		}
	}
	return types.Hash256{}
}

func (e *Engine) queryPeers(ctx context.Context, ips []string) []peerReport {
	reports := make([]peerReport, len(ips))
	ok := make([]bool, len(ips))

	g, gctx := errgroup.WithContext(ctx)
	for i, ip := range ips {
		i, ip := i, ip
		g.Go(func() error {
			start := time.Now()
			height, tipHash, genesisHash, _, err := e.source.GetHeightAndGenesis(gctx, ip)
			if err != nil {
				if e.log != nil {
					e.log.Debugw("peer query failed", "ip", ip, "err", err)
				}
				return nil
			}
			reports[i] = peerReport{ip: ip, height: height, tipHash: tipHash, genesisHash: genesisHash, rtt: time.Since(start)}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]peerReport, 0, len(ips))
	for i, v := range ok {
		if v {
			out = append(out, reports[i])
		}
	}
	return out
}

// consensusHeightAndFastest finds the height reported by the most
// peers (ties go to the higher height), and the fastest-responding
// peer among those at that height. It does not require that height to
// be reported by more than half of the peers.
func consensusHeightAndFastest(reports []peerReport) (uint64, string) {
	counts := make(map[uint64]int)
	for _, r := range reports {
		counts[r.height]++
	}
	var best uint64
	var bestCount int
	for h, c := range counts {
		if c > bestCount || (c == bestCount && h > best) {
			best, bestCount = h, c
		}
	}

	var atBest []peerReport
	for _, r := range reports {
		if r.height == best {
			atBest = append(atBest, r)
		}
	}
	sort.Slice(atBest, func(i, j int) bool { return atBest[i].rtt < atBest[j].rtt })
	return best, atBest[0].ip
}

// fetchAndApplyRanges pulls [start, consensusHeight] in
// SyncBatchSize-sized ranges, up to SyncPipelineDepth in flight,
// applying each received block in order and retrying a failed range
// against the same peer up to maxRangeRetries times.
func (e *Engine) fetchAndApplyRanges(ctx context.Context, ip string, start, end uint64, fees map[types.Hash256]uint64, activeMasternodes []types.MasternodeInfo) error {
	type rng struct{ from, to uint64 }
	var ranges []rng
	for s := start; s <= end; s += types.SyncBatchSize {
		rangeEnd := s + types.SyncBatchSize - 1
		if rangeEnd > end {
			rangeEnd = end
		}
		ranges = append(ranges, rng{from: s, to: rangeEnd})
	}

	sem := make(chan struct{}, types.SyncPipelineDepth)
	g, gctx := errgroup.WithContext(ctx)

	var applyMu sync.Mutex
	blocksByRange := make(map[int][]types.Block)

	for i, r := range ranges {
		i, r := i, r
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			var lastErr error
			for attempt := 0; attempt < maxRangeRetries; attempt++ {
				blocks, err := e.source.GetBlocks(gctx, ip, r.from, r.to)
				if err == nil {
					applyMu.Lock()
					blocksByRange[i] = blocks
					applyMu.Unlock()
					return nil
				}
				lastErr = err
			}
			return lastErr
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range ranges {
		for _, b := range blocksByRange[i] {
			b := b
			if err := e.chain.AddBlock(&b, fees, activeMasternodes, time.Now().Unix(), false); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveFork runs the authority-weighted decision ladder between our
// chain and a peer's competing branch and, if it wins, rewinds the
// local chain to the fork point and replays the peer's blocks over
// it. The wire protocol carries no per-branch supporter list, so both
// summaries use the same currently-active masternode set; this only
// affects the authority_score/supporter_count rules, not chain_work,
// height, or the tip-hash tiebreaker.
func (e *Engine) resolveFork(ctx context.Context, ip string, candidateTip types.Hash256, candidateHeight uint64, fees map[types.Hash256]uint64, activeMasternodes []types.MasternodeInfo) error {
	forkHeight, err := e.findForkHeight(ctx, ip)
	if err != nil {
		return err
	}

	localHeight := e.chain.Height()
	local := forkresolver.ChainSummary{
		TipHash:    e.chain.Tip(),
		Height:     localHeight,
		Supporters: activeMasternodes,
		ChainWork:  branchWork(activeMasternodes, localHeight-forkHeight),
	}
	candidate := forkresolver.ChainSummary{
		TipHash:    candidateTip,
		Height:     candidateHeight,
		Supporters: activeMasternodes,
		ChainWork:  branchWork(activeMasternodes, candidateHeight-forkHeight),
	}

	decision := forkresolver.Resolve(local, candidate, forkHeight)
	if e.log != nil {
		e.log.Infow("fork resolution", "rule", decision.Rule, "switch", decision.Switch, "fork_height", forkHeight, "peer", ip)
	}
	if !decision.Switch {
		if decision.Rule == "reorg_too_deep" {
			return bcerrors.ErrReorgTooDeep
		}
		return bcerrors.ErrForkDetected
	}

	if _, err := e.chain.RewindTo(forkHeight); err != nil {
		return err
	}
	return e.fetchAndApplyRanges(ctx, ip, forkHeight+1, candidateHeight, fees, activeMasternodes)
}

// findForkHeight walks backward from the local tip comparing our
// block hash against the peer's at each height, bounded by
// MaxReorgDepth, until it finds the last height both chains agree on.
func (e *Engine) findForkHeight(ctx context.Context, ip string) (uint64, error) {
	localHeight := e.chain.Height()
	floor := uint64(0)
	if localHeight > types.MaxReorgDepth {
		floor = localHeight - types.MaxReorgDepth
	}

	for h := localHeight; ; h-- {
		localHash, err := e.chain.GetBlockHash(h)
		if err == nil {
			blocks, err := e.source.GetBlocks(ctx, ip, h, h)
			if err == nil && len(blocks) == 1 && blocks[0].Hash() == localHash {
				return h, nil
			}
		}
		if h == floor {
			break
		}
	}
	return 0, bcerrors.ErrReorgTooDeep
}

// branchWork approximates cumulative chain work over a branch segment
// as the active masternode set's total reward weight per block, times
// the segment length.
func branchWork(activeMasternodes []types.MasternodeInfo, blocks uint64) uint64 {
	var perBlock uint64
	for _, mn := range activeMasternodes {
		perBlock += mn.Tier.RewardWeight()
	}
	return perBlock * blocks
}
