// Package forkresolver decides whether to switch the canonical chain
// when a peer reports a competing tip: authority-weighted scoring
// followed by a deterministic six-rule tiebreaker ladder, bounded by
// MAX_REORG_DEPTH.
package forkresolver

import (
	"bytes"

	"github.com/timecoin/node/internal/types"
)

// ChainSummary is everything the resolver needs about one candidate
// chain (ours or a peer's) to score it.
type ChainSummary struct {
	TipHash    types.Hash256
	Height     uint64
	Supporters []types.MasternodeInfo // connected masternodes backing this chain
	ChainWork  uint64                  // sum of tier weights across the branch
}

// Authority is the computed score for one chain.
type Authority struct {
	HighestTier     types.MasternodeTier
	Score           int
	SupporterCount  int
}

// ScoreChain computes the authority analysis for a chain summary:
// authority_score = 1000*Gold + 100*Silver + 10*Bronze + 2*WhitelistedFree + 1*Free,
// and the highest tier among its supporters.
func ScoreChain(c ChainSummary) Authority {
	var a Authority
	for _, node := range c.Supporters {
		a.Score += node.Tier.AuthorityWeight(node.Whitelisted)
		if node.Tier > a.HighestTier {
			a.HighestTier = node.Tier
		}
	}
	a.SupporterCount = len(c.Supporters)
	return a
}

// Decision reports whether to switch and why the winning rule fired.
type Decision struct {
	Switch bool
	Rule   string
}

// Resolve applies the six-rule ladder between the local chain and a
// competing candidate, then enforces the MAX_REORG_DEPTH bound:
// forkHeight is the height the two chains diverged at.
func Resolve(local, candidate ChainSummary, forkHeight uint64) Decision {
	localAuth := ScoreChain(local)
	candAuth := ScoreChain(candidate)

	if candAuth.HighestTier != localAuth.HighestTier {
		return decide(candAuth.HighestTier > localAuth.HighestTier, "highest_tier", local, candidate, forkHeight)
	}
	if candAuth.Score != localAuth.Score {
		return decide(candAuth.Score > localAuth.Score, "authority_score", local, candidate, forkHeight)
	}
	if candAuth.SupporterCount != localAuth.SupporterCount {
		return decide(candAuth.SupporterCount > localAuth.SupporterCount, "supporter_count", local, candidate, forkHeight)
	}
	if candidate.ChainWork != local.ChainWork {
		return decide(candidate.ChainWork > local.ChainWork, "chain_work", local, candidate, forkHeight)
	}
	if candidate.Height != local.Height {
		return decide(candidate.Height > local.Height, "height", local, candidate, forkHeight)
	}
	return decide(bytes.Compare(candidate.TipHash[:], local.TipHash[:]) < 0, "tip_hash_tiebreak", local, candidate, forkHeight)
}

// decide applies the reorg-depth guard once a rule has picked a winner.
func decide(candidateWins bool, rule string, local, candidate ChainSummary, forkHeight uint64) Decision {
	if !candidateWins {
		return Decision{Switch: false, Rule: rule}
	}
	if local.Height < forkHeight {
		return Decision{Switch: false, Rule: rule}
	}
	reorgDepth := local.Height - forkHeight
	if reorgDepth > types.MaxReorgDepth {
		return Decision{Switch: false, Rule: "reorg_too_deep"}
	}
	return Decision{Switch: true, Rule: rule}
}
