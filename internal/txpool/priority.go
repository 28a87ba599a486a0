package txpool

import (
	"time"

	"github.com/timecoin/node/internal/types"
)

// Priority is the composite score used to order finalized transactions
// at block-building time. Higher wins.
type Priority struct {
	TierScore  int
	FeePerByte uint64
	AgeSecs    int64
}

// Score computes (tier_score * 10^12) + (fee_per_byte * 10^6) + age_secs.
func (p Priority) Score() int64 {
	return int64(p.TierScore)*1_000_000_000_000 + int64(p.FeePerByte)*1_000_000 + p.AgeSecs
}

// TierScoreFor resolves the tier component: Gold=4, Silver=3,
// Bronze=2, Whitelisted-Free=1, Free/unknown=0.
func TierScoreFor(tier types.MasternodeTier, whitelisted bool) int {
	if tier == types.TierFree {
		if whitelisted {
			return 1
		}
		return 0
	}
	return tier.PriorityScore()
}

// ComputePriority builds a Priority for a pending entry, estimating
// transaction size as the canonical-byte length (a reasonable proxy
// for wire size absent a dedicated serializer benchmark).
func ComputePriority(entry PendingEntry, tier types.MasternodeTier, whitelisted bool) Priority {
	canonical, err := types.CanonicalTxBytes(&entry.Tx)
	size := uint64(1)
	if err == nil && len(canonical) > 0 {
		size = uint64(len(canonical))
	}

	feePerByte := entry.Fee / size
	age := time.Now().Unix() - entry.AddedAt
	if age < 0 {
		age = 0
	}

	return Priority{
		TierScore:  TierScoreFor(tier, whitelisted),
		FeePerByte: feePerByte,
		AgeSecs:    age,
	}
}
