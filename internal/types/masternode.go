package types

// MasternodeTier classes control collateral, reward weight, sampling
// weight, and governance rights.
type MasternodeTier int

const (
	TierFree MasternodeTier = iota
	TierBronze
	TierSilver
	TierGold
)

func (t MasternodeTier) String() string {
	switch t {
	case TierFree:
		return "Free"
	case TierBronze:
		return "Bronze"
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	default:
		return "Unknown"
	}
}

// Collateral returns the fixed collateral requirement in TIME (not
// satoshis) for the tier.
func (t MasternodeTier) Collateral() uint64 {
	switch t {
	case TierBronze:
		return 1000
	case TierSilver:
		return 10000
	case TierGold:
		return 100000
	default:
		return 0
	}
}

// RewardWeight equals collateral, except Free which carries a nominal
// weight of 1 so unfunded nodes still participate in sampling.
func (t MasternodeTier) RewardWeight() uint64 {
	if t == TierFree {
		return 1
	}
	return t.Collateral()
}

// CanVoteGovernance is false only for the Free tier.
func (t MasternodeTier) CanVoteGovernance() bool {
	return t != TierFree
}

// PriorityScore is the tier component of the transaction-pool's
// composite priority formula. Whitelisted-Free scores 1; plain
// Free scores 0. This method only covers the non-whitelist case;
// callers apply the whitelist bump themselves (see internal/txpool).
func (t MasternodeTier) PriorityScore() int {
	switch t {
	case TierGold:
		return 4
	case TierSilver:
		return 3
	case TierBronze:
		return 2
	default:
		return 0
	}
}

// AuthorityWeight is the fork-resolver's per-tier weight used in its
// authority_score formula (1000*Gold + 100*Silver + 10*Bronze +
// 2*WhitelistedFree + 1*Free).
func (t MasternodeTier) AuthorityWeight(whitelisted bool) int {
	switch t {
	case TierGold:
		return 1000
	case TierSilver:
		return 100
	case TierBronze:
		return 10
	default:
		if whitelisted {
			return 2
		}
		return 1
	}
}

// Masternode is a registered validator identity.
type Masternode struct {
	Address      string // ip-only string
	WalletAddress string
	Collateral   uint64
	Tier         MasternodeTier
	PublicKey    []byte // Ed25519 public key
	RegisteredAt int64
}

// MasternodeInfo is the registry record: a Masternode plus
// registry-owned bookkeeping.
type MasternodeInfo struct {
	Masternode
	RewardAddress          string
	LastActivity           int64
	LastBlockParticipated  uint64
	Whitelisted            bool
}

// TierCounts records how many masternodes of each tier participated in
// a block, carried in BlockHeader.MasternodeTiers.
type TierCounts struct {
	Free   int
	Bronze int
	Silver int
	Gold   int
}
