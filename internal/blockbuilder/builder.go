// Package blockbuilder produces deterministic candidate blocks from a
// height, previous hash, the finalized transaction set, and the
// active masternode set.
package blockbuilder

import (
	"math"
	"sort"

	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/types"
)

// Input bundles everything needed to build one candidate block.
type Input struct {
	Height            uint64
	PreviousHash      types.Hash256
	FinalizedTxs      []types.Transaction
	Fees              map[types.Hash256]uint64 // txid -> fee paid, excluding coinbase
	ActiveMasternodes []types.MasternodeInfo
	SlotTimestamp     int64 // genesisTs + height*BlockTimeSeconds; see internal/tsdc.SlotTimestamp
}

// baseReward computes floor(2000 * ln(1 + N/50) * 1e8) satoshis for N
// active masternodes.
func baseReward(n int) uint64 {
	if n <= 0 {
		return 0
	}
	scaled := 2000.0 * math.Log(1+float64(n)/50.0) * float64(types.SatoshisPerTime)
	return uint64(math.Floor(scaled))
}

// Build assembles a deterministic candidate block. Two calls with
// identical input produce bit-identical serialized bytes.
func Build(in Input) types.Block {
	nodes := make([]types.MasternodeInfo, len(in.ActiveMasternodes))
	copy(nodes, in.ActiveMasternodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Address < nodes[j].Address })

	txs := make([]types.Transaction, len(in.FinalizedTxs))
	copy(txs, in.FinalizedTxs)
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i].TxID(), txs[j].TxID()
		return a.Less(b)
	})

	var totalFees uint64
	for _, tx := range txs {
		totalFees += in.Fees[tx.TxID()]
	}

	var totalWeight uint64
	var tiers types.TierCounts
	for _, n := range nodes {
		totalWeight += n.Tier.RewardWeight()
		switch n.Tier {
		case types.TierFree:
			tiers.Free++
		case types.TierBronze:
			tiers.Bronze++
		case types.TierSilver:
			tiers.Silver++
		case types.TierGold:
			tiers.Gold++
		}
	}

	base := baseReward(len(nodes))
	totalReward := base + totalFees

	payouts := distributeRewards(nodes, totalReward, totalWeight)

	coinbase := types.Transaction{
		Version:   1,
		Inputs:    nil,
		Outputs:   nil,
		LockTime:  0,
		Timestamp: in.SlotTimestamp,
	}

	allTxs := make([]types.Transaction, 0, len(txs)+1)
	allTxs = append(allTxs, coinbase)
	allTxs = append(allTxs, txs...)

	txIDs := make([]types.Hash256, len(allTxs))
	for i, tx := range allTxs {
		txIDs[i] = tx.TxID()
	}
	merkleRoot := cryptoutil.MerkleRoot(txIDs)

	header := types.BlockHeader{
		Version:         1,
		Height:          in.Height,
		PreviousHash:    in.PreviousHash,
		MerkleRoot:      merkleRoot,
		Timestamp:       in.SlotTimestamp,
		BlockReward:     base,
		Leader:          "",
		AttestationRoot: types.ZeroHash,
		MasternodeTiers: tiers,
	}

	block := types.Block{
		Header:             header,
		Transactions:       allTxs,
		MasternodeRewards:  payouts,
		TimeAttestations:   nil,
		BitmapSnapshot:     addressSnapshot(nodes),
	}
	return block
}

// distributeRewards implements step 5: gross = floor(total*weight/sumWeight),
// fee = floor(gross/1000), net = gross - fee, emitted only if net > 0.
func distributeRewards(nodes []types.MasternodeInfo, totalReward, totalWeight uint64) []types.RewardPayout {
	if totalWeight == 0 {
		return nil
	}
	payouts := make([]types.RewardPayout, 0, len(nodes))
	for _, n := range nodes {
		weight := n.Tier.RewardWeight()
		gross := totalReward * weight / totalWeight
		fee := gross * types.ProtocolFeeBpsOfReward / 10000 // 0.1% protocol fee
		net := gross - fee
		if net > 0 {
			wallet := n.RewardAddress
			if wallet == "" {
				wallet = n.WalletAddress
			}
			payouts = append(payouts, types.RewardPayout{Wallet: wallet, Amount: net})
		}
	}
	return payouts
}

func addressSnapshot(nodes []types.MasternodeInfo) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Address
	}
	return out
}
