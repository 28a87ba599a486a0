// Package masternode implements the masternode registry: a
// persistent, tiered validator set with an activity bitmap.
package masternode

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
)

var errAlreadyRegistered = registryError("masternode: address already registered")

type registryError string

func (e registryError) Error() string { return string(e) }

// Registry holds address(ip) -> MasternodeInfo, guarded by an RWMutex,
// persisted via storage.Storage.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]types.MasternodeInfo
	storage storage.Storage
	log     *zap.SugaredLogger
}

// NewRegistry constructs a registry and loads any persisted records
// from store.
func NewRegistry(store storage.Storage, log *zap.SugaredLogger) (*Registry, error) {
	r := &Registry{
		nodes:   make(map[string]types.MasternodeInfo),
		storage: store,
		log:     log,
	}
	if store != nil {
		if err := r.load(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type storedInfo struct {
	Address               string `json:"address"`
	WalletAddress          string `json:"wallet_address"`
	Collateral             uint64 `json:"collateral"`
	Tier                   int    `json:"tier"`
	PublicKey              []byte `json:"public_key"`
	RegisteredAt           int64  `json:"registered_at"`
	RewardAddress          string `json:"reward_address"`
	LastActivity           int64  `json:"last_activity"`
	LastBlockParticipated  uint64 `json:"last_block_participated"`
	Whitelisted            bool   `json:"whitelisted"`
}

func toStored(info types.MasternodeInfo) storedInfo {
	return storedInfo{
		Address:              info.Address,
		WalletAddress:         info.WalletAddress,
		Collateral:            info.Collateral,
		Tier:                  int(info.Tier),
		PublicKey:             info.PublicKey,
		RegisteredAt:          info.RegisteredAt,
		RewardAddress:         info.RewardAddress,
		LastActivity:          info.LastActivity,
		LastBlockParticipated: info.LastBlockParticipated,
		Whitelisted:           info.Whitelisted,
	}
}

func fromStored(s storedInfo) types.MasternodeInfo {
	return types.MasternodeInfo{
		Masternode: types.Masternode{
			Address:       s.Address,
			WalletAddress: s.WalletAddress,
			Collateral:    s.Collateral,
			Tier:          types.MasternodeTier(s.Tier),
			PublicKey:     s.PublicKey,
			RegisteredAt:  s.RegisteredAt,
		},
		RewardAddress:         s.RewardAddress,
		LastActivity:          s.LastActivity,
		LastBlockParticipated: s.LastBlockParticipated,
		Whitelisted:           s.Whitelisted,
	}
}

func (r *Registry) load() error {
	return r.storage.Iterate(storage.BucketMasternode, func(key, value []byte) error {
		var s storedInfo
		if err := json.Unmarshal(value, &s); err != nil {
			return err
		}
		r.nodes[string(key)] = fromStored(s)
		return nil
	})
}

func (r *Registry) persist(info types.MasternodeInfo) error {
	if r.storage == nil {
		return nil
	}
	payload, err := json.Marshal(toStored(info))
	if err != nil {
		return err
	}
	return r.storage.Set(storage.BucketMasternode, []byte(info.Address), payload)
}

// Register adds a new masternode, failing if its ip is already
// present.
func (r *Registry) Register(mn types.Masternode, rewardAddress string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[mn.Address]; ok {
		return errAlreadyRegistered
	}

	info := types.MasternodeInfo{
		Masternode:    mn,
		RewardAddress: rewardAddress,
		LastActivity:  time.Now().Unix(),
	}
	r.nodes[mn.Address] = info
	return r.persist(info)
}

// TouchActivity updates last_activity for address to now. It is called
// when a masternode announcement arrives for an already-registered
// address, and at startup for this node's own identity; votes do not
// call it.
func (r *Registry) TouchActivity(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.nodes[address]
	if !ok {
		return
	}
	info.LastActivity = time.Now().Unix()
	r.nodes[address] = info
	_ = r.persist(info)
}

// RecordParticipation sets last_block_participated for address to
// height. Nothing in the node calls it at present, so the field keeps
// whatever value was persisted.
func (r *Registry) RecordParticipation(address string, height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.nodes[address]
	if !ok {
		return
	}
	info.LastBlockParticipated = height
	r.nodes[address] = info
	_ = r.persist(info)
}

// Get returns the record for address, if known.
func (r *Registry) Get(address string) (types.MasternodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.nodes[address]
	return info, ok
}

// listActiveAt is the testable core of ListActive, parameterized on
// "now" so the liveness window can be tested without sleeping.
func (r *Registry) listActiveAt(now int64) []types.MasternodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.MasternodeInfo
	for _, info := range r.nodes {
		if now-info.LastActivity <= types.LivenessWindowSecs {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// ListActive returns records active within the last LivenessWindowSecs,
// sorted deterministically by address bytes.
func (r *Registry) ListActive() []types.MasternodeInfo {
	return r.listActiveAt(time.Now().Unix())
}

// CountActive is a cheap ListActive-length helper for metrics.
func (r *Registry) CountActive() int {
	return len(r.ListActive())
}

// TotalSamplingWeight sums tier.RewardWeight() over ListActive().
func (r *Registry) TotalSamplingWeight() uint64 {
	var total uint64
	for _, info := range r.ListActive() {
		total += info.Tier.RewardWeight()
	}
	return total
}

// GetEligibleForRewards returns ListActive() during bootstrap
// (height <= 3) or deep catchup (> 50 blocks behind); otherwise the
// participants encoded by the previous block's
// consensus_participants_bitmap.
func (r *Registry) GetEligibleForRewards(height uint64, blocksBehind uint64, prevBitmap []byte, prevSnapshot []string) []types.MasternodeInfo {
	if height <= 3 || blocksBehind > 50 {
		return r.ListActive()
	}
	return r.GetActiveFromBitmap(prevBitmap, prevSnapshot)
}

// GetActiveFromBitmap decodes a participation bitmap relative to the
// sorted active set snapshot it was built against (see DESIGN.md's
// bitmap-snapshot resolution).
func (r *Registry) GetActiveFromBitmap(bitmap []byte, snapshot []string) []types.MasternodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.MasternodeInfo
	for i, addr := range snapshot {
		byteIdx := i / 8
		bitIdx := uint(i % 8)
		if byteIdx >= len(bitmap) {
			break
		}
		if bitmap[byteIdx]&(1<<bitIdx) == 0 {
			continue
		}
		if info, ok := r.nodes[addr]; ok {
			out = append(out, info)
		}
	}
	return out
}

// BuildParticipationBitmap encodes, relative to the canonically sorted
// activeSet, which masternodes' prepare votes contributed to
// finalization (participated). One bit per masternode in activeSet.
func BuildParticipationBitmap(activeSet []types.MasternodeInfo, participated map[string]bool) ([]byte, []string) {
	sorted := make([]types.MasternodeInfo, len(activeSet))
	copy(sorted, activeSet)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	snapshot := make([]string, len(sorted))
	bitmap := make([]byte, (len(sorted)+7)/8)
	for i, info := range sorted {
		snapshot[i] = info.Address
		if participated[info.Address] {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	return bitmap, snapshot
}
