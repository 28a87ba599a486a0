package types

// MessageKind tags which NetworkMessage variant a frame carries.
// NetworkMessage itself lives in internal/wire as a gob-friendly
// envelope; the variant payloads are defined here since they are pure
// data shared by both internal/wire and internal/peerregistry.
type MessageKind uint8

const (
	MsgHandshake MessageKind = iota
	MsgPing
	MsgPong
	MsgTransactionBroadcast
	MsgTimeVotePrepare
	MsgTimeVotePrecommit
	MsgTransactionVote
	MsgTimeLockBlockProposal
	MsgGetBlocks
	MsgBlocksResponse
	MsgGetBlockHeight
	MsgBlockHeightResponse
	MsgGetMasternodes
	MsgMasternodesResponse
	MsgMasternodeAnnouncement
	MsgGetGenesisHash
	MsgGenesisHashResponse
)

type Handshake struct {
	Magic           [4]byte
	ProtocolVersion uint32
	Network         string
}

type Ping struct {
	Nonce     uint64
	Timestamp int64
	Height    *uint64
}

type Pong struct {
	Nonce     uint64
	Timestamp int64
	Height    *uint64
}

type TransactionBroadcast struct {
	Tx Transaction
}

// Preference is the TimeVote vote direction for a transaction.
type Preference int

const (
	Accept Preference = iota
	Reject
)

func (p Preference) String() string {
	if p == Accept {
		return "Accept"
	}
	return "Reject"
}

type TimeVotePrepare struct {
	BlockHash Hash256
	VoterID   string
	Signature string
}

type TimeVotePrecommit struct {
	BlockHash Hash256
	VoterID   string
	Signature string
}

type TransactionVote struct {
	TxID       Hash256
	VoterIP    string
	Preference Preference
	Weight     uint64
}

type TimeLockBlockProposal struct {
	Block Block
}

type GetBlocks struct {
	Start uint64
	End   uint64
}

type BlocksResponse struct {
	Blocks []Block
}

type GetBlockHeight struct{}

type BlockHeightResponse struct {
	Height  uint64
	TipHash Hash256
}

type MasternodeAnnouncementData struct {
	Address       string
	RewardAddress string
	Tier          MasternodeTier
	PublicKey     []byte
}

type GetMasternodes struct{}

type MasternodesResponse struct {
	Masternodes []MasternodeAnnouncementData
}

type MasternodeAnnouncement struct {
	Address       string
	RewardAddress string
	Tier          MasternodeTier
	PublicKey     []byte
}

type GetGenesisHash struct{}

type GenesisHashResponse struct {
	GenesisHash Hash256
}
