// Package p2p runs the wire-protocol listener: it accepts connections,
// performs the handshake, registers each peer with a peerregistry, and
// dispatches inbound frames into the chain/pool/masternode/consensus
// components that own the corresponding state.
package p2p

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/blacklist"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/masternode"
	"github.com/timecoin/node/internal/peerregistry"
	"github.com/timecoin/node/internal/timevote"
	"github.com/timecoin/node/internal/tsdc"
	"github.com/timecoin/node/internal/txpool"
	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/wire"
)

// Handlers bundles every component the dispatcher needs to answer or
// apply an inbound message. SelfAddress and SigningKey are empty/nil
// until the node has registered its own masternode identity; until
// then the server still answers queries and relays gossip, but never
// casts a PREPARE/PRECOMMIT/TimeVote vote of its own.
type Handlers struct {
	Chain       *chainengine.Engine
	Pool        *txpool.Pool
	Nodes       *masternode.Registry
	Votes       *timevote.Core
	Rounds      *tsdc.Manager
	SelfAddress string
	SigningKey  ed25519.PrivateKey
}

// Server listens for peer connections and dispatches their frames.
type Server struct {
	magic    [4]byte
	network  string
	peers    *peerregistry.Registry
	handlers Handlers
	bans     *blacklist.List
	limiter  *blacklist.Limiter
	log      *zap.SugaredLogger

	blockMu       sync.Mutex
	pendingBlocks map[types.Hash256]types.Block
}

// NewServer wires a p2p server over an existing peer registry so the
// consensus and sync layers share the same connection set. bans and
// limiter gate connections and per-channel message rates; both may be
// nil to disable that check (e.g. in tests).
func NewServer(magic [4]byte, network string, peers *peerregistry.Registry, h Handlers, bans *blacklist.List, limiter *blacklist.Limiter, log *zap.SugaredLogger) *Server {
	return &Server{
		magic: magic, network: network, peers: peers, handlers: h, bans: bans, limiter: limiter, log: log,
		pendingBlocks: make(map[types.Hash256]types.Block),
	}
}

// Serve accepts connections on addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// connWriter adapts a net.Conn into a peerregistry.Writer, serializing
// concurrent frame writes with a mutex (one frame's length prefix and
// payload must not interleave with another's).
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *connWriter) Send(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteFrame(c.conn, env)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	ip := conn.RemoteAddr().String()

	if s.bans != nil && s.bans.IsBanned(ip, time.Now()) {
		return
	}

	if _, err := wire.ReadHandshake(conn, s.magic); err != nil {
		s.recordViolation(ip, blacklist.ViolationInvalidHandshake)
		if s.log != nil {
			s.log.Debugw("handshake failed", "ip", ip, "err", err)
		}
		return
	}
	if err := wire.WriteHandshake(conn, types.Handshake{Magic: s.magic, ProtocolVersion: 1, Network: s.network}); err != nil {
		return
	}

	w := &connWriter{conn: conn}
	if !s.peers.AddPeer(ip, conn.LocalAddr().String(), w) {
		return
	}
	defer s.peers.RemovePeer(ip)

	for {
		env, err := wire.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, bcerrors.ErrSerialization) || errors.Is(err, bcerrors.ErrFrameTooLarge) {
				s.recordViolation(ip, blacklist.ViolationMalformedFrame)
			}
			return
		}
		if !s.allowed(env.Kind, ip) {
			continue
		}
		resp, hasResp := s.dispatch(ip, env)
		if hasResp {
			_ = w.Send(resp)
		}
	}
}

// recordViolation scores a protocol violation against ip and logs
// when it crosses a ban threshold.
func (s *Server) recordViolation(ip string, v blacklist.Violation) {
	if s.bans == nil {
		return
	}
	if ban, banned := s.bans.RecordViolation(ip, v, time.Now()); banned && s.log != nil {
		s.log.Warnw("peer banned", "ip", ip, "permanent", ban)
	}
}

// allowed applies per-channel rate limiting to message kinds that can
// be used to flood the node (tx relay, masternode/utxo queries).
func (s *Server) allowed(kind types.MessageKind, ip string) bool {
	if s.limiter == nil {
		return true
	}
	switch kind {
	case types.MsgTransactionBroadcast, types.MsgTransactionVote:
		return s.limiter.Allow(blacklist.ChannelTx, ip)
	case types.MsgGetBlocks, types.MsgGetMasternodes:
		return s.limiter.Allow(blacklist.ChannelUTXOQuery, ip)
	default:
		return true
	}
}

// dispatch applies or answers one inbound message. It returns a
// response envelope and true only for request-shaped messages.
func (s *Server) dispatch(ip string, env wire.Envelope) (wire.Envelope, bool) {
	switch env.Kind {
	case types.MsgPing:
		ping, ok := env.Payload.(types.Ping)
		if !ok {
			return wire.Envelope{}, false
		}
		height := s.handlers.Chain.Height()
		return wire.Envelope{Kind: types.MsgPong, Payload: types.Pong{Nonce: ping.Nonce, Timestamp: ping.Timestamp, Height: &height}}, true

	case types.MsgGetBlockHeight:
		return wire.Envelope{Kind: types.MsgBlockHeightResponse, Payload: types.BlockHeightResponse{Height: s.handlers.Chain.Height(), TipHash: s.handlers.Chain.Tip()}}, true

	case types.MsgGetGenesisHash:
		hash, err := s.handlers.Chain.GetBlockHash(0)
		if err != nil {
			return wire.Envelope{}, false
		}
		return wire.Envelope{Kind: types.MsgGenesisHashResponse, Payload: types.GenesisHashResponse{GenesisHash: hash}}, true

	case types.MsgGetBlocks:
		req, ok := env.Payload.(types.GetBlocks)
		if !ok {
			return wire.Envelope{}, false
		}
		var blocks []types.Block
		for h := req.Start; h <= req.End; h++ {
			b, err := s.handlers.Chain.GetBlockByHeight(h)
			if err != nil {
				break
			}
			blocks = append(blocks, *b)
		}
		return wire.Envelope{Kind: types.MsgBlocksResponse, Payload: types.BlocksResponse{Blocks: blocks}}, true

	case types.MsgGetMasternodes:
		active := s.handlers.Nodes.ListActive()
		infos := make([]types.MasternodeAnnouncementData, 0, len(active))
		for _, mn := range active {
			infos = append(infos, types.MasternodeAnnouncementData{
				Address: mn.Address, RewardAddress: mn.RewardAddress, Tier: mn.Tier, PublicKey: mn.PublicKey,
			})
		}
		return wire.Envelope{Kind: types.MsgMasternodesResponse, Payload: types.MasternodesResponse{Masternodes: infos}}, true

	case types.MsgMasternodeAnnouncement:
		ann, ok := env.Payload.(types.MasternodeAnnouncement)
		if !ok {
			return wire.Envelope{}, false
		}
		mn := types.Masternode{
			Address:   ann.Address,
			Tier:      ann.Tier,
			PublicKey: ann.PublicKey,
		}
		if err := s.handlers.Nodes.Register(mn, ann.RewardAddress); err != nil {
			s.handlers.Nodes.TouchActivity(ann.Address)
		}
		return wire.Envelope{}, false

	case types.MsgTransactionBroadcast:
		tb, ok := env.Payload.(types.TransactionBroadcast)
		if !ok {
			return wire.Envelope{}, false
		}
		// Gossip frames carry no fee; the submitter's original
		// /transactions POST is where the real fee is recorded. A
		// relayed tx not already known to this pool is accepted at
		// zero fee rather than dropped.
		if err := s.handlers.Pool.AddPending(tb.Tx, 0, ip); err != nil {
			if s.log != nil {
				s.log.Debugw("rejected gossiped tx", "ip", ip, "err", err)
			}
		} else {
			s.beginTimeVote(tb.Tx.TxID())
		}
		s.peers.GossipSelective(wire.Envelope{Kind: env.Kind, Payload: tb}, 8, ip)
		return wire.Envelope{}, false

	case types.MsgTransactionVote:
		vote, ok := env.Payload.(types.TransactionVote)
		if !ok {
			return wire.Envelope{}, false
		}
		totalWeight := s.handlers.Nodes.TotalSamplingWeight()
		if s.handlers.Votes.AccumulateVote(vote.TxID, vote.VoterIP, vote.Preference, vote.Weight, totalWeight) {
			s.finalizeVoteResult(vote.TxID)
		}
		return wire.Envelope{}, false

	case types.MsgTimeVotePrepare:
		prep, ok := env.Payload.(types.TimeVotePrepare)
		if !ok {
			return wire.Envelope{}, false
		}
		if round, ok := s.handlers.Rounds.Get(prep.BlockHash); ok {
			if mn, found := s.handlers.Nodes.Get(prep.VoterID); found {
				total := s.handlers.Nodes.TotalSamplingWeight()
				if _, crossed := round.AddPrepareVote(prep.VoterID, mn.Tier.RewardWeight(), total); crossed {
					s.castPrecommitVote(round, prep.BlockHash)
				}
			}
		}
		return wire.Envelope{}, false

	case types.MsgTimeVotePrecommit:
		pre, ok := env.Payload.(types.TimeVotePrecommit)
		if !ok {
			return wire.Envelope{}, false
		}
		if round, ok := s.handlers.Rounds.Get(pre.BlockHash); ok {
			if mn, found := s.handlers.Nodes.Get(pre.VoterID); found {
				total := s.handlers.Nodes.TotalSamplingWeight()
				if finalized, proof := round.AddPrecommitVote(pre.VoterID, []byte(pre.Signature), mn.Tier.RewardWeight(), total); finalized {
					s.commitRound(pre.BlockHash, proof)
				}
			}
		}
		return wire.Envelope{}, false

	case types.MsgTimeLockBlockProposal:
		prop, ok := env.Payload.(types.TimeLockBlockProposal)
		if !ok {
			return wire.Envelope{}, false
		}
		block := prop.Block
		fees := make(map[types.Hash256]uint64, len(block.Transactions))
		for _, tx := range block.Transactions {
			if entry, ok := s.handlers.Pool.GetPendingEntry(tx.TxID()); ok {
				fees[tx.TxID()] = entry.Fee
			}
		}
		active := s.handlers.Nodes.ListActive()
		if err := s.handlers.Chain.ValidateCandidate(&block, fees, active, time.Now().Unix()); err != nil {
			s.recordViolation(ip, blacklist.ViolationBadBlock)
			if s.log != nil {
				s.log.Debugw("rejected proposed block", "ip", ip, "err", err)
			}
			return wire.Envelope{}, false
		}

		blockHash := block.Hash()
		s.blockMu.Lock()
		s.pendingBlocks[blockHash] = block
		s.blockMu.Unlock()

		round := s.handlers.Rounds.StartRound(blockHash, block.Header.Height, time.Now().Unix())
		s.castPrepareVote(round, blockHash)
		return wire.Envelope{}, false

	default:
		return wire.Envelope{}, false
	}
}

// beginTimeVote moves txid's locked inputs into TimeVote deliberation
// and casts this node's own Accept vote, mirroring castPrepareVote's
// self-vote-then-broadcast shape for block consensus. A node with no
// registered identity (SelfAddress empty) still relays the gossip but
// never votes.
func (s *Server) beginTimeVote(txid types.Hash256) {
	s.handlers.Pool.BeginConsensus(txid)
	if s.handlers.SelfAddress == "" {
		return
	}
	mn, ok := s.handlers.Nodes.Get(s.handlers.SelfAddress)
	if !ok {
		return
	}
	total := s.handlers.Nodes.TotalSamplingWeight()
	weight := mn.Tier.RewardWeight()
	if s.handlers.Votes.AccumulateVote(txid, s.handlers.SelfAddress, types.Accept, weight, total) {
		s.finalizeVoteResult(txid)
	}
	s.peers.Broadcast(wire.Envelope{Kind: types.MsgTransactionVote, Payload: types.TransactionVote{
		TxID: txid, VoterIP: s.handlers.SelfAddress, Preference: types.Accept, Weight: weight,
	}})
}

// finalizeVoteResult applies a just-finalized TimeVote outcome to the
// pool: Accept moves the transaction to the finalized pool and
// registers its outputs, Reject drops it and unlocks its inputs.
func (s *Server) finalizeVoteResult(txid types.Hash256) {
	pref, _, _ := s.handlers.Votes.GetTxState(txid)
	if pref == types.Accept {
		s.handlers.Pool.FinalizeTransaction(txid)
	} else {
		s.handlers.Pool.RejectTransaction(txid, "timevote reject")
	}
	s.handlers.Votes.Forget(txid)
}

// SubmitLocalTransaction is the rpcapi-originated equivalent of
// MsgTransactionBroadcast: the pool already holds tx (rpcapi calls
// Pool.AddPending itself before invoking this), so this only starts
// TimeVote and relays tx to every connected peer. There is no source
// IP to exclude, unlike a gossip-relayed transaction.
func (s *Server) SubmitLocalTransaction(tx types.Transaction) {
	s.beginTimeVote(tx.TxID())
	s.peers.Broadcast(wire.Envelope{Kind: types.MsgTransactionBroadcast, Payload: types.TransactionBroadcast{Tx: tx}})
}

// ProposeBlock starts this node's own consensus round for a block it
// won leader election for, casts its own PREPARE vote, and broadcasts
// the full block body so every peer can validate and PREPARE vote too.
func (s *Server) ProposeBlock(block *types.Block) types.Hash256 {
	blockHash := block.Hash()
	s.blockMu.Lock()
	s.pendingBlocks[blockHash] = *block
	s.blockMu.Unlock()

	round := s.handlers.Rounds.StartRound(blockHash, block.Header.Height, time.Now().Unix())
	s.castPrepareVote(round, blockHash)
	s.peers.Broadcast(wire.Envelope{Kind: types.MsgTimeLockBlockProposal, Payload: types.TimeLockBlockProposal{Block: *block}})
	return blockHash
}

// castPrepareVote casts this node's own PREPARE vote for a just
// proposed block and broadcasts it, moving on to PRECOMMIT itself if
// that vote alone crosses the 51% threshold (e.g. a lone validator).
func (s *Server) castPrepareVote(round *tsdc.Round, blockHash types.Hash256) {
	if s.handlers.SelfAddress == "" || s.handlers.SigningKey == nil {
		return
	}
	mn, ok := s.handlers.Nodes.Get(s.handlers.SelfAddress)
	if !ok {
		return
	}
	total := s.handlers.Nodes.TotalSamplingWeight()
	weight := mn.Tier.RewardWeight()
	_, crossed := round.AddPrepareVote(s.handlers.SelfAddress, weight, total)
	sig := ed25519.Sign(s.handlers.SigningKey, blockHash[:])
	s.handlers.Rounds.Broadcast(types.MsgTimeVotePrepare, types.TimeVotePrepare{
		BlockHash: blockHash,
		VoterID:   s.handlers.SelfAddress,
		Signature: string(sig),
	})
	if crossed {
		s.castPrecommitVote(round, blockHash)
	}
}

// castPrecommitVote casts this node's own PRECOMMIT vote, broadcasts
// it, and commits the block once this vote itself crosses the 67%
// threshold.
func (s *Server) castPrecommitVote(round *tsdc.Round, blockHash types.Hash256) {
	if s.handlers.SelfAddress == "" || s.handlers.SigningKey == nil {
		return
	}
	mn, ok := s.handlers.Nodes.Get(s.handlers.SelfAddress)
	if !ok {
		return
	}
	total := s.handlers.Nodes.TotalSamplingWeight()
	weight := mn.Tier.RewardWeight()
	sig := ed25519.Sign(s.handlers.SigningKey, blockHash[:])
	finalized, proof := round.AddPrecommitVote(s.handlers.SelfAddress, sig, weight, total)
	s.handlers.Rounds.Broadcast(types.MsgTimeVotePrecommit, types.TimeVotePrecommit{
		BlockHash: blockHash,
		VoterID:   s.handlers.SelfAddress,
		Signature: string(sig),
	})
	if finalized {
		s.commitRound(blockHash, proof)
	}
}

// commitRound appends a block whose round crossed the PRECOMMIT
// threshold, backed by its finality proof, to the chain, and drops
// its pending round/body bookkeeping either way.
func (s *Server) commitRound(blockHash types.Hash256, proof *tsdc.FinalityProof) {
	s.blockMu.Lock()
	block, ok := s.pendingBlocks[blockHash]
	delete(s.pendingBlocks, blockHash)
	s.blockMu.Unlock()
	s.handlers.Rounds.Forget(blockHash)
	if !ok {
		return
	}

	fees := make(map[types.Hash256]uint64, len(block.Transactions))
	txids := make([]types.Hash256, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		txid := tx.TxID()
		txids = append(txids, txid)
		if entry, ok := s.handlers.Pool.GetPendingEntry(txid); ok {
			fees[txid] = entry.Fee
		}
	}
	active := s.handlers.Nodes.ListActive()
	if err := s.handlers.Chain.AddBlock(&block, fees, active, time.Now().Unix(), true); err != nil {
		if s.log != nil {
			s.log.Warnw("finalized block rejected at commit", "err", err, "block_hash", blockHash.String())
		}
		return
	}
	s.handlers.Pool.RemoveFinalized(txids)
	if s.log != nil {
		signers := 0
		if proof != nil {
			signers = proof.SignerCount
		}
		s.log.Infow("block committed via two-phase consensus", "height", block.Header.Height, "signers", signers)
	}
}

// MaybeFallbackCommit checks whether blockHash's round has stalled
// past the consensus timeout with too little validator weight/count to
// ever complete PRECOMMIT, and if so commits it unilaterally (see
// tsdc.Round.ShouldFallbackUnilateral's documented safety reduction).
// Driven by whichever loop proposed the block, since it alone tracks
// which hash is awaiting finality.
func (s *Server) MaybeFallbackCommit(blockHash types.Hash256, now int64, timeout time.Duration) {
	round, ok := s.handlers.Rounds.Get(blockHash)
	if !ok {
		return
	}
	if !round.ShouldFallbackUnilateral(now, timeout, s.handlers.Nodes.CountActive()) {
		return
	}
	s.commitRound(blockHash, nil)
}
