// Package wire implements the peer-to-peer frame codec:
// [4-byte big-endian length][payload], a handshake magic check, and a
// gob-encoded envelope carrying one NetworkMessage variant per frame.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/types"
)

// MaxFramePayload is the largest payload accepted in one frame.
const MaxFramePayload = 4 * 1024 * 1024

// Envelope is the gob-serialized unit traveling inside one frame: a
// MessageKind tag plus the matching variant payload.
type Envelope struct {
	Kind    types.MessageKind
	Payload interface{}
}

func init() {
	gob.Register(types.Handshake{})
	gob.Register(types.Ping{})
	gob.Register(types.Pong{})
	gob.Register(types.TransactionBroadcast{})
	gob.Register(types.TimeVotePrepare{})
	gob.Register(types.TimeVotePrecommit{})
	gob.Register(types.TransactionVote{})
	gob.Register(types.TimeLockBlockProposal{})
	gob.Register(types.GetBlocks{})
	gob.Register(types.BlocksResponse{})
	gob.Register(types.GetBlockHeight{})
	gob.Register(types.BlockHeightResponse{})
	gob.Register(types.GetMasternodes{})
	gob.Register(types.MasternodesResponse{})
	gob.Register(types.MasternodeAnnouncement{})
	gob.Register(types.GetGenesisHash{})
	gob.Register(types.GenesisHashResponse{})
}

// WriteFrame gob-encodes env and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, env Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("%w: %v", bcerrors.ErrSerialization, err)
	}
	if buf.Len() > MaxFramePayload {
		return bcerrors.ErrFrameTooLarge
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads one length-prefixed frame and gob-decodes it into an
// Envelope. An oversized length prefix is rejected without reading the
// payload, so a malicious peer cannot force an unbounded allocation.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size > MaxFramePayload {
		return Envelope{}, bcerrors.ErrFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", bcerrors.ErrSerialization, err)
	}
	return env, nil
}

// ReadHandshake reads the mandatory first frame of a connection and
// verifies its magic against want.
func ReadHandshake(r io.Reader, want [4]byte) (types.Handshake, error) {
	env, err := ReadFrame(r)
	if err != nil {
		return types.Handshake{}, err
	}
	hs, ok := env.Payload.(types.Handshake)
	if !ok {
		return types.Handshake{}, bcerrors.ErrHandshakeFailed
	}
	if hs.Magic != want {
		return types.Handshake{}, bcerrors.ErrInvalidMagic
	}
	return hs, nil
}

// WriteHandshake writes the first frame of a connection.
func WriteHandshake(w io.Writer, hs types.Handshake) error {
	return WriteFrame(w, Envelope{Kind: types.MsgHandshake, Payload: hs})
}
