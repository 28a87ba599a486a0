package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/types"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ping := types.Ping{Nonce: 7, Timestamp: 1000}
	require.NoError(t, WriteFrame(&buf, Envelope{Kind: types.MsgPing, Payload: ping}))

	env, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, types.MsgPing, env.Kind)
	require.Equal(t, ping, env.Payload.(types.Ping))
}

func TestReadHandshakeRejectsWrongMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHandshake(&buf, types.Handshake{Magic: types.TestnetMagic, ProtocolVersion: 1, Network: "testnet"}))

	_, err := ReadHandshake(&buf, types.MainnetMagic)
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	oversized := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(oversized)

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}
