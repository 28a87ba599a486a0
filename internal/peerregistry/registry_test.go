package peerregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/wire"
)

type fakeWriter struct {
	sent []wire.Envelope
	fail bool
}

func (f *fakeWriter) Send(env wire.Envelope) error {
	if f.fail {
		return assertErr
	}
	f.sent = append(f.sent, env)
	return nil
}

var assertErr = &sendError{}

type sendError struct{}

func (e *sendError) Error() string { return "send failed" }

func TestAddPeerKeepsSmallerLocalIP(t *testing.T) {
	r := New()
	w1 := &fakeWriter{}
	w2 := &fakeWriter{}

	require.True(t, r.AddPeer("10.0.0.5", "10.0.0.9", w1))
	require.False(t, r.AddPeer("10.0.0.5", "10.0.0.95", w2)) // sorts after "10.0.0.9", loses
	require.True(t, r.AddPeer("10.0.0.5", "10.0.0.1", w2))   // sorts before "10.0.0.9", wins
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	r := New()
	w1, w2 := &fakeWriter{}, &fakeWriter{}
	r.AddPeer("10.0.0.1", "10.0.0.1", w1)
	r.AddPeer("10.0.0.2", "10.0.0.1", w2)

	failed := r.Broadcast(wire.Envelope{})
	require.Empty(t, failed)
	require.Len(t, w1.sent, 1)
	require.Len(t, w2.sent, 1)
}

func TestGossipSelectiveExcludesSource(t *testing.T) {
	r := New()
	w1, w2 := &fakeWriter{}, &fakeWriter{}
	r.AddPeer("10.0.0.1", "x", w1)
	r.AddPeer("10.0.0.2", "x", w2)

	r.GossipSelective(wire.Envelope{}, 20, "10.0.0.1")
	require.Empty(t, w1.sent)
	require.Len(t, w2.sent, 1)
}
