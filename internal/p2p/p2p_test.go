package p2p

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/blacklist"
	"github.com/timecoin/node/internal/blockcache"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/masternode"
	"github.com/timecoin/node/internal/peerregistry"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/timevote"
	"github.com/timecoin/node/internal/tsdc"
	"github.com/timecoin/node/internal/txpool"
	"github.com/timecoin/node/internal/types"
)

func newTestNode(t *testing.T) (Handlers, *peerregistry.Registry) {
	t.Helper()
	nodes, err := masternode.NewRegistry(storage.NewMemoryStorage(), nil)
	require.NoError(t, err)
	cache, err := blockcache.New(1)
	require.NoError(t, err)
	chain := chainengine.New(storage.NewMemoryStorage(), cache, nodes, 0, nil)
	require.NoError(t, chain.InitializeGenesis())

	mgr := txpool.NewPool(nil, nil)
	return Handlers{
		Chain:  chain,
		Pool:   mgr,
		Nodes:  nodes,
		Votes:  timevote.NewCore(nil),
		Rounds: tsdc.NewManager(nil),
	}, peerregistry.New()
}

var testMagic = [4]byte{1, 2, 3, 4}

func startTestServer(t *testing.T) string {
	return startTestServerWithGuards(t, nil, nil)
}

func startTestServerWithGuards(t *testing.T, bans *blacklist.List, limiter *blacklist.Limiter) string {
	t.Helper()
	h, peers := newTestNode(t)
	srv := NewServer(testMagic, "testnet", peers, h, bans, limiter, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, addr)
	time.Sleep(20 * time.Millisecond)
	return addr
}

func TestDialClientFetchesHeightAndGenesis(t *testing.T) {
	addr := startTestServer(t)
	client := NewDialClient(testMagic, "testnet")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	height, tipHash, genesisHash, rtt, err := client.GetHeightAndGenesis(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), height)
	require.NotEqual(t, types.Hash256{}, genesisHash)
	require.Equal(t, genesisHash, tipHash)
	require.GreaterOrEqual(t, rtt, time.Duration(0))
}

func TestDialClientRejectsWrongMagic(t *testing.T) {
	addr := startTestServer(t)
	client := NewDialClient([4]byte{9, 9, 9, 9}, "testnet")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, _, _, err := client.GetHeightAndGenesis(ctx, addr)
	require.Error(t, err)
}

func TestDialClientGetBlocksReturnsGenesisOnly(t *testing.T) {
	addr := startTestServer(t)
	client := NewDialClient(testMagic, "testnet")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	blocks, err := client.GetBlocks(ctx, addr, 0, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, uint64(0), blocks[0].Header.Height)
}

// TestBannedPeerConnectionRejected pins the dialing connection to a
// known local port so its remote-address key is predictable, bans
// that key in advance, and checks the server closes the connection
// before completing a handshake.
func TestBannedPeerConnectionRejected(t *testing.T) {
	portLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	localPort := portLn.Addr().(*net.TCPAddr).Port
	portLn.Close()

	clientIP := fmt.Sprintf("127.0.0.1:%d", localPort)
	bans := blacklist.New()
	bans.RecordViolation(clientIP, blacklist.ViolationBadBlock, time.Now())
	bans.RecordViolation(clientIP, blacklist.ViolationBadBlock, time.Now())
	require.True(t, bans.IsBanned(clientIP, time.Now()))

	addr := startTestServerWithGuards(t, bans, nil)

	dialer := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: localPort}}
	conn, err := dialer.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
}

// TestRateLimiterBlocksExcessTxBroadcasts exercises the per-channel
// token bucket wired into dispatch's allowed() gate.
func TestRateLimiterBlocksExcessTxBroadcasts(t *testing.T) {
	h, peers := newTestNode(t)
	limiter := blacklist.NewLimiter()
	srv := NewServer(testMagic, "testnet", peers, h, nil, limiter, nil)

	allowed := 0
	for i := 0; i < 1100; i++ {
		if srv.allowed(types.MsgTransactionBroadcast, "203.0.113.5:4001") {
			allowed++
		}
	}
	require.LessOrEqual(t, allowed, 1000)
	require.Greater(t, allowed, 0)
}
