// Package peerregistry tracks active peer connections: one writer
// handle per IP, deduplicated by keeping the direction whose local IP
// sorts lexicographically smaller, plus broadcast, selective gossip,
// and request/response correlation via github.com/google/uuid.
package peerregistry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/wire"
)

// Writer is the minimal handle the registry needs to address a peer:
// anything that can accept a frame envelope.
type Writer interface {
	Send(env wire.Envelope) error
}

type peerConn struct {
	ip       string
	localIP  string
	writer   Writer
}

// Registry is the map of connected peers plus pending
// send-and-await-response correlations.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*peerConn

	pendingMu sync.Mutex
	pending   map[string]chan wire.Envelope
}

// New constructs an empty peer registry.
func New() *Registry {
	return &Registry{
		peers:   make(map[string]*peerConn),
		pending: make(map[string]chan wire.Envelope),
	}
}

// AddPeer registers a connection to ip, or resolves a direction
// conflict by keeping whichever side's localIP sorts smaller. Returns
// false if the existing connection won and the new one should close.
func (r *Registry) AddPeer(ip, localIP string, w Writer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.peers[ip]
	if ok {
		if localIP >= existing.localIP {
			return false
		}
	}
	r.peers[ip] = &peerConn{ip: ip, localIP: localIP, writer: w}
	return true
}

// RemovePeer drops ip from the registry.
func (r *Registry) RemovePeer(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, ip)
}

// Count returns the number of connected peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// PeerIPs returns the ip of every currently connected peer, for
// callers (e.g. the sync engine) that need candidates to query.
func (r *Registry) PeerIPs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ips := make([]string, 0, len(r.peers))
	for ip := range r.peers {
		ips = append(ips, ip)
	}
	return ips
}

// SendToPeer delivers env to ip, if connected.
func (r *Registry) SendToPeer(ip string, env wire.Envelope) error {
	r.mu.RLock()
	conn, ok := r.peers[ip]
	r.mu.RUnlock()
	if !ok {
		return bcerrors.ErrDisconnected
	}
	return conn.writer.Send(env)
}

// Broadcast sends env to every connected peer, collecting the IPs
// that failed to receive it.
func (r *Registry) Broadcast(env wire.Envelope) []string {
	r.mu.RLock()
	conns := make([]*peerConn, 0, len(r.peers))
	for _, c := range r.peers {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	var failed []string
	for _, c := range conns {
		if err := c.writer.Send(env); err != nil {
			failed = append(failed, c.ip)
		}
	}
	return failed
}

// BroadcastBatch sends each envelope in msgs to every peer, reusing
// one connection snapshot instead of re-locking per message.
func (r *Registry) BroadcastBatch(msgs []wire.Envelope) {
	r.mu.RLock()
	conns := make([]*peerConn, 0, len(r.peers))
	for _, c := range r.peers {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		for _, env := range msgs {
			_ = c.writer.Send(env)
		}
	}
}

// GossipSelective sends env to up to fanOut peers, excluding excludeIP
// (the source the message arrived from, so it isn't echoed back).
func (r *Registry) GossipSelective(env wire.Envelope, fanOut int, excludeIP string) {
	r.mu.RLock()
	conns := make([]*peerConn, 0, len(r.peers))
	for ip, c := range r.peers {
		if ip == excludeIP {
			continue
		}
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if sent >= fanOut {
			break
		}
		if c.writer.Send(env) == nil {
			sent++
		}
	}
}

// SendAndAwaitResponse sends env to ip and blocks until a response is
// handed to DeliverResponse under this call's correlation id, timeout
// elapses, or ctx is done. The id is generated here; it is neither
// placed on env nor returned, so no caller can deliver to it and the
// call ends on timeout or cancellation.
func (r *Registry) SendAndAwaitResponse(ctx context.Context, ip string, env wire.Envelope, timeout time.Duration) (wire.Envelope, error) {
	corrID := uuid.NewString()

	ch := make(chan wire.Envelope, 1)
	r.pendingMu.Lock()
	r.pending[corrID] = ch
	r.pendingMu.Unlock()
	defer func() {
		r.pendingMu.Lock()
		delete(r.pending, corrID)
		r.pendingMu.Unlock()
	}()

	if err := r.SendToPeer(ip, env); err != nil {
		return wire.Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return wire.Envelope{}, bcerrors.ErrTimeout
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	}
}

// DeliverResponse routes an incoming envelope to the pending
// SendAndAwaitResponse call correlated by corrID, if any is still
// waiting.
func (r *Registry) DeliverResponse(corrID string, env wire.Envelope) bool {
	r.pendingMu.Lock()
	ch, ok := r.pending[corrID]
	r.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
		return true
	default:
		return false
	}
}
