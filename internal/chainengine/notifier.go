package chainengine

import (
	"sync"
	"time"

	"github.com/timecoin/node/internal/types"
)

// StateChange is one UTXO transition: its outpoint, previous state
// (nil for a freshly created UTXO), new state, and when it happened.
type StateChange struct {
	OutPoint  types.OutPoint
	OldState  *types.UTXOState
	NewState  types.UTXOState
	Timestamp int64
}

// StateNotifier is a pub/sub fan-out for UTXO state changes: callers
// subscribe to one outpoint or to the global stream, backed by
// buffered channels so a slow subscriber cannot block publication.
type StateNotifier struct {
	mu          sync.RWMutex
	subscribers map[types.OutPoint][]chan StateChange
	global      []chan StateChange
}

// NewStateNotifier constructs an empty notifier.
func NewStateNotifier() *StateNotifier {
	return &StateNotifier{subscribers: make(map[types.OutPoint][]chan StateChange)}
}

// SubscribeToOutPoint returns a channel that receives every future
// state change for op. The caller should drain it; the channel is
// buffered (capacity 32) so one slow reader can't stall a publish.
func (n *StateNotifier) SubscribeToOutPoint(op types.OutPoint) <-chan StateChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan StateChange, 32)
	n.subscribers[op] = append(n.subscribers[op], ch)
	return ch
}

// SubscribeGlobally returns a channel that receives every state
// change across all outpoints.
func (n *StateNotifier) SubscribeGlobally() <-chan StateChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan StateChange, 1024)
	n.global = append(n.global, ch)
	return ch
}

// NotifyStateChange publishes one transition to the outpoint's
// subscribers and every global subscriber, dropping the notification
// for any subscriber whose buffer is full rather than blocking.
func (n *StateNotifier) NotifyStateChange(op types.OutPoint, old *types.UTXOState, new_ types.UTXOState) {
	change := StateChange{OutPoint: op, OldState: old, NewState: new_, Timestamp: time.Now().Unix()}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subscribers[op] {
		select {
		case ch <- change:
		default:
		}
	}
	for _, ch := range n.global {
		select {
		case ch <- change:
		default:
		}
	}
}

// HasSubscribers reports whether op currently has any subscriber.
func (n *StateNotifier) HasSubscribers(op types.OutPoint) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers[op]) > 0
}

// TotalSubscribers counts every per-outpoint subscriber channel
// (global subscribers are not included, matching the per-outpoint
// focus of the count).
func (n *StateNotifier) TotalSubscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := 0
	for _, chans := range n.subscribers {
		total += len(chans)
	}
	return total
}
