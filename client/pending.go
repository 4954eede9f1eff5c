package client

import (
	"sync"
	"time"

	"github.com/streamrpc/streamrpc/wire"
)

type callResult struct {
	payload []byte
	err     error
}

// pendingCall tracks one in-flight request. Its completion channel is
// buffered so the resolver never blocks, and delivery happens exactly once:
// only the goroutine that removes the entry from the table may resolve it.
type pendingCall struct {
	id      wire.CallID
	created time.Time
	done    chan callResult
}

type pendingTable struct {
	mu    sync.Mutex
	calls map[wire.CallID]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[wire.CallID]*pendingCall)}
}

func (t *pendingTable) add(id wire.CallID) *pendingCall {
	pc := &pendingCall{
		id:      id,
		created: time.Now(),
		done:    make(chan callResult, 1),
	}
	t.mu.Lock()
	t.calls[id] = pc
	t.mu.Unlock()
	return pc
}

// remove detaches the entry without resolving it. The caller becomes
// responsible for the completion. Returns nil if the entry is already gone.
func (t *pendingTable) remove(id wire.CallID) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc := t.calls[id]
	delete(t.calls, id)
	return pc
}

// complete removes and resolves the entry for id. Reports whether an entry
// was present; a false return means the call already timed out or was
// never issued, and the result must be dropped by the caller.
func (t *pendingTable) complete(id wire.CallID, res callResult) bool {
	pc := t.remove(id)
	if pc == nil {
		return false
	}
	pc.done <- res
	return true
}

// failAll resolves every outstanding call with err and empties the table.
// Used on disconnect so that no completion is silently lost.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[wire.CallID]*pendingCall)
	t.mu.Unlock()

	for _, pc := range calls {
		pc.done <- callResult{err: err}
	}
	return len(calls)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
