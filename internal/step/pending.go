package step

import (
	"errors"
	"fmt"
	"sync"

	"github.com/procgov/pop-mcp-server/internal/maputil"
	"github.com/procgov/pop-mcp-server/internal/protocol"
)

var errFulfilmentPending = errors.New("step fulfilment already pending")

// PendingStore holds steps suspended on an external actor. A suspended
// quiz, approval, or information step registers here and blocks until the
// webhook (or an AutoResolver) delivers a fulfilment.
type PendingStore struct {
	mu      sync.Mutex
	pending map[string]*pendingStep
}

type pendingStep struct {
	ch   chan protocol.Fulfilment
	kind string
}

// NewPendingStore creates an empty pending store.
func NewPendingStore() *PendingStore {
	return &PendingStore{pending: make(map[string]*pendingStep)}
}

func pendingKey(runID, stepID string) string {
	return fmt.Sprintf("%s/%s", runID, stepID)
}

// Register allocates a suspension slot for the run's step. The channel is
// buffered so a resolution never blocks the webhook handler.
func (s *PendingStore) Register(runID, stepID, kind string) (<-chan protocol.Fulfilment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey(runID, stepID)
	if _, exists := s.pending[key]; exists {
		return nil, errFulfilmentPending
	}
	ch := make(chan protocol.Fulfilment, 1)
	s.pending[key] = &pendingStep{ch: ch, kind: kind}
	return ch, nil
}

// Resolve delivers a fulfilment for the run's step. A quiz step stays
// registered so further attempts can arrive; other kinds resolve once.
func (s *PendingStore) Resolve(f protocol.Fulfilment) bool {
	key := pendingKey(f.RunID, f.StepID)

	s.mu.Lock()
	entry, ok := s.pending[key]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case entry.ch <- f:
		return true
	default:
		return false
	}
}

// Cancel removes a suspended step without a fulfilment.
func (s *PendingStore) Cancel(runID, stepID string) {
	entry, ok := maputil.Pop(&s.mu, s.pending, pendingKey(runID, stepID))
	if ok {
		close(entry.ch)
	}
}
