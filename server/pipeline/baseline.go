package pipeline

import (
	"sync"
	"time"

	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
)

// BaselineStore holds the snapshot we consider "normal" plant appearance.
// Only the pipeline worker mutates it, but HTTP handlers read it, so access
// goes through a mutex.
type BaselineStore struct {
	lock       sync.Mutex
	snapshot   *vegmetrics.Snapshot
	anchoredAt time.Time
}

func NewBaselineStore() *BaselineStore {
	return &BaselineStore{}
}

// Get returns the current baseline, or nil if none has been established yet.
func (b *BaselineStore) Get() *vegmetrics.Snapshot {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.snapshot
}

func (b *BaselineStore) AnchoredAt() time.Time {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.anchoredAt
}

// Anchor replaces the baseline. Anchoring is idempotent: re-anchoring to the
// same snapshot leaves subsequent evaluations unchanged.
func (b *BaselineStore) Anchor(snapshot *vegmetrics.Snapshot, now time.Time) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.snapshot = snapshot
	b.anchoredAt = now
}

func (b *BaselineStore) IsSet() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.snapshot != nil
}

// Reset discards the baseline, so the next non-empty snapshot re-establishes it.
func (b *BaselineStore) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.snapshot = nil
	b.anchoredAt = time.Time{}
}
