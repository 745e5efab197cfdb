// Package aggregator deduplicates extracted module records by uuid across
// a capture session and signals readiness once the first non-empty batch
// lands (C7).
package aggregator

import (
	"sort"
	"sync"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

// ReadyFunc is invoked once per session, the first time a batch adds at
// least one previously-unseen uuid.
type ReadyFunc func(batch []model.ModuleInfo)

// Aggregator is the append-only, uuid-deduplicated module set for one
// capture session.
type Aggregator struct {
	mu      sync.Mutex
	byUUID  map[uint64]model.ModuleInfo
	ready   bool
	onReady ReadyFunc
}

// New creates an empty aggregator. onReady fires at most once per Reset
// cycle.
func New(onReady ReadyFunc) *Aggregator {
	return &Aggregator{
		byUUID:  make(map[uint64]model.ModuleInfo),
		onReady: onReady,
	}
}

// Add merges a batch of extracted modules into the set, keeping only
// uuids not already present. Returns the modules that were actually new.
// If this call is the first to add any module this session, onReady
// fires with the full current set.
func (a *Aggregator) Add(batch []model.ModuleInfo) []model.ModuleInfo {
	if len(batch) == 0 {
		return nil
	}

	a.mu.Lock()
	var added []model.ModuleInfo
	for _, m := range batch {
		if _, exists := a.byUUID[m.UUID]; exists {
			continue
		}
		a.byUUID[m.UUID] = m
		added = append(added, m)
	}

	if len(added) == 0 {
		a.mu.Unlock()
		return nil
	}

	firstReady := !a.ready
	a.ready = true
	snapshot := a.allLocked()
	a.mu.Unlock()

	if firstReady && a.onReady != nil {
		a.onReady(snapshot)
	}
	return added
}

// All returns a uuid-ascending snapshot of every module captured this
// session.
func (a *Aggregator) All() []model.ModuleInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allLocked()
}

func (a *Aggregator) allLocked() []model.ModuleInfo {
	out := make([]model.ModuleInfo, 0, len(a.byUUID))
	for _, m := range a.byUUID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Len reports how many distinct modules have been captured.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byUUID)
}

// IsReady reports whether at least one non-empty batch has landed this
// session.
func (a *Aggregator) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Reset clears the captured-module set, as on a new "start" command.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byUUID = make(map[uint64]model.ModuleInfo)
	a.ready = false
}
