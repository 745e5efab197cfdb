// Package reassembly implements the TCP byte-stream reassembler (C4): an
// out-of-order-tolerant, bounded-memory state machine that turns segments
// on the selected flow into a contiguous byte queue for the frame
// demultiplexer (internal/frame).
package reassembly

import (
	"sync"
	"time"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

const (
	// MaxCacheEntries is the segment cache's hard size cap.
	MaxCacheEntries = 1000
	// MaxQueueBytes is the reassembled byte queue's hard cap.
	MaxQueueBytes = 10 * 1024 * 1024
	// CacheEntryTimeout evicts a cached segment untouched this long.
	CacheEntryTimeout = 60 * time.Second
	// IdleResetTimeout resets the selected flow when the queue has been
	// idle this long.
	IdleResetTimeout = 30 * time.Second
	// JanitorInterval is the cadence of the periodic eviction sweep.
	JanitorInterval = 10 * time.Second
	// MaxOuterPacketSize bounds a plausible outer frame size: sizes at or
	// above this are never adopted as the initial expected sequence.
	MaxOuterPacketSize = 0x0F_FFFF
)

// segmentCacheEntry holds one buffered out-of-order segment.
type segmentCacheEntry struct {
	payload    []byte
	lastAccess time.Time
}

// State is the reassembler's state machine for one selected flow. It owns
// the segment cache and the reassembled byte queue; it is not safe for
// concurrent use without the enclosing lock (see Reassembler).
type State struct {
	flow         model.FlowKey
	hasFlow      bool
	expectedSeq  uint32
	hasExpected  bool
	cache        map[uint32]*segmentCacheEntry
	queue        []byte
	lastActivity time.Time
}

func newState() *State {
	return &State{cache: make(map[uint32]*segmentCacheEntry)}
}

// reset clears all reassembly state (flow, cache, queue) -- used on
// protocol desync and the janitor's idle reset.
func (s *State) reset() {
	s.hasFlow = false
	s.flow = model.FlowKey{}
	s.hasExpected = false
	s.expectedSeq = 0
	s.cache = make(map[uint32]*segmentCacheEntry)
	s.queue = s.queue[:0]
}

// AdoptFlow locks the reassembler onto a newly selected flow and primes
// the expected sequence from the signature match.
func (s *State) adoptFlow(flow model.FlowKey, expectedSeq uint32, now time.Time) {
	s.reset()
	s.hasFlow = true
	s.flow = flow
	s.hasExpected = true
	s.expectedSeq = expectedSeq
	s.lastActivity = now
}

// Reassembler wraps State with the lock the capture and janitor goroutines
// share; the expected packet rate is modest enough for a single mutex.
type Reassembler struct {
	mu    sync.Mutex
	state *State

	drain DrainFunc

	janitorStop chan struct{}
	janitorDone chan struct{}
	now         func() time.Time
}

// DrainFunc receives the reassembled bytes as they become contiguous. It
// must return any bytes it did not consume (the trailing partial frame);
// those bytes remain buffered for the next drain.
type DrainFunc func(data []byte) (unconsumed int)

// New creates a reassembler. drain is invoked with the full contiguous
// queue every time new bytes are appended; its return value is the number
// of bytes, counted from the end, that remain unconsumed.
func New(drain DrainFunc) *Reassembler {
	return &Reassembler{
		state: newState(),
		drain: drain,
		now:   time.Now,
	}
}

// SelectedFlow reports the currently selected flow, if any.
func (r *Reassembler) SelectedFlow() (model.FlowKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.flow, r.state.hasFlow
}

// AdoptFlow selects a new flow, clearing all prior state and seeding the
// expected sequence just past the triggering segment.
func (r *Reassembler) AdoptFlow(flow model.FlowKey, seq uint32, payloadLen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expected := seq + uint32(payloadLen)
	r.state.adoptFlow(flow, expected, r.now())
}

// ResetFlow clears the selected flow and all reassembly state, without
// selecting a new one. Used on protocol errors and idle timeout.
func (r *Reassembler) ResetFlow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.reset()
}

// looksLikeValidOuterSize reports whether the first 4 bytes of payload
// decode to a plausible outer packet size (< 0x0F_FFFF).
func looksLikeValidOuterSize(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	size := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	return size < MaxOuterPacketSize
}

// Feed buffers a segment on the selected flow and drains everything that
// becomes contiguous. It is a no-op if the segment does not belong to the
// selected flow.
func (r *Reassembler) Feed(flow model.FlowKey, seq uint32, payload []byte) {
	if len(payload) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state
	if !s.hasFlow || s.flow != flow {
		return
	}

	if !s.hasExpected {
		if !looksLikeValidOuterSize(payload) {
			return
		}
		s.hasExpected = true
		s.expectedSeq = seq
	}

	if !acceptable(s.expectedSeq, seq) {
		return
	}

	s.lastActivity = r.now()
	s.cache[seq] = &segmentCacheEntry{payload: append([]byte(nil), payload...), lastAccess: s.lastActivity}
	r.evictOverflow()
	r.drainLocked()
}

// acceptable reports whether seq should be buffered relative to expected,
// tolerating unsigned-32 wrap-around: seq >= expected in unsigned order,
// or wrap-around is plausible (expected > 2^31 and seq < 2^31).
func acceptable(expected, seq uint32) bool {
	if seq >= expected {
		return true
	}
	const half = uint32(1) << 31
	return expected > half && seq < half
}

// evictOverflow enforces the cache size cap by evicting the oldest entry
// by lastAccess.
func (r *Reassembler) evictOverflow() {
	s := r.state
	for len(s.cache) > MaxCacheEntries {
		var oldestKey uint32
		var oldestTime time.Time
		first := true
		for k, e := range s.cache {
			if first || e.lastAccess.Before(oldestTime) {
				oldestKey = k
				oldestTime = e.lastAccess
				first = false
			}
		}
		delete(s.cache, oldestKey)
	}
}

// drainLocked greedily appends cached entries whose key equals the
// expected sequence, advancing expected by the entry's length modulo 2^32,
// then invokes drain with the resulting contiguous bytes. Caller must hold
// r.mu.
func (r *Reassembler) drainLocked() {
	s := r.state
	for {
		entry, ok := s.cache[s.expectedSeq]
		if !ok {
			break
		}
		delete(s.cache, s.expectedSeq)
		s.expectedSeq += uint32(len(entry.payload))

		if len(s.queue)+len(entry.payload) > MaxQueueBytes {
			// Unrecoverable desync: drop the queue and cache rather than
			// propagate an error.
			s.queue = s.queue[:0]
			s.cache = make(map[uint32]*segmentCacheEntry)
			return
		}
		s.queue = append(s.queue, entry.payload...)
	}

	if len(s.queue) == 0 || r.drain == nil {
		return
	}

	unconsumed := r.drain(s.queue)
	if unconsumed < 0 {
		unconsumed = 0
	}
	if unconsumed > len(s.queue) {
		unconsumed = len(s.queue)
	}
	consumed := len(s.queue) - unconsumed
	s.queue = append(s.queue[:0], s.queue[consumed:]...)
}

// QueueLen reports the number of bytes currently buffered in the
// reassembled queue (for tests and diagnostics).
func (r *Reassembler) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.queue)
}

// CacheLen reports the number of segments currently buffered out of order.
func (r *Reassembler) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.cache)
}

// ExpectedSeq reports the reassembler's current expected sequence number.
func (r *Reassembler) ExpectedSeq() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.expectedSeq, r.state.hasExpected
}

// StartJanitor launches the periodic eviction sweep. Calling it twice
// without StopJanitor is a no-op.
func (r *Reassembler) StartJanitor() {
	r.mu.Lock()
	if r.janitorStop != nil {
		r.mu.Unlock()
		return
	}
	r.janitorStop = make(chan struct{})
	r.janitorDone = make(chan struct{})
	stop := r.janitorStop
	done := r.janitorDone
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// StopJanitor cancels the periodic eviction sweep and waits for it to
// exit.
func (r *Reassembler) StopJanitor() {
	r.mu.Lock()
	stop := r.janitorStop
	done := r.janitorDone
	r.janitorStop = nil
	r.janitorDone = nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// sweep evicts stale cache entries and resets the flow on idle queues.
func (r *Reassembler) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := r.state
	for k, e := range s.cache {
		if now.Sub(e.lastAccess) > CacheEntryTimeout {
			delete(s.cache, k)
		}
	}

	if s.hasFlow && now.Sub(s.lastActivity) > IdleResetTimeout {
		s.reset()
	}
}
