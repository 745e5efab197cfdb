package reassembly

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

func testFlow() model.FlowKey {
	return model.NewFlowKey(net.IPv4(10, 0, 0, 1), 5000, net.IPv4(10, 0, 0, 2), 443)
}

func TestFeedInOrderDrains(t *testing.T) {
	var got []byte
	r := New(func(data []byte) int {
		got = append(got, data...)
		return 0
	})

	flow := testFlow()
	r.AdoptFlow(flow, 1000, 0)
	r.Feed(flow, 1000, []byte("hello "))
	r.Feed(flow, 1006, []byte("world"))

	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
	if r.QueueLen() != 0 {
		t.Errorf("expected queue drained, got %d bytes buffered", r.QueueLen())
	}
}

func TestFeedOutOfOrderReorders(t *testing.T) {
	var got []byte
	r := New(func(data []byte) int {
		got = append(got, data...)
		return 0
	})

	flow := testFlow()
	r.AdoptFlow(flow, 1000, 0)

	// Second segment arrives first; it must be cached, not appended, until
	// the first segment closes the gap.
	r.Feed(flow, 1006, []byte("world"))
	if r.QueueLen() != 0 {
		t.Fatalf("expected nothing drained yet, got %d bytes", r.QueueLen())
	}
	if r.CacheLen() != 1 {
		t.Fatalf("expected 1 cached out-of-order segment, got %d", r.CacheLen())
	}

	r.Feed(flow, 1000, []byte("hello "))
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
	if r.CacheLen() != 0 {
		t.Errorf("expected cache drained, got %d entries", r.CacheLen())
	}
}

func TestFeedDuplicateSegmentIgnored(t *testing.T) {
	var calls int
	r := New(func(data []byte) int {
		calls++
		return 0
	})

	flow := testFlow()
	r.AdoptFlow(flow, 1000, 0)
	r.Feed(flow, 1000, []byte("abc"))
	r.Feed(flow, 1000, []byte("xyz")) // stale duplicate, before expected

	if got, _ := r.ExpectedSeq(); got != 1003 {
		t.Errorf("expected sequence 1003, got %d", got)
	}
	if calls != 1 {
		t.Errorf("expected drain invoked once, got %d", calls)
	}
}

func TestFeedIgnoresOtherFlows(t *testing.T) {
	r := New(func(data []byte) int { return 0 })
	flow := testFlow()
	r.AdoptFlow(flow, 1000, 0)

	other := model.NewFlowKey(net.IPv4(1, 1, 1, 1), 1, net.IPv4(2, 2, 2, 2), 2)
	r.Feed(other, 1000, []byte("nope"))

	if r.QueueLen() != 0 || r.CacheLen() != 0 {
		t.Error("expected segment on unselected flow to be dropped")
	}
}

func TestWrapAroundAccepted(t *testing.T) {
	var got []byte
	r := New(func(data []byte) int {
		got = append(got, data...)
		return 0
	})

	flow := testFlow()
	near := uint32(1) << 31
	near += 1 << 30 // comfortably above half, below max
	r.AdoptFlow(flow, near-5, 5)
	// expected is now `near`. Next segment wraps past 2^32 back near zero.
	wrapSeq := uint32(10)
	if !acceptable(near, wrapSeq) {
		t.Fatalf("expected wrap-around sequence %d to be acceptable relative to %d", wrapSeq, near)
	}

	r.Feed(flow, near, []byte("before-wrap"))
	if !bytes.Equal(got, []byte("before-wrap")) {
		t.Fatalf("got %q", got)
	}
}

func TestLRUEvictionAtCacheCap(t *testing.T) {
	r := New(func(data []byte) int { return len(data) }) // never drain: keep everything cached via gap

	flow := testFlow()
	r.AdoptFlow(flow, 0, 0)

	// Leave seq 0 unfed so nothing ever drains; feed 1001 distinct
	// out-of-order segments starting beyond the gap.
	for i := 0; i < 1001; i++ {
		seq := uint32(100000 + i*10)
		r.Feed(flow, seq, []byte{byte(i)})
	}

	if r.CacheLen() != MaxCacheEntries {
		t.Errorf("expected cache capped at %d entries, got %d", MaxCacheEntries, r.CacheLen())
	}
}

func TestQueueCapResetsOnOverflow(t *testing.T) {
	r := New(func(data []byte) int { return len(data) }) // claim fully unconsumed, queue keeps growing

	flow := testFlow()
	r.AdoptFlow(flow, 0, 0)

	big := make([]byte, MaxQueueBytes)
	r.Feed(flow, 0, big)
	// First chunk fits exactly; queue now at cap, unconsumed so it stays.
	if r.QueueLen() != MaxQueueBytes {
		t.Fatalf("expected queue at cap, got %d", r.QueueLen())
	}

	r.Feed(flow, uint32(MaxQueueBytes), []byte("overflow"))
	if r.QueueLen() != 0 {
		t.Errorf("expected queue reset to empty after overflow, got %d", r.QueueLen())
	}
}

func TestSweepEvictsStaleCacheEntries(t *testing.T) {
	r := New(func(data []byte) int { return len(data) })
	flow := testFlow()
	r.AdoptFlow(flow, 0, 0)

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Feed(flow, 100, []byte("stale"))
	if r.CacheLen() != 1 {
		t.Fatalf("expected 1 cached entry")
	}

	r.now = func() time.Time { return base.Add(CacheEntryTimeout + time.Second) }
	r.sweep()

	if r.CacheLen() != 0 {
		t.Errorf("expected stale cache entry evicted, got %d remaining", r.CacheLen())
	}
}

func TestSweepResetsIdleFlow(t *testing.T) {
	r := New(func(data []byte) int { return len(data) })
	flow := testFlow()

	base := time.Now()
	r.now = func() time.Time { return base }
	r.AdoptFlow(flow, 0, 0)

	r.now = func() time.Time { return base.Add(IdleResetTimeout + time.Second) }
	r.sweep()

	if _, ok := r.SelectedFlow(); ok {
		t.Error("expected idle flow to be reset")
	}
}

func TestResetFlowClearsState(t *testing.T) {
	r := New(func(data []byte) int { return 0 })
	flow := testFlow()
	r.AdoptFlow(flow, 1000, 0)
	r.Feed(flow, 2000, []byte("gap")) // cached, out of order

	r.ResetFlow()

	if _, ok := r.SelectedFlow(); ok {
		t.Error("expected no selected flow after reset")
	}
	if r.CacheLen() != 0 || r.QueueLen() != 0 {
		t.Error("expected cache and queue cleared after reset")
	}
}

func TestStartStopJanitorIsSafe(t *testing.T) {
	r := New(func(data []byte) int { return 0 })
	r.StartJanitor()
	r.StartJanitor() // second call is a no-op, must not deadlock
	r.StopJanitor()
	r.StopJanitor() // second call is a no-op, must not block
}
