package exam

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newMutexFixture(timeout time.Duration, rolls ...string) *MutexManager {
	lb := NewLoopback()
	m := NewMutexManager(NewClock(), lb, timeout, func() []string {
		return append([]string(nil), rolls...)
	})
	lb.Bind(m.Deliver)
	return m
}

// filterTransport drops every message addressed to a configured roll, or
// travelling a configured sender-to-receiver direction. Used to simulate
// unresponsive participants and one-way partitions.
type filterTransport struct {
	mu       sync.Mutex
	drop     map[string]bool
	dropPair map[string]bool // keyed "from->to"
	deliver  func(Message)
}

func (f *filterTransport) Send(to string, msg Message) error {
	f.mu.Lock()
	dropped := f.drop[to] || f.dropPair[msg.From+"->"+to]
	fn := f.deliver
	f.mu.Unlock()
	if dropped || fn == nil {
		return nil
	}
	msg.To = to
	go fn(msg)
	return nil
}

func TestMutexSingleContender(t *testing.T) {
	m := newMutexFixture(time.Second, "23102A0001")
	if _, err := m.Request("23102A0001"); err != nil {
		t.Fatalf("solo request failed: %v", err)
	}
	if m.Holder() != "23102A0001" {
		t.Errorf("holder | got: %q, want: 23102A0001", m.Holder())
	}
	if err := m.Release("23102A0001"); err != nil {
		t.Errorf("release failed: %v", err)
	}
	if m.Holder() != "" {
		t.Errorf("holder after release | got: %q, want empty", m.Holder())
	}
}

func TestMutexDoubleRequestRejected(t *testing.T) {
	m := newMutexFixture(time.Second, "23102A0001")
	if _, err := m.Request("23102A0001"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := m.Request("23102A0001"); !errors.Is(err, ErrCSPending) {
		t.Errorf("second request | got: %v, want: ErrCSPending", err)
	}
}

// TestMutexSafety injects concurrent requests from every participant and
// checks that no two of them are ever inside the critical section at once.
func TestMutexSafety(t *testing.T) {
	rolls := []string{"23102A0001", "23102A0002", "23102A0003", "23102A0004", "23102A0005"}
	m := newMutexFixture(10*time.Second, rolls...)

	const entriesPerStudent = 4
	var inside int32
	var violations int32
	var wg sync.WaitGroup

	for _, roll := range rolls {
		wg.Add(1)
		go func(roll string) {
			defer wg.Done()
			for i := 0; i < entriesPerStudent; i++ {
				if _, err := m.Request(roll); err != nil {
					t.Errorf("request by %s failed: %v", roll, err)
					return
				}
				if n := atomic.AddInt32(&inside, 1); n != 1 {
					atomic.AddInt32(&violations, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				if err := m.Release(roll); err != nil {
					t.Errorf("release by %s failed: %v", roll, err)
					return
				}
			}
		}(roll)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("test timed out - likely a deadlock")
	}

	if v := atomic.LoadInt32(&violations); v != 0 {
		t.Errorf("mutual exclusion violated %d times", v)
	}
}

func TestMutexDeferredGrantOnRelease(t *testing.T) {
	m := newMutexFixture(5*time.Second, "23102A0001", "23102A0002")

	if _, err := m.Request("23102A0001"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	granted := make(chan error, 1)
	go func() {
		_, err := m.Request("23102A0002")
		granted <- err
	}()

	// The second request must stay deferred while the first holds the CS.
	select {
	case err := <-granted:
		t.Fatalf("request granted while CS held | err: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := m.Release("23102A0001"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("deferred request failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deferred reply never flushed on release")
	}
	if m.Holder() != "23102A0002" {
		t.Errorf("holder | got: %q, want: 23102A0002", m.Holder())
	}
}

func TestMutexTimeout(t *testing.T) {
	var rosterMu sync.Mutex
	roster := []string{"23102A0001", "23102A0002"}
	ft := &filterTransport{drop: map[string]bool{"23102A0002": true}}
	m := NewMutexManager(NewClock(), ft, 200*time.Millisecond, func() []string {
		rosterMu.Lock()
		defer rosterMu.Unlock()
		return append([]string(nil), roster...)
	})
	ft.mu.Lock()
	ft.deliver = m.Deliver
	ft.mu.Unlock()

	start := time.Now()
	_, err := m.Request("23102A0001")
	if !errors.Is(err, ErrCSTimeout) {
		t.Fatalf("unresponsive peer | got: %v, want: ErrCSTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v, bound was 200ms", time.Since(start))
	}

	// Partial state is released: a retry once the peer is gone succeeds.
	m.Terminate("23102A0002")
	rosterMu.Lock()
	roster = []string{"23102A0001"}
	rosterMu.Unlock()
	if _, err := m.Request("23102A0001"); err != nil {
		t.Errorf("retry after termination failed: %v", err)
	}
}

// TestMutexTimeoutFlushesDeferred partitions one direction so the first
// requester times out while owing a deferred reply to a later requester. The
// timeout must flush that reply; otherwise the later requester is dragged
// into a timeout of its own.
func TestMutexTimeoutFlushesDeferred(t *testing.T) {
	rolls := []string{"23102A0001", "23102A0002", "23102A0003"}
	ft := &filterTransport{dropPair: map[string]bool{"23102A0001->23102A0003": true}}
	m := NewMutexManager(NewClock(), ft, time.Second, func() []string {
		return append([]string(nil), rolls...)
	})
	ft.mu.Lock()
	ft.deliver = m.Deliver
	ft.mu.Unlock()

	// First requester: its REQUEST never reaches the third participant, so
	// it can only time out.
	first := make(chan error, 1)
	go func() {
		_, err := m.Request("23102A0001")
		first <- err
	}()
	time.Sleep(200 * time.Millisecond)

	// Later requester: its higher timestamp gets deferred by the first and
	// answered by the third, so it waits on the first alone.
	second := make(chan error, 1)
	go func() {
		_, err := m.Request("23102A0002")
		second <- err
	}()

	select {
	case err := <-first:
		if !errors.Is(err, ErrCSTimeout) {
			t.Fatalf("partitioned request | got: %v, want: ErrCSTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("partitioned request never timed out")
	}

	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("later request | got: %v, want grant", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed-out requester kept its deferred reply, later request starved")
	}
	if m.Holder() != "23102A0002" {
		t.Errorf("holder | got: %q, want: 23102A0002", m.Holder())
	}
}

func TestMutexTerminateFlushesDeferred(t *testing.T) {
	m := newMutexFixture(5*time.Second, "23102A0001", "23102A0002")

	if _, err := m.Request("23102A0001"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	granted := make(chan error, 1)
	go func() {
		_, err := m.Request("23102A0002")
		granted <- err
	}()
	time.Sleep(100 * time.Millisecond)

	// The holder is terminated while owing a deferred reply; the reply must
	// flush immediately so the waiter cannot be blocked forever.
	m.Terminate("23102A0001")

	select {
	case err := <-granted:
		if err != nil {
			t.Fatalf("waiter failed after terminate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminated holder still blocks the waiter")
	}
}

func TestMutexShutdownCancelsRequests(t *testing.T) {
	rolls := []string{"23102A0001", "23102A0002"}
	ft := &filterTransport{drop: map[string]bool{"23102A0002": true}}
	m := NewMutexManager(NewClock(), ft, 10*time.Second, func() []string {
		return append([]string(nil), rolls...)
	})
	ft.mu.Lock()
	ft.deliver = m.Deliver
	ft.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		_, err := m.Request("23102A0001")
		result <- err
	}()
	time.Sleep(100 * time.Millisecond)

	m.Shutdown()
	select {
	case err := <-result:
		if !errors.Is(err, ErrCSCancelled) {
			t.Errorf("cancelled request | got: %v, want: ErrCSCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not cancel the pending request")
	}
}
