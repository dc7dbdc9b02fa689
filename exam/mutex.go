package exam

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCSTimeout means the bounded wait for replies expired. The caller may
	// retry with a fresh timestamp.
	ErrCSTimeout = errors.New("critical section request timed out")
	// ErrCSCancelled means the request was cancelled by termination or
	// session end.
	ErrCSCancelled = errors.New("critical section request cancelled")
	ErrCSPending   = errors.New("critical section request already pending")
	ErrNotHolder   = errors.New("not the critical section holder")
)

type CSState int

const (
	CSIdle CSState = iota
	CSRequesting
	CSInCS
)

func (s CSState) String() string {
	switch s {
	case CSRequesting:
		return "requesting"
	case CSInCS:
		return "in_cs"
	}
	return "idle"
}

// csSlot is the per-student request slot. Only the manager goroutines advance
// it, always under the manager lock.
type csSlot struct {
	roll       string
	state      CSState
	ts         int64
	awaiting   map[string]struct{}
	deferred   map[string]struct{}
	grantCh    chan struct{}
	cancelCh   chan struct{}
	terminated bool
}

// MutexManager implements Ricart–Agrawala over the marksheet critical
// section. The coordinator mediates all REQUEST/REPLY traffic, so every
// participant's slot lives here; the invariant it enforces is that at most
// one slot is InCS at any instant.
type MutexManager struct {
	mu         sync.Mutex
	clock      *Clock
	transport  Transport
	timeout    time.Duration
	contenders func() []string
	slots      map[string]*csSlot
	holder     string
}

func NewMutexManager(clock *Clock, tr Transport, timeout time.Duration, contenders func() []string) *MutexManager {
	return &MutexManager{
		clock:      clock,
		transport:  tr,
		timeout:    timeout,
		contenders: contenders,
		slots:      make(map[string]*csSlot),
	}
}

func (m *MutexManager) slot(roll string) *csSlot {
	s, ok := m.slots[roll]
	if !ok {
		s = &csSlot{
			roll:     roll,
			deferred: make(map[string]struct{}),
		}
		m.slots[roll] = s
	}
	return s
}

// Holder returns the roll currently inside the critical section, "" if none.
func (m *MutexManager) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// Deliver routes a protocol message to the destination participant's slot.
// Transports call this from their delivery goroutines.
func (m *MutexManager) Deliver(msg Message) {
	switch msg.Kind {
	case MsgRequest:
		m.handleRequest(msg)
	case MsgReply:
		m.handleReply(msg)
	}
}

// Request enters the Requesting state for roll, broadcasts REQUEST to every
// other active contender and suspends until all replies arrive, the timeout
// fires, or the request is cancelled.
func (m *MutexManager) Request(roll string) (int64, error) {
	m.mu.Lock()
	s := m.slot(roll)
	if s.terminated {
		m.mu.Unlock()
		return 0, ErrTerminated
	}
	if s.state != CSIdle {
		m.mu.Unlock()
		return 0, ErrCSPending
	}

	ts := m.clock.Tick()
	others := make([]string, 0)
	for _, r := range m.contenders() {
		if r != roll {
			others = append(others, r)
		}
	}

	s.ts = ts
	if len(others) == 0 {
		m.grant(s)
		m.mu.Unlock()
		return ts, nil
	}

	s.state = CSRequesting
	s.awaiting = make(map[string]struct{}, len(others))
	for _, r := range others {
		s.awaiting[r] = struct{}{}
	}
	s.grantCh = make(chan struct{})
	s.cancelCh = make(chan struct{})
	grantCh, cancelCh := s.grantCh, s.cancelCh
	m.mu.Unlock()

	for _, r := range others {
		_ = m.transport.Send(r, Message{Kind: MsgRequest, From: roll, Timestamp: ts})
	}

	select {
	case <-grantCh:
		return ts, nil
	case <-cancelCh:
		return 0, ErrCSCancelled
	case <-time.After(m.timeout):
	}

	// The grant can race the timer; re-check under the lock.
	m.mu.Lock()
	if s.state == CSInCS {
		m.mu.Unlock()
		return ts, nil
	}
	var flush []string
	if s.state == CSRequesting {
		s.state = CSIdle
		s.awaiting = nil
		// Releasing partial state includes the deferred obligations: a peer
		// whose reply this request was holding back must not be left to time
		// out as well.
		flush = m.takeDeferred(s)
	}
	m.mu.Unlock()

	m.sendReplies(roll, flush)
	return 0, ErrCSTimeout
}

// Release exits the critical section and flushes deferred replies.
func (m *MutexManager) Release(roll string) error {
	m.mu.Lock()
	s, ok := m.slots[roll]
	if !ok || s.state != CSInCS {
		m.mu.Unlock()
		return ErrNotHolder
	}
	s.state = CSIdle
	if m.holder == roll {
		m.holder = ""
	}
	flush := m.takeDeferred(s)
	m.mu.Unlock()

	m.sendReplies(roll, flush)
	return nil
}

// Terminate removes roll from contention: its pending request is cancelled,
// its deferred-reply obligations are flushed immediately, and every other
// requester stops waiting on it. A terminated student must never block
// others.
func (m *MutexManager) Terminate(roll string) {
	m.mu.Lock()
	s := m.slot(roll)
	s.terminated = true

	if s.state == CSInCS && m.holder == roll {
		m.holder = ""
	}
	if s.state == CSRequesting && s.cancelCh != nil {
		close(s.cancelCh)
		s.cancelCh = nil
	}
	s.state = CSIdle
	s.awaiting = nil
	flush := m.takeDeferred(s)

	for _, other := range m.slots {
		if other.roll == roll || other.state != CSRequesting {
			continue
		}
		if _, waiting := other.awaiting[roll]; waiting {
			delete(other.awaiting, roll)
			if len(other.awaiting) == 0 {
				m.grant(other)
			}
		}
	}
	m.mu.Unlock()

	m.sendReplies(roll, flush)
}

// Shutdown cancels every outstanding request. A current holder is left to
// complete; no further entries are granted by virtue of the session state
// checks in the engine.
func (m *MutexManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.state == CSRequesting {
			s.state = CSIdle
			s.awaiting = nil
			if s.cancelCh != nil {
				close(s.cancelCh)
				s.cancelCh = nil
			}
		}
	}
}

// InjectReply records an externally relayed REPLY toward a pending request.
func (m *MutexManager) InjectReply(from, to string) {
	m.handleReply(Message{Kind: MsgReply, From: from, To: to, Timestamp: m.clock.Tick()})
}

func (m *MutexManager) handleRequest(msg Message) {
	m.clock.Observe(msg.Timestamp)

	m.mu.Lock()
	p := m.slot(msg.To)
	deferReply := false
	if !p.terminated {
		switch p.state {
		case CSInCS:
			deferReply = true
		case CSRequesting:
			// Strictly smaller (ts, roll) wins priority; ties cannot occur
			// under a monotonic clock but the roll order guards them anyway.
			deferReply = before(p.ts, p.roll, msg.Timestamp, msg.From)
		}
	}
	if deferReply {
		p.deferred[msg.From] = struct{}{}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.sendReplies(msg.To, []string{msg.From})
}

func (m *MutexManager) handleReply(msg Message) {
	m.clock.Observe(msg.Timestamp)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[msg.To]
	if !ok || s.state != CSRequesting {
		return
	}
	delete(s.awaiting, msg.From)
	if len(s.awaiting) == 0 {
		m.grant(s)
	}
}

// grant moves a slot into the critical section. Caller holds the lock.
func (m *MutexManager) grant(s *csSlot) {
	s.state = CSInCS
	s.awaiting = nil
	m.holder = s.roll
	if s.grantCh != nil {
		close(s.grantCh)
		s.grantCh = nil
	}
	s.cancelCh = nil
}

// takeDeferred drains the deferred set. Caller holds the lock.
func (m *MutexManager) takeDeferred(s *csSlot) []string {
	if len(s.deferred) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.deferred))
	for r := range s.deferred {
		out = append(out, r)
	}
	s.deferred = make(map[string]struct{})
	return out
}

func (m *MutexManager) sendReplies(from string, to []string) {
	for _, r := range to {
		_ = m.transport.Send(r, Message{Kind: MsgReply, From: from, Timestamp: m.clock.Tick()})
	}
}

// before reports whether (ts1, roll1) precedes (ts2, roll2) in the
// lexicographic request order.
func before(ts1 int64, roll1 string, ts2 int64, roll2 string) bool {
	if ts1 != ts2 {
		return ts1 < ts2
	}
	return roll1 < roll2
}
