package exam

import (
	"errors"
	"sync"
)

// ErrSequenceGap marks a delta whose predecessor has not been applied yet.
// The propagator answers it with a retransmission of the missing range.
var ErrSequenceGap = errors.New("commit sequence gap")

// Delta is one committed marksheet write pushed to replicas in commit order.
type Delta struct {
	ID     string
	Seq    uint64
	Record SubmissionRecord
}

// AckResult is the replica's answer to one ApplyDelta call.
type AckResult struct {
	Applied []uint64 // sequences applied by this call, in order
	NextSeq uint64   // next sequence the replica expects
	Gap     bool     // true if the delta was buffered because of a gap
}

// Applier is the replica-side delta applier. Deltas apply strictly in
// sequence order: an out-of-order delta is buffered and a gap reported
// instead of being applied early, so no replica ever exposes commit N+1
// before commit N.
type Applier struct {
	mu      sync.Mutex
	nextSeq uint64
	buffer  map[uint64]Delta
	sink    func(Delta) error
}

// NewApplier builds an applier delivering in-order deltas to sink. A nil sink
// only tracks ordering.
func NewApplier(sink func(Delta) error) *Applier {
	return &Applier{
		nextSeq: 1,
		buffer:  make(map[uint64]Delta),
		sink:    sink,
	}
}

// Apply ingests one delta. Duplicates below the applied watermark are
// acknowledged as no-ops; a delta ahead of the watermark is buffered and the
// result reports the gap. Once the expected sequence arrives, buffered
// successors drain in order.
func (a *Applier) Apply(d Delta) (AckResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if d.Seq < a.nextSeq {
		return AckResult{NextSeq: a.nextSeq}, nil
	}
	if d.Seq > a.nextSeq {
		a.buffer[d.Seq] = d
		return AckResult{NextSeq: a.nextSeq, Gap: true}, ErrSequenceGap
	}

	var applied []uint64
	if err := a.deliver(d); err != nil {
		return AckResult{NextSeq: a.nextSeq}, err
	}
	applied = append(applied, d.Seq)
	a.nextSeq++

	for {
		next, ok := a.buffer[a.nextSeq]
		if !ok {
			break
		}
		if err := a.deliver(next); err != nil {
			return AckResult{Applied: applied, NextSeq: a.nextSeq}, err
		}
		delete(a.buffer, a.nextSeq)
		applied = append(applied, a.nextSeq)
		a.nextSeq++
	}

	return AckResult{Applied: applied, NextSeq: a.nextSeq}, nil
}

func (a *Applier) deliver(d Delta) error {
	if a.sink == nil {
		return nil
	}
	return a.sink(d)
}

// NextSeq returns the next sequence the applier expects.
func (a *Applier) NextSeq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextSeq
}

// Buffered reports how many out-of-order deltas are parked.
func (a *Applier) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}
