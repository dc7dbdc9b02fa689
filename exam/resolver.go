package exam

import (
	"errors"
	"sort"
	"sync"
)

// ErrStaleSubmission marks an attempt older than an already committed entry
// for the same student. Rejected, not retried.
var ErrStaleSubmission = errors.New("submission older than committed entry")

// SubmissionAttempt is a transient contender for a student's marksheet entry.
// It exists only during conflict resolution and is superseded by the
// committed record.
type SubmissionAttempt struct {
	Roll      string
	Timestamp int64
	Kind      SubmissionKind
	Answers   map[string]string
}

// Conflict is the structured rejection handed to losing attempts.
type Conflict struct {
	Roll         string
	WinnerKind   SubmissionKind
	WinnerTS     int64
	WinnerCommit uint64
}

// Resolution reports the outcome of resolving one student's queued attempts.
type Resolution struct {
	Winner    SubmissionAttempt
	Record    *SubmissionRecord
	CommitSeq uint64
	Rejected  []SubmissionAttempt
}

// Resolver decides which of possibly several concurrent attempts for the same
// student commits, and assigns commit sequence numbers. All decisions happen
// inside the critical section granted by the mutex manager, so no
// compare-and-set race exists at the storage layer; correctness rests on the
// at-most-one-holder invariant.
type Resolver struct {
	mu        sync.Mutex
	nextSeq   uint64
	pending   map[string][]SubmissionAttempt
	committed map[string]*SubmissionRecord
}

func NewResolver() *Resolver {
	return &Resolver{
		pending:   make(map[string][]SubmissionAttempt),
		committed: make(map[string]*SubmissionRecord),
	}
}

// Enqueue registers an attempt for later resolution. Safe to call outside the
// critical section; resolution itself is not.
func (r *Resolver) Enqueue(a SubmissionAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[a.Roll] = append(r.pending[a.Roll], a)
}

// Discard drops every pending attempt for roll (termination path).
func (r *Resolver) Discard(roll string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, roll)
}

// Resolve picks the earliest attempt for roll under (timestamp, roll)
// ascending order, assigns it the next commit sequence number and rejects the
// rest. Must be called with the critical section held.
func (r *Resolver) Resolve(roll string, marks float64) (*Resolution, *Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, done := r.committed[roll]; done {
		r.pending[roll] = nil
		return nil, &Conflict{
			Roll:         roll,
			WinnerKind:   rec.Kind,
			WinnerTS:     rec.Timestamp,
			WinnerCommit: rec.CommitSeq,
		}, nil
	}

	attempts := r.pending[roll]
	if len(attempts) == 0 {
		return nil, nil, ErrStaleSubmission
	}
	sortAttempts(attempts)
	winner := attempts[0]
	rejected := append([]SubmissionAttempt(nil), attempts[1:]...)
	delete(r.pending, roll)

	r.nextSeq++
	rec := &SubmissionRecord{
		Roll:      winner.Roll,
		Answers:   winner.Answers,
		Timestamp: winner.Timestamp,
		Kind:      winner.Kind,
		CommitSeq: r.nextSeq,
		Marks:     marks,
	}
	r.committed[roll] = rec

	return &Resolution{
		Winner:    winner,
		Record:    rec,
		CommitSeq: r.nextSeq,
		Rejected:  rejected,
	}, nil, nil
}

// sortAttempts orders attempts by (timestamp, roll) ascending.
func sortAttempts(attempts []SubmissionAttempt) {
	sort.Slice(attempts, func(i, j int) bool {
		return before(attempts[i].Timestamp, attempts[i].Roll, attempts[j].Timestamp, attempts[j].Roll)
	})
}

// PickWinner returns the earliest-ordered attempt under (timestamp, roll)
// ascending, independent of arrival order.
func PickWinner(attempts []SubmissionAttempt) SubmissionAttempt {
	ordered := append([]SubmissionAttempt(nil), attempts...)
	sortAttempts(ordered)
	return ordered[0]
}

// Committed returns the committed record for roll, if any.
func (r *Resolver) Committed(roll string) (*SubmissionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.committed[roll]
	return rec, ok
}

// LastSeq returns the highest commit sequence number assigned so far.
func (r *Resolver) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSeq
}
