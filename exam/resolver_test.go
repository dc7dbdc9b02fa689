package exam

import (
	"errors"
	"testing"
)

func TestDeterministicTieBreak(t *testing.T) {
	a := SubmissionAttempt{Roll: "23102A0002", Timestamp: 5, Kind: KindManual}
	b := SubmissionAttempt{Roll: "23102A0001", Timestamp: 5, Kind: KindAuto}

	// Equal timestamps resolve by roll order regardless of arrival order.
	if w := PickWinner([]SubmissionAttempt{a, b}); w.Roll != "23102A0001" {
		t.Errorf("winner | got: %s, want: 23102A0001", w.Roll)
	}
	if w := PickWinner([]SubmissionAttempt{b, a}); w.Roll != "23102A0001" {
		t.Errorf("winner (reversed arrival) | got: %s, want: 23102A0001", w.Roll)
	}
}

func TestResolveEarliestWins(t *testing.T) {
	r := NewResolver()
	r.Enqueue(SubmissionAttempt{Roll: "23102A0001", Timestamp: 9, Kind: KindAuto})
	r.Enqueue(SubmissionAttempt{Roll: "23102A0001", Timestamp: 4, Kind: KindManual})

	res, conflict, err := r.Resolve("23102A0001", 100.0)
	if err != nil || conflict != nil {
		t.Fatalf("resolve failed | err: %v, conflict: %+v", err, conflict)
	}
	if res.Winner.Kind != KindManual || res.Winner.Timestamp != 4 {
		t.Errorf("winner | got: %v ts=%d, want: manual ts=4", res.Winner.Kind, res.Winner.Timestamp)
	}
	if res.CommitSeq != 1 {
		t.Errorf("commit seq | got: %d, want: 1", res.CommitSeq)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Kind != KindAuto {
		t.Errorf("rejected set | got: %+v, want one auto attempt", res.Rejected)
	}
}

func TestResolveAfterCommitReturnsConflict(t *testing.T) {
	r := NewResolver()
	r.Enqueue(SubmissionAttempt{Roll: "23102A0001", Timestamp: 4, Kind: KindManual})
	if _, _, err := r.Resolve("23102A0001", 100.0); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	// A second attempt after the commit loses to the recorded winner.
	r.Enqueue(SubmissionAttempt{Roll: "23102A0001", Timestamp: 7, Kind: KindAuto})
	res, conflict, err := r.Resolve("23102A0001", 100.0)
	if err != nil {
		t.Fatalf("second resolve errored: %v", err)
	}
	if res != nil {
		t.Fatal("second resolve produced a second commit")
	}
	if conflict == nil || conflict.WinnerKind != KindManual || conflict.WinnerTS != 4 {
		t.Errorf("conflict | got: %+v, want manual winner at ts=4", conflict)
	}
}

func TestResolveEmptyQueueIsStale(t *testing.T) {
	r := NewResolver()
	if _, _, err := r.Resolve("23102A0001", 100.0); !errors.Is(err, ErrStaleSubmission) {
		t.Errorf("empty queue | got: %v, want: ErrStaleSubmission", err)
	}
}

func TestCommitSequenceMonotonic(t *testing.T) {
	r := NewResolver()
	rolls := []string{"23102A0003", "23102A0001", "23102A0005", "23102A0002", "23102A0004"}
	for i, roll := range rolls {
		r.Enqueue(SubmissionAttempt{Roll: roll, Timestamp: int64(10 + i), Kind: KindManual})
	}
	for i, roll := range rolls {
		res, _, err := r.Resolve(roll, 100.0)
		if err != nil {
			t.Fatalf("resolve %s failed: %v", roll, err)
		}
		if res.CommitSeq != uint64(i+1) {
			t.Errorf("commit seq for %s | got: %d, want: %d (no gaps)", roll, res.CommitSeq, i+1)
		}
	}
	if r.LastSeq() != uint64(len(rolls)) {
		t.Errorf("last seq | got: %d, want: %d", r.LastSeq(), len(rolls))
	}
}

func TestDiscardDropsPending(t *testing.T) {
	r := NewResolver()
	r.Enqueue(SubmissionAttempt{Roll: "23102A0001", Timestamp: 3, Kind: KindManual})
	r.Discard("23102A0001")
	if _, _, err := r.Resolve("23102A0001", 100.0); !errors.Is(err, ErrStaleSubmission) {
		t.Errorf("discarded queue | got: %v, want: ErrStaleSubmission", err)
	}
}
