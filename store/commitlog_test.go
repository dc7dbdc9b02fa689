package store

import (
	"path/filepath"
	"testing"

	"github.com/ayushmayekar13/exam-proctoring/exam"
)

func openTestLog(t *testing.T) *CommitLog {
	t.Helper()
	cl, err := Open(filepath.Join(t.TempDir(), "commits.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { cl.Close() })
	return cl
}

func testDelta(seq uint64, roll string) exam.Delta {
	return exam.Delta{
		ID:  roll,
		Seq: seq,
		Record: exam.SubmissionRecord{
			Roll:      roll,
			CommitSeq: seq,
			Marks:     100.0,
			Answers:   map[string]string{"q1": "42"},
		},
	}
}

func TestCommitLogAppendGet(t *testing.T) {
	cl := openTestLog(t)

	want := testDelta(1, "23102A0001")
	if err := cl.Append(want); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := cl.Get(1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Seq != want.Seq || got.Record.Roll != want.Record.Roll || got.Record.Answers["q1"] != "42" {
		t.Errorf("round trip | got: %+v, want: %+v", got, want)
	}

	if _, err := cl.Get(99); err == nil {
		t.Error("get of missing seq should fail")
	}
}

func TestCommitLogRangeOrder(t *testing.T) {
	cl := openTestLog(t)

	// Append out of order; Range must still come back sorted by sequence.
	for _, seq := range []uint64{3, 1, 2, 5, 4} {
		if err := cl.Append(testDelta(seq, "23102A0001")); err != nil {
			t.Fatalf("append %d failed: %v", seq, err)
		}
	}

	deltas, err := cl.Range(2)
	if err != nil {
		t.Fatalf("range failed: %v", err)
	}
	want := []uint64{2, 3, 4, 5}
	if len(deltas) != len(want) {
		t.Fatalf("range length | got: %d, want: %d", len(deltas), len(want))
	}
	for i, d := range deltas {
		if d.Seq != want[i] {
			t.Errorf("range[%d] | got seq: %d, want: %d", i, d.Seq, want[i])
		}
	}

	last, err := cl.LastSeq()
	if err != nil || last != 5 {
		t.Errorf("last seq | got: %d (%v), want: 5", last, err)
	}
}

func TestCommitLogEmpty(t *testing.T) {
	cl := openTestLog(t)

	last, err := cl.LastSeq()
	if err != nil || last != 0 {
		t.Errorf("empty last seq | got: %d (%v), want: 0", last, err)
	}
	deltas, err := cl.Range(1)
	if err != nil {
		t.Fatalf("range failed: %v", err)
	}
	if len(deltas) != 0 {
		t.Errorf("empty range | got %d deltas", len(deltas))
	}
}
