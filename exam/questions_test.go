package exam

import (
	"errors"
	"testing"
)

func TestAnswerStoreLastWriterWins(t *testing.T) {
	s := NewAnswerStore()

	meta, err := s.Save("23102A0001", 1, "4", 5, SaveAutosave)
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if meta.Value != "4" || meta.Version != 1 || meta.Timestamp != 5 {
		t.Errorf("first save | got: %+v, want: value=4 v=1 ts=5", meta)
	}

	// An older write loses and leaves the slot untouched.
	meta, err = s.Save("23102A0001", 1, "3", 3, SaveAutosave)
	if !errors.Is(err, ErrStaleWrite) {
		t.Errorf("stale save | got: %v, want: ErrStaleWrite", err)
	}
	if meta.Value != "4" || meta.Version != 1 {
		t.Errorf("slot after stale save | got: %+v, want unchanged", meta)
	}

	// A newer write wins and bumps the version.
	meta, err = s.Save("23102A0001", 1, "5", 9, SaveAutosave)
	if err != nil {
		t.Fatalf("newer save failed: %v", err)
	}
	if meta.Value != "5" || meta.Version != 2 || meta.Timestamp != 9 {
		t.Errorf("newer save | got: %+v, want: value=5 v=2 ts=9", meta)
	}
}

func TestAnswerStoreTieBreak(t *testing.T) {
	s := NewAnswerStore()

	if _, err := s.Save("23102A0001", 2, "Rome", 7, SaveAutosave); err != nil {
		t.Fatalf("autosave failed: %v", err)
	}

	// Equal timestamps: the final write overrides the autosave.
	meta, err := s.Save("23102A0001", 2, "Paris", 7, SaveFinal)
	if err != nil {
		t.Fatalf("final tie save failed: %v", err)
	}
	if meta.Value != "Paris" || meta.LastWriteMode != SaveFinal {
		t.Errorf("tie save | got: %+v, want: final Paris", meta)
	}

	// The reverse tie loses.
	if _, err := s.Save("23102A0001", 2, "Berlin", 7, SaveAutosave); !errors.Is(err, ErrStaleWrite) {
		t.Errorf("autosave tie against final | got: %v, want: ErrStaleWrite", err)
	}
}

func TestAnswerStoreFinalization(t *testing.T) {
	s := NewAnswerStore()

	if _, err := s.Save("23102A0001", 1, "4", 4, SaveAutosave); err != nil {
		t.Fatalf("autosave failed: %v", err)
	}
	s.Finalize("23102A0001", 10)

	// Late autosaves at or below the final timestamp bounce.
	if _, err := s.Save("23102A0001", 1, "5", 8, SaveAutosave); !errors.Is(err, ErrFinalized) {
		t.Errorf("late autosave | got: %v, want: ErrFinalized", err)
	}
	if _, err := s.Save("23102A0001", 1, "5", 10, SaveAutosave); !errors.Is(err, ErrFinalized) {
		t.Errorf("tie autosave after finalize | got: %v, want: ErrFinalized", err)
	}

	// A write stamped after the final submission is still taken.
	meta, err := s.Save("23102A0001", 1, "5", 11, SaveAutosave)
	if err != nil {
		t.Fatalf("post-final autosave failed: %v", err)
	}
	if meta.Value != "5" || meta.Version != 2 {
		t.Errorf("post-final autosave | got: %+v, want: value=5 v=2", meta)
	}

	// Other students are unaffected.
	if _, err := s.Save("23102A0002", 1, "4", 1, SaveAutosave); err != nil {
		t.Errorf("other student blocked by finalize: %v", err)
	}
}

func TestAnswerStoreSnapshot(t *testing.T) {
	s := NewAnswerStore()
	if got := s.Snapshot("23102A0001"); got != nil {
		t.Errorf("empty snapshot | got: %v, want: nil", got)
	}

	s.Save("23102A0001", 1, "4", 1, SaveAutosave)
	s.Save("23102A0001", 3, "404", 2, SaveAutosave)

	got := s.Snapshot("23102A0001")
	if len(got) != 2 || got["1"] != "4" || got["3"] != "404" {
		t.Errorf("snapshot | got: %v, want: {1:4 3:404}", got)
	}
}

func TestEngineSaveAnswer(t *testing.T) {
	e := newRunningEngine(t, EngineConfig{}, "23102A0001")

	if len(e.Questions()) != 3 {
		t.Fatalf("question bank | got: %d questions, want: 3", len(e.Questions()))
	}

	if _, err := e.SaveAnswer("23102A0001", 99, "x", 1); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question | got: %v, want: ErrUnknownQuestion", err)
	}
	if _, err := e.SaveAnswer("23102A0999", 1, "x", 1); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("stranger autosave | got: %v, want: ErrNotRegistered", err)
	}

	meta, err := e.SaveAnswer("23102A0001", 1, "4", 0)
	if err != nil {
		t.Fatalf("autosave failed: %v", err)
	}
	if meta.Version != 1 {
		t.Errorf("autosave version | got: %d, want: 1", meta.Version)
	}
}

// TestEngineSubmitSealsAutosaves submits with no answer payload and checks
// the committed record carries the autosaved answers.
func TestEngineSubmitSealsAutosaves(t *testing.T) {
	e := newRunningEngine(t, EngineConfig{}, "23102A0001")

	if _, err := e.SaveAnswer("23102A0001", 1, "4", 0); err != nil {
		t.Fatalf("autosave q1 failed: %v", err)
	}
	if _, err := e.SaveAnswer("23102A0001", 2, "Paris", 0); err != nil {
		t.Fatalf("autosave q2 failed: %v", err)
	}

	res, err := e.Submit("23102A0001", KindManual, nil, 0)
	if err != nil || !res.Success {
		t.Fatalf("submit | got: %+v, %v, want success", res, err)
	}

	rec, ok := e.Session().Record("23102A0001")
	if !ok {
		t.Fatal("no marksheet record after submit")
	}
	if rec.Answers["1"] != "4" || rec.Answers["2"] != "Paris" {
		t.Errorf("sealed answers | got: %v, want autosaved values", rec.Answers)
	}
}
