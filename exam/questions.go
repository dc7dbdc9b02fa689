package exam

import (
	"errors"
	"strconv"
	"sync"
)

var (
	// ErrStaleWrite marks an answer write whose timestamp lost the
	// last-writer-wins race. The stored value is returned untouched.
	ErrStaleWrite = errors.New("answer write older than stored version")
	// ErrFinalized marks an autosave that arrived after the student's final
	// submission was recorded.
	ErrFinalized       = errors.New("final submission already recorded")
	ErrUnknownQuestion = errors.New("unknown question id")
)

// Question is one entry of the exam's question bank. The correct answer
// stays server side; only ID, text and options travel to students.
type Question struct {
	ID      int
	Text    string
	Options []string

	answer string
}

// DefaultQuestions is the built-in bank used when no custom one is supplied.
func DefaultQuestions() []Question {
	return []Question{
		{ID: 1, Text: "2 + 2 = ?", Options: []string{"3", "4", "5"}, answer: "4"},
		{ID: 2, Text: "Capital of France?", Options: []string{"Paris", "Rome", "Berlin"}, answer: "Paris"},
		{ID: 3, Text: "HTTP status for Not Found?", Options: []string{"200", "404", "500"}, answer: "404"},
	}
}

type SaveMode int

const (
	SaveAutosave SaveMode = iota
	SaveFinal
)

func (m SaveMode) String() string {
	if m == SaveFinal {
		return "final"
	}
	return "autosave"
}

// AnswerMeta is the stored state of one answer slot.
type AnswerMeta struct {
	Value         string
	Version       int
	Timestamp     int64
	LastWriteMode SaveMode
}

// AnswerStore holds per-student autosaved answers with last-writer-wins
// ordering by Lamport timestamp. Ties resolve in favor of final writes over
// autosaves; once a final submission is recorded, autosaves at or below its
// timestamp are rejected.
type AnswerStore struct {
	mu        sync.Mutex
	answers   map[string]map[int]*AnswerMeta
	finalized map[string]int64
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		answers:   make(map[string]map[int]*AnswerMeta),
		finalized: make(map[string]int64),
	}
}

// Save applies one answer write. The timestamp must already be folded into
// the local clock; the stored slot keeps the highest timestamp seen.
func (s *AnswerStore) Save(roll string, questionID int, value string, ts int64, mode SaveMode) (AnswerMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if finalTS, done := s.finalized[roll]; done && mode == SaveAutosave && ts <= finalTS {
		return AnswerMeta{}, ErrFinalized
	}

	slots, ok := s.answers[roll]
	if !ok {
		slots = make(map[int]*AnswerMeta)
		s.answers[roll] = slots
	}
	meta, ok := slots[questionID]
	if !ok {
		meta = &AnswerMeta{Timestamp: -1}
		slots[questionID] = meta
	}

	write := ts > meta.Timestamp
	if ts == meta.Timestamp && mode == SaveFinal && meta.LastWriteMode != SaveFinal {
		write = true
	}
	if !write {
		return *meta, ErrStaleWrite
	}

	meta.Value = value
	meta.Timestamp = ts
	meta.Version++
	meta.LastWriteMode = mode
	return *meta, nil
}

// Finalize pins the final-submission timestamp for roll. Autosaves at or
// below it are rejected from then on.
func (s *AnswerStore) Finalize(roll string, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts > s.finalized[roll] {
		s.finalized[roll] = ts
	}
}

// Snapshot returns roll's current answers keyed by question id, in the shape
// a marksheet entry carries.
func (s *AnswerStore) Snapshot(roll string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := s.answers[roll]
	if len(slots) == 0 {
		return nil
	}
	out := make(map[string]string, len(slots))
	for qid, meta := range slots {
		out[strconv.Itoa(qid)] = meta.Value
	}
	return out
}
