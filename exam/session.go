package exam

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors surfaced by the engine. Locally recoverable conditions (missed sync
// windows, duplicate flags, unreachable replicas) are not in this list; they
// never reach the caller as failures.
var (
	ErrNotRegistered     = errors.New("roll number not registered")
	ErrAlreadyRegistered = errors.New("roll number already registered")
	ErrExamNotRunning    = errors.New("exam is not in progress")
	ErrExamRunning       = errors.New("exam already in progress")
	ErrTerminated        = errors.New("student terminated")
	ErrAlreadySubmitted  = errors.New("student already submitted")
	ErrNoStudents        = errors.New("no students registered")
)

type StudentStatus int

const (
	StatusRegistered StudentStatus = iota
	StatusInExam
	StatusWarned
	StatusTerminated
	StatusSubmitted
)

func (s StudentStatus) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusInExam:
		return "in_exam"
	case StatusWarned:
		return "warned"
	case StatusTerminated:
		return "terminated"
	case StatusSubmitted:
		return "submitted"
	}
	return "unknown"
}

type SessionState int

const (
	SessionNotStarted SessionState = iota
	SessionInProgress
	SessionEnded
)

const initialMarks = 100.0

// Student is the authoritative per-student record. Offset is mutated by the
// sync coordinator, strikes and status by the cheating detector and the
// submission path.
type Student struct {
	Roll         string
	RegisteredAt time.Time
	Offset       float64
	Strikes      int
	Marks        float64
	Status       StudentStatus
	LastFlagSeq  uint64
}

type SubmissionKind int

const (
	KindManual SubmissionKind = iota
	KindAuto
)

func (k SubmissionKind) String() string {
	if k == KindAuto {
		return "auto"
	}
	return "manual"
}

// SubmissionRecord is a committed marksheet entry. Mutated only inside a
// granted critical section.
type SubmissionRecord struct {
	Roll      string
	Answers   map[string]string
	Timestamp int64
	Kind      SubmissionKind
	CommitSeq uint64
	Marks     float64
}

// Session owns the student collection and the authoritative marksheet.
type Session struct {
	mu        sync.RWMutex
	id        string
	state     SessionState
	startedAt time.Time
	duration  time.Duration
	students  map[string]*Student
	marksheet map[string]*SubmissionRecord
}

func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		students:  make(map[string]*Student),
		marksheet: make(map[string]*SubmissionRecord),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Register(roll string) (*Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.students[roll]; exists {
		return nil, ErrAlreadyRegistered
	}
	st := &Student{
		Roll:         roll,
		RegisteredAt: time.Now(),
		Marks:        initialMarks,
		Status:       StatusRegistered,
	}
	s.students[roll] = st
	return st, nil
}

// Start moves the session to InProgress and every registered student to
// InExam.
func (s *Session) Start(duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionInProgress {
		return ErrExamRunning
	}
	if len(s.students) == 0 {
		return ErrNoStudents
	}
	s.state = SessionInProgress
	s.startedAt = time.Now()
	s.duration = duration
	for _, st := range s.students {
		if st.Status == StatusRegistered {
			st.Status = StatusInExam
		}
	}
	return nil
}

// End moves the session to Ended and returns the rolls still in the exam,
// which the caller auto-submits through the resolver.
func (s *Session) End() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionInProgress {
		return nil, ErrExamNotRunning
	}
	s.state = SessionEnded
	var pending []string
	for roll, st := range s.students {
		if st.Status == StatusInExam || st.Status == StatusWarned {
			pending = append(pending, roll)
		}
	}
	return pending, nil
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Remaining reports seconds left, zero once expired or ended.
func (s *Session) Remaining() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != SessionInProgress {
		return 0
	}
	left := s.duration - time.Since(s.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) Student(roll string) (Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[roll]
	if !ok {
		return Student{}, ErrNotRegistered
	}
	return *st, nil
}

// Contenders returns the rolls currently eligible for critical-section
// contention: everyone registered and not terminated or submitted.
func (s *Session) Contenders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rolls := make([]string, 0, len(s.students))
	for roll, st := range s.students {
		if st.Status == StatusTerminated || st.Status == StatusSubmitted {
			continue
		}
		rolls = append(rolls, roll)
	}
	return rolls
}

// Respondents returns rolls that take part in sync rounds.
func (s *Session) Respondents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rolls := make([]string, 0, len(s.students))
	for roll, st := range s.students {
		if st.Status == StatusRegistered || st.Status == StatusInExam || st.Status == StatusWarned {
			rolls = append(rolls, roll)
		}
	}
	return rolls
}

func (s *Session) SetOffset(roll string, offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.students[roll]; ok {
		st.Offset = offset
	}
}

// mutate runs fn on the live record under the write lock.
func (s *Session) mutate(roll string, fn func(*Student)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[roll]
	if !ok {
		return ErrNotRegistered
	}
	fn(st)
	return nil
}

// CommitRecord installs a marksheet entry. Callers hold the critical section;
// the session lock only protects the map itself.
func (s *Session) CommitRecord(rec *SubmissionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marksheet[rec.Roll] = rec
	if st, ok := s.students[rec.Roll]; ok {
		st.Status = StatusSubmitted
	}
}

func (s *Session) Record(roll string) (*SubmissionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.marksheet[roll]
	return rec, ok
}

func (s *Session) StudentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.students)
}
