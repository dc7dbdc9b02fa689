package exam

import (
	"time"

	"github.com/google/uuid"
)

// EngineConfig carries the engine's tunables. Zero values fall back to the
// defaults below.
type EngineConfig struct {
	CSTimeout  time.Duration
	SyncWindow time.Duration
	Penalty    float64
	// OnCommit receives every committed marksheet delta after the critical
	// section exits; the replication propagator hangs off this hook.
	OnCommit func(Delta)
	// Questions overrides the built-in question bank.
	Questions []Question
}

const (
	defaultCSTimeout  = 5 * time.Second
	defaultSyncWindow = 3 * time.Second
)

// SubmitResult is the structured outcome of a submission attempt.
type SubmitResult struct {
	Success   bool
	CommitSeq uint64
	Marks     float64
	Conflict  *Conflict
}

// StatusSnapshot is the dashboard view of one student.
type StatusSnapshot struct {
	Student   Student
	CSHolder  string
	State     SessionState
	Remaining time.Duration
}

// Engine is the coordination engine: one owned session-state object with all
// mutation paths funnelled through the mutual exclusion manager.
type Engine struct {
	session   *Session
	clock     *Clock
	mutex     *MutexManager
	resolver  *Resolver
	cheat     *CheatDetector
	syncer    *SyncCoordinator
	questions []Question
	answers   *AnswerStore
	onCommit  func(Delta)
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.CSTimeout <= 0 {
		cfg.CSTimeout = defaultCSTimeout
	}
	if cfg.SyncWindow <= 0 {
		cfg.SyncWindow = defaultSyncWindow
	}
	if len(cfg.Questions) == 0 {
		cfg.Questions = DefaultQuestions()
	}

	e := &Engine{
		session:   NewSession(),
		clock:     NewClock(),
		resolver:  NewResolver(),
		syncer:    NewSyncCoordinator(cfg.SyncWindow),
		questions: cfg.Questions,
		answers:   NewAnswerStore(),
		onCommit:  cfg.OnCommit,
	}

	lb := NewLoopback()
	e.mutex = NewMutexManager(e.clock, lb, cfg.CSTimeout, e.session.Contenders)
	lb.Bind(e.mutex.Deliver)

	e.cheat = NewCheatDetector(e.session, cfg.Penalty, func(roll string) {
		e.mutex.Terminate(roll)
		e.resolver.Discard(roll)
	})
	return e
}

func (e *Engine) Session() *Session    { return e.session }
func (e *Engine) Clock() *Clock        { return e.clock }
func (e *Engine) Mutex() *MutexManager { return e.mutex }

func (e *Engine) Register(roll string) (Student, error) {
	st, err := e.session.Register(roll)
	if err != nil {
		return Student{}, err
	}
	return *st, nil
}

func (e *Engine) StartExam(duration time.Duration) error {
	return e.session.Start(duration)
}

// EndExam closes the session, cancels outstanding CS requests and
// auto-submits every student still in the exam. The sweep runs on a single
// goroutine after Shutdown, so marksheet writes stay serialized and commit
// sequences monotonic without further contention.
func (e *Engine) EndExam() ([]uint64, error) {
	pending, err := e.session.End()
	if err != nil {
		return nil, err
	}
	e.mutex.Shutdown()

	var seqs []uint64
	for _, roll := range pending {
		st, err := e.session.Student(roll)
		if err != nil {
			continue
		}
		e.resolver.Enqueue(SubmissionAttempt{
			Roll:      roll,
			Timestamp: e.clock.Tick(),
			Kind:      KindAuto,
			Answers:   e.answers.Snapshot(roll),
		})
		res, _, err := e.resolver.Resolve(roll, st.Marks)
		if err != nil || res == nil {
			continue
		}
		e.session.CommitRecord(res.Record)
		e.emit(res.Record)
		seqs = append(seqs, res.CommitSeq)
	}
	return seqs, nil
}

func (e *Engine) State() SessionState      { return e.session.State() }
func (e *Engine) Remaining() time.Duration { return e.session.Remaining() }

// ---------------- Berkeley sync ----------------

func (e *Engine) OpenSyncRound() {
	e.syncer.OpenRound(time.Now())
}

// ReportTime accepts a student's local-time report into the current round.
// A closed or expired window returns ErrSyncWindowMissed, which the RPC
// layer acknowledges without penalizing the student.
func (e *Engine) ReportTime(roll string, reported float64) error {
	if _, err := e.session.Student(roll); err != nil {
		return err
	}
	return e.syncer.Report(roll, reported, time.Now())
}

// CloseSyncRound averages collected offsets and applies each respondent's
// corrective delta to its offset estimate.
func (e *Engine) CloseSyncRound() (float64, []Correction, bool) {
	mean, corrections, ok := e.syncer.CloseRound()
	if !ok {
		return 0, nil, false
	}
	for _, c := range corrections {
		e.session.SetOffset(c.Roll, c.Delta)
	}
	return mean, corrections, true
}

// ---------------- Mutual exclusion ----------------

func (e *Engine) RequestCS(roll string) (int64, error) {
	st, err := e.session.Student(roll)
	if err != nil {
		return 0, err
	}
	if st.Status == StatusTerminated {
		return 0, ErrTerminated
	}
	if e.session.State() != SessionInProgress {
		return 0, ErrExamNotRunning
	}
	return e.mutex.Request(roll)
}

func (e *Engine) ReleaseCS(roll string) error {
	return e.mutex.Release(roll)
}

// RelayReply records a REPLY relayed on behalf of another participant.
func (e *Engine) RelayReply(from, to string) {
	e.mutex.InjectReply(from, to)
}

// ---------------- Question bank ----------------

// Questions returns the exam's question bank. Answer keys never leave the
// engine, so the slice is safe to hand to clients as is.
func (e *Engine) Questions() []Question {
	return e.questions
}

// SaveAnswer autosaves one answer under last-writer-wins ordering. The
// returned meta reflects the stored slot whether or not this write won.
func (e *Engine) SaveAnswer(roll string, questionID int, value string, ts int64) (AnswerMeta, error) {
	st, err := e.session.Student(roll)
	if err != nil {
		return AnswerMeta{}, err
	}
	if st.Status == StatusTerminated {
		return AnswerMeta{}, ErrTerminated
	}
	if e.session.State() != SessionInProgress {
		return AnswerMeta{}, ErrExamNotRunning
	}
	known := false
	for _, q := range e.questions {
		if q.ID == questionID {
			known = true
			break
		}
	}
	if !known {
		return AnswerMeta{}, ErrUnknownQuestion
	}

	// The caller's stamp orders the write; a zero stamp is assigned locally.
	if ts > 0 {
		e.clock.Observe(ts)
	} else {
		ts = e.clock.Tick()
	}
	return e.answers.Save(roll, questionID, value, ts, SaveAutosave)
}

// ---------------- Submission ----------------

// Submit runs one submission attempt through conflict resolution inside the
// critical section. The caller's Lamport timestamp orders racing attempts;
// a zero timestamp is stamped locally (server-originated submissions).
func (e *Engine) Submit(roll string, kind SubmissionKind, answers map[string]string, ts int64) (SubmitResult, error) {
	st, err := e.session.Student(roll)
	if err != nil {
		return SubmitResult{}, err
	}
	if st.Status == StatusTerminated {
		return SubmitResult{}, ErrTerminated
	}
	if e.session.State() != SessionInProgress {
		return SubmitResult{}, ErrExamNotRunning
	}

	if ts > 0 {
		e.clock.Observe(ts)
	} else {
		ts = e.clock.Tick()
	}
	// An empty submission falls back to whatever the student autosaved.
	if len(answers) == 0 {
		answers = e.answers.Snapshot(roll)
	}
	e.resolver.Enqueue(SubmissionAttempt{
		Roll:      roll,
		Timestamp: ts,
		Kind:      kind,
		Answers:   answers,
	})

	held := e.mutex.Holder() == roll
	if !held {
		if _, err := e.mutex.Request(roll); err != nil {
			return SubmitResult{}, err
		}
		defer func() { _ = e.mutex.Release(roll) }()
	}

	// Re-read under the grant: a cheating strike can land while this
	// submission is parked behind the holder, and the committed entry must
	// carry the penalized marks.
	st, err = e.session.Student(roll)
	if err != nil {
		return SubmitResult{}, err
	}
	if st.Status == StatusTerminated {
		return SubmitResult{}, ErrTerminated
	}

	res, conflict, err := e.resolver.Resolve(roll, st.Marks)
	if err != nil {
		// The queue can come back empty if the detector discarded this
		// student's attempts while we waited for the critical section.
		return SubmitResult{}, err
	}
	if conflict != nil {
		return SubmitResult{Conflict: conflict}, nil
	}

	e.session.CommitRecord(res.Record)
	e.answers.Finalize(roll, res.Record.Timestamp)
	e.emit(res.Record)
	return SubmitResult{Success: true, CommitSeq: res.CommitSeq, Marks: res.Record.Marks}, nil
}

func (e *Engine) emit(rec *SubmissionRecord) {
	if e.onCommit == nil {
		return
	}
	e.onCommit(Delta{ID: uuid.NewString(), Seq: rec.CommitSeq, Record: *rec})
}

// ---------------- Cheating ----------------

func (e *Engine) ReportFlag(roll string, seq uint64) (FlagOutcome, error) {
	return e.cheat.ReportFlag(roll, seq)
}

// ---------------- Status ----------------

func (e *Engine) Status(roll string) (StatusSnapshot, error) {
	st, err := e.session.Student(roll)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		Student:   st,
		CSHolder:  e.mutex.Holder(),
		State:     e.session.State(),
		Remaining: e.session.Remaining(),
	}, nil
}
