package main

import (
	"errors"
	"time"

	"github.com/ayushmayekar13/exam-proctoring/exam"
)

// -------------------------------------------------------------------
// Exam Service (RPC entry point for all student requests)
// -------------------------------------------------------------------
type ExamService struct {
	engine *exam.Engine
}

func NewExamService(engine *exam.Engine) *ExamService {
	return &ExamService{engine: engine}
}

// -------------------------------------------------------------------
// RPC Structures
// -------------------------------------------------------------------
type Args struct {
	Roll         string
	Clock        int64  // student Lamport clock
	Kind         string // submit only, "manual" or "auto"
	Answers      map[string]string
	QuestionID   int     // save_answer only
	Answer       string  // save_answer only
	ReportedTime float64 // student local time in seconds, report_time only
	FlagSeq      uint64  // monotonic flag sequence, report_flag only
	From         string  // reply_cs relay source
	To           string  // reply_cs relay target
	Duration     time.Duration
}

type Reply struct {
	Success      bool
	ErrorMsg     string
	Clock        int64 // coordinator Lamport clock at reply time
	Marks        float64
	CommitSeq    uint64
	Status       string
	CSHolder     string
	State        string
	RemainingSec float64
	Offset       float64 // clock-offset estimate, get_status only
	Latency      float64
	Conflict     bool
	WinnerKind   string
	Version      int // stored answer version, save_answer only
	Questions    []exam.Question
}

type PingArgs struct {
	Clock int64
}

// fail stores an operation failure in the reply. Protocol-level failures are
// reply payload, not RPC transport errors; the student client inspects
// Success.
func (r *Reply) fail(err error) {
	r.Success = false
	r.ErrorMsg = err.Error()
}

// -------------------------------------------------------------------
// RPC Handlers
// -------------------------------------------------------------------
func (s *ExamService) Register(args *Args, reply *Reply) error {
	st, err := s.engine.Register(args.Roll)
	reply.Clock = s.engine.Clock().Now()
	if err != nil {
		reply.fail(err)
		log.Warnf("[REGISTER] rejected | roll=%s | err=%v", args.Roll, err)
		return nil
	}
	reply.Success = true
	reply.Marks = st.Marks
	reply.Status = st.Status.String()
	log.Infof("[REGISTER] roll=%s | marks=%.1f", args.Roll, st.Marks)
	return nil
}

func (s *ExamService) StartExam(args *Args, reply *Reply) error {
	dur := args.Duration
	if dur <= 0 {
		dur = examDuration
	}
	if err := s.engine.StartExam(dur); err != nil {
		reply.fail(err)
		return nil
	}
	reply.Success = true
	reply.RemainingSec = dur.Seconds()
	log.Infof("[EXAM] started | duration=%v | students=%d", dur, s.engine.Session().StudentCount())
	return nil
}

func (s *ExamService) EndExam(args *Args, reply *Reply) error {
	seqs, err := s.engine.EndExam()
	if err != nil {
		reply.fail(err)
		return nil
	}
	for range seqs {
		perfM.RecordAutoCommit()
	}
	reply.Success = true
	reply.CommitSeq = uint64(len(seqs))
	log.Infof("[EXAM] ended | auto-submitted=%d", len(seqs))
	saveCoordinatorMeters()
	return nil
}

func (s *ExamService) ReportTime(args *Args, reply *Reply) error {
	err := s.engine.ReportTime(args.Roll, args.ReportedTime)
	reply.Clock = s.engine.Clock().Now()
	switch {
	case errors.Is(err, exam.ErrSyncWindowMissed):
		// Missed windows are acknowledged, the student catches the next round.
		reply.Success = true
		reply.ErrorMsg = err.Error()
		log.Debugf("[SYNC] window missed | roll=%s", args.Roll)
	case err != nil:
		reply.fail(err)
	default:
		reply.Success = true
	}
	return nil
}

func (s *ExamService) RequestCS(args *Args, reply *Reply) error {
	start := time.Now()
	ts, err := s.engine.RequestCS(args.Roll)
	reply.Latency = time.Since(start).Seconds() * 1000
	reply.Clock = s.engine.Clock().Now()
	if err != nil {
		reply.fail(err)
		log.Warnf("[CS] request failed | roll=%s | err=%v", args.Roll, err)
		return nil
	}
	reply.Success = true
	reply.CommitSeq = uint64(ts)
	log.Infof("[CS] granted | roll=%s | ts=%d | latency=%.2fms", args.Roll, ts, reply.Latency)
	return nil
}

// ReplyCS records a relayed REPLY from one participant toward another's
// pending request.
func (s *ExamService) ReplyCS(args *Args, reply *Reply) error {
	s.engine.RelayReply(args.From, args.To)
	reply.Success = true
	reply.Clock = s.engine.Clock().Now()
	return nil
}

func (s *ExamService) ReleaseCS(args *Args, reply *Reply) error {
	if err := s.engine.ReleaseCS(args.Roll); err != nil {
		reply.fail(err)
		return nil
	}
	reply.Success = true
	log.Infof("[CS] released | roll=%s", args.Roll)
	return nil
}

func (s *ExamService) Submit(args *Args, reply *Reply) error {
	kind := exam.KindManual
	if args.Kind == "auto" {
		kind = exam.KindAuto
	}
	start := time.Now()
	res, err := s.engine.Submit(args.Roll, kind, args.Answers, args.Clock)
	reply.Latency = time.Since(start).Seconds() * 1000
	reply.Clock = s.engine.Clock().Now()
	if err != nil {
		reply.fail(err)
		log.Warnf("[SUBMIT] failed | roll=%s | err=%v", args.Roll, err)
		return nil
	}
	if res.Conflict != nil {
		reply.Conflict = true
		reply.WinnerKind = res.Conflict.WinnerKind.String()
		reply.CommitSeq = res.Conflict.WinnerCommit
		log.Infof("[SUBMIT] conflict | roll=%s | winner=%s | seq=%d",
			args.Roll, reply.WinnerKind, reply.CommitSeq)
		return nil
	}
	reply.Success = true
	reply.CommitSeq = res.CommitSeq
	reply.Marks = res.Marks
	perfM.RecordCommit()
	log.Infof("[SUBMIT] committed | roll=%s | seq=%d | marks=%.1f | latency=%.2fms",
		args.Roll, res.CommitSeq, res.Marks, reply.Latency)
	return nil
}

func (s *ExamService) ReportFlag(args *Args, reply *Reply) error {
	out, err := s.engine.ReportFlag(args.Roll, args.FlagSeq)
	reply.Clock = s.engine.Clock().Now()
	if errors.Is(err, exam.ErrDuplicateFlag) {
		// Redelivered flag: acknowledge with the current state, no new strike.
		reply.Success = true
		reply.Status = out.Status.String()
		reply.Marks = out.Marks
		log.Debugf("[FLAG] duplicate | roll=%s | seq=%d", args.Roll, args.FlagSeq)
		return nil
	}
	if err != nil {
		reply.fail(err)
		return nil
	}
	reply.Success = true
	reply.Status = out.Status.String()
	reply.Marks = out.Marks
	log.Warnf("[FLAG] roll=%s | seq=%d | strikes=%d | status=%s | marks=%.1f",
		args.Roll, args.FlagSeq, out.Strikes, out.Status, out.Marks)
	return nil
}

func (s *ExamService) GetStatus(args *Args, reply *Reply) error {
	snap, err := s.engine.Status(args.Roll)
	reply.Clock = s.engine.Clock().Now()
	if err != nil {
		reply.fail(err)
		return nil
	}
	reply.Success = true
	reply.Status = snap.Student.Status.String()
	reply.Marks = snap.Student.Marks
	reply.CSHolder = snap.CSHolder
	reply.State = stateName(snap.State)
	reply.RemainingSec = snap.Remaining.Seconds()
	reply.Offset = snap.Student.Offset
	return nil
}

// GetQuestions hands the question bank to a student. Answer keys are
// unexported and never leave the coordinator.
func (s *ExamService) GetQuestions(args *Args, reply *Reply) error {
	reply.Success = true
	reply.Clock = s.engine.Clock().Now()
	reply.Questions = s.engine.Questions()
	return nil
}

// SaveAnswer autosaves one answer. A stale write or a post-finalization
// autosave is acknowledged without storing anything; the student client
// treats both as benign.
func (s *ExamService) SaveAnswer(args *Args, reply *Reply) error {
	meta, err := s.engine.SaveAnswer(args.Roll, args.QuestionID, args.Answer, args.Clock)
	reply.Clock = s.engine.Clock().Now()
	switch {
	case errors.Is(err, exam.ErrStaleWrite), errors.Is(err, exam.ErrFinalized):
		reply.Success = true
		reply.ErrorMsg = err.Error()
		reply.Version = meta.Version
		log.Debugf("[ANSWER] dropped | roll=%s | q=%d | err=%v", args.Roll, args.QuestionID, err)
	case err != nil:
		reply.fail(err)
		log.Warnf("[ANSWER] rejected | roll=%s | q=%d | err=%v", args.Roll, args.QuestionID, err)
	default:
		reply.Success = true
		reply.Version = meta.Version
		log.Debugf("[ANSWER] saved | roll=%s | q=%d | v=%d | ts=%d",
			args.Roll, args.QuestionID, meta.Version, meta.Timestamp)
	}
	return nil
}

func (s *ExamService) Ping(args *PingArgs, reply *Reply) error {
	reply.Success = true
	reply.Clock = args.Clock
	return nil
}

func stateName(st exam.SessionState) string {
	switch st {
	case exam.SessionInProgress:
		return "in_progress"
	case exam.SessionEnded:
		return "ended"
	}
	return "not_started"
}
