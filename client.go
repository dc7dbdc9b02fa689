package main

import (
	"fmt"
	"math/rand"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayushmayekar13/exam-proctoring/config"
	"github.com/ayushmayekar13/exam-proctoring/exam"
)

// studentSim is the client-side picture of one simulated student.
type studentSim struct {
	roll      string
	clock     int64   // student Lamport clock
	skew      float64 // fixed local clock skew in seconds
	flagSeq   uint64
	submitAt  time.Time
	submitted bool
	done      bool // terminated or submitted, no more traffic
}

// RunClient drives a full exam session against the coordinator: it registers
// the roll list, starts the exam, then loops reporting local times, raising
// random cheating flags and submitting each student at a random point of the
// exam. Students that never submit are auto-submitted by the coordinator when
// the timer expires.
func RunClient(clientID int, configPath string, rollPath string) {
	// --- 1. Parse cluster configuration, coordinator is row 0 ---
	clusterConf := config.ParseClusterConfig(numOfNodes, configPath)
	coordAddr := clusterConf[0][config.NodeIP] + ":" + clusterConf[0][config.NodeRPCListenerPort]

	conn, err := rpc.Dial("tcp", coordAddr)
	if err != nil {
		log.Fatalf("Client %d: failed to connect to coordinator (%s): %v", clientID, coordAddr, err)
	}
	defer conn.Close()
	log.Infof("Client %d: connected to coordinator at %s", clientID, coordAddr)

	// --- 2. Graceful shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// --- 3. Initialize performance meter ---
	fileSuffix := fmt.Sprintf("client%d_%s", clientID, suffix)
	perfM.Init(1, 1, fileSuffix)

	rand.Seed(time.Now().UnixNano())

	// --- 4. Register students ---
	rolls := config.ParseRollList(rollPath)
	students := make([]*studentSim, 0, len(rolls))
	for _, roll := range rolls {
		reply := &Reply{}
		if err := conn.Call("ExamService.Register", &Args{Roll: roll}, reply); err != nil {
			log.Fatalf("Client %d: register RPC failed for %s: %v", clientID, roll, err)
		}
		if !reply.Success {
			log.Warnf("Client %d: register rejected for %s: %s", clientID, roll, reply.ErrorMsg)
			continue
		}
		students = append(students, &studentSim{
			roll: roll,
			skew: (rand.Float64() - 0.5) * 10, // up to ±5s of clock skew
		})
		log.Infof("Client %d: registered %s | marks=%.1f", clientID, roll, reply.Marks)
	}
	if len(students) == 0 {
		log.Fatalf("Client %d: no students registered", clientID)
	}

	// --- 5. Fetch the question bank ---
	questions := fetchQuestions(conn, clientID)

	// --- 6. Start the exam ---
	reply := &Reply{}
	if err := conn.Call("ExamService.StartExam", &Args{Duration: examDuration}, reply); err != nil || !reply.Success {
		log.Fatalf("Client %d: start exam failed: %v | %s", clientID, err, reply.ErrorMsg)
	}
	examEnd := time.Now().Add(examDuration)
	fmt.Printf("Client %d started exam | students=%d | duration=%v | flag rate=%d%%\n",
		clientID, len(students), examDuration, flagRate)

	// Each student submits at a random point of the exam; some land past the
	// end so the auto-submit sweep has work to do.
	for _, st := range students {
		frac := 0.4 + rand.Float64()*0.7
		st.submitAt = time.Now().Add(time.Duration(frac * float64(examDuration)))
	}

	// --- 7. Main simulation loop ---
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	op := 0

	for {
		select {
		case <-stop:
			fmt.Printf("Client %d interrupted. Exiting.\n", clientID)
			perfM.SaveToFile()
			return

		case <-ticker.C:
			if time.Now().After(examEnd.Add(2 * time.Second)) {
				printFinalStatuses(conn, clientID, students)
				perfM.SaveToFile()
				fmt.Printf("Client %d: metrics saved to ./eval/%s.csv\n", clientID, fileSuffix)
				return
			}

			for _, st := range students {
				if st.done {
					continue
				}

				// Report skewed local time; the coordinator only counts it
				// while a sync window is open.
				reportTime(conn, st)

				// Autosave a fresh answer on a random question. The final
				// submission picks these up server side.
				if len(questions) > 0 && rand.Intn(100) < 50 {
					autosaveAnswer(conn, st, questions[rand.Intn(len(questions))])
				}

				// Random cheating flag
				if rand.Intn(100) < flagRate {
					raiseFlag(conn, st, &op)
				}

				// Scheduled submission
				if !st.submitted && time.Now().After(st.submitAt) {
					submit(conn, st, &op)
				}
			}
		}
	}
}

func fetchQuestions(conn *rpc.Client, clientID int) []exam.Question {
	reply := &Reply{}
	if err := conn.Call("ExamService.GetQuestions", &Args{}, reply); err != nil {
		log.Warnf("Client %d: get_questions failed: %v", clientID, err)
		return nil
	}
	log.Infof("Client %d: question bank loaded | questions=%d", clientID, len(reply.Questions))
	return reply.Questions
}

// autosaveAnswer sends one last-writer-wins autosave. Stale and
// post-submission writes come back acknowledged with the reason in
// ErrorMsg; neither is a failure for the student.
func autosaveAnswer(conn *rpc.Client, st *studentSim, q exam.Question) {
	st.clock++
	answer := genRandomAnswer(8)
	if len(q.Options) > 0 {
		answer = q.Options[rand.Intn(len(q.Options))]
	}

	reply := &Reply{}
	err := conn.Call("ExamService.SaveAnswer", &Args{
		Roll:       st.roll,
		Clock:      st.clock,
		QuestionID: q.ID,
		Answer:     answer,
	}, reply)
	if err != nil {
		log.Warnf("[Client] save_answer failed | roll=%s | q=%d | err=%v", st.roll, q.ID, err)
		return
	}
	st.clock = maxClock(st.clock, reply.Clock) + 1
	if reply.ErrorMsg != "" {
		log.Debugf("[Client] autosave dropped | roll=%s | q=%d | reason=%s", st.roll, q.ID, reply.ErrorMsg)
		return
	}
	log.Debugf("[Client] autosave | roll=%s | q=%d | v=%d", st.roll, q.ID, reply.Version)
}

func reportTime(conn *rpc.Client, st *studentSim) {
	local := float64(time.Now().UnixNano())/float64(time.Second) + st.skew
	reply := &Reply{}
	err := conn.Call("ExamService.ReportTime", &Args{Roll: st.roll, ReportedTime: local}, reply)
	if err != nil {
		log.Warnf("[Client] report_time failed | roll=%s | err=%v", st.roll, err)
	}
}

func raiseFlag(conn *rpc.Client, st *studentSim, op *int) {
	st.flagSeq++
	*op++
	perfM.RecordStarter(*op)
	perfM.IncFlag(*op)

	reply := &Reply{}
	err := conn.Call("ExamService.ReportFlag", &Args{Roll: st.roll, FlagSeq: st.flagSeq}, reply)
	perfM.RecordFinisher(*op)
	if err != nil {
		log.Warnf("[Client] report_flag failed | roll=%s | err=%v", st.roll, err)
		return
	}
	log.Infof("[Client] flag %d | roll=%s | status=%s | marks=%.1f",
		st.flagSeq, st.roll, reply.Status, reply.Marks)
	if reply.Status == "terminated" {
		st.done = true
		fmt.Printf("  %s TERMINATED for cheating | marks=%.1f\n", st.roll, reply.Marks)
	}
}

func submit(conn *rpc.Client, st *studentSim, op *int) {
	st.clock++
	*op++
	perfM.RecordStarter(*op)

	// No answers in the payload: the coordinator seals whatever this
	// student autosaved during the exam.
	reply := &Reply{}
	start := time.Now()
	err := conn.Call("ExamService.Submit", &Args{Roll: st.roll, Clock: st.clock, Kind: "manual"}, reply)
	latency := time.Since(start)
	perfM.RecordFinisher(*op)

	if err != nil {
		log.Warnf("[Client] submit RPC failed | roll=%s | err=%v", st.roll, err)
		return
	}
	st.clock = maxClock(st.clock, reply.Clock) + 1

	switch {
	case reply.Success:
		st.submitted = true
		st.done = true
		perfM.IncCommit(*op)
		perfM.RecordCommit()
		log.Infof("[Client] submit committed | roll=%s | seq=%d | marks=%.1f | latency=%dms",
			st.roll, reply.CommitSeq, reply.Marks, latency.Milliseconds())
	case reply.Conflict:
		st.submitted = true
		st.done = true
		perfM.IncConflict(*op)
		log.Infof("[Client] submit lost conflict | roll=%s | winner=%s | seq=%d",
			st.roll, reply.WinnerKind, reply.CommitSeq)
	default:
		// Terminated students and closed sessions land here.
		st.done = true
		log.Warnf("[Client] submit rejected | roll=%s | err=%s", st.roll, reply.ErrorMsg)
	}
}

func printFinalStatuses(conn *rpc.Client, clientID int, students []*studentSim) {
	fmt.Printf("\nClient %d final statuses:\n", clientID)
	for _, st := range students {
		reply := &Reply{}
		if err := conn.Call("ExamService.GetStatus", &Args{Roll: st.roll}, reply); err != nil {
			log.Warnf("[Client] get_status failed | roll=%s | err=%v", st.roll, err)
			continue
		}
		fmt.Printf("  %s | status=%s | marks=%.1f | session=%s\n",
			st.roll, reply.Status, reply.Marks, reply.State)
	}
}

func maxClock(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
