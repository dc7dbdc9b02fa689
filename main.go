package main

import (
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayushmayekar13/exam-proctoring/config"
	"github.com/ayushmayekar13/exam-proctoring/eval"
	"github.com/ayushmayekar13/exam-proctoring/exam"
	"github.com/ayushmayekar13/exam-proctoring/mongodb"
	"github.com/ayushmayekar13/exam-proctoring/store"
)

// ------------------ GLOBAL VARIABLES ------------------
var (
	log         = logrus.New()
	perfM       eval.PerfMeter
	engine      *exam.Engine
	propagator  *Propagator
	marksheetDB *mongodb.MarksheetStore
	myAddr      string
	nodeConfigs [][]string
)

// ------------------ MAIN FUNCTION ------------------
func main() {
	fmt.Println("Program starts ...")

	// Load configuration and initialize logger
	loadCommandLineInputs()
	SetLogger(logLevel, myNodeID, production)

	// Parse node configs
	nodeConfigs = config.ParseClusterConfig(numOfNodes, configPath)
	if len(nodeConfigs) <= myNodeID {
		log.Fatalf("Invalid node ID %d: config has only %d nodes", myNodeID, len(nodeConfigs))
	}
	myConfig := nodeConfigs[myNodeID]
	myAddr = myConfig[config.NodeIP] + ":" + myConfig[config.NodeRPCListenerPort]

	printStartupInfo()

	// ------------------ ROLE HANDLING ------------------
	switch role {
	case Coordinator:
		runCoordinatorRole()
	case Replica:
		runReplicaRole()
	case Client:
		runClientRole()
	default:
		log.Fatalf("Invalid role specified: %d. Must be 0 (coordinator), 1 (replica) or 2 (client)", role)
	}
}

// ------------------ COORDINATOR ROLE ------------------
func runCoordinatorRole() {
	journal := openJournal()

	if enableMongo {
		var err error
		marksheetDB, err = mongodb.NewMarksheetStore(myNodeID)
		if err != nil {
			log.Fatalf("Node %d: marksheet store init failed: %v", myNodeID, err)
		}
		if err := marksheetDB.ClearMarksheet(); err != nil {
			log.Warnf("Node %d: clearing old marksheet failed: %v", myNodeID, err)
		}
	}

	perfM.Init(1, 1, fmt.Sprintf("node%d_%s", myNodeID, suffix))
	propagator = NewPropagator(journal, marksheetDB)
	engine = exam.NewEngine(exam.EngineConfig{
		CSTimeout:  csTimeout,
		SyncWindow: syncWindow,
		Penalty:    penaltyFactor,
		OnCommit:   propagator.Commit,
	})

	examService := NewExamService(engine)
	if err := rpc.Register(examService); err != nil {
		log.Fatalf("Node %d: rpc.Register failed: %v", myNodeID, err)
	}

	listener, err := net.Listen("tcp", myAddr)
	if err != nil {
		log.Fatalf("Node %d: ListenTCP failed: %v", myNodeID, err)
	}
	log.Infof("Node %d: coordinator listening at %s", myNodeID, myAddr)

	// Accept RPC connections
	go rpc.Accept(listener)

	// Connect to replicas and start probing the unreachable ones
	establishReplicaConnections()
	go propagator.ProbeLoop()

	// Periodic Berkeley sync rounds while the exam runs
	go runSyncRounds()

	// End the exam when the timer runs out
	go runDurationWatchdog()

	// Keep coordinator running
	select {}
}

// runSyncRounds opens a Berkeley round every syncInterval, holds the
// collection window open, then averages and applies the corrections.
func runSyncRounds() {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	round := 0
	for range ticker.C {
		if engine.State() != exam.SessionInProgress {
			continue
		}
		round++
		perfM.RecordStarter(round)
		engine.OpenSyncRound()
		log.Debugf("[SYNC] round open | window=%v", syncWindow)
		time.Sleep(syncWindow)

		mean, corrections, ok := engine.CloseSyncRound()
		perfM.RecordFinisher(round)
		if !ok {
			log.Debugf("[SYNC] round closed with no respondents")
			continue
		}
		perfM.RecordSyncRound()
		log.Infof("[SYNC] round closed | respondents=%d | mean offset=%.4fs", len(corrections), mean)
		for _, c := range corrections {
			log.Debugf("[SYNC] roll=%s | offset=%.4fs | delta=%.4fs", c.Roll, c.Offset, c.Delta)
		}
	}
}

// runDurationWatchdog force-ends the session once the exam timer expires,
// auto-submitting everyone still in the exam.
func runDurationWatchdog() {
	for {
		time.Sleep(time.Second)
		if engine.State() != exam.SessionInProgress {
			continue
		}
		if engine.Remaining() > 0 {
			continue
		}
		seqs, err := engine.EndExam()
		if err != nil {
			log.Warnf("[EXAM] watchdog end failed: %v", err)
			continue
		}
		for range seqs {
			perfM.RecordAutoCommit()
		}
		log.Infof("[EXAM] time over | auto-submitted %d students", len(seqs))
		saveCoordinatorMeters()
	}
}

// saveCoordinatorMeters flushes the coordinator's sync-round and commit
// counters once the exam is over.
func saveCoordinatorMeters() {
	if err := perfM.SaveToFile(); err != nil {
		log.Warnf("[EVAL] saving coordinator meters failed: %v", err)
	}
}

// ------------------ REPLICA ROLE ------------------
func runReplicaRole() {
	journal := openJournal()

	if enableMongo {
		var err error
		marksheetDB, err = mongodb.NewMarksheetStore(myNodeID)
		if err != nil {
			log.Fatalf("Node %d: marksheet store init failed: %v", myNodeID, err)
		}
	}

	replicaService := NewReplicaService(journal, marksheetDB)
	if err := rpc.Register(replicaService); err != nil {
		log.Fatalf("Node %d: rpc.Register failed: %v", myNodeID, err)
	}

	listener, err := net.Listen("tcp", myAddr)
	if err != nil {
		log.Fatalf("Node %d: ListenTCP failed: %v", myNodeID, err)
	}
	log.Infof("Node %d: replica listening at %s", myNodeID, myAddr)

	go rpc.Accept(listener)
	select {}
}

// ------------------ CLIENT ROLE ------------------
func runClientRole() {
	log.Infof("Client %d: waiting for cluster to stabilize...", myNodeID)
	time.Sleep(3 * time.Second)

	RunClient(myNodeID, configPath, rollPath)
	fmt.Printf("Client %d finished execution.\n", myNodeID)
}

// ------------------ UTILITY FUNCTIONS ------------------
func openJournal() *store.CommitLog {
	path := fmt.Sprintf("%s.node%d", dbPath, myNodeID)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Node %d: creating journal dir failed: %v", myNodeID, err)
	}
	journal, err := store.Open(path)
	if err != nil {
		log.Fatalf("Node %d: opening commit log failed: %v", myNodeID, err)
	}
	return journal
}

func printStartupInfo() {
	fmt.Println("===================================================")
	fmt.Println("Exam Proctoring: Lamport-ordered Submission & Berkeley Clock Sync")
	fmt.Println("---------------------------------------------------")
	fmt.Printf("Configuration   : nodes=%d | id=%d | role=%d | duration=%v\n",
		numOfNodes, myNodeID, role, examDuration)
	fmt.Printf("Timing          : sync every %v (window %v) | cs timeout %v | ack timeout %v\n",
		syncInterval, syncWindow, csTimeout, ackTimeout)
	fmt.Printf("Config Path     : %s\n", configPath)
	fmt.Printf("Marksheet Sink  : mongo=%v | journal=%s\n", enableMongo, dbPath)
	fmt.Println("===================================================")
}
