package main

import (
	"flag"
	"time"
)

const (
	Coordinator = iota
	Replica
	Client
)

var numOfNodes int
var myNodeID int
var configPath string
var production bool
var logLevel string
var role int

// exam session parameters
var examDuration time.Duration
var penaltyFactor float64

// clock sync parameters
var syncInterval time.Duration
var syncWindow time.Duration

// mutual exclusion parameters
var csTimeout time.Duration

// replication parameters
var ackTimeout time.Duration
var probeInterval time.Duration
var dbPath string

// marksheet sink parameters
var enableMongo bool

// simulation client parameters
var rollPath string
var flagRate int

// suffix of files
var suffix string

func loadCommandLineInputs() {
	flag.IntVar(&numOfNodes, "n", 3, "# of nodes (coordinator + replicas)")
	flag.IntVar(&myNodeID, "id", 0, "this node ID")
	flag.StringVar(&configPath, "path", "./config/cluster_localhost.conf", "config file path")

	// Production mode stores log on disk at ./logs/
	flag.BoolVar(&production, "pd", false, "production mode?")
	flag.StringVar(&logLevel, "log", "debug", "trace, debug, info, warn, error, fatal, panic")
	flag.IntVar(&role, "role", 0, "0 -> coordinator ; 1 -> replica ; 2 -> client")

	flag.DurationVar(&examDuration, "dur", 2*time.Minute, "exam duration")
	flag.Float64Var(&penaltyFactor, "penalty", 0.5, "mark multiplier on first cheating strike")

	flag.DurationVar(&syncInterval, "si", 15*time.Second, "interval between Berkeley sync rounds")
	flag.DurationVar(&syncWindow, "sw", 3*time.Second, "collection window of one sync round")

	flag.DurationVar(&csTimeout, "cst", 5*time.Second, "bounded wait for critical section replies")

	flag.DurationVar(&ackTimeout, "at", 2*time.Second, "bounded wait for replica delta acks")
	flag.DurationVar(&probeInterval, "pi", 5*time.Second, "probe interval for unreachable replicas")
	flag.StringVar(&dbPath, "db", "./data/commits.db", "commit log path")

	flag.BoolVar(&enableMongo, "mdb", false, "persist the marksheet to MongoDB?")

	flag.StringVar(&rollPath, "rolls", "./config/rolls.conf", "roll list path for the simulation client")
	flag.IntVar(&flagRate, "flagrate", 20, "percentage of client steps that raise a cheating flag")

	flag.StringVar(&suffix, "suffix", "xxx", "suffix of files")
	flag.Parse()

	log.Debugf("CommandLine parameters:\n - numOfNodes:%v\n - myNodeID:%v\n - role:%v\n - duration:%v - penalty:%v",
		numOfNodes, myNodeID, role, examDuration, penaltyFactor)
}
