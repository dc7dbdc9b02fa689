package eval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type opClock = int

type OpMetrics struct {
	CommitCount   int
	ConflictCount int
	FlagCount     int
}

// PerfMeter samples per-operation latency and outcome counts on the
// simulation client, plus global totals across the run.
type PerfMeter struct {
	sync.RWMutex
	batchSize      int
	sampleInterval opClock
	lastClock      opClock
	fileName       string
	meters         map[opClock]*RecordInstance
	// Global totals
	Commits     int64
	AutoCommits int64
	Conflicts   int64
	SyncRounds  int64
}

type RecordInstance struct {
	StartTime   time.Time
	TimeElapsed int64
	Metrics     OpMetrics
}

// ---------------- Initialization ----------------
func (m *PerfMeter) Init(interval, batchSize int, fileName string) {
	m.sampleInterval = interval
	m.lastClock = 0
	m.batchSize = batchSize
	m.fileName = fileName
	m.meters = make(map[opClock]*RecordInstance)
}

// ---------------- Record start/end ----------------
func (m *PerfMeter) RecordStarter(clock opClock) {
	m.Lock()
	defer m.Unlock()

	m.meters[clock] = &RecordInstance{
		StartTime:   time.Now(),
		TimeElapsed: 0,
		Metrics:     OpMetrics{},
	}
}

func (m *PerfMeter) RecordFinisher(clock opClock) error {
	m.Lock()
	defer m.Unlock()

	_, exist := m.meters[clock]
	if !exist {
		return errors.New("clock has not been recorded with starter")
	}

	start := m.meters[clock].StartTime
	m.meters[clock].TimeElapsed = time.Now().Sub(start).Milliseconds()

	return nil
}

// ---------------- Increment counters ----------------
func (m *PerfMeter) IncCommit(clock opClock) {
	m.Lock()
	defer m.Unlock()
	if rec, ok := m.meters[clock]; ok {
		rec.Metrics.CommitCount++
	}
}

func (m *PerfMeter) IncConflict(clock opClock) {
	m.Lock()
	defer m.Unlock()
	if rec, ok := m.meters[clock]; ok {
		rec.Metrics.ConflictCount++
	}
}

func (m *PerfMeter) IncFlag(clock opClock) {
	m.Lock()
	defer m.Unlock()
	if rec, ok := m.meters[clock]; ok {
		rec.Metrics.FlagCount++
	}
}

func (pm *PerfMeter) RecordCommit() {
	atomic.AddInt64(&pm.Commits, 1)
}

func (pm *PerfMeter) RecordAutoCommit() {
	atomic.AddInt64(&pm.AutoCommits, 1)
}

func (pm *PerfMeter) RecordSyncRound() {
	atomic.AddInt64(&pm.SyncRounds, 1)
}

// ---------------- Save to file ----------------
func (m *PerfMeter) SaveToFile() error {

	file, err := os.Create(fmt.Sprintf("./eval/%s.csv", m.fileName))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	m.RLock()
	defer m.RUnlock()

	var keys []int
	for key := range m.meters {
		keys = append(keys, key)
	}
	sort.Ints(keys)

	err = writer.Write([]string{"clock", "latency (ms) per op", "throughput (ops per second)", "commits", "conflicts", "flags"})
	if err != nil {
		return err
	}

	counter := 0
	var latSum int64 = 0
	var commitSum, conflictSum, flagSum int = 0, 0, 0

	for _, key := range keys {
		value := m.meters[key]
		if value.TimeElapsed == 0 {
			continue
		}

		latSum += value.TimeElapsed
		counter++
		commitSum += value.Metrics.CommitCount
		conflictSum += value.Metrics.ConflictCount
		flagSum += value.Metrics.FlagCount

		lat := value.TimeElapsed
		tpt := (float64(m.batchSize) / float64(lat)) * 1000
		row := []string{
			strconv.Itoa(key),
			strconv.FormatInt(lat, 10),
			strconv.FormatFloat(tpt, 'f', 3, 64),
			strconv.Itoa(value.Metrics.CommitCount),
			strconv.Itoa(value.Metrics.ConflictCount),
			strconv.Itoa(value.Metrics.FlagCount),
		}

		err := writer.Write(row)
		if err != nil {
			return err
		}
	}

	if counter == 0 {
		return errors.New("counter is 0")
	}

	avgLatency := float64(latSum) / float64(counter)
	lastTime := m.meters[keys[len(keys)-1]]
	lastEndTime := lastTime.StartTime.Add(time.Duration(lastTime.TimeElapsed) * time.Millisecond)
	avgThroughput := float64(m.batchSize*counter) / lastEndTime.Sub(m.meters[keys[0]].StartTime).Seconds()
	avgCommit := float64(commitSum) / float64(counter)
	avgConflict := float64(conflictSum) / float64(counter)
	avgFlag := float64(flagSum) / float64(counter)

	err = writer.Write([]string{
		"-1",
		strconv.FormatFloat(avgLatency, 'f', 3, 64),
		strconv.FormatFloat(avgThroughput, 'f', 3, 64),
		strconv.FormatFloat(avgCommit, 'f', 3, 64),
		strconv.FormatFloat(avgConflict, 'f', 3, 64),
		strconv.FormatFloat(avgFlag, 'f', 3, 64),
	})
	if err != nil {
		return err
	}

	err = writer.Write([]string{
		"GLOBAL",
		"", // latency not applicable
		strconv.FormatInt(m.SyncRounds, 10),
		strconv.FormatInt(m.Commits, 10),
		strconv.FormatInt(m.Conflicts, 10),
		strconv.FormatInt(m.AutoCommits, 10),
	})
	if err != nil {
		return err
	}

	return nil
}
