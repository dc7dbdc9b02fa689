package exam

import (
	"errors"
	"sync"
	"time"
)

// ErrSyncWindowMissed marks a time report that arrived after the collection
// window closed. The report is excluded from that round's average; the caller
// never surfaces this to the student.
var ErrSyncWindowMissed = errors.New("time report outside sync window")

// Correction is one student's corrective delta out of a sync round.
type Correction struct {
	Roll   string
	Offset float64
	Delta  float64
}

// SyncCoordinator runs Berkeley rounds: collect participant time reports
// within a bounded window, average the offsets (no outlier exclusion), and
// hand each respondent the delta that converges all responding clocks to the
// mean.
type SyncCoordinator struct {
	mu      sync.Mutex
	window  time.Duration
	openAt  time.Time
	open    bool
	offsets map[string]float64
}

func NewSyncCoordinator(window time.Duration) *SyncCoordinator {
	return &SyncCoordinator{window: window}
}

// OpenRound begins a collection window at now. An already open round is
// replaced; late reports for the old round are dropped by the window check.
func (c *SyncCoordinator) OpenRound(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.openAt = now
	c.offsets = make(map[string]float64)
}

// Report records a participant's reported local time against the
// coordinator's time. offset_i = reported − coordinator time.
func (c *SyncCoordinator) Report(roll string, reported float64, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrSyncWindowMissed
	}
	if now.Sub(c.openAt) > c.window {
		return ErrSyncWindowMissed
	}
	coordTime := float64(now.UnixNano()) / float64(time.Second)
	c.offsets[roll] = reported - coordTime
	return nil
}

// CloseRound computes the arithmetic mean offset over respondents and each
// respondent's corrective delta = mean − offset_i. With no respondents the
// round is a no-op and ok is false.
func (c *SyncCoordinator) CloseRound() (mean float64, corrections []Correction, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	if len(c.offsets) == 0 {
		return 0, nil, false
	}
	sum := 0.0
	for _, off := range c.offsets {
		sum += off
	}
	mean = sum / float64(len(c.offsets))
	corrections = make([]Correction, 0, len(c.offsets))
	for roll, off := range c.offsets {
		corrections = append(corrections, Correction{Roll: roll, Offset: off, Delta: mean - off})
	}
	c.offsets = nil
	return mean, corrections, true
}

// Respondents reports how many participants answered the open round so far.
func (c *SyncCoordinator) Respondents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offsets)
}
