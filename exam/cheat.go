package exam

import (
	"errors"
	"sync"
)

// ErrDuplicateFlag marks a flag sequence that was already processed. The
// caller treats it as a no-op acknowledgment, never a failure.
var ErrDuplicateFlag = errors.New("flag sequence already processed")

const defaultPenaltyFactor = 0.5

// FlagOutcome reports the detector's decision for one flag event.
type FlagOutcome struct {
	Roll           string
	Status         StudentStatus
	Strikes        int
	Marks          float64
	PenaltyApplied bool
}

// CheatDetector drives the two-strike policy. First flag warns and applies
// the mark penalty, second flag terminates; Terminated is absorbing. Flag
// events carry a monotonic per-student sequence so redelivered duplicates are
// detected and ignored.
type CheatDetector struct {
	mu          sync.Mutex
	session     *Session
	penalty     float64
	onTerminate func(roll string)
}

func NewCheatDetector(session *Session, penalty float64, onTerminate func(roll string)) *CheatDetector {
	if penalty <= 0 || penalty >= 1 {
		penalty = defaultPenaltyFactor
	}
	return &CheatDetector{
		session:     session,
		penalty:     penalty,
		onTerminate: onTerminate,
	}
}

// ReportFlag processes one flag event for roll. The sequence must be strictly
// greater than the last one processed for that student; anything else is a
// duplicate.
func (d *CheatDetector) ReportFlag(roll string, seq uint64) (FlagOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out FlagOutcome
	var dup, terminated bool

	err := d.session.mutate(roll, func(st *Student) {
		if seq <= st.LastFlagSeq {
			dup = true
			out = FlagOutcome{Roll: roll, Status: st.Status, Strikes: st.Strikes, Marks: st.Marks}
			return
		}
		st.LastFlagSeq = seq

		switch {
		case st.Status == StatusTerminated:
			// Absorbing: record the sequence, change nothing else.
			out = FlagOutcome{Roll: roll, Status: st.Status, Strikes: st.Strikes, Marks: st.Marks}
		case st.Strikes == 0:
			st.Strikes = 1
			st.Marks *= d.penalty
			st.Status = StatusWarned
			out = FlagOutcome{Roll: roll, Status: st.Status, Strikes: st.Strikes, Marks: st.Marks, PenaltyApplied: true}
		default:
			st.Strikes = 2
			st.Marks = 0
			st.Status = StatusTerminated
			terminated = true
			out = FlagOutcome{Roll: roll, Status: st.Status, Strikes: st.Strikes, Marks: st.Marks, PenaltyApplied: true}
		}
	})
	if err != nil {
		return FlagOutcome{}, err
	}
	if dup {
		return out, ErrDuplicateFlag
	}
	if terminated && d.onTerminate != nil {
		d.onTerminate(roll)
	}
	return out, nil
}
