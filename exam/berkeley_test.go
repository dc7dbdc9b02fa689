package exam

import (
	"math"
	"testing"
	"time"
)

func reportOffset(t *testing.T, c *SyncCoordinator, roll string, offset float64, now time.Time) {
	t.Helper()
	coordTime := float64(now.UnixNano()) / float64(time.Second)
	if err := c.Report(roll, coordTime+offset, now); err != nil {
		t.Fatalf("report for %s failed: %v", roll, err)
	}
}

func TestBerkeleyConvergence(t *testing.T) {
	c := NewSyncCoordinator(3 * time.Second)
	now := time.Now()
	c.OpenRound(now)

	offsets := map[string]float64{
		"23102A0001": 2.0,
		"23102A0002": -3.0,
		"23102A0003": 5.0,
	}
	for roll, off := range offsets {
		reportOffset(t, c, roll, off, now)
	}

	mean, corrections, ok := c.CloseRound()
	if !ok {
		t.Fatal("round with three respondents reported no-op")
	}
	wantMean := (2.0 - 3.0 + 5.0) / 3.0
	if math.Abs(mean-wantMean) > 1e-6 {
		t.Errorf("mean offset | got: %.4f, want: %.4f", mean, wantMean)
	}
	if len(corrections) != 3 {
		t.Fatalf("correction count | got: %d, want: 3", len(corrections))
	}
	for _, corr := range corrections {
		want := wantMean - offsets[corr.Roll]
		if math.Abs(corr.Delta-want) > 1e-6 {
			t.Errorf("delta for %s | got: %.4f, want: %.4f", corr.Roll, corr.Delta, want)
		}
	}
}

func TestBerkeleyWindowMissed(t *testing.T) {
	c := NewSyncCoordinator(time.Second)
	now := time.Now()
	c.OpenRound(now)

	late := now.Add(2 * time.Second)
	coordTime := float64(late.UnixNano()) / float64(time.Second)
	if err := c.Report("23102A0001", coordTime+1.0, late); err != ErrSyncWindowMissed {
		t.Errorf("late report | got: %v, want: ErrSyncWindowMissed", err)
	}
	if c.Respondents() != 0 {
		t.Errorf("late report was recorded | respondents: %d", c.Respondents())
	}
}

func TestBerkeleyEmptyRoundNoop(t *testing.T) {
	c := NewSyncCoordinator(time.Second)
	c.OpenRound(time.Now())
	if _, _, ok := c.CloseRound(); ok {
		t.Error("round without respondents should be a no-op")
	}
}

func TestBerkeleyReportWithoutRound(t *testing.T) {
	c := NewSyncCoordinator(time.Second)
	now := time.Now()
	coordTime := float64(now.UnixNano()) / float64(time.Second)
	if err := c.Report("23102A0001", coordTime, now); err != ErrSyncWindowMissed {
		t.Errorf("report without open round | got: %v, want: ErrSyncWindowMissed", err)
	}
}
