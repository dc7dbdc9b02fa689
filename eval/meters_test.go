package eval

import (
	"testing"
	"time"
)

func TestPerfMeter_Init(t *testing.T) {
	var perfM PerfMeter

	perfM.Init(1, 10, "exam_n4_ayush")
}

func TestPerfMeter_SaveToFile(t *testing.T) {
	var perfM PerfMeter

	perfM.Init(1, 1, "test_exam_n4_ayush")

	perfM.RecordStarter(1)
	perfM.IncCommit(1)
	time.Sleep(120 * time.Millisecond)

	err := perfM.RecordFinisher(1)
	if err != nil {
		t.Error(err)
		return
	}

	perfM.RecordStarter(2)
	perfM.IncConflict(2)
	perfM.IncFlag(2)
	time.Sleep(80 * time.Millisecond)

	err = perfM.RecordFinisher(2)
	if err != nil {
		t.Error(err)
		return
	}

	perfM.RecordStarter(3)

	err = perfM.SaveToFile()
	if err != nil {
		t.Error(err)
		return
	}
}
