package game

import (
	"testing"
	"time"
)

func TestDefaultParamsValid(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params: %v", err)
	}
}

func TestValidateRejectsZeroBatch(t *testing.T) {
	p := DefaultParams()
	p.MaxBatchSize = 0
	if err := p.Validate(); err == nil {
		t.Error("expected error for max_batch_size 0")
	}
}

func TestBuckets(t *testing.T) {
	ts := int64(3*24*time.Hour + 5*time.Hour + 7)
	if got := DayBucket(ts); got != 3 {
		t.Errorf("day: got %d want 3", got)
	}
	if got := HourBucket(ts); got != 77 {
		t.Errorf("hour: got %d want 77", got)
	}
	if got := WeekBucket(ts); got != 0 {
		t.Errorf("week: got %d want 0", got)
	}
	if got := DayBucket(Day - 1); got != 0 {
		t.Errorf("last ns of day 0 landed in %d", got)
	}
	if got := DayBucket(Day); got != 1 {
		t.Errorf("first ns of day 1 landed in %d", got)
	}
}
