package clock

import (
	"testing"
	"time"
)

func TestSinceClampsNegative(t *testing.T) {
	now := time.Unix(1000, 0)

	if d := Since(now, now.Add(-time.Minute)); d != time.Minute {
		t.Fatalf("expected 1m, got %v", d)
	}
	if d := Since(now, now); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
	if d := Since(now, now.Add(time.Hour)); d != 0 {
		t.Fatalf("expected clamp to 0 for a future timestamp, got %v", d)
	}
}
