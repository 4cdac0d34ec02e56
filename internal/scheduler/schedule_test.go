package scheduler

import (
	"testing"
	"time"
)

func TestIntervalSchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Every(1 * time.Hour)
	next := s.Next(now)
	if !next.Equal(now.Add(1 * time.Hour)) {
		t.Errorf("Expected %v, got %v", now.Add(1*time.Hour), next)
	}
}

func TestDailySchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	// Later today
	next1 := Daily(14, 30).Next(now)
	expected1 := time.Date(2025, 1, 1, 14, 30, 0, 0, time.UTC)
	if !next1.Equal(expected1) {
		t.Errorf("Case 1: Expected %v, got %v", expected1, next1)
	}

	// Already passed today, so tomorrow
	next2 := Daily(8, 0).Next(now)
	expected2 := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	if !next2.Equal(expected2) {
		t.Errorf("Case 2: Expected %v, got %v", expected2, next2)
	}

	// Exactly now runs tomorrow
	next3 := Daily(10, 0).Next(now)
	if !next3.Equal(now.AddDate(0, 0, 1)) {
		t.Errorf("Case 3: Expected %v, got %v", now.AddDate(0, 0, 1), next3)
	}
}

func TestParseDaily(t *testing.T) {
	s, err := ParseDaily("03:15")
	if err != nil {
		t.Fatalf("ParseDaily failed: %v", err)
	}
	if s.Hour != 3 || s.Minute != 15 {
		t.Errorf("Expected 03:15, got %02d:%02d", s.Hour, s.Minute)
	}

	for _, bad := range []string{"", "3pm", "25:00", "12:60"} {
		if _, err := ParseDaily(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
