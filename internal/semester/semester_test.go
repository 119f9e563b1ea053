package semester

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fall2024() Semester {
	return Semester{
		Name:      "Fall 2024",
		StartDate: date(2024, 9, 1),
		EndDate:   date(2024, 12, 29),
		OffWeeks:  []int{7},
	}
}

func TestWeekNumber(t *testing.T) {
	s := fall2024()
	cases := []struct {
		name string
		at   time.Time
		want int
	}{
		{"first day", date(2024, 9, 1), 1},
		{"end of first week", date(2024, 9, 7), 1},
		{"second week", date(2024, 9, 8), 2},
		{"off week itself keeps raw number", date(2024, 10, 13), 7},
		{"week after off week", date(2024, 10, 20), 7},
		{"seventy days later", date(2024, 9, 1).AddDate(0, 0, 70), 10},
		{"before start floors at one", date(2024, 8, 20), 1},
		{"on end date clamps", date(2024, 12, 29), s.TotalWeeks()},
		{"after end date clamps", date(2025, 1, 15), s.TotalWeeks()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeekNumber(tc.at, s); got != tc.want {
				t.Errorf("WeekNumber(%s) = %d, want %d", tc.at.Format(time.DateOnly), got, tc.want)
			}
		})
	}
}

func TestWeekNumberIgnoresTimeOfDay(t *testing.T) {
	s := fall2024()
	morning := time.Date(2024, 9, 8, 0, 5, 0, 0, time.UTC)
	night := time.Date(2024, 9, 8, 23, 55, 0, 0, time.UTC)
	if WeekNumber(morning, s) != WeekNumber(night, s) {
		t.Fatal("same day must resolve to the same week")
	}
}

func TestWeekNumberMultipleOffWeeks(t *testing.T) {
	s := fall2024()
	s.OffWeeks = []int{3, 7, 12}
	// raw week 11: off weeks 3 and 7 precede it
	if got := WeekNumber(date(2024, 9, 1).AddDate(0, 0, 70), s); got != 9 {
		t.Fatalf("got %d, want 9", got)
	}
}

func TestTotalWeeks(t *testing.T) {
	s := Semester{StartDate: date(2024, 9, 1), EndDate: date(2024, 9, 16)}
	if got := s.TotalWeeks(); got != 3 {
		t.Fatalf("TotalWeeks = %d, want 3", got)
	}
}

func TestValidate(t *testing.T) {
	ok := fall2024()
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid semester rejected: %v", err)
	}

	inverted := fall2024()
	inverted.EndDate = inverted.StartDate
	if err := inverted.Validate(); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}

	outOfRange := fall2024()
	outOfRange.OffWeeks = []int{15}
	if err := outOfRange.Validate(); !errors.Is(err, ErrOffWeekRange) {
		t.Errorf("expected ErrOffWeekRange, got %v", err)
	}

	dup := fall2024()
	dup.OffWeeks = []int{4, 4}
	if err := dup.Validate(); !errors.Is(err, ErrOffWeekDup) {
		t.Errorf("expected ErrOffWeekDup, got %v", err)
	}
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("EET", 2*3600)
	in := time.Date(2025, 3, 4, 17, 30, 12, 99, loc)
	got := Day(in)
	if !got.Equal(time.Date(2025, 3, 4, 0, 0, 0, 0, loc)) {
		t.Fatalf("Day = %s", got)
	}
}
