// Package semester holds the academic calendar and the week resolver.
package semester

import (
	"math"
	"time"

	"campusattend/internal/apperr"
)

const (
	MinOffWeek = 1
	MaxOffWeek = 14
)

var (
	ErrNoCurrent    = apperr.NotFound("no active semester found")
	ErrInvalidRange = apperr.Invalid("start date must be before end date")
	ErrOffWeekRange = apperr.Invalid("off weeks must be between 1 and 14")
	ErrOffWeekDup   = apperr.Invalid("off weeks contain duplicate values")
	ErrNameTaken    = apperr.Conflict("a semester with this name already exists")
)

// Semester is one teaching period. At most one semester is current at a time;
// the caller that flips IsCurrent is responsible for clearing the others.
type Semester struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	AcademicYear string    `json:"academic_year,omitempty"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	OffWeeks     []int     `json:"off_weeks"`
	IsCurrent    bool      `json:"is_current"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the date span and off-week set.
func (s Semester) Validate() error {
	if !s.StartDate.Before(s.EndDate) {
		return ErrInvalidRange
	}
	seen := make(map[int]struct{}, len(s.OffWeeks))
	for _, w := range s.OffWeeks {
		if w < MinOffWeek || w > MaxOffWeek {
			return ErrOffWeekRange
		}
		if _, dup := seen[w]; dup {
			return ErrOffWeekDup
		}
		seen[w] = struct{}{}
	}
	return nil
}

// TotalWeeks is the number of (possibly partial) weeks between start and end.
func (s Semester) TotalWeeks() int {
	days := daysBetween(s.StartDate, s.EndDate)
	return int(math.Ceil(float64(days) / 7))
}

// WeekNumber maps date to the academic week of s. Off-weeks before the raw week
// shift later weeks down; the result is at least 1, and dates on or after the
// end date resolve to the last week.
func WeekNumber(date time.Time, s Semester) int {
	raw := floorDiv(daysBetween(s.StartDate, date), 7) + 1

	skipped := 0
	for _, w := range s.OffWeeks {
		if w < raw {
			skipped++
		}
	}
	week := raw - skipped
	if week < 1 {
		week = 1
	}

	if !Day(date).Before(Day(s.EndDate)) {
		week = s.TotalWeeks()
	}
	return week
}

// Day truncates t to midnight in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
