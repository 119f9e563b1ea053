package attendance

import (
	"time"

	"campusattend/internal/apperr"
)

// SessionType distinguishes lectures from labs.
type SessionType string

const (
	Lecture SessionType = "lecture"
	Lab     SessionType = "lab"
)

func (t SessionType) Valid() bool { return t == Lecture || t == Lab }

// Status is the attendance outcome of a record.
type Status string

const (
	StatusAbsent           Status = "absent"
	StatusPending          Status = "pending"
	StatusCheckedIn        Status = "checked-in"
	StatusCheckedInPending Status = "checked-in-pending"
	StatusAttended         Status = "attended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAbsent, StatusPending, StatusCheckedIn, StatusCheckedInPending, StatusAttended:
		return true
	}
	return false
}

// awaitingReview covers the statuses staff resolve by approval.
func (s Status) awaitingReview() bool {
	return s == StatusPending || s == StatusCheckedInPending
}

// Approval is the staff review outcome.
type Approval string

const (
	Unreviewed Approval = "unreviewed"
	Approved   Approval = "approved"
	Rejected   Approval = "rejected"
)

// MarkedBy records how attendance was captured.
type MarkedBy string

const (
	MarkedByRFID   MarkedBy = "rfid"
	MarkedByFace   MarkedBy = "face_recognition"
	MarkedByManual MarkedBy = "manual"
)

func (m MarkedBy) Valid() bool {
	return m == MarkedByRFID || m == MarkedByFace || m == MarkedByManual
}

var (
	ErrNotFound      = apperr.NotFound("Attendance session not found")
	ErrInvalidStatus = apperr.Invalid("invalid attendance status")
	ErrStale         = apperr.Conflict("attendance record was modified concurrently")
)

// Key is the identity of a record: at most one record exists per key.
type Key struct {
	StudentID   string      `json:"student_id"`
	SubjectID   string      `json:"subject_id"`
	GroupID     string      `json:"group_id"`
	SessionDate time.Time   `json:"session_date"`
	WeekNumber  int         `json:"week_number"`
	SessionType SessionType `json:"session_type"`
}

// Record is one attendance outcome.
type Record struct {
	ID           string     `json:"id"`
	Key          Key        `json:"key"`
	Status       Status     `json:"status"`
	Approved     Approval   `json:"approved"`
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	DeviceID     string     `json:"device_id,omitempty"`
	MarkedBy     MarkedBy   `json:"marked_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ProvisionalStatus is the check-in outcome decided from group membership.
func ProvisionalStatus(inGroup bool) Status {
	if inGroup {
		return StatusCheckedIn
	}
	return StatusCheckedInPending
}

// CheckOutStatus maps the status at check-out time to the closing status.
// ok is false when the record is not a valid check-out target.
func CheckOutStatus(current Status) (next Status, ok bool) {
	switch current {
	case StatusCheckedIn:
		return StatusAttended, true
	case StatusCheckedInPending:
		return StatusPending, true
	default:
		return current, false
	}
}

// ApprovalAfter returns the approval a staff override produces. Overrides of
// records that were awaiting review settle the approval; others keep it.
func ApprovalAfter(prev Status, prevApproval Approval, next Status) Approval {
	if !prev.awaitingReview() {
		return prevApproval
	}
	switch next {
	case StatusAttended:
		return Approved
	case StatusAbsent:
		return Rejected
	default:
		return Unreviewed
	}
}
