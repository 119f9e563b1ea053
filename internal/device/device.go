// Package device owns device reservations and the check-in/check-out session
// state machine. Only Manager mutates a device's status or session mode.
package device

import (
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
)

// Status is the reservation state of a device.
type Status string

const (
	StatusFree     Status = "free"
	StatusReserved Status = "reserved"
)

// Mode is the scanning phase of a reserved device.
type Mode string

const (
	ModeIdle     Mode = ""
	ModeCheckIn  Mode = "check-in"
	ModeCheckOut Mode = "check-out"
)

// Action is a control command pushed to the edge device.
type Action string

const (
	ActionStartCheckIn  Action = "start-check-in"
	ActionEndCheckIn    Action = "end-check-in"
	ActionStartCheckOut Action = "start-check-out"
	ActionEndCheckOut   Action = "end-check-out"
)

var (
	ErrNotFound         = apperr.NotFound("Device not found")
	ErrDuplicate        = apperr.Conflict("Device with this ID already exists.")
	ErrAlreadyReserved  = apperr.Conflict("Device is already reserved")
	ErrGroupMismatch    = apperr.Conflict("Group does not belong to the provided subject")
	ErrGroupTaken       = apperr.Conflict("This group is already assigned to another device")
	ErrStale            = apperr.Conflict("device was modified concurrently")
	ErrNotReserved      = apperr.InvalidState("Device must be reserved before starting a session")
	ErrCheckInActive    = apperr.InvalidState("Check-in session is already active on this device")
	ErrSessionActive    = apperr.InvalidState("Device is already in an active session")
	ErrNoCheckIn        = apperr.InvalidState("No active check-in session on this device")
	ErrNoCheckOut       = apperr.InvalidState("No active check-out session found on this device")
	ErrAlreadyFree      = apperr.InvalidState("Device is already free")
	ErrInvalidSession   = apperr.Invalid("session type must be lecture or lab")
	ErrMissingReference = apperr.Invalid("subject and group are required")
)

// Device is one physical edge unit. Version increases on every transition and
// is the compare-and-swap token for Store.
type Device struct {
	ID               string                 `json:"id"`
	DeviceID         string                 `json:"device_id"`
	Location         string                 `json:"location"`
	Status           Status                 `json:"status"`
	CurrentSubjectID string                 `json:"current_subject_id,omitempty"`
	CurrentGroupID   string                 `json:"current_group_id,omitempty"`
	SessionMode      Mode                   `json:"session_mode,omitempty"`
	SessionType      attendance.SessionType `json:"session_type,omitempty"`
	Version          int64                  `json:"version"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Reserved reports whether the device holds a reservation.
func (d Device) Reserved() bool { return d.Status == StatusReserved }

// Binding is the session a reserved device is bound to.
type Binding struct {
	SubjectID   string                 `json:"subject_id"`
	GroupID     string                 `json:"group_id"`
	SessionType attendance.SessionType `json:"session_type"`
}

// Binding returns the device's current session binding.
func (d Device) Binding() Binding {
	return Binding{SubjectID: d.CurrentSubjectID, GroupID: d.CurrentGroupID, SessionType: d.SessionType}
}

func (d Device) release() Device {
	d.Status = StatusFree
	d.CurrentSubjectID = ""
	d.CurrentGroupID = ""
	d.SessionMode = ModeIdle
	d.SessionType = ""
	return d
}

// The transitions below are pure: they validate the current state and return
// the next one without touching storage.

func reserve(d Device, b Binding) (Device, error) {
	if d.Reserved() {
		return d, ErrAlreadyReserved
	}
	d.Status = StatusReserved
	d.CurrentSubjectID = b.SubjectID
	d.CurrentGroupID = b.GroupID
	d.SessionType = b.SessionType
	d.SessionMode = ModeIdle
	return d, nil
}

func startCheckIn(d Device) (Device, error) {
	if !d.Reserved() {
		return d, ErrNotReserved
	}
	if d.SessionMode == ModeCheckIn {
		return d, ErrCheckInActive
	}
	d.SessionMode = ModeCheckIn
	return d, nil
}

func endCheckIn(d Device) (Device, error) {
	if !d.Reserved() || d.SessionMode != ModeCheckIn {
		return d, ErrNoCheckIn
	}
	d.SessionMode = ModeIdle
	return d, nil
}

func startCheckOut(d Device) (Device, error) {
	if !d.Reserved() {
		return d, ErrNotReserved
	}
	if d.SessionMode != ModeIdle {
		return d, ErrSessionActive
	}
	d.SessionMode = ModeCheckOut
	return d, nil
}

// endCheckOut closes the session; check-out is always the last phase, so the
// device is released.
func endCheckOut(d Device) (Device, error) {
	if !d.Reserved() || d.SessionMode != ModeCheckOut {
		return d, ErrNoCheckOut
	}
	return d.release(), nil
}

func cancel(d Device) (Device, error) {
	if !d.Reserved() {
		return d, ErrAlreadyFree
	}
	return d.release(), nil
}
