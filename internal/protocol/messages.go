// Package protocol implements the device check-in and check-out exchange.
// Handler answers each scan within the ack budget and queues a Job; the
// Reconciler applies queued jobs to the attendance ledger.
package protocol

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"campusattend/internal/attendance"
	"campusattend/internal/bus"
	"campusattend/internal/device"
	"campusattend/internal/directory"
	"campusattend/internal/queue"
)

// Request is a scan reported by a device. One of StudentID and RFIDTag is required.
type Request struct {
	StudentID string              `json:"student_id" validate:"required_without=RFIDTag"`
	RFIDTag   string              `json:"rfid_tag" validate:"required_without=StudentID"`
	DeviceID  string              `json:"device_id" validate:"required"`
	MarkedBy  attendance.MarkedBy `json:"marked_by" validate:"omitempty,oneof=rfid face_recognition manual"`
}

func (r Request) markedBy() attendance.MarkedBy {
	if r.MarkedBy == "" {
		return attendance.MarkedByRFID
	}
	return r.MarkedBy
}

// Ack is the response published to the device.
type Ack struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	StudentID string `json:"student_id,omitempty"`
	Status    string `json:"status,omitempty"`
	FullName  string `json:"fullName,omitempty"`
}

func failure(msg string) Ack { return Ack{Success: false, Message: msg} }

// Ack messages.
const (
	msgDeviceNotFound      = "Device not found"
	msgNotReadyCheckIn     = "Device is not ready for check-in"
	msgNotReadyCheckOut    = "Device is not ready for check-out."
	msgMissingIdentifier   = "Missing student_id or rfid_tag."
	msgInvalidRequest      = "Invalid request payload."
	msgGroupMismatch       = "Group mismatch or not found."
	msgCheckedIn           = "Checked in"
	msgPendingCheckIn      = "Pending check-in"
	msgCheckOutReceived    = "Check-out received."
	msgTemporarilyDegraded = "Service temporarily unavailable, please retry."

	statusCheckOutReceived = "check-out-received"
)

// Job types on the reconcile queue.
const (
	JobCheckIn  = "attendance.check-in"
	JobCheckOut = "attendance.check-out"
)

// StudentRef is the part of a resolved student a check-in job needs.
type StudentRef struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	StudentID string               `json:"student_id"`
	FullName  string               `json:"full_name"`
	Groups    []directory.GroupRef `json:"groups,omitempty"`
}

func refOf(s directory.Student) StudentRef {
	return StudentRef{ID: s.ID, UserID: s.UserID, StudentID: s.StudentID, FullName: s.FullName(), Groups: s.Groups}
}

func (r StudentRef) student() directory.Student {
	return directory.Student{ID: r.ID, UserID: r.UserID, StudentID: r.StudentID, Groups: r.Groups}
}

// Job is deferred ledger work. It snapshots the device binding and receive
// time so a redelivered job writes the same record.
type Job struct {
	DeviceID   string              `json:"device_id"`
	Binding    device.Binding      `json:"binding"`
	MarkedBy   attendance.MarkedBy `json:"marked_by"`
	ReceivedAt time.Time           `json:"received_at"`

	// check-in: resolved in the fast path
	Student *StudentRef `json:"student,omitempty"`
	InGroup bool        `json:"in_group,omitempty"`

	// check-out: resolved by the reconciler
	StudentNumber string `json:"student_number,omitempty"`
	RFIDTag       string `json:"rfid_tag,omitempty"`
}

func (j Job) message(kind string) (queue.Message, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return queue.Message{}, err
	}
	return queue.Message{Type: kind, Key: j.DeviceID, Body: body}, nil
}

// Control publishes session mode changes to devices.
type Control struct {
	Bus bus.Bus
}

// Control sends {action} on the device's control topic.
func (c Control) Control(ctx context.Context, deviceID string, action device.Action) error {
	return c.Bus.Publish(ctx, bus.Control(deviceID), struct {
		Action device.Action `json:"action"`
	}{action})
}

// sessionLabel renders a session type for titles and messages.
func sessionLabel(st attendance.SessionType) string {
	s := string(st)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
