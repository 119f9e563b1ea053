package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"campusattend/internal/attendance"
	"campusattend/internal/device"
	"campusattend/internal/directory"
	"campusattend/internal/notify"
	"campusattend/internal/queue"
	"campusattend/internal/semester"
)

// ── fixtures ──

var scanTime = time.Date(2024, 11, 10, 10, 0, 0, 0, time.UTC)

func fall2024() semester.Semester {
	return semester.Semester{
		ID:        "sem-1",
		Name:      "Fall 2024",
		StartDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		IsCurrent: true,
	}
}

func checkInDevice() device.Device {
	return device.Device{
		DeviceID:         "dev-1",
		Status:           device.StatusReserved,
		CurrentSubjectID: "cs101",
		CurrentGroupID:   "g1",
		SessionMode:      device.ModeCheckIn,
		SessionType:      attendance.Lecture,
	}
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		students: []directory.Student{
			{ID: "s1", UserID: "u1", StudentID: "1001", RFIDTag: "TAG1", FirstName: "Ali", LastName: "Hassan",
				Groups: []directory.GroupRef{{ID: "g1", SubjectID: "cs101"}}},
			{ID: "s2", UserID: "u2", StudentID: "1002", RFIDTag: "TAG2", FirstName: "Mona", LastName: "Adel",
				Groups: []directory.GroupRef{{ID: "g2", SubjectID: "cs101"}}},
			{ID: "s3", UserID: "u3", StudentID: "1003", RFIDTag: "TAG3", FirstName: "Omar", LastName: "Said"},
		},
		groups: map[string]directory.Group{
			"g1": {ID: "g1", SubjectID: "cs101", Students: []string{"s1"}},
			"g2": {ID: "g2", SubjectID: "cs101", Students: []string{"s2"}},
			"m1": {ID: "m1", SubjectID: "ma201"},
		},
	}
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// ── fakes ──

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]device.Device
}

func newFakeDevices(ds ...device.Device) *fakeDevices {
	f := &fakeDevices{devices: map[string]device.Device{}}
	for _, d := range ds {
		f.devices[d.DeviceID] = d
	}
	return f
}

func (f *fakeDevices) Get(_ context.Context, id string) (device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return device.Device{}, device.ErrNotFound
	}
	return d, nil
}

func (f *fakeDevices) set(d device.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.DeviceID] = d
}

type fakeDirectory struct {
	students []directory.Student
	groups   map[string]directory.Group
}

func (f *fakeDirectory) FindStudent(_ context.Context, key directory.LookupKey) (directory.Student, error) {
	for _, s := range f.students {
		switch k := key.(type) {
		case directory.ByID:
			if s.StudentID == string(k) {
				return s, nil
			}
		case directory.ByRFID:
			if s.RFIDTag == string(k) {
				return s, nil
			}
		}
	}
	return directory.Student{}, directory.ErrStudentNotFound
}

func (f *fakeDirectory) Group(_ context.Context, id string) (directory.Group, error) {
	if g, ok := f.groups[id]; ok {
		return g, nil
	}
	return directory.Group{}, directory.ErrGroupNotFound
}

// recordingQueue captures jobs instead of delivering them.
type recordingQueue struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (q *recordingQueue) Publish(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *recordingQueue) messages() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Message(nil), q.msgs...)
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[attendance.Key]attendance.Record
	seq     int
	failing error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[attendance.Key]attendance.Record{}}
}

func (l *fakeLedger) UpsertCheckIn(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing != nil {
		return attendance.Record{}, l.failing
	}
	if cur, ok := l.records[rec.Key]; ok {
		cur.Status = rec.Status
		cur.CheckInTime = rec.CheckInTime
		cur.MarkedBy = rec.MarkedBy
		l.records[rec.Key] = cur
		return cur, nil
	}
	l.seq++
	rec.ID = fmt.Sprintf("rec-%d", l.seq)
	rec.Approved = attendance.Unreviewed
	l.records[rec.Key] = rec
	return rec, nil
}

func (l *fakeLedger) FindForCheckOut(_ context.Context, studentID, subjectID string, day time.Time, week int, st attendance.SessionType) (attendance.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, r := range l.records {
		if k.StudentID == studentID && k.SubjectID == subjectID && k.SessionDate.Equal(day) && k.WeekNumber == week && k.SessionType == st {
			return r, nil
		}
	}
	return attendance.Record{}, attendance.ErrNotFound
}

func (l *fakeLedger) CloseCheckOut(_ context.Context, id string, prev, next attendance.Status, at time.Time, markedBy attendance.MarkedBy) (attendance.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, r := range l.records {
		if r.ID != id {
			continue
		}
		if r.Status != prev {
			return attendance.Record{}, attendance.ErrStale
		}
		r.Status = next
		r.CheckOutTime = &at
		r.MarkedBy = markedBy
		l.records[k] = r
		return r, nil
	}
	return attendance.Record{}, attendance.ErrStale
}

func (l *fakeLedger) byStudent(studentID string) []attendance.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []attendance.Record
	for k, r := range l.records {
		if k.StudentID == studentID {
			out = append(out, r)
		}
	}
	return out
}

type fakeSemesters struct {
	sem semester.Semester
	err error
}

func (f fakeSemesters) Current(context.Context) (semester.Semester, error) {
	return f.sem, f.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeNotifier) Create(_ context.Context, n notify.Notification) (notify.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return n, nil
}

type publishedEvent struct {
	room, event string
	data        map[string]any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeEvents) Publish(_ context.Context, room, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _ := data.(map[string]any)
	f.events = append(f.events, publishedEvent{room, event, m})
	return nil
}
