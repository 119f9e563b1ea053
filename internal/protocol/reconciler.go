package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/directory"
	"campusattend/internal/metrics"
	"campusattend/internal/notify"
	"campusattend/internal/queue"
	"campusattend/internal/realtime"
	"campusattend/internal/semester"
)

// Ledger is the attendance storage the reconciler writes.
type Ledger interface {
	UpsertCheckIn(ctx context.Context, rec attendance.Record) (attendance.Record, error)
	FindForCheckOut(ctx context.Context, studentID, subjectID string, day time.Time, week int, sessionType attendance.SessionType) (attendance.Record, error)
	CloseCheckOut(ctx context.Context, id string, prev, next attendance.Status, at time.Time, markedBy attendance.MarkedBy) (attendance.Record, error)
}

// Semesters supplies the active semester.
type Semesters interface {
	Current(ctx context.Context) (semester.Semester, error)
}

// Students resolves students by lookup key.
type Students interface {
	FindStudent(ctx context.Context, key directory.LookupKey) (directory.Student, error)
}

// Notifier stores user notifications.
type Notifier interface {
	Create(ctx context.Context, n notify.Notification) (notify.Notification, error)
}

// Reconciler is the asynchronous half of the protocol. Jobs of one device
// arrive in order, and each job is safe to apply more than once.
type Reconciler struct {
	ledger    Ledger
	semesters Semesters
	students  Students
	notifier  Notifier
	events    realtime.Publisher
	log       *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(ledger Ledger, semesters Semesters, students Students, notifier Notifier, events realtime.Publisher, log *zap.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, semesters: semesters, students: students, notifier: notifier, events: events, log: log}
}

// Handle applies one queued job. Only transient failures are returned so the
// queue redelivers; everything else is logged and dropped.
func (r *Reconciler) Handle(ctx context.Context, msg queue.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		r.log.Error("undecodable reconcile job", zap.String("type", msg.Type), zap.Error(err))
		return nil
	}

	var (
		direction string
		err       error
	)
	switch msg.Type {
	case JobCheckIn:
		direction = "check-in"
		err = r.checkIn(ctx, job)
	case JobCheckOut:
		direction = "check-out"
		err = r.checkOut(ctx, job)
	default:
		r.log.Warn("unknown reconcile job type", zap.String("type", msg.Type))
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errDropped):
		metrics.Reconciled.WithLabelValues(direction, "dropped").Inc()
		return nil
	case retryable(err):
		metrics.Reconciled.WithLabelValues(direction, "failed").Inc()
		r.log.Error("reconcile failed", zap.String("direction", direction),
			zap.String("device_id", job.DeviceID), zap.Error(err))
		return err
	default:
		metrics.Reconciled.WithLabelValues(direction, "failed").Inc()
		r.log.Error("reconcile rejected", zap.String("direction", direction),
			zap.String("device_id", job.DeviceID), zap.Error(err))
		return nil
	}
}

var errDropped = errors.New("nothing to reconcile")

func retryable(err error) bool {
	k := apperr.KindOf(err)
	return k == apperr.KindTransient || k == ""
}

// week resolves the session day and academic week of at.
func (r *Reconciler) week(ctx context.Context, at time.Time) (time.Time, int, error) {
	sem, err := r.semesters.Current(ctx)
	if err != nil {
		return time.Time{}, 0, err
	}
	day := semester.Day(at)
	return day, semester.WeekNumber(day, sem), nil
}

func (r *Reconciler) checkIn(ctx context.Context, job Job) error {
	if job.Student == nil {
		return apperr.Invalid("check-in job without student")
	}
	b := job.Binding

	groupID := b.GroupID
	if !job.InGroup {
		if g, ok := job.Student.student().GroupForSubject(b.SubjectID); ok {
			groupID = g
		}
	}

	day, week, err := r.week(ctx, job.ReceivedAt)
	if err != nil {
		return err
	}

	at := job.ReceivedAt
	rec, err := r.ledger.UpsertCheckIn(ctx, attendance.Record{
		Key: attendance.Key{
			StudentID:   job.Student.ID,
			SubjectID:   b.SubjectID,
			GroupID:     groupID,
			SessionDate: day,
			WeekNumber:  week,
			SessionType: b.SessionType,
		},
		Status:      attendance.ProvisionalStatus(job.InGroup),
		CheckInTime: &at,
		DeviceID:    job.DeviceID,
		MarkedBy:    job.MarkedBy,
	})
	if err != nil {
		return apperr.Transient("upsert check-in", err)
	}
	metrics.Reconciled.WithLabelValues("check-in", "written").Inc()
	r.log.Info("check-in recorded",
		zap.String("record_id", rec.ID), zap.String("student_id", job.Student.StudentID),
		zap.String("group_id", groupID), zap.String("status", string(rec.Status)), zap.Int("week", week))

	r.emit(ctx, b.GroupID, realtime.EventCheckIn, recordEvent(rec, *job.Student, "checkInTime", at))

	msg := "You have been marked as pending."
	if rec.Status == attendance.StatusCheckedIn {
		msg = "You have successfully checked in."
	}
	r.notify(ctx, notify.Attendance(job.Student.UserID, sessionLabel(b.SessionType)+" Check-in", msg, rec.ID))
	return nil
}

func (r *Reconciler) checkOut(ctx context.Context, job Job) error {
	key, err := directory.KeyFor(job.StudentNumber, job.RFIDTag)
	if err != nil {
		return err
	}
	student, err := r.students.FindStudent(ctx, key)
	if err != nil {
		return err
	}
	if err := directory.CheckRFID(student, job.StudentNumber, job.RFIDTag); err != nil {
		return err
	}

	b := job.Binding
	day, week, err := r.week(ctx, job.ReceivedAt)
	if err != nil {
		return err
	}

	cur, err := r.ledger.FindForCheckOut(ctx, student.ID, b.SubjectID, day, week, b.SessionType)
	if errors.Is(err, attendance.ErrNotFound) {
		r.log.Debug("check-out without check-in", zap.String("student_id", student.StudentID))
		return errDropped
	}
	if err != nil {
		return apperr.Transient("find record for check-out", err)
	}
	next, ok := attendance.CheckOutStatus(cur.Status)
	if !ok {
		r.log.Debug("record not open for check-out",
			zap.String("record_id", cur.ID), zap.String("status", string(cur.Status)))
		return errDropped
	}

	rec, err := r.ledger.CloseCheckOut(ctx, cur.ID, cur.Status, next, job.ReceivedAt, job.MarkedBy)
	if errors.Is(err, attendance.ErrStale) {
		return errDropped
	}
	if err != nil {
		return apperr.Transient("close check-out", err)
	}
	metrics.Reconciled.WithLabelValues("check-out", "written").Inc()
	r.log.Info("check-out recorded",
		zap.String("record_id", rec.ID), zap.String("student_id", student.StudentID), zap.String("status", string(rec.Status)))

	ref := refOf(student)
	r.emit(ctx, b.GroupID, realtime.EventCheckOut, recordEvent(rec, ref, "checkOutTime", job.ReceivedAt))

	msg := "You have checked out, but your attendance is pending review."
	if rec.Status == attendance.StatusAttended {
		msg = fmt.Sprintf("You have successfully checked out from the %s session.", b.SessionType)
	}
	title := sessionLabel(b.SessionType) + " Check-out Status"
	r.notify(ctx, notify.Attendance(student.UserID, title, msg, rec.ID))
	return nil
}

// recordEvent is the dashboard payload for an updated record.
func recordEvent(rec attendance.Record, s StudentRef, timeField string, at time.Time) map[string]any {
	return map[string]any{
		"attendanceId": rec.ID,
		"student": map[string]string{
			"id":         s.ID,
			"fullName":   s.FullName,
			"student_id": s.StudentID,
		},
		"status":      rec.Status,
		timeField:     at,
		"sessionDate": rec.Key.SessionDate.Format(time.DateOnly),
	}
}

func (r *Reconciler) emit(ctx context.Context, groupID, event string, data any) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, realtime.SessionRoom(groupID), event, data); err != nil {
		r.log.Warn("realtime publish failed", zap.String("event", event), zap.Error(err))
	}
}

func (r *Reconciler) notify(ctx context.Context, n notify.Notification) {
	if r.notifier == nil || n.Recipient == "" {
		return
	}
	if _, err := r.notifier.Create(ctx, n); err != nil {
		r.log.Warn("notification failed", zap.String("recipient", n.Recipient), zap.Error(err))
	}
}
