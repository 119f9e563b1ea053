package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/directory"
)

var sessionDay = time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)

// ── helpers ──

func setupReview(recs ...Record) (*Service, *mockLedger) {
	ledger := newMockLedger(recs...)
	dir := &mockDirectory{
		groups: map[string]directory.Group{
			"g1": {
				ID: "g1", SubjectID: "cs101", Name: "G1",
				Students: []string{"s1", "s2", "s3"},
				Staff: []directory.Assignment{
					{StaffID: "lect", Role: directory.RoleLecturer},
					{StaffID: "assist-as-lect", Role: directory.RoleLecturer},
					{StaffID: "ta", Role: directory.RoleAssistantLecturer},
				},
			},
		},
		staff: map[string]directory.Staff{
			"u-lect":   {ID: "lect", UserID: "u-lect", Position: directory.PositionLecturer},
			"u-assist": {ID: "assist-as-lect", UserID: "u-assist", Position: directory.PositionAssistantLecturer},
			"u-ta":     {ID: "ta", UserID: "u-ta", Position: directory.PositionAssistantLecturer},
			"u-other":  {ID: "other", UserID: "u-other", Position: directory.PositionLecturer},
		},
		students: map[string]directory.Student{
			"s1": {ID: "s1", StudentID: "1001", FirstName: "Ali", LastName: "Hassan"},
			"s2": {ID: "s2", StudentID: "1002", FirstName: "Mona", LastName: "Adel"},
			"s3": {ID: "s3", StudentID: "1003", FirstName: "Omar", LastName: "Said"},
		},
	}
	return NewService(ledger, dir, zap.NewNop()), ledger
}

func record(id, student string, st SessionType, status Status) Record {
	return Record{
		ID:       id,
		Key:      Key{StudentID: student, SubjectID: "cs101", GroupID: "g1", SessionDate: sessionDay, WeekNumber: 10, SessionType: st},
		Status:   status,
		Approved: Unreviewed,
		MarkedBy: MarkedByRFID,
	}
}

func TestCanReview(t *testing.T) {
	lect := directory.Staff{Position: directory.PositionLecturer}
	assist := directory.Staff{Position: directory.PositionAssistantLecturer}
	asLecturer := directory.Assignment{Role: directory.RoleLecturer}
	asAssistant := directory.Assignment{Role: directory.RoleAssistantLecturer}

	cases := []struct {
		name  string
		staff directory.Staff
		a     directory.Assignment
		st    SessionType
		want  bool
	}{
		{"lecturer on lecture", lect, asLecturer, Lecture, true},
		{"assistant position assigned as lecturer on lecture", assist, asLecturer, Lecture, false},
		{"assistant role on lecture", assist, asAssistant, Lecture, false},
		{"lecturer on lab", lect, asLecturer, Lab, true},
		{"assistant on lab", assist, asAssistant, Lab, true},
		{"assistant position assigned as lecturer on lab", assist, asLecturer, Lab, true},
		{"unknown session type", lect, asLecturer, SessionType("seminar"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanReview(tc.staff, tc.a, tc.st); got != tc.want {
				t.Errorf("CanReview = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUpdateStatus_AssistantLecturerCannotOverrideLecture(t *testing.T) {
	svc, _ := setupReview(
		record("lec", "s1", Lecture, StatusPending),
		record("lab", "s1", Lab, StatusPending),
	)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, "u-assist", "lec", StatusAttended); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("expected ErrRoleNotAllowed, got %v", err)
	}

	rec, err := svc.UpdateStatus(ctx, "u-assist", "lab", StatusAttended)
	if err != nil {
		t.Fatalf("lab override should succeed: %v", err)
	}
	if rec.Status != StatusAttended || rec.Approved != Approved {
		t.Errorf("got %s/%s", rec.Status, rec.Approved)
	}
}

func TestUpdateStatus_NotAssigned(t *testing.T) {
	svc, _ := setupReview(record("r1", "s1", Lab, StatusPending))
	if _, err := svc.UpdateStatus(context.Background(), "u-other", "r1", StatusAttended); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestUpdateStatus_ApprovalTransitions(t *testing.T) {
	svc, ledger := setupReview(
		record("a", "s1", Lecture, StatusCheckedInPending),
		record("b", "s2", Lecture, StatusPending),
		record("c", "s3", Lecture, StatusPending),
	)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, "u-lect", "a", StatusAbsent); err != nil {
		t.Fatal(err)
	}
	if got := ledger.records["a"].Approved; got != Rejected {
		t.Errorf("absent from checked-in-pending: approved = %s", got)
	}

	if _, err := svc.UpdateStatus(ctx, "u-lect", "b", StatusCheckedIn); err != nil {
		t.Fatal(err)
	}
	if got := ledger.records["b"].Approved; got != Unreviewed {
		t.Errorf("non-terminal override: approved = %s", got)
	}

	if _, err := svc.UpdateStatus(ctx, "u-lect", "c", Status("late")); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateStatus_NonPendingKeepsApproval(t *testing.T) {
	r := record("r", "s1", Lecture, StatusAttended)
	r.Approved = Approved
	svc, ledger := setupReview(r)

	if _, err := svc.UpdateStatus(context.Background(), "u-lect", "r", StatusAbsent); err != nil {
		t.Fatal(err)
	}
	got := ledger.records["r"]
	if got.Status != StatusAbsent || got.Approved != Approved {
		t.Errorf("got %s/%s", got.Status, got.Approved)
	}
}

func TestUpdateStatus_MissingRecord(t *testing.T) {
	svc, _ := setupReview()
	if _, err := svc.UpdateStatus(context.Background(), "u-lect", "nope", StatusAttended); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptAndRejectPending(t *testing.T) {
	reviewed := record("done", "s3", Lab, StatusPending)
	reviewed.Approved = Rejected
	svc, ledger := setupReview(
		record("p1", "s1", Lab, StatusPending),
		record("p2", "s2", Lab, StatusPending),
		record("in", "s3", Lab, StatusCheckedIn),
		record("lec", "s1", Lecture, StatusPending),
		reviewed,
	)
	ctx := context.Background()

	recs, err := svc.AcceptPending(ctx, "u-ta", "g1", sessionDay, Lab)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("accepted %d records, want 2", len(recs))
	}
	for _, id := range []string{"p1", "p2"} {
		if r := ledger.records[id]; r.Status != StatusAttended || r.Approved != Approved {
			t.Errorf("%s: %s/%s", id, r.Status, r.Approved)
		}
	}
	if ledger.records["in"].Status != StatusCheckedIn {
		t.Error("non-pending record touched")
	}
	if ledger.records["lec"].Status != StatusPending {
		t.Error("other session type touched")
	}
	if ledger.records["done"].Approved != Rejected {
		t.Error("already reviewed record touched")
	}

	if _, err := svc.RejectPending(ctx, "u-ta", "g1", sessionDay, Lecture); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("assistant must not review lectures, got %v", err)
	}
	recs, err = svc.RejectPending(ctx, "u-lect", "g1", sessionDay, Lecture)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || ledger.records["lec"].Status != StatusAbsent || ledger.records["lec"].Approved != Rejected {
		t.Errorf("reject failed: %+v", ledger.records["lec"])
	}
}

func TestWeekly(t *testing.T) {
	in := time.Date(2024, 11, 10, 9, 0, 0, 0, time.UTC)
	r := record("r1", "s2", Lecture, StatusAttended)
	r.CheckInTime = &in
	svc, _ := setupReview(r)

	view, err := svc.Weekly(context.Background(), "u-lect", "g1", 10, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if view.Total != 3 || view.TotalPages != 2 || len(view.Students) != 2 {
		t.Fatalf("unexpected pagination: %+v", view)
	}
	if view.Students[0].Lecture != StatusAbsent || view.Students[0].Lab != StatusAbsent || len(view.Students[0].Sessions) != 0 {
		t.Errorf("student without record should be absent, got %+v", view.Students[0])
	}
	got := view.Students[1]
	if got.Lecture != StatusAttended || len(got.Sessions) != 1 || got.Sessions[0].CheckInTime == nil {
		t.Errorf("unexpected entry %+v", got)
	}

	last, err := svc.Weekly(context.Background(), "u-lect", "g1", 10, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last.Students) != 1 || last.Students[0].FullName != "Omar Said" {
		t.Errorf("unexpected last page %+v", last.Students)
	}

	empty, err := svc.Weekly(context.Background(), "u-lect", "g1", 10, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.Students) != 0 {
		t.Errorf("page past the end should be empty")
	}
}

func TestWeekly_LectureAndLabKeptApart(t *testing.T) {
	lecture := record("r1", "s2", Lecture, StatusAttended)
	lab := record("r2", "s2", Lab, StatusAbsent)
	lab.Key.SessionDate = sessionDay.AddDate(0, 0, 2)
	svc, _ := setupReview(lecture, lab)

	view, err := svc.Weekly(context.Background(), "u-ta", "g1", 10, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	var s2 WeeklyEntry
	for _, e := range view.Students {
		if e.StudentID == "s2" {
			s2 = e
		}
	}
	if s2.Lecture != StatusAttended || s2.Lab != StatusAbsent {
		t.Fatalf("lecture=%s lab=%s", s2.Lecture, s2.Lab)
	}
	if len(s2.Sessions) != 2 || s2.Sessions[0].AttendanceID != "r1" || s2.Sessions[1].AttendanceID != "r2" {
		t.Fatalf("sessions %+v", s2.Sessions)
	}
}

func TestWeekly_RequiresAssignment(t *testing.T) {
	svc, _ := setupReview(record("r1", "s2", Lecture, StatusAttended))

	if _, err := svc.Weekly(context.Background(), "u-other", "g1", 10, 1, 10); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("unassigned staff: got %v", err)
	}
	if _, err := svc.Weekly(context.Background(), "u-nobody", "g1", 10, 1, 10); !errors.Is(err, directory.ErrStaffNotFound) {
		t.Fatalf("unknown staff: got %v", err)
	}
}
