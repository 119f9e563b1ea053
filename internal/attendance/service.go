package attendance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/directory"
)

var (
	ErrNotAssigned    = apperr.Unauthorized("You are not assigned to this group")
	ErrRoleNotAllowed = apperr.Unauthorized("You are not authorized to update attendance for this session type")
)

// ReviewStore is the part of the ledger the review workflow writes.
type ReviewStore interface {
	Get(ctx context.Context, id string) (Record, error)
	SetStatus(ctx context.Context, id string, prev, next Status, approval Approval) (Record, error)
	ReviewPending(ctx context.Context, groupID string, day time.Time, sessionType SessionType, next Status, approval Approval) ([]Record, error)
	WeekRecords(ctx context.Context, groupID, subjectID string, week int) ([]Record, error)
}

// Directory resolves groups, staff and students for authorization and views.
type Directory interface {
	Group(ctx context.Context, id string) (directory.Group, error)
	StaffByUserID(ctx context.Context, userID string) (directory.Staff, error)
	Students(ctx context.Context, ids []string) ([]directory.Student, error)
}

// Service implements the staff review workflow over the ledger.
type Service struct {
	store ReviewStore
	dir   Directory
	log   *zap.Logger
}

// NewService creates a review service.
func NewService(store ReviewStore, dir Directory, log *zap.Logger) *Service {
	return &Service{store: store, dir: dir, log: log}
}

// CanReview reports whether a staff member with the given group assignment may
// change records of sessionType. Lectures need a lecturer, both by assignment
// and by position; labs accept either assignment role.
func CanReview(staff directory.Staff, a directory.Assignment, sessionType SessionType) bool {
	switch sessionType {
	case Lecture:
		return a.Role == directory.RoleLecturer && staff.Position == directory.PositionLecturer
	case Lab:
		return a.Role == directory.RoleLecturer || a.Role == directory.RoleAssistantLecturer
	default:
		return false
	}
}

func (s *Service) authorize(ctx context.Context, staffUserID, groupID string, sessionType SessionType) (directory.Group, error) {
	staff, err := s.dir.StaffByUserID(ctx, staffUserID)
	if err != nil {
		return directory.Group{}, err
	}
	group, err := s.dir.Group(ctx, groupID)
	if err != nil {
		return directory.Group{}, err
	}
	assignment, ok := group.AssignmentOf(staff.ID)
	if !ok {
		return directory.Group{}, ErrNotAssigned
	}
	if !CanReview(staff, assignment, sessionType) {
		return directory.Group{}, ErrRoleNotAllowed
	}
	return group, nil
}

// UpdateStatus overrides the status of one record on behalf of a staff user.
func (s *Service) UpdateStatus(ctx context.Context, staffUserID, recordID string, next Status) (Record, error) {
	if !next.Valid() {
		return Record{}, ErrInvalidStatus
	}
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	if _, err := s.authorize(ctx, staffUserID, rec.Key.GroupID, rec.Key.SessionType); err != nil {
		return Record{}, err
	}

	approval := ApprovalAfter(rec.Status, rec.Approved, next)
	updated, err := s.store.SetStatus(ctx, rec.ID, rec.Status, next, approval)
	if err != nil {
		return Record{}, err
	}
	s.log.Info("attendance status overridden",
		zap.String("attendance_id", rec.ID),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(next)),
		zap.String("approved", string(approval)),
		zap.String("staff_user_id", staffUserID),
	)
	return updated, nil
}

// AcceptPending approves every pending, unreviewed record of a group session.
func (s *Service) AcceptPending(ctx context.Context, staffUserID, groupID string, day time.Time, sessionType SessionType) ([]Record, error) {
	return s.reviewPending(ctx, staffUserID, groupID, day, sessionType, StatusAttended, Approved)
}

// RejectPending rejects every pending, unreviewed record of a group session.
func (s *Service) RejectPending(ctx context.Context, staffUserID, groupID string, day time.Time, sessionType SessionType) ([]Record, error) {
	return s.reviewPending(ctx, staffUserID, groupID, day, sessionType, StatusAbsent, Rejected)
}

func (s *Service) reviewPending(ctx context.Context, staffUserID, groupID string, day time.Time, sessionType SessionType, next Status, approval Approval) ([]Record, error) {
	if !sessionType.Valid() {
		return nil, apperr.Invalid("session type must be lecture or lab")
	}
	if _, err := s.authorize(ctx, staffUserID, groupID, sessionType); err != nil {
		return nil, err
	}
	recs, err := s.store.ReviewPending(ctx, groupID, day, sessionType, next, approval)
	if err != nil {
		return nil, err
	}
	s.log.Info("pending attendance reviewed",
		zap.String("group_id", groupID),
		zap.Time("session_date", day),
		zap.String("session_type", string(sessionType)),
		zap.String("approved", string(approval)),
		zap.Int("count", len(recs)),
	)
	return recs, nil
}

// WeeklySession is one recorded session of a student in the week.
type WeeklySession struct {
	AttendanceID string      `json:"attendance_id"`
	SessionType  SessionType `json:"session_type"`
	SessionDate  time.Time   `json:"session_date"`
	Status       Status      `json:"status"`
	Approved     Approval    `json:"approved"`
	CheckInTime  *time.Time  `json:"check_in_time"`
	CheckOutTime *time.Time  `json:"check_out_time"`
}

// WeeklyEntry is one student row of the weekly view. Lecture and Lab hold the
// status of the student's latest session of that type, absent when there is none.
type WeeklyEntry struct {
	StudentID string          `json:"id"`
	StudentNo string          `json:"student_id"`
	FullName  string          `json:"full_name"`
	Lecture   Status          `json:"lecture"`
	Lab       Status          `json:"lab"`
	Sessions  []WeeklySession `json:"sessions"`
}

// WeeklyView lists a page of a group's students with their status for a week.
type WeeklyView struct {
	GroupID    string        `json:"group_id"`
	GroupName  string        `json:"group_name"`
	SubjectID  string        `json:"subject_id"`
	Week       int           `json:"week"`
	Students   []WeeklyEntry `json:"students"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}

// Weekly builds the weekly view for a staff user assigned to the group.
func (s *Service) Weekly(ctx context.Context, staffUserID, groupID string, week, page, limit int) (WeeklyView, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	staff, err := s.dir.StaffByUserID(ctx, staffUserID)
	if err != nil {
		return WeeklyView{}, err
	}
	group, err := s.dir.Group(ctx, groupID)
	if err != nil {
		return WeeklyView{}, err
	}
	if _, ok := group.AssignmentOf(staff.ID); !ok {
		return WeeklyView{}, ErrNotAssigned
	}

	total := len(group.Students)
	view := WeeklyView{
		GroupID:    group.ID,
		GroupName:  group.Name,
		SubjectID:  group.SubjectID,
		Week:       week,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
		Students:   []WeeklyEntry{},
	}

	start := (page - 1) * limit
	if start >= total {
		return view, nil
	}
	end := min(start+limit, total)

	students, err := s.dir.Students(ctx, group.Students[start:end])
	if err != nil {
		return WeeklyView{}, err
	}
	recs, err := s.store.WeekRecords(ctx, group.ID, group.SubjectID, week)
	if err != nil {
		return WeeklyView{}, err
	}
	// the ledger returns records ordered by day, so later sessions win
	byStudent := make(map[string][]Record, len(recs))
	for _, rec := range recs {
		byStudent[rec.Key.StudentID] = append(byStudent[rec.Key.StudentID], rec)
	}

	for _, st := range students {
		entry := WeeklyEntry{
			StudentID: st.ID,
			StudentNo: st.StudentID,
			FullName:  st.FullName(),
			Lecture:   StatusAbsent,
			Lab:       StatusAbsent,
			Sessions:  []WeeklySession{},
		}
		for _, rec := range byStudent[st.ID] {
			switch rec.Key.SessionType {
			case Lecture:
				entry.Lecture = rec.Status
			case Lab:
				entry.Lab = rec.Status
			}
			entry.Sessions = append(entry.Sessions, WeeklySession{
				AttendanceID: rec.ID,
				SessionType:  rec.Key.SessionType,
				SessionDate:  rec.Key.SessionDate,
				Status:       rec.Status,
				Approved:     rec.Approved,
				CheckInTime:  rec.CheckInTime,
				CheckOutTime: rec.CheckOutTime,
			})
		}
		view.Students = append(view.Students, entry)
	}
	return view, nil
}
