package attendance

import (
	"context"
	"sort"
	"time"

	"campusattend/internal/directory"
)

// ── Mock ReviewStore ──

type mockLedger struct {
	records map[string]Record
}

func newMockLedger(recs ...Record) *mockLedger {
	m := &mockLedger{records: make(map[string]Record)}
	for _, r := range recs {
		m.records[r.ID] = r
	}
	return m
}

func (m *mockLedger) Get(_ context.Context, id string) (Record, error) {
	if r, ok := m.records[id]; ok {
		return r, nil
	}
	return Record{}, ErrNotFound
}

func (m *mockLedger) SetStatus(_ context.Context, id string, prev, next Status, approval Approval) (Record, error) {
	r, ok := m.records[id]
	if !ok || r.Status != prev {
		return Record{}, ErrStale
	}
	r.Status = next
	r.Approved = approval
	m.records[id] = r
	return r, nil
}

func (m *mockLedger) ReviewPending(_ context.Context, groupID string, day time.Time, st SessionType, next Status, approval Approval) ([]Record, error) {
	var out []Record
	for id, r := range m.records {
		if r.Key.GroupID == groupID && r.Key.SessionDate.Equal(day) && r.Key.SessionType == st &&
			r.Status == StatusPending && r.Approved == Unreviewed {
			r.Status = next
			r.Approved = approval
			m.records[id] = r
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockLedger) WeekRecords(_ context.Context, groupID, subjectID string, week int) ([]Record, error) {
	var out []Record
	for _, r := range m.records {
		if r.Key.GroupID == groupID && r.Key.SubjectID == subjectID && r.Key.WeekNumber == week {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.SessionDate.Before(out[j].Key.SessionDate) })
	return out, nil
}

// ── Mock Directory ──

type mockDirectory struct {
	groups   map[string]directory.Group
	staff    map[string]directory.Staff // keyed by user id
	students map[string]directory.Student
}

func (m *mockDirectory) Group(_ context.Context, id string) (directory.Group, error) {
	if g, ok := m.groups[id]; ok {
		return g, nil
	}
	return directory.Group{}, directory.ErrGroupNotFound
}

func (m *mockDirectory) StaffByUserID(_ context.Context, userID string) (directory.Staff, error) {
	if s, ok := m.staff[userID]; ok {
		return s, nil
	}
	return directory.Staff{}, directory.ErrStaffNotFound
}

func (m *mockDirectory) Students(_ context.Context, ids []string) ([]directory.Student, error) {
	var out []directory.Student
	for _, id := range ids {
		if s, ok := m.students[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
