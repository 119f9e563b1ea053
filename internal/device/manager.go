package device

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/directory"
	"campusattend/internal/metrics"
	"campusattend/internal/semester"
)

// Store is the versioned device storage the manager drives.
type Store interface {
	Get(ctx context.Context, deviceID string) (Device, error)
	ReservedForGroup(ctx context.Context, groupID string) (Device, bool, error)
	CompareAndSwap(ctx context.Context, next Device) (Device, error)
}

// Catalog resolves the subject and group a reservation binds to.
type Catalog interface {
	Subject(ctx context.Context, id string) (directory.Subject, error)
	Group(ctx context.Context, id string) (directory.Group, error)
}

// Controller pushes a control action to an edge device.
type Controller interface {
	Control(ctx context.Context, deviceID string, action Action) error
}

// CloseHook runs after a session ends with check-out. closed is the device as
// it was just before release, so its binding is still populated.
type CloseHook func(ctx context.Context, closed Device)

// Option configures a Manager.
type Option func(*Manager)

// WithCloseHook registers a hook for completed sessions.
func WithCloseHook(h CloseHook) Option {
	return func(m *Manager) { m.onClose = h }
}

// WithMaxAttempts bounds compare-and-swap retries per operation.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// Manager is the only writer of device reservation and session state.
type Manager struct {
	store       Store
	catalog     Catalog
	ctl         Controller
	log         *zap.Logger
	onClose     CloseHook
	maxAttempts int
}

// NewManager creates a device session manager.
func NewManager(store Store, catalog Catalog, ctl Controller, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{store: store, catalog: catalog, ctl: ctl, log: log, maxAttempts: 3}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reserve binds a free device to a group of a subject for one session type.
func (m *Manager) Reserve(ctx context.Context, deviceID string, b Binding) (Device, error) {
	d, err := m.reserve(ctx, deviceID, b)
	m.observe("reserve", deviceID, err)
	return d, err
}

func (m *Manager) reserve(ctx context.Context, deviceID string, b Binding) (Device, error) {
	if b.SubjectID == "" || b.GroupID == "" {
		return Device{}, ErrMissingReference
	}
	if !b.SessionType.Valid() {
		return Device{}, ErrInvalidSession
	}

	cur, err := m.store.Get(ctx, deviceID)
	if err != nil {
		return Device{}, err
	}
	if cur.Reserved() {
		return Device{}, ErrAlreadyReserved
	}
	if _, err := m.catalog.Subject(ctx, b.SubjectID); err != nil {
		return Device{}, err
	}
	group, err := m.catalog.Group(ctx, b.GroupID)
	if err != nil {
		return Device{}, err
	}
	if group.SubjectID != b.SubjectID {
		return Device{}, ErrGroupMismatch
	}
	holder, taken, err := m.store.ReservedForGroup(ctx, b.GroupID)
	if err != nil {
		return Device{}, err
	}
	if taken && holder.DeviceID != deviceID {
		return Device{}, ErrGroupTaken
	}

	_, next, err := m.apply(ctx, deviceID, func(d Device) (Device, error) { return reserve(d, b) })
	return next, err
}

// StartCheckIn switches a reserved device into check-in mode.
func (m *Manager) StartCheckIn(ctx context.Context, deviceID string) (Device, error) {
	return m.transition(ctx, deviceID, ActionStartCheckIn, startCheckIn)
}

// EndCheckIn leaves check-in mode; the reservation stays.
func (m *Manager) EndCheckIn(ctx context.Context, deviceID string) (Device, error) {
	return m.transition(ctx, deviceID, ActionEndCheckIn, endCheckIn)
}

// StartCheckOut switches an idle reserved device into check-out mode.
func (m *Manager) StartCheckOut(ctx context.Context, deviceID string) (Device, error) {
	return m.transition(ctx, deviceID, ActionStartCheckOut, startCheckOut)
}

// EndCheckOut ends the session and frees the device.
func (m *Manager) EndCheckOut(ctx context.Context, deviceID string) (Device, error) {
	prev, next, err := m.apply(ctx, deviceID, endCheckOut)
	m.observe(string(ActionEndCheckOut), deviceID, err)
	if err != nil {
		return Device{}, err
	}
	m.control(ctx, deviceID, ActionEndCheckOut)
	if m.onClose != nil {
		m.onClose(ctx, prev)
	}
	return next, nil
}

// Cancel releases a reservation in any session mode. No control message is
// sent; the device returns to idle on its next rejected scan.
func (m *Manager) Cancel(ctx context.Context, deviceID string) (Device, error) {
	_, next, err := m.apply(ctx, deviceID, cancel)
	m.observe("cancel", deviceID, err)
	return next, err
}

func (m *Manager) transition(ctx context.Context, deviceID string, action Action, step func(Device) (Device, error)) (Device, error) {
	_, next, err := m.apply(ctx, deviceID, step)
	m.observe(string(action), deviceID, err)
	if err != nil {
		return Device{}, err
	}
	m.control(ctx, deviceID, action)
	return next, nil
}

// apply reads the device, runs step and writes the result with a version
// check, retrying on concurrent modification.
func (m *Manager) apply(ctx context.Context, deviceID string, step func(Device) (Device, error)) (prev, next Device, err error) {
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		cur, err := m.store.Get(ctx, deviceID)
		if err != nil {
			return Device{}, Device{}, err
		}
		proposed, err := step(cur)
		if err != nil {
			return cur, Device{}, err
		}
		saved, err := m.store.CompareAndSwap(ctx, proposed)
		if errors.Is(err, ErrStale) {
			m.log.Debug("device changed during transition, retrying",
				zap.String("device_id", deviceID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return cur, Device{}, err
		}
		return cur, saved, nil
	}
	return Device{}, Device{}, ErrStale
}

func (m *Manager) control(ctx context.Context, deviceID string, action Action) {
	if m.ctl == nil {
		return
	}
	if err := m.ctl.Control(ctx, deviceID, action); err != nil {
		m.log.Error("control publish failed",
			zap.String("device_id", deviceID), zap.String("action", string(action)), zap.Error(err))
	}
}

func (m *Manager) observe(op, deviceID string, err error) {
	if err != nil {
		metrics.DeviceTransitions.WithLabelValues(op, "rejected").Inc()
		m.log.Info("device transition rejected",
			zap.String("operation", op), zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	metrics.DeviceTransitions.WithLabelValues(op, "ok").Inc()
	m.log.Info("device transition", zap.String("operation", op), zap.String("device_id", deviceID))
}

// Sweeper closes out records a finished session left without a check-out.
type Sweeper interface {
	MarkUnclosedAbsent(ctx context.Context, deviceID, subjectID string, day time.Time, sessionType attendance.SessionType) (int64, error)
}

// AutoAbsentHook returns a CloseHook that marks records of the closed session
// still awaiting check-out as absent. now supplies the session day.
func AutoAbsentHook(sweeper Sweeper, now func() time.Time, log *zap.Logger) CloseHook {
	return func(ctx context.Context, closed Device) {
		n, err := sweeper.MarkUnclosedAbsent(ctx, closed.DeviceID, closed.CurrentSubjectID, semester.Day(now()), closed.SessionType)
		if err != nil {
			log.Error("auto-absent sweep failed", zap.String("device_id", closed.DeviceID), zap.Error(err))
			return
		}
		log.Info("auto-absent sweep", zap.String("device_id", closed.DeviceID), zap.Int64("records", n))
	}
}
