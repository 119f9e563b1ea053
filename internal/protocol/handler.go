package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/bus"
	"campusattend/internal/device"
	"campusattend/internal/directory"
	"campusattend/internal/metrics"
	"campusattend/internal/queue"
)

// Devices reads device state for the fast path.
type Devices interface {
	Get(ctx context.Context, deviceID string) (device.Device, error)
}

// Directory resolves students and groups.
type Directory interface {
	FindStudent(ctx context.Context, key directory.LookupKey) (directory.Student, error)
	Group(ctx context.Context, id string) (directory.Group, error)
}

// Enqueuer accepts reconcile jobs.
type Enqueuer interface {
	Publish(ctx context.Context, msg queue.Message) error
}

const (
	enqueueTimeout    = 5 * time.Second
	ackPublishTimeout = 2 * time.Second
)

// Handler is the synchronous half of the protocol: it validates a scan
// against the device session, answers the device and queues a Job.
type Handler struct {
	devices  Devices
	dir      Directory
	bus      bus.Bus
	jobs     Enqueuer
	budget   time.Duration
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler creates a handler. budget bounds the work before the ack.
func NewHandler(devices Devices, dir Directory, b bus.Bus, jobs Enqueuer, budget time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		devices:  devices,
		dir:      dir,
		bus:      b,
		jobs:     jobs,
		budget:   budget,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Register subscribes the handler to the request topics.
func (h *Handler) Register() error {
	if err := h.bus.Subscribe(bus.TopicCheckInRequest, h.HandleCheckIn); err != nil {
		return err
	}
	return h.bus.Subscribe(bus.TopicCheckOutRequest, h.HandleCheckOut)
}

// HandleCheckIn processes one check-in request. It returns an error only when
// the reconcile job could not be queued. The scan then stays unacknowledged
// and the broker sends it again once the client session reconnects.
func (h *Handler) HandleCheckIn(ctx context.Context, _ string, payload []byte) error {
	received := h.now()
	req, ok := h.decode(payload, "check-in")
	if !ok {
		return nil
	}
	respond := h.responder(bus.CheckInResponse(req.DeviceID), "check-in", received)

	fast, cancel := context.WithTimeout(ctx, h.budget)
	defer cancel()

	if err := h.validate.Struct(req); err != nil {
		respond(fast, failure(validationMessage(err)))
		return nil
	}

	d, err := h.devices.Get(fast, req.DeviceID)
	if err != nil {
		respond(fast, failure(h.reason(err, msgDeviceNotFound, req)))
		return nil
	}
	if !d.Reserved() || d.SessionMode != device.ModeCheckIn {
		respond(fast, failure(msgNotReadyCheckIn))
		return nil
	}

	key, _ := directory.KeyFor(req.StudentID, req.RFIDTag)
	student, err := h.dir.FindStudent(fast, key)
	if err != nil {
		respond(fast, failure(h.reason(err, fmt.Sprintf("Student not found for %s", key.Value()), req)))
		return nil
	}
	if err := directory.CheckRFID(student, req.StudentID, req.RFIDTag); err != nil {
		respond(fast, failure(apperr.Message(err)))
		return nil
	}

	group, err := h.dir.Group(fast, d.CurrentGroupID)
	if err != nil {
		respond(fast, failure(h.reason(err, msgGroupMismatch, req)))
		return nil
	}
	if group.SubjectID != d.CurrentSubjectID {
		respond(fast, failure(msgGroupMismatch))
		return nil
	}

	inGroup := group.HasStudent(student.ID)
	ack := Ack{Success: true, Message: msgPendingCheckIn, StudentID: student.StudentID, FullName: student.FullName()}
	if inGroup {
		ack.Message = msgCheckedIn
	}
	ack.Status = string(attendance.ProvisionalStatus(inGroup))
	respond(fast, ack)

	ref := refOf(student)
	return h.enqueue(ctx, JobCheckIn, Job{
		DeviceID:   d.DeviceID,
		Binding:    d.Binding(),
		MarkedBy:   req.markedBy(),
		ReceivedAt: received,
		Student:    &ref,
		InGroup:    inGroup,
	})
}

// HandleCheckOut processes one check-out request. The ack does not reveal the
// outcome, which depends on the stored check-in.
func (h *Handler) HandleCheckOut(ctx context.Context, _ string, payload []byte) error {
	received := h.now()
	req, ok := h.decode(payload, "check-out")
	if !ok {
		return nil
	}
	respond := h.responder(bus.CheckOutResponse(req.DeviceID), "check-out", received)

	fast, cancel := context.WithTimeout(ctx, h.budget)
	defer cancel()

	d, err := h.devices.Get(fast, req.DeviceID)
	if err != nil {
		respond(fast, failure(h.reason(err, msgDeviceNotFound, req)))
		return nil
	}
	if !d.Reserved() || d.SessionMode != device.ModeCheckOut {
		respond(fast, failure(msgNotReadyCheckOut))
		return nil
	}
	if err := h.validate.Struct(req); err != nil {
		respond(fast, failure(validationMessage(err)))
		return nil
	}

	respond(fast, Ack{Success: true, Message: msgCheckOutReceived, Status: statusCheckOutReceived})

	return h.enqueue(ctx, JobCheckOut, Job{
		DeviceID:      d.DeviceID,
		Binding:       d.Binding(),
		MarkedBy:      req.markedBy(),
		ReceivedAt:    received,
		StudentNumber: req.StudentID,
		RFIDTag:       req.RFIDTag,
	})
}

// decode parses the payload. Without a device id there is no topic to answer
// on, so such messages are logged and dropped.
func (h *Handler) decode(payload []byte, direction string) (Request, bool) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Warn("undecodable request dropped", zap.String("direction", direction), zap.Error(err))
		return Request{}, false
	}
	if req.DeviceID == "" {
		h.log.Warn("request without device_id dropped", zap.String("direction", direction))
		return Request{}, false
	}
	return req, true
}

func (h *Handler) responder(topic, direction string, received time.Time) func(context.Context, Ack) {
	return func(ctx context.Context, ack Ack) {
		outcome := "ok"
		if !ack.Success {
			outcome = "rejected"
			h.log.Warn("request rejected",
				zap.String("direction", direction), zap.String("topic", topic), zap.String("reason", ack.Message))
		}
		// the ack still goes out when the budget is already spent
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackPublishTimeout)
		defer cancel()
		if err := h.bus.Publish(ctx, topic, ack); err != nil {
			outcome = "publish_failed"
			h.log.Error("ack publish failed", zap.String("topic", topic), zap.Error(err))
		}
		metrics.AcksPublished.WithLabelValues(direction, outcome).Inc()
		metrics.AckLatency.WithLabelValues(direction).Observe(time.Since(received).Seconds())
	}
}

// reason maps a lookup error to the device-facing message. Lookups that fail
// for reasons other than absence are reported as a temporary fault.
func (h *Handler) reason(err error, notFound string, req Request) string {
	if apperr.IsKind(err, apperr.KindNotFound) {
		return notFound
	}
	h.log.Error("fast path lookup failed",
		zap.String("device_id", req.DeviceID), zap.String("student_id", req.StudentID), zap.Error(err))
	return msgTemporarilyDegraded
}

func (h *Handler) enqueue(ctx context.Context, kind string, job Job) error {
	msg, err := job.message(kind)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := h.jobs.Publish(ctx, msg); err != nil {
		metrics.EnqueueFailures.Inc()
		h.log.Error("enqueue reconcile job failed",
			zap.String("type", kind), zap.String("device_id", job.DeviceID), zap.Error(err))
		return err
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required_without" {
				return msgMissingIdentifier
			}
		}
	}
	return msgInvalidRequest
}
