// Package api is the admin HTTP surface: device sessions, attendance review,
// semesters and the dashboard websocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/device"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/notify"
	"campusattend/internal/realtime"
	"campusattend/internal/semester"
)

// DeviceSessions drives the device state machine.
type DeviceSessions interface {
	Reserve(ctx context.Context, deviceID string, b device.Binding) (device.Device, error)
	StartCheckIn(ctx context.Context, deviceID string) (device.Device, error)
	EndCheckIn(ctx context.Context, deviceID string) (device.Device, error)
	StartCheckOut(ctx context.Context, deviceID string) (device.Device, error)
	EndCheckOut(ctx context.Context, deviceID string) (device.Device, error)
	Cancel(ctx context.Context, deviceID string) (device.Device, error)
}

// DeviceRegistry creates and reads devices.
type DeviceRegistry interface {
	Create(ctx context.Context, deviceID, location string) (device.Device, error)
	Get(ctx context.Context, deviceID string) (device.Device, error)
	List(ctx context.Context, f device.Filter) ([]device.Device, error)
}

// Review is the staff review workflow.
type Review interface {
	UpdateStatus(ctx context.Context, staffUserID, recordID string, next attendance.Status) (attendance.Record, error)
	AcceptPending(ctx context.Context, staffUserID, groupID string, day time.Time, st attendance.SessionType) ([]attendance.Record, error)
	RejectPending(ctx context.Context, staffUserID, groupID string, day time.Time, st attendance.SessionType) ([]attendance.Record, error)
	Weekly(ctx context.Context, staffUserID, groupID string, week, page, limit int) (attendance.WeeklyView, error)
}

// Semesters manages the academic calendar.
type Semesters interface {
	Current(ctx context.Context) (semester.Semester, error)
	List(ctx context.Context) ([]semester.Semester, error)
	Create(ctx context.Context, s semester.Semester) (semester.Semester, error)
	SetCurrent(ctx context.Context, id string) error
}

// Notifications lists a user's notifications.
type Notifications interface {
	ForRecipient(ctx context.Context, recipient string, limit int) ([]notify.Notification, error)
}

// Sessions serves dashboard websocket subscriptions.
type Sessions interface {
	Serve(w http.ResponseWriter, r *http.Request, room string)
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Sessions      DeviceSessions
	Registry      DeviceRegistry
	Review        Review
	Semesters     Semesters
	Notifications Notifications
	Hub           Sessions
	// Health reports named dependency checks for /healthz.
	Health map[string]func(ctx context.Context) bool
}

// Options configures auth and rate limiting.
type Options struct {
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
}

// Server holds the handlers.
type Server struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

// NewServer creates a server.
func NewServer(deps Deps, opts Options, log *zap.Logger) *Server {
	return &Server{deps: deps, opts: opts, log: log}
}

// Handler builds the gin engine.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(s.log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1", auth.Bearer(s.opts.SigningKey, s.opts.Issuer))
	if s.opts.RateLimitPerMin > 0 {
		v1.Use(httpmiddleware.NewTokenBucket(s.opts.RateLimitPerMin, s.opts.RateLimitPerMin).GinMiddleware())
	}
	staff := v1.Group("", auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin))
	admin := v1.Group("", auth.RequireRoles(auth.RoleAdmin))

	admin.POST("/devices", s.createDevice)
	staff.GET("/devices", s.listDevices)
	staff.GET("/devices/:deviceId", s.getDevice)
	staff.POST("/devices/:deviceId/reserve", s.reserveDevice)
	staff.POST("/devices/:deviceId/check-in/start", s.transition((DeviceSessions).StartCheckIn))
	staff.POST("/devices/:deviceId/check-in/end", s.transition((DeviceSessions).EndCheckIn))
	staff.POST("/devices/:deviceId/check-out/start", s.transition((DeviceSessions).StartCheckOut))
	staff.POST("/devices/:deviceId/check-out/end", s.transition((DeviceSessions).EndCheckOut))
	staff.POST("/devices/:deviceId/cancel", s.transition((DeviceSessions).Cancel))

	staff.PATCH("/attendance/:id/status", s.updateStatus)
	staff.POST("/groups/:groupId/attendance/accept", s.reviewPending(true))
	staff.POST("/groups/:groupId/attendance/reject", s.reviewPending(false))
	staff.GET("/groups/:groupId/attendance/weekly", s.weekly)
	staff.GET("/sessions/:groupId/ws", s.sessionSocket)

	v1.GET("/semesters", s.listSemesters)
	v1.GET("/semesters/current", s.currentSemester)
	admin.POST("/semesters", s.createSemester)
	admin.POST("/semesters/:id/current", s.setCurrentSemester)

	v1.GET("/notifications", s.myNotifications)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.deps.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (s *Server) sessionSocket(c *gin.Context) {
	s.deps.Hub.Serve(c.Writer, c.Request, realtime.SessionRoom(c.Param("groupId")))
}

// fail writes err with its mapped status. Unclassified errors are logged and
// reported generically.
func (s *Server) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func caller(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.Subject
}
