package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campusattend/internal/attendance"
	"campusattend/internal/device"
)

func (s *Server) createDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
		Location string `json:"location" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "device_id and location are required")
		return
	}
	d, err := s.deps.Registry.Create(c.Request.Context(), strings.TrimSpace(req.DeviceID), strings.TrimSpace(req.Location))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": d})
}

func (s *Server) listDevices(c *gin.Context) {
	f := device.Filter{Location: c.Query("location"), Status: device.Status(c.Query("status"))}
	if f.Status != "" && f.Status != device.StatusFree && f.Status != device.StatusReserved {
		badRequest(c, "status must be free or reserved")
		return
	}
	devices, err := s.deps.Registry.List(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

func (s *Server) getDevice(c *gin.Context) {
	d, err := s.deps.Registry.Get(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": d})
}

func (s *Server) reserveDevice(c *gin.Context) {
	var req struct {
		SubjectID   string `json:"subject_id" binding:"required"`
		GroupID     string `json:"group_id" binding:"required"`
		SessionType string `json:"session_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "subject_id, group_id and session_type are required")
		return
	}
	d, err := s.deps.Sessions.Reserve(c.Request.Context(), c.Param("deviceId"), device.Binding{
		SubjectID:   req.SubjectID,
		GroupID:     req.GroupID,
		SessionType: attendance.SessionType(strings.ToLower(req.SessionType)),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device reserved successfully", "device": d})
}

func (s *Server) transition(op func(DeviceSessions, context.Context, string) (device.Device, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := op(s.deps.Sessions, c.Request.Context(), c.Param("deviceId"))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"device": d})
	}
}
