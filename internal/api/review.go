package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"campusattend/internal/attendance"
	"campusattend/internal/semester"
)

func (s *Server) updateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	rec, err := s.deps.Review.UpdateStatus(c.Request.Context(), caller(c), c.Param("id"), attendance.Status(req.Status))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rec})
}

func (s *Server) reviewPending(accept bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SessionDate string `json:"session_date" binding:"required"`
			SessionType string `json:"session_type" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "session_date and session_type are required")
			return
		}
		day, err := time.Parse(time.DateOnly, req.SessionDate)
		if err != nil {
			badRequest(c, "session_date must be YYYY-MM-DD")
			return
		}
		st := attendance.SessionType(req.SessionType)
		if !st.Valid() {
			badRequest(c, "session_type must be lecture or lab")
			return
		}

		review := s.deps.Review.RejectPending
		if accept {
			review = s.deps.Review.AcceptPending
		}
		recs, err := review(c.Request.Context(), caller(c), c.Param("groupId"), day, st)
		if err != nil {
			s.fail(c, err)
			return
		}
		if recs == nil {
			recs = []attendance.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"updated": len(recs), "attendance": recs})
	}
}

func (s *Server) weekly(c *gin.Context) {
	ctx := c.Request.Context()
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 10)

	week := queryInt(c, "week", 0)
	if week <= 0 {
		sem, err := s.deps.Semesters.Current(ctx)
		if err != nil {
			s.fail(c, err)
			return
		}
		week = semester.WeekNumber(time.Now(), sem)
	}

	view, err := s.deps.Review.Weekly(ctx, caller(c), c.Param("groupId"), week, page, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) myNotifications(c *gin.Context) {
	ns, err := s.deps.Notifications.ForRecipient(c.Request.Context(), caller(c), queryInt(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
