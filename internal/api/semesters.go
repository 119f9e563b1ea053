package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusattend/internal/semester"
)

func (s *Server) listSemesters(c *gin.Context) {
	sems, err := s.deps.Semesters.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if sems == nil {
		sems = []semester.Semester{}
	}
	c.JSON(http.StatusOK, gin.H{"semesters": sems})
}

func (s *Server) currentSemester(c *gin.Context) {
	sem, err := s.deps.Semesters.Current(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"semester":     sem,
		"total_weeks":  sem.TotalWeeks(),
		"current_week": semester.WeekNumber(time.Now(), sem),
	})
}

func (s *Server) createSemester(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		AcademicYear string `json:"academic_year"`
		StartDate    string `json:"start_date" binding:"required"`
		EndDate      string `json:"end_date" binding:"required"`
		OffWeeks     []int  `json:"off_weeks"`
		IsCurrent    bool   `json:"is_current"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name, start_date and end_date are required")
		return
	}
	start, err1 := time.Parse(time.DateOnly, req.StartDate)
	end, err2 := time.Parse(time.DateOnly, req.EndDate)
	if err1 != nil || err2 != nil {
		badRequest(c, "dates must be YYYY-MM-DD")
		return
	}

	sem := semester.Semester{
		Name:         req.Name,
		AcademicYear: req.AcademicYear,
		StartDate:    start,
		EndDate:      end,
		OffWeeks:     req.OffWeeks,
		IsCurrent:    req.IsCurrent,
	}
	if err := sem.Validate(); err != nil {
		s.fail(c, err)
		return
	}
	created, err := s.deps.Semesters.Create(c.Request.Context(), sem)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"semester": created, "total_weeks": created.TotalWeeks()})
}

func (s *Server) setCurrentSemester(c *gin.Context) {
	if err := s.deps.Semesters.SetCurrent(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Semester set as current"})
}
