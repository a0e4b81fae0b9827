package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/paperstreamhq/paperstream/internal/usage/domain"
)

func (s *Server) UsageCheck(c *gin.Context) {
	var req usagedomain.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	decision, err := s.usageSvc.CheckAndReserve(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) UsageCommit(c *gin.Context) {
	var req usagedomain.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.usageSvc.Commit(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
