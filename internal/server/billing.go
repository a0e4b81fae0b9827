package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
)

func (s *Server) Checkout(c *gin.Context) {
	var req billingdomain.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.billingSvc.Checkout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Upgrade(c *gin.Context) {
	var req billingdomain.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.billingSvc.Upgrade(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Downgrade(c *gin.Context) {
	var req billingdomain.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	scheduled, err := s.billingSvc.ScheduleDowngrade(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduled)
}

func (s *Server) Cancel(c *gin.Context) {
	if err := s.billingSvc.Cancel(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Reactivate(c *gin.Context) {
	if err := s.billingSvc.Reactivate(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeleteAccount(c *gin.Context) {
	if err := s.billingSvc.CancelImmediately(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) PreviewUpgrade(c *gin.Context) {
	resp, err := s.billingSvc.PreviewUpgrade(c.Request.Context(), c.Query("plan_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) PreviewDowngrade(c *gin.Context) {
	resp, err := s.billingSvc.PreviewDowngrade(c.Request.Context(), c.Query("plan_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Portal(c *gin.Context) {
	resp, err := s.billingSvc.Portal(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Summary(c *gin.Context) {
	summary, err := s.billingSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
