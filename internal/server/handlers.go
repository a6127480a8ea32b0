package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/educlopez/airlume/internal/models"
	"github.com/educlopez/airlume/internal/service/credential"
	"github.com/educlopez/airlume/internal/service/queue"
	"github.com/educlopez/airlume/pkg/util"
)

type putCredentialRequest struct {
	Secret string `json:"secret" binding:"required"`
}

type createGenerationRequest struct {
	OwnerID  string `json:"owner_id" binding:"required"`
	Body     string `json:"body" binding:"required"`
	ImageRef string `json:"image_ref"`
	ImageAlt string `json:"image_alt"`
}

type updateGenerationRequest struct {
	Body string `json:"body" binding:"required"`
}

type scheduleRequest struct {
	Platform    string     `json:"platform" binding:"required"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// statusFor maps repository errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, credential.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrPublishInFlight),
		errors.Is(err, queue.ErrAlreadyPublished),
		errors.Is(err, queue.ErrGenerationSent):
		return http.StatusConflict
	case errors.Is(err, queue.ErrInvalidRequest), errors.Is(err, credential.ErrEmptySecret):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleDispatch(c *gin.Context) {
	summary, err := s.Dispatcher.RunTick(c.Request.Context())
	if err != nil {
		s.Logger.Error("Dispatch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Dispatch completed",
		"count":   summary.Claimed,
		"summary": summary,
	})
}

func (s *Server) handleGetPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.Publishers.Platforms()})
}

func (s *Server) handleGetStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	ctx := c.Request.Context()
	stats, err := s.Monitoring.GetPlatformStats(ctx, days)
	if err != nil {
		s.respondError(c, "Failed to get platform stats", err)
		return
	}
	recentErrors, err := s.Monitoring.GetRecentErrors(ctx, 20)
	if err != nil {
		s.respondError(c, "Failed to get recent errors", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"platforms":     stats,
		"recent_errors": recentErrors,
	})
}

func (s *Server) handleGetCredential(c *gin.Context) {
	owner, platform := c.Param("owner"), util.NormalizePlatform(c.Param("platform"))

	cred, err := s.Credentials.Describe(c.Request.Context(), owner, platform)
	if err != nil {
		s.respondError(c, "Failed to get credential", err)
		return
	}

	c.JSON(http.StatusOK, cred)
}

func (s *Server) handlePutCredential(c *gin.Context) {
	owner, platform := c.Param("owner"), util.NormalizePlatform(c.Param("platform"))

	var req putCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret is required"})
		return
	}

	if err := s.Credentials.Put(c.Request.Context(), owner, platform, req.Secret); err != nil {
		s.respondError(c, "Failed to store credential", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Credential stored",
		"hint":    util.MaskSecret(req.Secret),
	})
}

func (s *Server) handleDeleteCredential(c *gin.Context) {
	owner, platform := c.Param("owner"), util.NormalizePlatform(c.Param("platform"))

	if err := s.Credentials.Delete(c.Request.Context(), owner, platform); err != nil {
		s.respondError(c, "Failed to delete credential", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateGeneration(c *gin.Context) {
	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and body are required"})
		return
	}

	g := &models.Generation{
		OwnerID:  req.OwnerID,
		Body:     req.Body,
		ImageRef: strings.TrimSpace(req.ImageRef),
		ImageAlt: req.ImageAlt,
	}
	if err := s.Store.CreateGeneration(c.Request.Context(), g); err != nil {
		s.respondError(c, "Failed to create generation", err)
		return
	}

	c.JSON(http.StatusCreated, g)
}

func (s *Server) handleGetGeneration(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	g, err := s.Store.GetGeneration(ctx, id)
	if err != nil {
		s.respondError(c, "Failed to get generation", err)
		return
	}
	g.Requests, err = s.Store.ListByGeneration(ctx, id)
	if err != nil {
		s.respondError(c, "Failed to list publish requests", err)
		return
	}

	c.JSON(http.StatusOK, g)
}

func (s *Server) handleUpdateGeneration(c *gin.Context) {
	var req updateGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is required"})
		return
	}

	if err := s.Store.UpdateGenerationBody(c.Request.Context(), c.Param("id"), req.Body); err != nil {
		s.respondError(c, "Failed to update generation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Generation updated"})
}

func (s *Server) handleSchedule(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "platform is required"})
		return
	}

	at := time.Now().UTC()
	if req.ScheduledAt != nil {
		at = req.ScheduledAt.UTC()
	}

	row, err := s.Store.Schedule(ctx, id, util.NormalizePlatform(req.Platform), at)
	if err != nil {
		s.respondError(c, "Failed to schedule publish request", err)
		return
	}

	status, err := s.Projector.Project(ctx, id)
	if err != nil {
		s.respondError(c, "Failed to update generation status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request":           row,
		"generation_status": status,
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := s.Store.Cancel(ctx, id, util.NormalizePlatform(c.Param("platform"))); err != nil {
		s.respondError(c, "Failed to cancel publish request", err)
		return
	}

	status, err := s.Projector.Project(ctx, id)
	if err != nil {
		s.respondError(c, "Failed to update generation status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"generation_status": status})
}
