package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-backend/internal/requestdata"
	"github.com/vitalloop/vitalloop-backend/internal/services"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

type ArtifactHandler struct {
	artifacts services.ArtifactService
	quotas    services.RefreshQuotaService
}

func NewArtifactHandler(artifacts services.ArtifactService, quotas services.RefreshQuotaService) *ArtifactHandler {
	return &ArtifactHandler{artifacts: artifacts, quotas: quotas}
}

// Refresh regenerates one artifact for the calling user, spending one unit of
// the weekly refresh quota.
func (ah *ArtifactHandler) Refresh(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	artifactType, ok := types.ParseArtifactType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown artifact type"})
		return
	}

	now := time.Now()
	if err := ah.quotas.Consume(c.Request.Context(), rd.UserID, now); err != nil {
		respondServiceError(c, err)
		return
	}
	artifact, err := ah.artifacts.GenerateForUser(c.Request.Context(), rd.UserID, artifactType, now)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	remaining, err := ah.quotas.Remaining(c.Request.Context(), rd.UserID, now)
	if err != nil {
		remaining = -1
	}
	c.JSON(http.StatusOK, gin.H{
		"artifact":            artifact,
		"refreshes_remaining": remaining,
	})
}

func (ah *ArtifactHandler) ListWeek(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	artifacts, err := ah.artifacts.ListForWeek(c.Request.Context(), rd.UserID, time.Now())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}
