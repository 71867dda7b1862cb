package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/scheduler"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

type JobHandler struct {
	dispatcher scheduler.Dispatcher
	runs       repos.BatchJobRunRepo
}

func NewJobHandler(dispatcher scheduler.Dispatcher, runs repos.BatchJobRunRepo) *JobHandler {
	return &JobHandler{dispatcher: dispatcher, runs: runs}
}

// Trigger kicks off a full batch run for one artifact type, same as the cron
// trigger would. Operator endpoint, not part of the user-facing surface.
func (jh *JobHandler) Trigger(c *gin.Context) {
	jobType, ok := types.ParseArtifactType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown artifact type"})
		return
	}
	if err := jh.dispatcher.Dispatch(c.Request.Context(), jobType); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_type": jobType, "dispatched": true})
}

func (jh *JobHandler) Recent(c *gin.Context) {
	var jobType types.ArtifactType
	if raw := c.Query("type"); raw != "" {
		parsed, ok := types.ParseArtifactType(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown artifact type"})
			return
		}
		jobType = parsed
	}
	runs, err := jh.runs.ListRecent(c.Request.Context(), nil, jobType, 20)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
