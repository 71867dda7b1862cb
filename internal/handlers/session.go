package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vitalloop/vitalloop-backend/internal/requestdata"
	"github.com/vitalloop/vitalloop-backend/internal/services"
)

type SessionHandler struct {
	diagnostics services.DiagnosticService
}

func NewSessionHandler(diagnostics services.DiagnosticService) *SessionHandler {
	return &SessionHandler{diagnostics: diagnostics}
}

func (sh *SessionHandler) Start(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var req struct {
		Complaint string `json:"complaint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := sh.diagnostics.StartSession(c.Request.Context(), rd.UserID, req.Complaint)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id":         result.Session.ID,
		"status":             result.Session.Status,
		"question":           result.Question,
		"current_confidence": result.CurrentConfidence,
	})
}

func (sh *SessionHandler) Answer(c *gin.Context) {
	sessionID, ok := sh.ownedSession(c)
	if !ok {
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := sh.diagnostics.Advance(c.Request.Context(), sessionID, req.Answer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             result.Session.Status,
		"question":           result.Question,
		"analysis_ready":     result.AnalysisReady,
		"current_confidence": result.CurrentConfidence,
	})
}

func (sh *SessionHandler) AskMore(c *gin.Context) {
	sessionID, ok := sh.ownedSession(c)
	if !ok {
		return
	}
	var req struct {
		Answer            string `json:"answer"`
		CurrentConfidence *int   `json:"current_confidence"`
		TargetConfidence  *int   `json:"target_confidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := sh.diagnostics.AskMore(c.Request.Context(), sessionID, services.AskMoreInput{
		Answer:            req.Answer,
		CurrentConfidence: req.CurrentConfidence,
		TargetConfidence:  req.TargetConfidence,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"question":            result.Question,
		"questions_remaining": result.QuestionsRemaining,
		"target_achieved":     result.TargetAchieved,
		"should_finalize":     result.ShouldFinalize,
		"message":             result.Message,
		"current_confidence":  result.CurrentConfidence,
		"target_confidence":   result.TargetConfidence,
	})
}

func (sh *SessionHandler) Complete(c *gin.Context) {
	sessionID, ok := sh.ownedSession(c)
	if !ok {
		return
	}
	session, err := sh.diagnostics.Complete(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (sh *SessionHandler) Abandon(c *gin.Context) {
	sessionID, ok := sh.ownedSession(c)
	if !ok {
		return
	}
	session, err := sh.diagnostics.Abandon(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": session.Status})
}

func (sh *SessionHandler) Get(c *gin.Context) {
	sessionID, ok := sh.ownedSession(c)
	if !ok {
		return
	}
	session, err := sh.diagnostics.Get(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ownedSession parses the path id and confirms the session belongs to the
// authenticated user.
func (sh *SessionHandler) ownedSession(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return uuid.Nil, false
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	session, err := sh.diagnostics.Get(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return uuid.Nil, false
	}
	if session.UserID != rd.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return uuid.Nil, false
	}
	return sessionID, true
}
