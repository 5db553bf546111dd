package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trading-core/pkg/db"
)

type createRiskLimitRequest struct {
	Kind              string  `json:"kind" binding:"required"`
	Symbol            string  `json:"symbol"`
	ThresholdValue    float64 `json:"threshold_value" binding:"gt=0"`
	WarningThreshold  float64 `json:"warning_threshold"`
	CriticalThreshold float64 `json:"critical_threshold"`
}

func (s *Server) listRiskLimits(c *gin.Context) {
	userID := CurrentUserID(c)
	limits, err := s.DB.ListRiskLimitsByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"limits": limits})
}

func (s *Server) createRiskLimit(c *gin.Context) {
	var req createRiskLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	limit := db.RiskLimitRow{
		ID:                uuid.NewString(),
		UserID:            CurrentUserID(c),
		Kind:              req.Kind,
		ThresholdValue:    req.ThresholdValue,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		Enabled:           true,
	}
	if req.Symbol != "" {
		limit.Symbol.String = req.Symbol
		limit.Symbol.Valid = true
	}

	if err := s.DB.CreateRiskLimit(c.Request.Context(), limit); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"limit": limit})
}

func (s *Server) listRiskAlerts(c *gin.Context) {
	userID := CurrentUserID(c)
	alerts, err := s.DB.ListAlertsByUser(c.Request.Context(), userID, 100)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
