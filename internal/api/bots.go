package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trading-core/internal/apperr"
	"trading-core/pkg/db"
)

type createBotRequest struct {
	StrategyID        string  `json:"strategy_id" binding:"required"`
	ConnectionID      string  `json:"connection_id" binding:"required"`
	Symbol            string  `json:"symbol" binding:"required,min=1"`
	BaseQty           float64 `json:"base_qty" binding:"gt=0"`
	QuoteQty          float64 `json:"quote_qty"`
	TakeProfitPct     float64 `json:"take_profit_pct"`
	StopLossPct       float64 `json:"stop_loss_pct"`
	CheckIntervalSecs int     `json:"check_interval_seconds"`
}

func (s *Server) listBots(c *gin.Context) {
	userID := CurrentUserID(c)
	bots, err := s.DB.ListBotsByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots})
}

func (s *Server) createBot(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	b := db.Bot{
		ID:                uuid.NewString(),
		UserID:            CurrentUserID(c),
		StrategyID:        req.StrategyID,
		ConnectionID:      req.ConnectionID,
		Symbol:            req.Symbol,
		BaseQty:           req.BaseQty,
		QuoteQty:          req.QuoteQty,
		TakeProfitPct:     req.TakeProfitPct,
		StopLossPct:       req.StopLossPct,
		CheckIntervalSecs: req.CheckIntervalSecs,
		Status:            "PAUSED",
	}
	if err := s.DB.CreateBot(c.Request.Context(), b); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bot": b})
}

func (s *Server) startBot(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessBot(c, id) {
		return
	}
	if s.Bots == nil {
		respondError(c, http.StatusServiceUnavailable, "BOT_MANAGER_UNAVAILABLE", "bot manager not ready")
		return
	}
	if err := s.Bots.Start(c.Request.Context(), id); err != nil {
		respondError(c, apperr.HTTPStatus(err), "BOT_START_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "RUNNING"})
}

func (s *Server) stopBot(c *gin.Context) {
	id := c.Param("id")
	if !s.canAccessBot(c, id) {
		return
	}
	if s.Bots == nil {
		respondError(c, http.StatusServiceUnavailable, "BOT_MANAGER_UNAVAILABLE", "bot manager not ready")
		return
	}
	if err := s.Bots.Stop(c.Request.Context(), id); err != nil {
		respondError(c, apperr.HTTPStatus(err), "BOT_STOP_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "PAUSED"})
}

// canAccessBot verifies the requesting user owns the bot, writing an error
// response and returning false if not.
func (s *Server) canAccessBot(c *gin.Context, botID string) bool {
	userID := CurrentUserID(c)
	if userID == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "unauthorized")
		return false
	}
	b, err := s.DB.GetBot(c.Request.Context(), botID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return false
	}
	if b == nil {
		respondError(c, http.StatusNotFound, "BOT_NOT_FOUND", "bot not found")
		return false
	}
	if b.UserID != userID {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "not your bot")
		return false
	}
	return true
}
