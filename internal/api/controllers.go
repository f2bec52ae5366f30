package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"perpbot/internal/bot"
	"perpbot/internal/risk"
	"perpbot/pkg/db"

	"github.com/gin-gonic/gin"
)

func (s *Server) getStatus(c *gin.Context) {
	st := s.Bot.Status()
	c.JSON(http.StatusOK, gin.H{
		"bot":         st,
		"venue":       s.Meta.Venue,
		"paper":       s.Meta.Paper,
		"version":     s.Meta.Version,
		"instance_id": s.Meta.InstanceID,
	})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Book.Positions()})
}

func (s *Server) getAccount(c *gin.Context) {
	summary, err := s.Gateway.AccountSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  "VENUE_UNAVAILABLE",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"venue_total":       summary.TotalCapital,
		"venue_available":   summary.AvailableCapital,
		"tracked_total":     s.Book.TotalCapital(),
		"reserved_capital":  s.Book.ReservedCapital(),
		"available_capital": s.Book.AvailableCapital(),
		"utilization_pct":   s.Book.Utilization(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getOperations(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusOK, gin.H{"operations": []db.Operation{}})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_LIMIT",
				"error": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}
	ops, err := s.Store.RecentOperations(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

// getLogs tails the in-memory ring of recent log lines.
func (s *Server) getLogs(c *gin.Context) {
	if s.Logs == nil {
		c.JSON(http.StatusOK, gin.H{"logs": []string{}})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_LIMIT",
				"error": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}
	lines := s.Logs.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"logs": lines, "count": len(lines)})
}

func (s *Server) getConfig(c *gin.Context) {
	st := s.Bot.Status()
	c.JSON(http.StatusOK, gin.H{
		"risk_params":             st.RiskParams,
		"position_check_interval": st.PositionCheckInterval,
		"analysis_interval":       st.AnalysisInterval,
		"utilization_pct":         s.Book.Utilization(),
		"asset":                   st.Asset,
	})
}

// configUpdate carries a partial configuration change; absent fields keep
// their current values.
type configUpdate struct {
	RiskParams            *risk.Params `json:"risk_params"`
	PositionCheckInterval string       `json:"position_check_interval"`
	AnalysisInterval      string       `json:"analysis_interval"`
	UtilizationPct        *float64     `json:"utilization_pct"`
}

func (s *Server) putConfig(c *gin.Context) {
	if s.Bot.Running() {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "BOT_RUNNING",
			"error": "stop the bot before changing configuration",
		})
		return
	}

	var req configUpdate
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	if req.RiskParams != nil {
		if err := s.Bot.UpdateRiskParams(*req.RiskParams); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_RISK_PARAMS",
				"error": err.Error(),
			})
			return
		}
	}

	if req.PositionCheckInterval != "" || req.AnalysisInterval != "" {
		st := s.Bot.Status()
		check, err := resolveInterval(req.PositionCheckInterval, st.PositionCheckInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_INTERVAL",
				"error": err.Error(),
			})
			return
		}
		analysis, err := resolveInterval(req.AnalysisInterval, st.AnalysisInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_INTERVAL",
				"error": err.Error(),
			})
			return
		}
		if err := s.Bot.SetIntervals(check, analysis); err != nil {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "BOT_RUNNING",
				"error": err.Error(),
			})
			return
		}
	}

	if req.UtilizationPct != nil {
		s.Book.SetUtilization(*req.UtilizationPct)
	}

	s.getConfig(c)
}

func resolveInterval(raw, current string) (time.Duration, error) {
	if raw == "" {
		raw = current
	}
	return time.ParseDuration(raw)
}

func (s *Server) startBot(c *gin.Context) {
	s.Bot.Start()
	c.JSON(http.StatusOK, gin.H{
		"running": s.Bot.Running(),
		"state":   s.Bot.State(),
	})
}

func (s *Server) stopBot(c *gin.Context) {
	s.Bot.Stop()
	c.JSON(http.StatusOK, gin.H{
		"running": s.Bot.Running(),
		"state":   s.Bot.State(),
	})
}

func (s *Server) closePosition(c *gin.Context) {
	var req struct {
		Asset string `json:"asset"`
	}
	// Body is optional; an empty body closes the configured asset.
	_ = c.ShouldBindJSON(&req)
	asset := req.Asset
	if asset == "" {
		asset = s.Meta.Asset
	}

	if err := s.Bot.ManualClose(c.Request.Context(), asset); err != nil {
		status := http.StatusInternalServerError
		code := "INTERNAL_ERROR"
		var cerr *bot.CycleError
		if errors.As(err, &cerr) {
			switch cerr.Kind {
			case bot.KindInvalid:
				status = http.StatusNotFound
				code = "NO_POSITION"
			case bot.KindRejected:
				status = http.StatusBadGateway
				code = "ORDER_REJECTED"
			case bot.KindTransient:
				status = http.StatusServiceUnavailable
				code = "VENUE_UNAVAILABLE"
			}
		}
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"closed": asset})
}
