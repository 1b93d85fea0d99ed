package adminapi

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayops/cascadeguard/pkg/breaker"
	"github.com/relayops/cascadeguard/pkg/cascade"
)

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// handleReadiness reports degraded once overall health falls below the
// configured floor. Load shedding state rides along for dashboards.
func (s *Server) handleReadiness(c *gin.Context) {
	health := s.system.GetSystemHealth()

	payload := gin.H{
		"status":         "ready",
		"overall_health": health.OverallHealth,
		"load_shedding":  s.system.LoadSheddingActive(),
	}

	if health.OverallHealth < s.readyThreshold {
		payload["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, payload)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleSystemHealth(c *gin.Context) {
	SuccessResponse(c, s.system.GetSystemHealth())
}

func (s *Server) handleListDependencies(c *gin.Context) {
	SuccessResponse(c, s.system.GetAllDependencyHealth())
}

func (s *Server) handleDependencyHealth(c *gin.Context) {
	health, err := s.system.GetDependencyHealth(c.Param("name"))
	if err != nil {
		NotFoundResponse(c, err.Error())
		return
	}
	SuccessResponse(c, health)
}

func (s *Server) handleIsolate(c *gin.Context) {
	name := c.Param("name")
	if err := s.system.IsolateDependency(name); err != nil {
		if stderrors.Is(err, cascade.ErrNotRegistered) {
			NotFoundResponse(c, err.Error())
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "ISOLATE_FAILED", err.Error())
		return
	}

	health, _ := s.system.GetDependencyHealth(name)
	SuccessResponse(c, health)
}

func (s *Server) handleRecover(c *gin.Context) {
	name := c.Param("name")
	if err := s.system.RecoverDependency(name); err != nil {
		if stderrors.Is(err, cascade.ErrNotRegistered) {
			NotFoundResponse(c, err.Error())
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "RECOVER_FAILED", err.Error())
		return
	}

	health, _ := s.system.GetDependencyHealth(name)
	SuccessResponse(c, health)
}

// breakerStats merges the system's per-dependency breakers with the
// standalone registry, dependencies winning name collisions.
func (s *Server) breakerStats() map[string]breaker.Stats {
	stats := make(map[string]breaker.Stats)
	if s.breakers != nil {
		for name, st := range s.breakers.GetAllStats() {
			stats[name] = st
		}
	}
	for _, name := range s.system.Dependencies() {
		if dm, ok := s.system.Dependency(name); ok {
			stats[name] = dm.Breaker().GetStats()
		}
	}
	return stats
}

func (s *Server) lookupBreaker(name string) (*breaker.CircuitBreaker, bool) {
	if dm, ok := s.system.Dependency(name); ok {
		return dm.Breaker(), true
	}
	if s.breakers != nil {
		return s.breakers.Get(name)
	}
	return nil, false
}

func (s *Server) handleListBreakers(c *gin.Context) {
	stats := s.breakerStats()

	agg := breaker.Aggregate{TotalCircuits: len(stats)}
	for _, st := range stats {
		if st.State == breaker.StateOpen {
			agg.OpenCircuits++
		}
		agg.TotalRequests += st.TotalRequests
		agg.RejectedRequests += st.RejectedRequests
	}

	SuccessResponse(c, gin.H{
		"breakers":  stats,
		"aggregate": agg,
	})
}

func (s *Server) handleResetBreaker(c *gin.Context) {
	cb, ok := s.lookupBreaker(c.Param("name"))
	if !ok {
		NotFoundResponse(c, "Unknown circuit breaker")
		return
	}
	cb.Reset()
	SuccessResponse(c, cb.GetStats())
}

type forceStateRequest struct {
	State string `json:"state" binding:"required"`
}

func (s *Server) handleForceState(c *gin.Context) {
	cb, ok := s.lookupBreaker(c.Param("name"))
	if !ok {
		NotFoundResponse(c, "Unknown circuit breaker")
		return
	}

	var req forceStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Request body must include a state")
		return
	}

	state, err := breaker.ParseState(req.State)
	if err != nil {
		BadRequestResponse(c, err.Error())
		return
	}

	cb.ForceState(state)
	SuccessResponse(c, cb.GetStats())
}
