package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"challenge-core/internal/challenge"
)

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondDomainError maps the core's error taxonomy onto HTTP.
func (s *Server) respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, challenge.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, challenge.ErrTerminal):
		respondError(c, http.StatusConflict, "ACCOUNT_TERMINAL", err.Error())
	case errors.Is(err, challenge.ErrConnection):
		respondError(c, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", err.Error())
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// account loads the :id account and checks the caller may use it. It writes
// the error response itself and reports false on failure.
func (s *Server) account(c *gin.Context) (challenge.Account, bool) {
	acc, err := s.history.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondDomainError(c, err)
		return challenge.Account{}, false
	}
	if !canAccess(CurrentClaims(c), acc) {
		// Same answer as a missing account so IDs cannot be probed.
		respondError(c, http.StatusNotFound, "NOT_FOUND", "account not found")
		return challenge.Account{}, false
	}
	return acc, true
}

func (s *Server) startMonitoring(c *gin.Context) {
	acc, ok := s.account(c)
	if !ok {
		return
	}
	if err := s.monitors.Start(c.Request.Context(), acc.ID); err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "monitoring_status": challenge.MonitoringActive})
}

func (s *Server) stopMonitoring(c *gin.Context) {
	acc, ok := s.account(c)
	if !ok {
		return
	}
	if err := s.monitors.Stop(c.Request.Context(), acc.ID); err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "monitoring_status": challenge.MonitoringInactive})
}

func (s *Server) listMonitoring(c *gin.Context) {
	claims := CurrentClaims(c)
	if claims == nil || claims.Role != RoleAdmin {
		respondError(c, http.StatusForbidden, "FORBIDDEN", "admin role required")
		return
	}
	monitors := s.monitors.Monitors()
	c.JSON(http.StatusOK, gin.H{"active": len(monitors), "monitors": monitors})
}

func (s *Server) getAccount(c *gin.Context) {
	acc, ok := s.account(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (s *Server) listMetrics(c *gin.Context) {
	acc, ok := s.account(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()

	recs, err := s.history.ListMetrics(c.Request.Context(), acc.ID, q.Limit)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	if recs == nil {
		recs = []challenge.MetricsRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "metrics": recs})
}

func (s *Server) listViolations(c *gin.Context) {
	acc, ok := s.account(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()

	vs, err := s.history.ListViolations(c.Request.Context(), acc.ID, q.Limit)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	if vs == nil {
		vs = []challenge.Violation{}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "violations": vs})
}
