package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/secubox/secubox-waf/pkg/security"
	"github.com/secubox/secubox-waf/pkg/signature"
)

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"version": s.version,
		"uptime":  int64(time.Since(s.started).Seconds()),
		"host":    s.host.Stats(c.Request.Context()),
	}
	if s.checker != nil {
		if s.checker.Unhealthy() > 0 {
			resp["status"] = "degraded"
		}
		resp["upstreams"] = s.checker.Results()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStats(c *gin.Context) {
	resp := gin.H{
		"traffic":    s.engine.Stats().Snapshot(),
		"rate_limit": s.engine.RateLimiter().Stats(),
		"autoban":    s.engine.AutoBan().Stats(),
	}
	for name, fn := range s.extraStats {
		resp[name] = fn()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	alerts := s.engine.Stats().Alerts(limit)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

func (s *Server) getRules(c *gin.Context) {
	catalog := s.engine.Classifier().Catalog()
	groups := make([]gin.H, 0, len(catalog.Groups()))
	for _, g := range catalog.Groups() {
		groups = append(groups, gin.H{
			"name":     g.Name,
			"type":     g.Type,
			"severity": g.Severity,
			"rules":    len(g.Rules),
		})
	}

	resp := gin.H{
		"builtin": gin.H{
			"groups":      groups,
			"total_rules": catalog.RuleCount(),
			"cves":        catalog.CVEs(),
		},
	}
	if s.rules != nil {
		resp["dynamic"] = s.rules.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) reloadRules(c *gin.Context) {
	if s.rules == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "dynamic_rules_disabled",
			"message": "Dynamic WAF rules are not enabled",
		})
		return
	}
	if err := s.rules.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reload_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, s.rules.Stats())
}

type categoryRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setCategory(c *gin.Context) {
	if s.rules == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "dynamic_rules_disabled",
			"message": "Dynamic WAF rules are not enabled",
		})
		return
	}

	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be {\"enabled\": true|false}",
		})
		return
	}

	id := c.Param("id")
	if err := s.rules.SetCategory(id, *req.Enabled); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, signature.ErrCategoryNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"error":   "update_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": *req.Enabled})
}

func (s *Server) getAutoBan(c *gin.Context) {
	ab := s.engine.AutoBan()
	c.JSON(http.StatusOK, gin.H{
		"config":    ab.Config(),
		"stats":     ab.Stats(),
		"requested": ab.Requested(),
	})
}

func (s *Server) postAutoBanReload(c *gin.Context) {
	if s.reloadAutoBan == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "reload_unavailable",
			"message": "Auto-ban config file is not configured",
		})
		return
	}
	if err := s.reloadAutoBan(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reload_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": s.engine.AutoBan().Stats()})
}

func (s *Server) getRoutes(c *gin.Context) {
	router := s.engine.Router()
	if router == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "router_disabled",
			"message": "Backend router is not configured",
		})
		return
	}
	resp := gin.H{
		"routes":  router.Routes(),
		"default": router.Default(),
	}
	if s.checker != nil {
		resp["health"] = s.checker.Results()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) reloadRoutes(c *gin.Context) {
	router := s.engine.Router()
	if router == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "router_disabled",
			"message": "Backend router is not configured",
		})
		return
	}
	if err := router.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reload_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": len(router.Routes())})
}

// ClassifyRequest 试运行分类的请求描述
type ClassifyRequest struct {
	Method   string            `json:"method"`
	URL      string            `json:"url" binding:"required"`
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	SourceIP string            `json:"source_ip"`
}

// classify 只做分类, 不计入限流, 统计与自动封禁
func (s *Server) classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	r, err := http.NewRequestWithContext(c.Request.Context(), strings.ToUpper(req.Method), req.URL, strings.NewReader(req.Body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}
	if host := r.Header.Get("Host"); host != "" {
		r.Host = host
	}
	r.RequestURI = r.URL.RequestURI()
	if req.SourceIP != "" {
		r.RemoteAddr = req.SourceIP + ":0"
	}

	rc := security.NewRequestContext(r, []byte(req.Body))
	var verdict security.ThreatVerdict
	whitelisted := security.IsWhitelistedBot(rc.UserAgent)
	if !whitelisted {
		verdict = s.engine.Classifier().Classify(rc)
	}

	c.JSON(http.StatusOK, gin.H{
		"scan":               verdict,
		"whitelisted_bot":    whitelisted,
		"client":             security.Fingerprint(r.Header),
		"bot_behavior":       security.DetectBotBehavior(rc.Path),
		"suspicious_headers": security.DetectSuspiciousHeaders(r.Header),
		"is_auth_attempt":    security.IsAuthAttempt(rc.Path),
	})
}
