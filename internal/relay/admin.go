package relay

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/vitalmesh/meshlink/internal/auth"
	"github.com/vitalmesh/meshlink/internal/link"
	"github.com/vitalmesh/meshlink/internal/node"
	"github.com/vitalmesh/meshlink/internal/observability"
	"github.com/vitalmesh/meshlink/internal/pipeline"
	"github.com/vitalmesh/meshlink/internal/protocol/message"
)

// Relay is the admin-facing HTTP node wrapped around one link engine.
type Relay struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`

	engine     *link.Manager
	outbound   *pipeline.Outbound
	reports    *ReportLog
	validator  auth.Validator
	classifier Classifier

	router   *gin.Engine
	basePath string
}

var _ node.Node = (*Relay)(nil)

func NewRelay(id, addr string, corsOrigins []string) *Relay {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Relay{
		ID:       id,
		Addr:     addr,
		router:   r,
		Appeared: time.Now(),
	}
}

// Attach mounts a relay on an existing router, for embedding and
// tests.
func Attach(id string, router *gin.Engine, basePath string) *Relay {
	return &Relay{
		ID:       id,
		router:   router,
		basePath: basePath,
		Appeared: time.Now(),
	}
}

func (s *Relay) NodeID() string {
	return s.ID
}

func (s *Relay) Kind() string {
	return node.KindRelay
}

func (s *Relay) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Relay) RegisterRoutes() {
	routes := s.routes()
	routes.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"relay":   s.ID,
			"version": "0.0.1",
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Appeared).String(),
			"relay":   s.ID,
			"link":    s.linkState(),
			"version": "0.0.1",
		})
	})

	routes.GET("/status", s.handleStatus)
	routes.GET("/reports/recent", s.requireAuth(), s.handleRecentReports)
	routes.POST("/connect", s.requireAuth(), s.handleConnect)
	routes.POST("/disconnect", s.requireAuth(), s.handleDisconnect)
	routes.POST("/send", s.requireAuth(), s.handleSend)
	routes.POST("/classify-send", s.requireAuth(), s.handleClassifySend)
}

// Serve registers routes and blocks on the listener.
func (s *Relay) Serve() error {
	s.RegisterRoutes()
	return s.router.Run(s.Addr)
}

// ServeTLS is Serve over the configured certificate pair.
func (s *Relay) ServeTLS(certFile, keyFile string) error {
	s.RegisterRoutes()
	return s.router.RunTLS(s.Addr, certFile, keyFile)
}

func (s *Relay) handleStatus(c *gin.Context) {
	reports := s.reportLog()
	c.JSON(http.StatusOK, gin.H{
		"relay":            s.ID,
		"state":            s.linkState(),
		"status":           s.linkStatus(),
		"session_id":       s.sessionID(),
		"uptime":           time.Since(s.Appeared).String(),
		"reports_retained": reports.Len(),
		"reports_total":    reports.Total(),
	})
}

func (s *Relay) handleRecentReports(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": s.reportLog().Recent(limit)})
}

func (s *Relay) handleConnect(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "link engine not wired"})
		return
	}
	if err := s.engine.Connect(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, link.ErrPermissionDenied):
			status = http.StatusForbidden
		case errors.Is(err, link.ErrNoDevice):
			status = http.StatusNotFound
		case errors.Is(err, link.ErrOpenFailed):
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error(), "state": s.engine.State()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      s.engine.State(),
		"status":     s.engine.Status(),
		"session_id": s.engine.SessionID(),
	})
}

func (s *Relay) handleDisconnect(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "link engine not wired"})
		return
	}
	s.engine.Disconnect()
	c.JSON(http.StatusOK, gin.H{
		"state":  s.engine.State(),
		"status": s.engine.Status(),
	})
}

type sendReportRequest struct {
	Person         string `json:"person"`
	TimestampMS    uint64 `json:"timestamp_ms"`
	Risk           string `json:"risk"`
	Recommendation string `json:"recommendation"`
	Alert          *bool  `json:"alert"`
}

func (s *Relay) handleSend(c *gin.Context) {
	if s.outbound == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "link engine not wired"})
		return
	}
	var req sendReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report := reportFromRequest(req)
	if ok := s.sendReport(c, report); !ok {
		return
	}
	entry := s.reportLog().Add(DirectionOutbound, report)
	c.JSON(http.StatusOK, gin.H{"status": "sent", "seq": entry.Seq})
}

type classifyRequest struct {
	Person string `json:"person"`
	Vitals string `json:"vitals"`
}

func (s *Relay) handleClassifySend(c *gin.Context) {
	if s.classifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no classifier configured"})
		return
	}
	if s.outbound == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "link engine not wired"})
		return
	}
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	risk, analysis, err := s.classifier.Classify(c.Request.Context(), req.Vitals)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	report := message.HealthReport{
		Person:         req.Person,
		TimestampMS:    uint64(time.Now().UnixMilli()),
		Risk:           risk,
		Recommendation: analysis,
		Alert:          risk == message.RiskRed,
	}
	if ok := s.sendReport(c, report); !ok {
		return
	}
	entry := s.reportLog().Add(DirectionOutbound, report)
	c.JSON(http.StatusOK, gin.H{
		"status":   "sent",
		"seq":      entry.Seq,
		"risk":     risk,
		"analysis": analysis,
	})
}

// sendReport encodes and sends one report, writing the error response
// itself. It reports whether the send went out.
func (s *Relay) sendReport(c *gin.Context, report message.HealthReport) bool {
	payload, err := message.Encode(report)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := s.outbound.SendRaw(payload); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, link.ErrNotConnected) || errors.Is(err, link.ErrSessionClosed) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func reportFromRequest(req sendReportRequest) message.HealthReport {
	alert := req.Risk == string(message.RiskRed)
	if req.Alert != nil {
		alert = *req.Alert
	}
	ts := req.TimestampMS
	if ts == 0 {
		ts = uint64(time.Now().UnixMilli())
	}
	return message.HealthReport{
		Person:         req.Person,
		TimestampMS:    ts,
		Risk:           message.RiskLevel(req.Risk),
		Recommendation: req.Recommendation,
		Alert:          alert,
	}
}

func (s *Relay) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if err := s.validator.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Relay) routes() gin.IRoutes {
	if s.basePath == "" {
		return s.router
	}
	return s.router.Group(s.basePath)
}

func (s *Relay) reportLog() *ReportLog {
	if s.reports == nil {
		s.reports = NewReportLog(0)
	}
	return s.reports
}

func (s *Relay) linkState() link.State {
	if s.engine == nil {
		return link.StateIdle
	}
	return s.engine.State()
}

func (s *Relay) linkStatus() string {
	if s.engine == nil {
		return "link engine not wired"
	}
	return s.engine.Status()
}

func (s *Relay) sessionID() string {
	if s.engine == nil {
		return ""
	}
	return s.engine.SessionID()
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
