// Package server provides the Pulseboard Gin-based REST API.
//
//	Public:          GET /api/health, POST /api/login
//	Protected (JWT): telemetry, container actions, logs, alerts, live stream
package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vesa/pulseboard/internal/alerts"
	"github.com/vesa/pulseboard/internal/models"
	"github.com/vesa/pulseboard/internal/session"
)

// Server exposes one dashboard session over HTTP.
type Server struct {
	sess     *session.Session
	auth     *Auth
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New returns a server for sess guarded by auth.
func New(sess *session.Session, auth *Auth, logger *slog.Logger) *Server {
	return &Server{
		sess: sess,
		auth: auth,
		log:  logger.With("module", "api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Engine builds the gin engine with middleware and all routes.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors())
	s.RegisterControlRoutes(r)
	return r
}

// RegisterControlRoutes wires up the control-plane API on the given engine.
func (s *Server) RegisterControlRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.handleLogin)

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", s.auth.Middleware())
	{
		// Telemetry
		auth.GET("/overview", s.handleOverview)
		auth.GET("/metrics", s.handleMetrics)
		auth.GET("/containers", s.handleContainers)
		auth.GET("/containers/:id", s.handleContainer)

		// Container actions (asynchronous, ticketed)
		auth.POST("/containers/:id/:action", s.handleContainerAction)
		auth.GET("/actions/:ticket", s.handleTicket)

		// Logs
		auth.GET("/logs", s.handleLogs)
		auth.DELETE("/logs", s.handleLogsClear)
		auth.GET("/logs/export", s.handleLogsExport)
		auth.PUT("/logs/live-tail", s.handleLiveTail)

		// Alerts
		auth.GET("/alerts", s.handleAlerts)
		auth.POST("/alerts", s.handleAlertCreate)
		auth.POST("/alerts/:id/ack", s.handleAlertAck)
		auth.DELETE("/alerts/:id", s.handleAlertDismiss)
		auth.PUT("/alerts/notifications", s.handleNotifications)

		// Live snapshot stream (WebSocket)
		auth.GET("/stream", s.handleStream)
	}
}

// ── Middleware ────────────────────────────────────────────────────────────────

// requestLogger writes one structured line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP())
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// writeError maps error kinds to HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrActionInFlight):
		status = http.StatusConflict
	case errors.Is(err, models.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if !s.auth.Check(body.Username, body.Password) {
		s.log.Warn("login rejected", "username", body.Username, "client", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.auth.GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}

func (s *Server) handleOverview(c *gin.Context) {
	o, err := s.sess.Overview(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": o})
}

func (s *Server) handleMetrics(c *gin.Context) {
	snap := s.sess.Snapshot()
	c.JSON(http.StatusOK, gin.H{"data": snap.Metrics, "last_update": snap.UpdatedAt})
}

func (s *Server) handleContainers(c *gin.Context) {
	snap := s.sess.Snapshot()
	c.JSON(http.StatusOK, gin.H{"data": snap.Containers, "last_update": snap.UpdatedAt})
}

func (s *Server) handleContainer(c *gin.Context) {
	rec, err := s.sess.Container(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// handleContainerAction queues start/stop/restart and answers 202 with a
// ticket to poll at /api/actions/:ticket.
func (s *Server) handleContainerAction(c *gin.Context) {
	id, action := c.Param("id"), models.ContainerAction(c.Param("action"))
	t, err := s.sess.Submit(id, action)
	if err != nil {
		writeError(c, err)
		return
	}
	s.log.Info("container action submitted",
		"container", id, "action", action, "ticket", t.ID, "username", c.GetString("username"))
	c.JSON(http.StatusAccepted, gin.H{"data": t})
}

func (s *Server) handleTicket(c *gin.Context) {
	t, err := s.sess.Ticket(c.Param("ticket"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": t})
}

func logFilter(c *gin.Context) models.LogFilter {
	return models.LogFilter{
		ContainerID: c.Query("container"),
		Level:       c.Query("level"),
		Search:      c.Query("q"),
	}
}

// handleLogs returns buffered log lines, oldest first.
//
//	GET /api/logs?container=<id|all>&level=<level|all>&q=<text>
func (s *Server) handleLogs(c *gin.Context) {
	entries, err := s.sess.Logs(logFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "live_tail": s.sess.LiveTail()})
}

func (s *Server) handleLogsClear(c *gin.Context) {
	s.sess.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cleared": true}})
}

// handleLogsExport downloads the filtered log lines as plain text.
func (s *Server) handleLogsExport(c *gin.Context) {
	var buf bytes.Buffer
	if _, err := s.sess.ExportLogs(&buf, logFilter(c)); err != nil {
		writeError(c, err)
		return
	}
	name := fmt.Sprintf("logs-%s.txt", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

type toggleBody struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleLiveTail(c *gin.Context) {
	var body toggleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled (bool) required"})
		return
	}
	s.sess.SetLiveTail(*body.Enabled)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"live_tail": s.sess.LiveTail()}})
}

func (s *Server) handleAlerts(c *gin.Context) {
	v, err := s.sess.Alerts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": v})
}

// handleAlertCreate adds a persistent alert.
//
//	POST /api/alerts
//	Body: { "type": "warning", "title": "...", "description": "...", "source": "..." }
func (s *Server) handleAlertCreate(c *gin.Context) {
	var body alerts.NewAlert
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.sess.AddAlert(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": a.Entry()})
}

func (s *Server) handleAlertAck(c *gin.Context) {
	id := c.Param("id")
	if err := s.sess.AcknowledgeAlert(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": id})
}

func (s *Server) handleAlertDismiss(c *gin.Context) {
	id := c.Param("id")
	if err := s.sess.DismissAlert(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleNotifications(c *gin.Context) {
	var body toggleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled (bool) required"})
		return
	}
	s.sess.SetNotifications(*body.Enabled)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"notifications":      s.sess.Notifications(),
		"webhook_configured": s.sess.WebhookConfigured(),
	}})
}
