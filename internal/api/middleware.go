package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/session"
)

// sessionHeader lets API clients without cookies pick their session
const sessionHeader = "X-Session-ID"

// requestLogger logs every request once it has been served
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		log := logger.L().Named("http")
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}

// corsMiddleware allows browsers on origin to call the JSON API
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+sessionHeader)
		if origin != "*" {
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// session returns the caller's session, creating it and setting the cookie
// on first sight. A session that lost track of its unfinished task, as after
// a restart, follows it again.
func (s *Server) session(c *gin.Context) *session.Session {
	id := c.GetHeader(sessionHeader)
	if id == "" {
		id, _ = c.Cookie(s.sessionCookie)
	}

	sess := s.sessions.Get(id)
	if sess.ID != id {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(s.sessionCookie, sess.ID, 0, "/", "", false, true)
	}
	c.Header(sessionHeader, sess.ID)

	if sess.TaskID() == "" {
		if task := s.tracker.Active(sess.ID); task != nil {
			if err := sess.Resume(task.ID); err == nil {
				logger.Info("Session %s follows task %s again", sess.ID, task.ID)
			}
		}
	}
	return sess
}
