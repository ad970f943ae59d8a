package transport

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/ycommand/internal/meta"
	"github.com/luma/ycommand/storage"
)

// NewRouter returns the HTTP status surface of the device: a liveness ping,
// the build info and the subscriptions of a session.
func NewRouter(store storage.Store, log *zap.Logger, debugHTTP bool) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, meta.GetInfo())
	})

	r.GET("/apps/:consumerKey/sessions/:session/subscriptions", func(c *gin.Context) {
		consumerKey := c.Param("consumerKey")
		session := c.Param("session")

		services, err := store.Subscriptions(c.Request.Context(), SessionKey(consumerKey, session))
		if err != nil {
			log.Warn("Failed to list subscriptions",
				zap.String("consumerKey", consumerKey),
				zap.String("session", session),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"consumerKey":   consumerKey,
			"session":       session,
			"subscriptions": services,
		})
	})

	return r
}
