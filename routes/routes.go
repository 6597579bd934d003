package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"callme-notifier/middleware"
	"callme-notifier/services"
)

// Dependencies is everything the HTTP surface needs.
type Dependencies struct {
	Log               *zap.Logger
	Profiles          services.ProfileHandler
	Friendships       services.FriendshipHandler
	Sweep             JobRunner
	Scan              JobRunner
	Gatherer          prometheus.Gatherer
	WebhookSecretHash string
	RateLimiter       *middleware.RateLimiter
}

// NewRouter builds the gin engine with the webhook, job, health and
// metrics routes.
func NewRouter(d Dependencies) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(d.Log))
	router.Use(middleware.Recovery(d.Log))
	router.Use(middleware.SecurityHeadersMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "CallMe notifier is running",
			"time":    time.Now().UTC(),
		})
	})
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	guarded := []gin.HandlerFunc{
		middleware.InputValidationMiddleware(),
		middleware.WebhookAuth(d.WebhookSecretHash, d.Log),
	}

	// Webhooks always answer 2xx, so only the job routes are rate limited.
	hooks := router.Group("/webhooks", guarded...)
	{
		h := NewWebhookHandler(d.Profiles, d.Friendships, d.Log)
		hooks.POST("/profile-updated", h.ProfileUpdated)
		hooks.POST("/friendship-inserted", h.FriendshipInserted)
	}

	jobGuards := guarded
	if d.RateLimiter != nil {
		jobGuards = append([]gin.HandlerFunc{middleware.RateLimitMiddleware(d.RateLimiter, d.Log)}, guarded...)
	}
	jobsGroup := router.Group("/jobs", jobGuards...)
	{
		if d.Sweep != nil {
			jobsGroup.POST("/expire-availability", RunJob(d.Sweep, d.Log))
		}
		if d.Scan != nil {
			jobsGroup.POST("/notify-schedule-matches", RunJob(d.Scan, d.Log))
		}
	}

	return router
}
