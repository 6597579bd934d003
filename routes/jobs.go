package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobRunner is one scheduled component that can also be triggered over
// HTTP by an external cron.
type JobRunner interface {
	Name() string
	RunOnce(ctx context.Context, now time.Time) (interface{}, error)
}

// RunJob runs j once with the current time. Like the webhooks it answers
// 200 even on failure and reports the error in the body.
func RunJob(j JobRunner, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := detached(c)
		defer cancel()

		res, err := j.RunOnce(ctx, time.Now())
		if err != nil {
			log.Error("job endpoint failed", zap.String("job", j.Name()), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "error", "job": j.Name()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "job": j.Name(), "result": res})
	}
}
