package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callme-notifier/services"
	"callme-notifier/types"
)

// handlerTimeout bounds one trigger's fan-out once it is detached from the
// caller's connection.
const handlerTimeout = 30 * time.Second

// WebhookHandler receives database change webhooks. Every response is 200:
// a non-2xx makes the sender retry, and the claims already make a retry a
// no-op, so errors are only logged.
type WebhookHandler struct {
	profiles    services.ProfileHandler
	friendships services.FriendshipHandler
	log         *zap.Logger
}

func NewWebhookHandler(profiles services.ProfileHandler, friendships services.FriendshipHandler, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{profiles: profiles, friendships: friendships, log: log}
}

// ProfileUpdated handles POST /webhooks/profile-updated.
func (h *WebhookHandler) ProfileUpdated(c *gin.Context) {
	env, ok := h.envelope(c)
	if !ok {
		return
	}
	ev, err := env.ProfileEvent()
	if err != nil {
		h.invalid(c, err)
		return
	}
	if env.Type != "" && env.Type != types.ChangeUpdate {
		c.JSON(http.StatusOK, services.Outcome{Status: services.StatusIgnored})
		return
	}

	ctx, cancel := detached(c)
	defer cancel()
	h.respond(c, "profile-updated", h.profiles.Handle(ctx, ev))
}

// FriendshipInserted handles POST /webhooks/friendship-inserted.
func (h *WebhookHandler) FriendshipInserted(c *gin.Context) {
	env, ok := h.envelope(c)
	if !ok {
		return
	}
	ev, err := env.FriendshipEvent()
	if err != nil {
		h.invalid(c, err)
		return
	}

	ctx, cancel := detached(c)
	defer cancel()
	h.respond(c, "friendship-inserted", h.friendships.Handle(ctx, ev))
}

func (h *WebhookHandler) envelope(c *gin.Context) (types.Envelope, bool) {
	body, err := c.GetRawData()
	if err != nil {
		h.invalid(c, err)
		return types.Envelope{}, false
	}
	env, err := types.ParseEnvelope(body)
	if err != nil {
		h.invalid(c, err)
		return types.Envelope{}, false
	}
	return env, true
}

func (h *WebhookHandler) invalid(c *gin.Context, err error) {
	h.log.Warn("invalid webhook payload", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusOK, gin.H{"status": "invalid_payload"})
}

func (h *WebhookHandler) respond(c *gin.Context, hook string, res services.Outcome) {
	if res.Err != nil {
		h.log.Error("webhook handling failed", zap.String("hook", hook), zap.Error(res.Err))
	}
	c.JSON(http.StatusOK, res)
}

// detached keeps the work running if the webhook sender hangs up after the
// claim was taken.
func detached(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), handlerTimeout)
}
