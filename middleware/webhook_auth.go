package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// SecretHeader is the alternative to a bearer Authorization header.
const SecretHeader = "X-Webhook-Secret"

// WebhookAuth checks the shared secret sent by the database webhook and the
// scheduler against a bcrypt hash. An empty hash disables the check.
func WebhookAuth(secretHash string, log *zap.Logger) gin.HandlerFunc {
	if strings.TrimSpace(secretHash) == "" {
		log.Warn("WEBHOOK_SECRET_HASH not set, webhook endpoints are unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	v := &secretVerifier{hash: []byte(secretHash)}

	return func(c *gin.Context) {
		secret := presentedSecret(c)
		if secret == "" || !v.verify(secret) {
			log.Warn("webhook auth failed",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func presentedSecret(c *gin.Context) string {
	if s := c.GetHeader(SecretHeader); s != "" {
		return s
	}
	auth := c.GetHeader("Authorization")
	if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
		return strings.TrimSpace(token)
	}
	return ""
}

// secretVerifier remembers the last secret bcrypt accepted so steady
// traffic pays for one bcrypt comparison, not one per request.
type secretVerifier struct {
	hash []byte

	mu       sync.RWMutex
	accepted []byte
}

func (v *secretVerifier) verify(secret string) bool {
	v.mu.RLock()
	known := v.accepted
	v.mu.RUnlock()
	if known != nil && subtle.ConstantTimeCompare(known, []byte(secret)) == 1 {
		return true
	}

	if bcrypt.CompareHashAndPassword(v.hash, []byte(secret)) != nil {
		return false
	}
	v.mu.Lock()
	v.accepted = []byte(secret)
	v.mu.Unlock()
	return true
}
