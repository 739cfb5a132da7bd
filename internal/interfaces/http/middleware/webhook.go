package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/interfaces/http/dto"
)

// WebhookSecretHeader carries the shared secret on LMS webhook calls
const WebhookSecretHeader = "X-LMS-Secret"

// webhookSecretBody picks the fallback secret out of a JSON body
type webhookSecretBody struct {
	Secret string `json:"secret"`
}

// WebhookSecret authenticates LMS webhook calls against the shared secret.
// The first present value of the X-LMS-Secret header, the Authorization
// header (raw or Bearer) and the body field "secret" is compared; an empty
// configured secret admits every call.
//
// The body is read with ShouldBindBodyWith so handlers can bind it again.
func WebhookSecret(secret string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	expected := []byte(secret)

	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}

		provided, source := providedWebhookSecret(c)
		if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			log.Warn("Webhook secret rejected",
				zap.String("source", source),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Invalid webhook secret", GetRequestID(c)))
			return
		}
		c.Next()
	}
}

func providedWebhookSecret(c *gin.Context) (string, string) {
	if v := c.GetHeader(WebhookSecretHeader); v != "" {
		return v, "header"
	}
	if v := c.GetHeader(AuthHeaderKey); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, BearerPrefix)), "authorization"
	}
	var body webhookSecretBody
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil && body.Secret != "" {
		return body.Secret, "body"
	}
	return "", "none"
}
