package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	APIKeyHeader    = "X-API-Key"
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
	maxTimeSkew     = 60 // seconds
)

// Sign computes the request signature: hex(HMAC-SHA256(secret, timestamp || body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthMiddleware provides HMAC-based authentication.
type AuthMiddleware struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

func NewAuthMiddleware(apiKey, apiSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
}

func deny(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// Middleware rejects requests without a valid key, a timestamp within the
// allowed skew and a matching body signature.
func (m *AuthMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(APIKeyHeader) != m.apiKey {
			deny(c, http.StatusUnauthorized, "Invalid API Key")
			return
		}

		timestampStr := c.GetHeader(TimestampHeader)
		if timestampStr == "" {
			deny(c, http.StatusUnauthorized, "Missing timestamp header")
			return
		}
		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			deny(c, http.StatusUnauthorized, "Invalid timestamp format")
			return
		}
		skew := m.now().Unix() - timestamp
		if skew > maxTimeSkew || skew < -maxTimeSkew {
			deny(c, http.StatusUnauthorized, "Timestamp expired")
			return
		}

		requestSignature := c.GetHeader(SignatureHeader)
		if requestSignature == "" {
			deny(c, http.StatusUnauthorized, "Missing signature header")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			deny(c, http.StatusInternalServerError, "Failed to read request body")
			return
		}
		// Restore the body so the next handler can read it
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		expected := Sign(m.apiSecret, timestampStr, body)
		if !hmac.Equal([]byte(requestSignature), []byte(expected)) {
			deny(c, http.StatusUnauthorized, "Invalid signature")
			return
		}
		c.Next()
	}
}
