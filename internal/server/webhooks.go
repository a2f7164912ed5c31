package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jassus213/go-admission/apierror"
	ginmw "github.com/jassus213/go-admission/middleware/gin"
)

// SignatureHeader carries "sha256=<hex hmac of the body>".
const SignatureHeader = "X-Webhook-Signature"

var errBadSignature = errors.New("webhook signature mismatch")

// webhookVerifier authenticates third-party callbacks, which bypass CSRF.
type webhookVerifier struct {
	secret  []byte
	maxBody int64
}

func newWebhookVerifier(secret string, maxBody int64) *webhookVerifier {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &webhookVerifier{secret: []byte(secret), maxBody: maxBody}
}

// Sign returns the signature header value for body.
func (v *webhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (v *webhookVerifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return errBadSignature
	}
	got, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return errBadSignature
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}

func (s *Server) webhook(c *gin.Context) {
	provider := c.Param("provider")
	ginmw.SetOperation(c, "webhook "+provider)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.webhooks.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(apierror.NewClientError(http.StatusRequestEntityTooLarge, "Payload too large"))
			return
		}
		_ = c.Error(apierror.WithStack(err))
		return
	}

	if err := s.webhooks.Verify(body, c.GetHeader(SignatureHeader)); err != nil {
		s.stack.Logger.Warn("webhook rejected", "provider", provider, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	s.stack.Logger.Info("webhook received", "provider", provider, "bytes", len(body))
	c.JSON(http.StatusAccepted, gin.H{"received": true})
}
