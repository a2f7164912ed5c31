package server

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jassus213/go-admission/apierror"
	ginmw "github.com/jassus213/go-admission/middleware/gin"
	"github.com/jassus213/go-admission/outbound"
)

// imageProxy fetches an allow-listed remote image on the caller's behalf.
func (s *Server) imageProxy(c *gin.Context) {
	ginmw.SetOperation(c, "proxy image")

	resp, err := s.stack.Fetcher.Fetch(c.Request.Context(), c.Query("url"))
	var reject *outbound.RejectError
	switch {
	case errors.As(err, &reject):
		c.JSON(reject.Status, gin.H{"error": reject.Reason})
		return
	case errors.Is(err, outbound.ErrTooLarge):
		_ = c.Error(apierror.NewClientError(http.StatusRequestEntityTooLarge, "Image is too large"))
		return
	case err != nil:
		_ = c.Error(apierror.WithStack(err))
		return
	}

	contentType := resp.ContentType
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if !strings.HasPrefix(mediaType, "image/") {
		_ = c.Error(apierror.NewClientError(http.StatusBadRequest, "URL does not point to an image"))
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, contentType, resp.Body)
}
