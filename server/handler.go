package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	bv "github.com/gofhir/bundlevalidator"
)

// APIError is the body of every non-200 response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps an APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

type validateHandler struct {
	cfg Config
}

// Validate handles POST /api/fhir/validator with a multipart "file" field.
func (h *validateHandler) Validate(c *gin.Context) {
	format := h.cfg.DefaultFormat
	if q := c.Query("format"); q != "" {
		f, err := bv.ParseFormat(q)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_format", err)
			return
		}
		format = f
	}

	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field \"file\" is required: %w", err))
		return
	}
	if !h.allowed(fh.Filename) {
		respondError(c, http.StatusBadRequest, "invalid_file_type",
			fmt.Errorf("invalid file type %q: accepted extensions are %s", filepath.Ext(fh.Filename), strings.Join(h.cfg.Extensions, ", ")))
		return
	}
	if fh.Size > h.cfg.MaxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Errorf("file is %d bytes, limit is %d", fh.Size, h.cfg.MaxUploadBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxUploadBytes))
	if err != nil {
		respondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	out, err := h.cfg.Validator.ValidateDocument(c.Request.Context(), raw)
	switch {
	case errors.Is(err, bv.ErrMalformedDocument):
		respondError(c, http.StatusBadRequest, "malformed_document", err)
		return
	case errors.Is(err, bv.ErrOverloaded):
		c.Header("Retry-After", "1")
		respondError(c, http.StatusServiceUnavailable, "overloaded", err)
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "validation_failed", err)
		return
	}

	body, err := bv.Render(out, format)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "render_failed", err)
		return
	}
	contentType := "application/json"
	if format == bv.FormatOperationOutcome {
		contentType = "application/fhir+json"
	}
	c.Data(http.StatusOK, contentType, body)
}

func (h *validateHandler) allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range h.cfg.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
