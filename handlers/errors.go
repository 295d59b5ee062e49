package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	dErrors "mrv/domainerrors"
	"mrv/middleware"
	"mrv/sentinel"

	"github.com/gin-gonic/gin"
)

// statusFor maps a coded domain error to its HTTP status. Uncoded errors
// are treated as internal failures.
func statusFor(err error) int {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeInvalidTransition:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusForbidden
	case dErrors.CodeStoreFailure:
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the error body. Internal failures hide their cause
// from the client and are logged instead.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if code := dErrors.CodeOf(err); code != "" {
		body["code"] = code
		var coded *dErrors.Error
		if errors.As(err, &coded) {
			body["error"] = coded.Message
		}
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"error", err,
			"request_id", middleware.GetRequestID(c),
		)
		if status == http.StatusInternalServerError {
			body["error"] = "internal error"
		}
		if dErrors.Retryable(err) || errors.Is(err, sentinel.ErrUnavailable) {
			body["retryable"] = true
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, logger *slog.Logger, message string) {
	respondError(c, logger, dErrors.New(dErrors.CodeBadRequest, message))
}
