package handlers

import (
	"errors"
	"net/http"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/MacJediWizard/resticron/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr), errors.Is(err, backup.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, backup.ErrMissingEntity):
		return http.StatusNotFound
	case errors.Is(err, db.ErrDuplicateName), errors.Is(err, backup.ErrTaskRunning):
		return http.StatusConflict
	case errors.Is(err, backup.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, backup.ErrRepositoryUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Internal errors are logged
// and replaced by msg so storage details do not leak to clients.
func respondError(c *gin.Context, logger zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// parseID reads a UUID path parameter, writing a 400 when it is malformed.
func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

// parseOptionalID reads an optional UUID query parameter.
func parseOptionalID(c *gin.Context, param string) (*uuid.UUID, bool) {
	raw := c.Query(param)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return nil, false
	}
	return &id, true
}
