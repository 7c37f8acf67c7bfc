package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/camera"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/templates"
)

var errBadFrame = errors.New("frame is required as an image file or frame_data")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, liveness.ErrSessionNotFound),
		errors.Is(err, templates.ErrIdentityNotFound),
		errors.Is(err, templates.ErrNoPhoto),
		errors.Is(err, attendance.ErrEventNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, liveness.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, liveness.ErrSessionClosed),
		errors.Is(err, liveness.ErrCameraBusy),
		errors.Is(err, liveness.ErrInvalidTransition),
		errors.Is(err, camera.ErrAlreadyRunning),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, templates.ErrModelMismatch),
		errors.Is(err, templates.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadFrame),
		errors.Is(err, inference.ErrInvalidImage),
		errors.Is(err, liveness.ErrInvalidPose),
		errors.Is(err, attendance.ErrInvalidDate),
		errors.Is(err, camera.ErrInvalidCamera):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
