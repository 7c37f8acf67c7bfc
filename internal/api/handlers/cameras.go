package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/camera"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/pkg/dto"
)

type CameraLister interface {
	ListCameras(ctx context.Context) ([]models.Camera, error)
}

type CameraHandler struct {
	controller *camera.Controller
	cameras    CameraLister
}

func NewCameraHandler(controller *camera.Controller, cameras CameraLister) *CameraHandler {
	return &CameraHandler{controller: controller, cameras: cameras}
}

// List merges the persisted camera rows with the live status held by this
// process.
func (h *CameraHandler) List(c *gin.Context) {
	stored, err := h.cameras.ListCameras(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	byName := make(map[string]models.Camera, len(stored))
	for _, cam := range stored {
		byName[cam.Name] = cam
	}
	for _, name := range h.controller.Running() {
		if live, ok := h.controller.Status(name); ok {
			byName[name] = live
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := dto.CameraListResponse{Cameras: make([]dto.CameraResponse, 0, len(names)), Total: len(names)}
	for _, name := range names {
		resp.Cameras = append(resp.Cameras, dto.NewCameraResponse(byName[name], h.controller.IsRunning(name)))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CameraHandler) Start(c *gin.Context) {
	var req dto.StartCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cam := models.Camera{
		Name: c.Param("name"),
		URL:  req.URL,
		Type: models.CameraType(req.Type),
		FPS:  req.FPS,
	}
	if err := h.controller.Start(c.Request.Context(), cam); err != nil {
		respondError(c, err)
		return
	}

	status, _ := h.controller.Status(cam.Name)
	c.JSON(http.StatusAccepted, dto.NewCameraResponse(status, true))
}

// Stop blocks until the camera's feed has shut down.
func (h *CameraHandler) Stop(c *gin.Context) {
	name := c.Param("name")
	if !h.controller.IsRunning(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not running"})
		return
	}
	h.controller.Stop(name)

	status, _ := h.controller.Status(name)
	c.JSON(http.StatusOK, dto.NewCameraResponse(status, false))
}
