package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/pkg/dto"
)

// SessionHandler exposes enrollment liveness sessions.
type SessionHandler struct {
	manager *liveness.Manager
}

func NewSessionHandler(manager *liveness.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// Create starts a session. The body is optional: without identity_id the
// session enrolls a new identity described by profile.
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	opts := liveness.CreateOptions{IdentityID: req.IdentityID, Camera: req.Camera}
	if req.IdentityID == nil && req.Profile != nil {
		opts.Profile = &models.Identity{
			Name:       req.Profile.Name,
			ExternalID: req.Profile.ExternalID,
			GroupName:  req.Profile.GroupName,
			Metadata:   req.Profile.Metadata,
		}
	}

	snap, err := h.manager.CreateSession(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSessionResponse(snap))
}

func (h *SessionHandler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snap, err := h.manager.GetSession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(snap))
}

// Abandon fails an open session on the caller's request.
func (h *SessionHandler) Abandon(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snap, err := h.manager.Abandon(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionResponse(snap))
}

// SubmitFrame feeds one frame to the session. A refused frame is still a 200;
// the response says why it was refused.
func (h *SessionHandler) SubmitFrame(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	data, req, err := readFrame(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var hint *liveness.Pose
	if req.Pose != "" {
		p, err := liveness.ParsePose(req.Pose)
		if err != nil {
			respondError(c, err)
			return
		}
		hint = &p
	}

	frame := inference.Frame{Data: data, Camera: req.Camera, CapturedAt: time.Now()}
	res, err := h.manager.SubmitFrame(c.Request.Context(), id, hint, frame)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFrameResponse(res))
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}
