package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/templates"
	"github.com/your-org/faceattend/pkg/dto"
)

// IdentityHandler manages enrolled people. Templates are only written by
// completed liveness sessions, never through this handler.
type IdentityHandler struct {
	store *templates.Store
}

func NewIdentityHandler(store *templates.Store) *IdentityHandler {
	return &IdentityHandler{store: store}
}

func (h *IdentityHandler) Create(c *gin.Context) {
	var req dto.IdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident := &models.Identity{
		Name:       req.Name,
		ExternalID: req.ExternalID,
		GroupName:  req.GroupName,
		Metadata:   req.Metadata,
	}
	if err := h.store.CreateIdentity(c.Request.Context(), ident); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewIdentityResponse(*ident, nil))
}

func (h *IdentityHandler) List(c *gin.Context) {
	var q dto.IdentityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	idents, total, err := h.store.ListIdentities(ctx, storage.IdentityFilter{
		Search: q.Search,
		Group:  q.Group,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.IdentityListResponse{Identities: make([]dto.IdentityResponse, 0, len(idents)), Total: total}
	for _, ident := range idents {
		t, err := h.store.Template(ctx, ident.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Identities = append(resp.Identities, dto.NewIdentityResponse(ident, t))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, ok := identityID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ident, err := h.store.GetIdentity(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	t, err := h.store.Template(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityResponse(*ident, t))
}

func (h *IdentityHandler) Update(c *gin.Context) {
	id, ok := identityID(c)
	if !ok {
		return
	}

	var req dto.IdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ident, err := h.store.GetIdentity(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	ident.Name = req.Name
	ident.ExternalID = req.ExternalID
	ident.GroupName = req.GroupName
	if req.Metadata != nil {
		ident.Metadata = req.Metadata
	}
	if err := h.store.UpdateIdentity(ctx, ident); err != nil {
		respondError(c, err)
		return
	}

	t, err := h.store.Template(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityResponse(*ident, t))
}

// Delete removes the identity with its template, attendance and photo.
func (h *IdentityHandler) Delete(c *gin.Context) {
	id, ok := identityID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteIdentity(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Photo serves the center-pose photo captured at enrollment.
func (h *IdentityHandler) Photo(c *gin.Context) {
	id, ok := identityID(c)
	if !ok {
		return
	}
	data, err := h.store.Photo(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func identityID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return uuid.Nil, false
	}
	return id, true
}
