package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

const TimeLayout = "2006-01-02T15:04:05Z07:00"

type IdentityRequest struct {
	Name       string          `json:"name" binding:"required"`
	ExternalID string          `json:"external_id"`
	GroupName  string          `json:"group_name"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type IdentityResponse struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	ExternalID string          `json:"external_id,omitempty"`
	GroupName  string          `json:"group_name,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Template   *TemplateInfo   `json:"template,omitempty"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// TemplateInfo describes an identity's template without the embedding.
type TemplateInfo struct {
	ModelVersion  string     `json:"model_version"`
	Quality       float32    `json:"quality"`
	LivenessScore float32    `json:"liveness_score"`
	SessionID     *uuid.UUID `json:"session_id,omitempty"`
	HasPhoto      bool       `json:"has_photo"`
	CreatedAt     string     `json:"created_at"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
}

type IdentityQuery struct {
	Search string `form:"search"`
	Group  string `form:"group"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}
