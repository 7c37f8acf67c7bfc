package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Identity is an enrolled person. ID never changes after creation.
type Identity struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Name       string          `json:"name" db:"name"`
	ExternalID string          `json:"external_id,omitempty" db:"external_id"` // roll number, employee id
	GroupName  string          `json:"group_name,omitempty" db:"group_name"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// Template is the single canonical embedding of an identity.
type Template struct {
	IdentityID    uuid.UUID  `json:"identity_id" db:"identity_id"`
	Embedding     []float32  `json:"-" db:"embedding"`
	ModelVersion  string     `json:"model_version" db:"model_version"`
	Quality       float32    `json:"quality" db:"quality"`
	LivenessScore float32    `json:"liveness_score" db:"liveness_score"`
	SessionID     *uuid.UUID `json:"session_id,omitempty" db:"session_id"`
	PhotoKey      string     `json:"photo_key,omitempty" db:"photo_key"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

type TemplateAction string

const (
	TemplateUpserted TemplateAction = "upserted"
	TemplateDeleted  TemplateAction = "deleted"
)

// TemplateChange is broadcast after every template write.
type TemplateChange struct {
	IdentityID uuid.UUID      `json:"identity_id"`
	Action     TemplateAction `json:"action"`
	At         time.Time      `json:"at"`
}
