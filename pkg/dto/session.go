package dto

import "github.com/google/uuid"

type CreateSessionRequest struct {
	// IdentityID re-enrolls an existing identity; otherwise Profile describes
	// the identity created on completion.
	IdentityID *uuid.UUID       `json:"identity_id,omitempty"`
	Profile    *IdentityRequest `json:"profile,omitempty"`
	Camera     string           `json:"camera,omitempty"`
}

type SessionResponse struct {
	ID                uuid.UUID  `json:"id"`
	State             string     `json:"state"`
	Reason            string     `json:"reason,omitempty"`
	Guidance          string     `json:"guidance"`
	Camera            string     `json:"camera,omitempty"`
	IdentityID        *uuid.UUID `json:"identity_id,omitempty"`
	CompletedIdentity *uuid.UUID `json:"completed_identity,omitempty"`
	Captured          []string   `json:"captured"`
	Discards          int        `json:"discards"`
	Confidence        *float64   `json:"confidence,omitempty"`
	CreatedAt         string     `json:"created_at"`
	ExpiresAt         string     `json:"expires_at"`
}

// FrameRequest carries a base64 frame, optionally as a data URL, when the
// frame is not sent as a multipart "image" file.
type FrameRequest struct {
	FrameData string `json:"frame_data" form:"frame_data"`
	Pose      string `json:"pose" form:"pose"`
	Camera    string `json:"camera" form:"camera"`
}

type FrameResponse struct {
	Session  SessionResponse `json:"session"`
	Accepted bool            `json:"accepted"`
	Pose     string          `json:"pose,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Guidance string          `json:"guidance"`
}
