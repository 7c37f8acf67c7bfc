package dto

import "github.com/google/uuid"

type RecognizeResponse struct {
	Camera           string              `json:"camera"`
	Outcome          string              `json:"outcome"`
	IdentityID       *uuid.UUID          `json:"identity_id,omitempty"`
	Confidence       float64             `json:"confidence"`
	AttendanceMarked bool                `json:"attendance_marked"`
	FacesDetected    int                 `json:"faces_detected"`
	Attendance       *AttendanceResponse `json:"attendance,omitempty"`
}

type AttendanceResponse struct {
	ID         uuid.UUID `json:"id"`
	IdentityID uuid.UUID `json:"identity_id"`
	Date       string    `json:"date"`
	DetectedAt string    `json:"detected_at"`
	Confidence float32   `json:"confidence"`
	Camera     string    `json:"camera"`
}

type AttendanceListResponse struct {
	Events []AttendanceResponse `json:"events"`
	Total  int                  `json:"total"`
}

type AttendanceQuery struct {
	From       string `form:"from"`
	To         string `form:"to"`
	IdentityID string `form:"identity_id"`
	Camera     string `form:"camera"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
	// Format applies to the export only.
	Format string `form:"format"`
}

type DetectionLogResponse struct {
	ID            uuid.UUID  `json:"id"`
	Camera        string     `json:"camera"`
	Outcome       string     `json:"outcome"`
	FacesDetected int        `json:"faces_detected"`
	IdentityID    *uuid.UUID `json:"identity_id,omitempty"`
	Confidence    float32    `json:"confidence"`
	ProcessingMS  int64      `json:"processing_ms"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     string     `json:"created_at"`
}

type DetectionLogListResponse struct {
	Detections []DetectionLogResponse `json:"detections"`
	Total      int                    `json:"total"`
}

type DetectionQuery struct {
	Camera  string `form:"camera"`
	Outcome string `form:"outcome"`
	Since   string `form:"since"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

const (
	WSAttendanceMarked = "attendance_marked"
	WSSessionUpdated   = "session_updated"
	WSCameraStatus     = "camera_status"
)

// WSEvent is a WebSocket message for real-time delivery. Exactly one of
// Attendance, Session and Status is set, according to Type.
type WSEvent struct {
	Type       string              `json:"type"`
	Camera     string              `json:"camera,omitempty"`
	Attendance *AttendanceResponse `json:"attendance,omitempty"`
	Session    *SessionResponse    `json:"session,omitempty"`
	Status     string              `json:"status,omitempty"`
}
