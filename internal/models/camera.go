package models

import "time"

type CameraType string

const (
	CameraTypeRTSP   CameraType = "rtsp"
	CameraTypeHTTP   CameraType = "http"
	CameraTypeDevice CameraType = "device"
)

type CameraStatus string

const (
	CameraStatusStopped      CameraStatus = "stopped"
	CameraStatusRunning      CameraStatus = "running"
	CameraStatusReconnecting CameraStatus = "reconnecting"
	CameraStatusDown         CameraStatus = "down"
)

type Camera struct {
	Name         string       `json:"name" db:"name"`
	URL          string       `json:"url" db:"url"`
	Type         CameraType   `json:"type" db:"source_type"`
	FPS          int          `json:"fps" db:"fps"`
	Status       CameraStatus `json:"status" db:"status"`
	ErrorMessage string       `json:"error_message,omitempty" db:"error_message"`
	LastFrameAt  *time.Time   `json:"last_frame_at,omitempty" db:"last_frame_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}
