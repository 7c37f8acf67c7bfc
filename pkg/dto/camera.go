package dto

type StartCameraRequest struct {
	URL  string `json:"url" binding:"required"`
	Type string `json:"type" binding:"required,oneof=rtsp http device"`
	FPS  int    `json:"fps"`
}

type CameraResponse struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Type         string `json:"type"`
	FPS          int    `json:"fps"`
	Status       string `json:"status"`
	Running      bool   `json:"running"`
	ErrorMessage string `json:"error_message,omitempty"`
	LastFrameAt  string `json:"last_frame_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type CameraListResponse struct {
	Cameras []CameraResponse `json:"cameras"`
	Total   int              `json:"total"`
}
