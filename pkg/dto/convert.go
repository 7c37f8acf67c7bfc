package dto

import (
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/models"
)

func NewAttendanceResponse(ev models.AttendanceEvent) AttendanceResponse {
	return AttendanceResponse{
		ID:         ev.ID,
		IdentityID: ev.IdentityID,
		Date:       ev.Date,
		DetectedAt: ev.DetectedAt.Format(TimeLayout),
		Confidence: ev.Confidence,
		Camera:     ev.Camera,
	}
}

func NewIdentityResponse(id models.Identity, t *models.Template) IdentityResponse {
	resp := IdentityResponse{
		ID:         id.ID,
		Name:       id.Name,
		ExternalID: id.ExternalID,
		GroupName:  id.GroupName,
		Metadata:   id.Metadata,
		CreatedAt:  id.CreatedAt.Format(TimeLayout),
		UpdatedAt:  id.UpdatedAt.Format(TimeLayout),
	}
	if t != nil {
		resp.Template = &TemplateInfo{
			ModelVersion:  t.ModelVersion,
			Quality:       t.Quality,
			LivenessScore: t.LivenessScore,
			SessionID:     t.SessionID,
			HasPhoto:      t.PhotoKey != "",
			CreatedAt:     t.CreatedAt.Format(TimeLayout),
		}
	}
	return resp
}

func NewDetectionLogResponse(l models.DetectionLog) DetectionLogResponse {
	return DetectionLogResponse{
		ID:            l.ID,
		Camera:        l.Camera,
		Outcome:       string(l.Outcome),
		FacesDetected: l.FacesDetected,
		IdentityID:    l.IdentityID,
		Confidence:    l.Confidence,
		ProcessingMS:  l.ProcessingMS,
		ErrorMessage:  l.ErrorMessage,
		CreatedAt:     l.CreatedAt.Format(TimeLayout),
	}
}

func NewCameraResponse(c models.Camera, running bool) CameraResponse {
	resp := CameraResponse{
		Name:         c.Name,
		URL:          c.URL,
		Type:         string(c.Type),
		FPS:          c.FPS,
		Status:       string(c.Status),
		Running:      running,
		ErrorMessage: c.ErrorMessage,
	}
	if c.LastFrameAt != nil {
		resp.LastFrameAt = c.LastFrameAt.Format(TimeLayout)
	}
	if !c.UpdatedAt.IsZero() {
		resp.UpdatedAt = c.UpdatedAt.Format(TimeLayout)
	}
	return resp
}

func NewSessionResponse(s liveness.Snapshot) SessionResponse {
	resp := SessionResponse{
		ID:                s.ID,
		State:             string(s.State),
		Reason:            string(s.Reason),
		Guidance:          liveness.Guidance(s.State, s.Reason),
		Camera:            s.Camera,
		IdentityID:        s.IdentityID,
		CompletedIdentity: s.CompletedIdentity,
		Captured:          make([]string, 0, len(s.Captured)),
		Discards:          s.Discards,
		CreatedAt:         s.CreatedAt.Format(TimeLayout),
		ExpiresAt:         s.ExpiresAt.Format(TimeLayout),
	}
	for _, p := range s.Captured {
		resp.Captured = append(resp.Captured, string(p))
	}
	if s.Verdict != nil {
		conf := s.Verdict.Confidence
		resp.Confidence = &conf
	}
	return resp
}

func NewFrameResponse(r liveness.Result) FrameResponse {
	return FrameResponse{
		Session:  NewSessionResponse(r.Session),
		Accepted: r.Accepted,
		Pose:     string(r.Pose),
		Reason:   string(r.Reason),
		Guidance: r.Guidance,
	}
}
