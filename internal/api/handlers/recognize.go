package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/engine"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/pkg/dto"
)

const uploadCamera = "upload"

type RecognizeHandler struct {
	recognizer *engine.Recognizer
}

func NewRecognizeHandler(recognizer *engine.Recognizer) *RecognizeHandler {
	return &RecognizeHandler{recognizer: recognizer}
}

// Recognize identifies the person in an uploaded frame and marks their
// attendance. Frames without a confident match still return 200.
func (h *RecognizeHandler) Recognize(c *gin.Context) {
	data, req, err := readFrame(c)
	if err != nil {
		respondError(c, err)
		return
	}

	cam := req.Camera
	if cam == "" {
		cam = uploadCamera
	}
	frame := inference.Frame{Data: data, Camera: cam, CapturedAt: time.Now()}

	rec, err := h.recognizer.RecognizeFrame(c.Request.Context(), cam, frame)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.RecognizeResponse{
		Camera:           rec.Camera,
		Outcome:          string(rec.Outcome),
		IdentityID:       rec.IdentityID,
		Confidence:       rec.Confidence,
		AttendanceMarked: rec.AttendanceMarked,
		FacesDetected:    rec.FacesDetected,
	}
	if rec.Event != nil {
		ev := dto.NewAttendanceResponse(*rec.Event)
		resp.Attendance = &ev
	}
	c.JSON(http.StatusOK, resp)
}
