package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the format of AttendanceEvent.Date.
const DateLayout = "2006-01-02"

// AttendanceEvent records that an identity was seen on a calendar day.
// (IdentityID, Date) is unique.
type AttendanceEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	IdentityID uuid.UUID `json:"identity_id" db:"identity_id"`
	Date       string    `json:"date" db:"attendance_date"`
	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
	Confidence float32   `json:"confidence" db:"confidence"`
	Camera     string    `json:"camera" db:"camera"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type DetectionOutcome string

const (
	OutcomeNoFace        DetectionOutcome = "no-face"
	OutcomeLowQuality    DetectionOutcome = "low-quality"
	OutcomeMultipleFaces DetectionOutcome = "multiple-faces"
	OutcomeUnknown       DetectionOutcome = "unknown"
	OutcomeAmbiguous     DetectionOutcome = "ambiguous"
	OutcomeMatched       DetectionOutcome = "matched"
	OutcomeDuplicate     DetectionOutcome = "duplicate"
	OutcomeError         DetectionOutcome = "error"
)

// DetectionLog is a diagnostic record of one processed frame.
type DetectionLog struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	Camera        string           `json:"camera" db:"camera"`
	Outcome       DetectionOutcome `json:"outcome" db:"outcome"`
	FacesDetected int              `json:"faces_detected" db:"faces_detected"`
	IdentityID    *uuid.UUID       `json:"identity_id,omitempty" db:"identity_id"`
	Confidence    float32          `json:"confidence" db:"confidence"`
	ProcessingMS  int64            `json:"processing_ms" db:"processing_ms"`
	ErrorMessage  string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// AttendanceSummary counts who was present on one day.
type AttendanceSummary struct {
	Date     string `json:"date"`
	Present  int    `json:"present"`
	Enrolled int    `json:"enrolled"`
}
