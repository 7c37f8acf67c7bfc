package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/pkg/dto"
)

type DetectionLister interface {
	ListDetectionLogs(ctx context.Context, f storage.DetectionFilter) ([]models.DetectionLog, int, error)
}

// IdentityGetter resolves the names printed in exports.
type IdentityGetter interface {
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
}

type AttendanceHandler struct {
	ledger *attendance.Ledger
	logs   DetectionLister
	idents IdentityGetter
}

func NewAttendanceHandler(ledger *attendance.Ledger, logs DetectionLister, idents IdentityGetter) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger, logs: logs, idents: idents}
}

// bindAttendanceFilter writes a 400 and returns false when the query is bad.
func bindAttendanceFilter(c *gin.Context) (dto.AttendanceQuery, storage.AttendanceFilter, bool) {
	var q dto.AttendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return q, storage.AttendanceFilter{}, false
	}

	f := storage.AttendanceFilter{From: q.From, To: q.To, Camera: q.Camera, Limit: q.Limit, Offset: q.Offset}
	for _, d := range []string{q.From, q.To} {
		if _, err := time.Parse(models.DateLayout, d); d != "" && err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dates must be YYYY-MM-DD"})
			return q, f, false
		}
	}
	if q.IdentityID != "" {
		id, err := uuid.Parse(q.IdentityID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity_id"})
			return q, f, false
		}
		f.IdentityID = &id
	}
	return q, f, true
}

func (h *AttendanceHandler) List(c *gin.Context) {
	_, f, ok := bindAttendanceFilter(c)
	if !ok {
		return
	}

	events, total, err := h.ledger.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.AttendanceListResponse{Events: make([]dto.AttendanceResponse, 0, len(events)), Total: total}
	for _, ev := range events {
		resp.Events = append(resp.Events, dto.NewAttendanceResponse(ev))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AttendanceHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attendance id"})
		return
	}

	ev, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAttendanceResponse(ev))
}

// Delete removes a mistaken event; the identity can be marked again that day.
func (h *AttendanceHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attendance id"})
		return
	}

	if err := h.ledger.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

var exportHeader = []string{"name", "roll_number", "date", "time", "confidence", "camera"}

// Export streams every event matching the list filters as CSV, ignoring
// limit and offset.
func (h *AttendanceHandler) Export(c *gin.Context) {
	q, f, ok := bindAttendanceFilter(c)
	if !ok {
		return
	}
	if q.Format != "" && q.Format != "csv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported export format %q", q.Format)})
		return
	}

	ctx := c.Request.Context()
	// Identity rows are fetched once per export, deleted ones print blank.
	names := map[uuid.UUID]*models.Identity{}
	lookup := func(id uuid.UUID) (*models.Identity, error) {
		if ident, ok := names[id]; ok {
			return ident, nil
		}
		ident, err := h.idents.GetIdentity(ctx, id)
		if err != nil {
			return nil, err
		}
		if ident == nil {
			ident = &models.Identity{}
		}
		names[id] = ident
		return ident, nil
	}

	// Rows are buffered so a failed query still gets a JSON error.
	var rows [][]string
	err := h.ledger.Each(ctx, f, func(ev models.AttendanceEvent) error {
		ident, err := lookup(ev.IdentityID)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			ident.Name,
			ident.ExternalID,
			ev.Date,
			h.ledger.Local(ev.DetectedAt).Format("15:04:05"),
			strconv.FormatFloat(float64(ev.Confidence), 'f', 4, 32),
			ev.Camera,
		})
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
	c.Status(http.StatusOK)
	w := csv.NewWriter(c.Writer)
	_ = w.Write(exportHeader)
	_ = w.WriteAll(rows)
	if err := w.Error(); err != nil {
		slog.Warn("write attendance export", "error", err)
	}
}

// Summary reports present versus enrolled for ?date=, today by default.
func (h *AttendanceHandler) Summary(c *gin.Context) {
	summary, err := h.ledger.Summary(c.Request.Context(), c.Query("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *AttendanceHandler) Detections(c *gin.Context) {
	var q dto.DetectionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f := storage.DetectionFilter{Camera: q.Camera, Outcome: q.Outcome, Limit: q.Limit, Offset: q.Offset}
	if q.Since != "" {
		since, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		f.Since = &since
	}

	logs, total, err := h.logs.ListDetectionLogs(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.DetectionLogListResponse{Detections: make([]dto.DetectionLogResponse, 0, len(logs)), Total: total}
	for _, l := range logs {
		resp.Detections = append(resp.Detections, dto.NewDetectionLogResponse(l))
	}
	c.JSON(http.StatusOK, resp)
}
