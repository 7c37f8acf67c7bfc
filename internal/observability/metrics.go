package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "faceattend"

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Total number of camera frames handed to a pipeline",
	}, []string{"camera"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames dropped before or during processing",
	}, []string{"camera", "reason"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_detected_total",
		Help:      "Total number of faces returned by the inference gateway",
	}, []string{"camera"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recognitions_total",
		Help:      "Recognition attempts by outcome",
	}, []string{"outcome"})

	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attendance_marked_total",
		Help:      "Attendance events created per camera",
	}, []string{"camera"})

	SessionFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_frames_total",
		Help:      "Frames submitted to liveness sessions by result",
	}, []string{"result"})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_finished_total",
		Help:      "Liveness sessions reaching a terminal state",
	}, []string{"state", "reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Liveness sessions not yet in a terminal state",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	TemplateCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "template_cache_size",
		Help:      "Templates held by the recognition matcher snapshot",
	})

	TemplateCacheReloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "template_cache_reloads_total",
		Help:      "Number of matcher snapshot reloads",
	})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_cameras",
		Help:      "Number of camera feeds currently managed",
	})

	CameraUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "camera_up",
		Help:      "1 when the camera is delivering frames, 0 when reconnecting or down",
	}, []string{"camera"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
