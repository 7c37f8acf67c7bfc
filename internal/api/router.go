package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceattend/internal/api/handlers"
	"github.com/your-org/faceattend/internal/api/ws"
	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/auth"
	"github.com/your-org/faceattend/internal/camera"
	"github.com/your-org/faceattend/internal/engine"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/templates"
)

type RouterConfig struct {
	APIKeys    []string
	Store      storage.Store
	Templates  *templates.Store
	Sessions   *liveness.Manager
	Recognizer *engine.Recognizer
	Ledger     *attendance.Ledger
	// Cameras may be nil when this process does not own camera feeds.
	Cameras *camera.Controller
	Hub     *ws.Hub
	// Ready lists the dependencies checked by /readyz.
	Ready map[string]handlers.Pinger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-API-Key", requestIDHeader},
		ExposeHeaders:   []string{requestIDHeader},
		MaxAge:          12 * time.Hour,
	}))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Ready)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Enrollment
	sessionH := handlers.NewSessionHandler(cfg.Sessions)
	v1.POST("/sessions", sessionH.Create)
	v1.GET("/sessions/:id", sessionH.Get)
	v1.DELETE("/sessions/:id", sessionH.Abandon)
	v1.POST("/sessions/:id/frames", sessionH.SubmitFrame)

	// Recognition
	recognizeH := handlers.NewRecognizeHandler(cfg.Recognizer)
	v1.POST("/recognize", recognizeH.Recognize)

	// Identities
	identityH := handlers.NewIdentityHandler(cfg.Templates)
	v1.POST("/identities", identityH.Create)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)
	v1.PUT("/identities/:id", identityH.Update)
	v1.DELETE("/identities/:id", identityH.Delete)
	v1.GET("/identities/:id/photo", identityH.Photo)

	// Attendance
	attendanceH := handlers.NewAttendanceHandler(cfg.Ledger, cfg.Store, cfg.Store)
	v1.GET("/attendance", attendanceH.List)
	v1.GET("/attendance/summary", attendanceH.Summary)
	v1.GET("/attendance/export", attendanceH.Export)
	v1.GET("/attendance/:id", attendanceH.Get)
	v1.DELETE("/attendance/:id", attendanceH.Delete)
	v1.GET("/detections", attendanceH.Detections)

	// Cameras
	if cfg.Cameras != nil {
		cameraH := handlers.NewCameraHandler(cfg.Cameras, cfg.Store)
		v1.GET("/cameras", cameraH.List)
		v1.POST("/cameras/:name/start", cameraH.Start)
		v1.POST("/cameras/:name/stop", cameraH.Stop)
	}

	return r
}
