package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceattend/internal/api"
	"github.com/your-org/faceattend/internal/api/handlers"
	"github.com/your-org/faceattend/internal/api/ws"
	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/camera"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/engine"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
	"github.com/your-org/faceattend/internal/queue"
	"github.com/your-org/faceattend/internal/recognition"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/templates"
	"github.com/your-org/faceattend/internal/vision"
	"github.com/your-org/faceattend/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceattend API service", "port", cfg.Server.Port, "database", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ready := map[string]handlers.Pinger{"database": db}
	var storeOpts []templates.Option

	// Enrollment photos are optional.
	if cfg.MinIO.Enabled() {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		storeOpts = append(storeOpts, templates.WithObjects(minioStore))
		ready["minio"] = minioStore
	} else {
		slog.Info("minio not configured, enrollment photos are not kept")
	}

	// WebSocket hub. Without NATS it is also the event publisher.
	hub := ws.NewHub()
	go hub.Run(ctx)
	var publisher engine.Publisher = hub

	var consumer *queue.Consumer
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		publisher = producer
		storeOpts = append(storeOpts, templates.WithPublisher(producer))
		ready["nats"] = producer

		consumer, err = queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		// Relay events from every process to this process's WebSocket clients.
		err = consumer.ConsumeEvents(ctx, "api-events", func(ctx context.Context, msg jetstream.Msg) error {
			var evt dto.WSEvent
			if err := json.Unmarshal(msg.Data(), &evt); err != nil {
				slog.Warn("drop malformed event", "subject", msg.Subject(), "error", err)
				return nil
			}
			if err := hub.Broadcast(evt.Camera, msg.Data()); err != nil {
				slog.Warn("ws broadcast dropped", "camera", evt.Camera, "error", err)
			}
			return nil
		})
		if err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	}

	if err := vision.InitRuntime(""); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	gateway, err := vision.NewGateway(cfg.Vision)
	if err != nil {
		slog.Error("init vision gateway", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	store := templates.NewStore(db, gateway.ModelVersion(), gateway.Dim(), storeOpts...)

	matcher := recognition.NewMatcher(store, gateway.ModelVersion(), cfg.Recognition)
	store.Subscribe(matcher.OnTemplateChange)
	if consumer != nil {
		if err := consumer.SubscribeTemplateChanges(matcher.OnTemplateChange); err != nil {
			slog.Warn("subscribe template changes", "error", err)
		}
	}
	if err := matcher.Warm(ctx); err != nil {
		slog.Warn("warm template cache", "error", err)
	}

	ledger, err := attendance.NewLedger(db, cfg.Attendance, storage.WritePolicyFrom(cfg.Database))
	if err != nil {
		slog.Error("init attendance ledger", "error", err)
		os.Exit(1)
	}

	// Session updates only matter to clients of this process, and the hub
	// never blocks the session lock the notifier runs under.
	sessions := liveness.NewManager(cfg.Liveness, storage.WritePolicyFrom(cfg.Database), gateway, store,
		liveness.WithNotifier(func(s liveness.Snapshot) {
			resp := dto.NewSessionResponse(s)
			evt := &dto.WSEvent{Type: dto.WSSessionUpdated, Camera: s.Camera, Session: &resp}
			if err := hub.PublishEvent(ctx, s.Camera, evt); err != nil {
				slog.Warn("publish session update", "session_id", s.ID, "error", err)
			}
		}),
	)

	recognizer := engine.NewRecognizer(gateway, matcher, ledger, cfg.Recognition.MinQuality,
		engine.WithPublisher(publisher),
		engine.WithDetectionLog(db),
	)

	controller := camera.NewController(cfg.Camera, engine.NewDispatcher(sessions, recognizer),
		camera.FFmpegFactory(cfg.Camera.FrameWidth),
		camera.WithStatusRecorder(db),
		camera.WithStatusListener(func(cam models.Camera) {
			evt := &dto.WSEvent{Type: dto.WSCameraStatus, Camera: cam.Name, Status: string(cam.Status)}
			if err := hub.PublishEvent(ctx, cam.Name, evt); err != nil {
				slog.Debug("publish camera status", "camera", cam.Name, "error", err)
			}
		}),
	)
	startCameras(ctx, controller, cfg.Cameras)

	router := api.NewRouter(api.RouterConfig{
		APIKeys:    cfg.Server.APIKeys,
		Store:      db,
		Templates:  store,
		Sessions:   sessions,
		Recognizer: recognizer,
		Ledger:     ledger,
		Cameras:    controller,
		Hub:        hub,
		Ready:      ready,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	controller.StopAll()
	cancel()

	slog.Info("API server stopped")
}

func startCameras(ctx context.Context, controller *camera.Controller, sources []config.CameraSource) {
	for _, src := range sources {
		cam := models.Camera{
			Name: src.Name,
			URL:  src.URL,
			Type: models.CameraType(src.Type),
			FPS:  src.FPS,
		}
		if err := controller.Start(ctx, cam); err != nil {
			slog.Error("start camera", "camera", src.Name, "error", err)
		}
	}
}
