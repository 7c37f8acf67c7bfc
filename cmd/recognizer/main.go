package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/camera"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/engine"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
	"github.com/your-org/faceattend/internal/queue"
	"github.com/your-org/faceattend/internal/recognition"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/templates"
	"github.com/your-org/faceattend/internal/vision"
)

// The recognizer owns the configured camera feeds without serving the API.
// Attendance events go out over NATS, where API instances relay them to
// their WebSocket clients.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8082", "metrics and health listen address")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceattend recognizer", "cameras", len(cfg.Cameras))

	if cfg.NATS.URL == "" {
		slog.Error("recognizer requires nats.url")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vision.InitRuntime(""); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	gateway, err := vision.NewGateway(cfg.Vision)
	if err != nil {
		slog.Error("init vision gateway", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	// Read-only here; enrollment happens in the API process.
	store := templates.NewStore(db, gateway.ModelVersion(), gateway.Dim())
	matcher := recognition.NewMatcher(store, gateway.ModelVersion(), cfg.Recognition)
	if err := consumer.SubscribeTemplateChanges(matcher.OnTemplateChange); err != nil {
		slog.Warn("subscribe template changes", "error", err)
	}
	if err := matcher.Warm(ctx); err != nil {
		slog.Warn("warm template cache", "error", err)
	}

	ledger, err := attendance.NewLedger(db, cfg.Attendance, storage.WritePolicyFrom(cfg.Database))
	if err != nil {
		slog.Error("init attendance ledger", "error", err)
		os.Exit(1)
	}

	recognizer := engine.NewRecognizer(gateway, matcher, ledger, cfg.Recognition.MinQuality,
		engine.WithPublisher(producer),
		engine.WithDetectionLog(db),
	)

	controller := camera.NewController(cfg.Camera, engine.NewDispatcher(nil, recognizer),
		camera.FFmpegFactory(cfg.Camera.FrameWidth),
		camera.WithStatusRecorder(db),
	)
	for _, src := range cfg.Cameras {
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

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("recognizer metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down recognizer...")
	controller.StopAll()
	cancel()
	time.Sleep(500 * time.Millisecond)
	slog.Info("recognizer stopped")
}
