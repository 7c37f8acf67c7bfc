// Package vision is the ONNX Runtime implementation of inference.Gateway:
// RetinaFace detection plus ArcFace embeddings.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/observability"
)

// maxEmbeddedFaces bounds embedding work per frame. Smaller faces are still
// reported, without an embedding, so multi-face checks see them.
const maxEmbeddedFaces = 4

// InitRuntime loads the ONNX Runtime shared library. Call it once per process
// before NewGateway and pair it with ort.DestroyEnvironment.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = LibraryPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}

// LibraryPath returns the ONNX Runtime shared library name for this OS.
func LibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}

type Gateway struct {
	cfg config.VisionConfig

	// ORT sessions reuse their tensors, so inference runs one frame at a time.
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

func NewGateway(cfg config.VisionConfig) (*Gateway, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath, "dim", cfg.EmbeddingDim)
	emb, err := NewEmbedder(embPath, cfg.EmbeddingDim, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("vision gateway ready", "model_version", cfg.ModelVersion)
	return &Gateway{cfg: cfg, detector: det, embedder: emb}, nil
}

func (g *Gateway) ModelVersion() string { return g.cfg.ModelVersion }

func (g *Gateway) Dim() int { return g.cfg.EmbeddingDim }

// Detect decodes the frame and returns every face with its yaw, quality and,
// for the largest few, an embedding. Quality is the detector confidence.
func (g *Gateway) Detect(ctx context.Context, frame inference.Frame) ([]inference.Face, error) {
	img, err := decodeImage(frame.Data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	dets, err := g.detector.Detect(img)
	observability.InferenceDuration.WithLabelValues("detection").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	faces := toFaces(dets, g.cfg.MirrorYaw)

	start = time.Now()
	for i := range faces {
		if i >= maxEmbeddedFaces {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop := cropFace(img, faces[i].BBox)
		if crop == nil {
			continue
		}
		emb, err := g.embedder.Extract(crop)
		if err != nil {
			return nil, err
		}
		faces[i].Embedding = emb
	}
	observability.InferenceDuration.WithLabelValues("embedding").Observe(time.Since(start).Seconds())

	return faces, nil
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.detector != nil {
		g.detector.Close()
	}
	if g.embedder != nil {
		g.embedder.Close()
	}
}

// toFaces converts detections to faces ordered largest first.
func toFaces(dets []Detection, mirror bool) []inference.Face {
	faces := make([]inference.Face, 0, len(dets))
	for _, d := range dets {
		yaw := estimateYaw(d.Landmarks)
		if mirror {
			yaw = -yaw
		}
		faces = append(faces, inference.Face{
			BBox:    d.BBox,
			Yaw:     yaw,
			Quality: float64(d.Confidence),
		})
	}
	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Area() > faces[j].Area()
	})
	return faces
}
