package vision

import (
	"fmt"
	"image"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found by the detector, in source image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	// Landmarks are the eyes, nose tip and mouth corners, in that order. The
	// first eye and mouth corner are the ones on the image's left.
	Landmarks [5][2]float32
}

// Detector runs the RetinaFace det_10g model.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsThreshold     = 0.4
)

// NewDetector loads the detection model. opts may be nil for ORT defaults.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Outputs carry no batch dimension. Anchor counts per stride are
	// (640/s)^2 * 2: 12800, 3200 and 800.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect finds faces in img. The caller serializes calls; the detector owns
// a single set of tensors.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	copy(d.inputTensor.GetData(), preprocessForDetection(img, d.inputW, d.inputH))

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	raw := make([][]float32, len(d.outputTensors))
	for i, t := range d.outputTensors {
		raw[i] = t.GetData()
	}
	dets := decodeDetections(raw, d.inputW, d.inputH, bounds.Dx(), bounds.Dy(), d.threshold)
	return nms(dets, nmsThreshold), nil
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// decodeDetections turns the anchor-based outputs (scores, boxes, landmarks,
// each per stride) into detections scaled to an origW x origH image.
func decodeDetections(outputs [][]float32, inputW, inputH, origW, origH int, threshold float32) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(inputW)
	scaleH := float32(origH) / float32(inputH)

	for si, stride := range strides {
		scores := outputs[si]
		bboxes := outputs[si+len(strides)]
		landmarks := outputs[si+2*len(strides)]
		st := float32(stride)

		idx := 0
		for cy := 0; cy < inputH/stride; cy++ {
			for cx := 0; cx < inputW/stride; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if idx >= len(scores) {
						break
					}
					score := scores[idx]
					if score < threshold {
						idx++
						continue
					}

					anchorX := float32(cx) * st
					anchorY := float32(cy) * st

					x1 := clampF((anchorX-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
					y1 := clampF((anchorY-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
					x2 := clampF((anchorX+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
					y2 := clampF((anchorY+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))

					var lm [5][2]float32
					for li := 0; li < 5; li++ {
						lm[li][0] = (anchorX + landmarks[idx*10+li*2]*st) * scaleW
						lm[li][1] = (anchorY + landmarks[idx*10+li*2+1]*st) * scaleH
					}

					detections = append(detections, Detection{
						BBox:       [4]float32{x1, y1, x2, y2},
						Confidence: score,
						Landmarks:  lm,
					})
					idx++
				}
			}
		}
	}

	return detections
}

// estimateYaw derives head yaw in degrees from the landmarks: how far the
// nose sits from the eye midpoint, relative to half the eye distance. A
// positive image-space offset means the subject turned to their left, which
// is reported as negative yaw.
func estimateYaw(lm [5][2]float32) float64 {
	leftEye, rightEye, nose := lm[0], lm[1], lm[2]
	half := math.Abs(float64(rightEye[0]-leftEye[0])) / 2
	if half == 0 {
		return 0
	}
	midX := float64(leftEye[0]+rightEye[0]) / 2
	ratio := (float64(nose[0]) - midX) / half
	ratio = math.Max(-1, math.Min(1, ratio))
	return -math.Asin(ratio) * 180 / math.Pi
}

// nms performs non-maximum suppression, highest confidence first.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
