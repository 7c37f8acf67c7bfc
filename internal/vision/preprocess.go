package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/your-org/faceattend/internal/inference"
)

// decodeImage accepts JPEG or PNG bytes.
func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame: %w", inference.ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %v: %w", err, inference.ErrInvalidImage)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("zero-sized image: %w", inference.ErrInvalidImage)
	}
	return img, nil
}

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW resizes img and lays it out as normalized CHW floats:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			idx := y*w + x
			data[0*h*w+idx] = (float32(r>>8) - mean[0]) / std[0]
			data[1*h*w+idx] = (float32(g>>8) - mean[1]) / std[1]
			data[2*h*w+idx] = (float32(b>>8) - mean[2]) / std[2]
		}
	}
	return data
}

// resizeImage is a nearest-neighbour resize.
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			dst.Set(x, y, img.At(bounds.Min.X+x*srcW/targetW, bounds.Min.Y+y*srcH/targetH))
		}
	}
	return dst
}

// cropFace cuts the box out of img with 10% padding on each side. It returns
// nil when the box does not overlap the image.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()
	rect := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(bounds)
	if rect.Empty() {
		return nil
	}

	padW := rect.Dx() / 10
	padH := rect.Dy() / 10
	rect = image.Rect(rect.Min.X-padW, rect.Min.Y-padH, rect.Max.X+padW, rect.Max.Y+padH).Intersect(bounds)

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			crop.Set(x-rect.Min.X, y-rect.Min.Y, img.At(x, y))
		}
	}
	return crop
}
