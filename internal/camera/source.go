package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/your-org/faceattend/internal/models"
)

const maxJPEGSize = 10 * 1024 * 1024

var errStreamEnded = errors.New("stream ended")

// Source produces encoded frames until ctx is cancelled or the feed fails.
// emit is called synchronously from Run.
type Source interface {
	Run(ctx context.Context, emit func([]byte)) error
}

// SourceFactory builds the source for a camera.
type SourceFactory func(cam models.Camera) Source

// FFmpegSource decodes RTSP, HTTP or local device video into a stream of
// JPEG frames with ffmpeg.
type FFmpegSource struct {
	URL   string
	Type  models.CameraType
	FPS   int
	Width int
}

func FFmpegFactory(width int) SourceFactory {
	return func(cam models.Camera) Source {
		return &FFmpegSource{URL: cam.URL, Type: cam.Type, FPS: cam.FPS, Width: width}
	}
}

func (s *FFmpegSource) args() []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case s.Type == models.CameraTypeDevice:
		args = append(args, "-f", "v4l2")
	case strings.HasPrefix(s.URL, "rtsp://") || strings.HasPrefix(s.URL, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	}

	return append(args,
		"-i", s.URL,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", s.FPS, s.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// Run blocks until the stream ends. A stream that ends on its own is an
// error, since cameras are expected to run forever.
func (s *FFmpegSource) Run(ctx context.Context, emit func([]byte)) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", s.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "url", s.URL, "output", scanner.Text())
		}
	}()

	frames := newJPEGReader(stdout)
	var readErr error
	for {
		frame, err := frames.Next()
		if err != nil {
			readErr = err
			break
		}
		emit(frame)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(readErr, io.EOF) {
		return fmt.Errorf("read frames: %w", readErr)
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return errStreamEnded
}

// jpegReader splits a concatenation of JPEG images on their SOI/EOI markers.
type jpegReader struct {
	r *bufio.Reader
}

func newJPEGReader(r io.Reader) *jpegReader {
	return &jpegReader{r: bufio.NewReaderSize(r, 512*1024)}
}

// Next returns the next complete image. A stream cut inside an image reports
// io.EOF like a clean end.
func (j *jpegReader) Next() ([]byte, error) {
	if err := j.skipToStart(); err != nil {
		return nil, err
	}

	data := []byte{0xFF, 0xD8}
	for {
		b, err := j.r.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		data = append(data, b)
		if b == 0xFF {
			next, err := j.r.ReadByte()
			if err != nil {
				return nil, io.EOF
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}
		if len(data) > maxJPEGSize {
			return nil, fmt.Errorf("jpeg frame larger than %d bytes", maxJPEGSize)
		}
	}
}

func (j *jpegReader) skipToStart() error {
	for {
		b, err := j.r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = j.r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}
