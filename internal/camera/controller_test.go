package camera

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/models"
)

type scriptedSource struct {
	mu        sync.Mutex
	runs      int
	failFirst int
	frames    int
}

func (s *scriptedSource) Run(ctx context.Context, emit func([]byte)) error {
	s.mu.Lock()
	s.runs++
	run := s.runs
	s.mu.Unlock()

	if run <= s.failFirst {
		return errors.New("connection refused")
	}
	for i := 0; i < s.frames; i++ {
		emit([]byte{0xFF, 0xD8, byte(i), 0xFF, 0xD9})
		time.Sleep(2 * time.Millisecond)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *scriptedSource) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type handlerFunc func(ctx context.Context, frame inference.Frame) error

func (f handlerFunc) HandleFrame(ctx context.Context, frame inference.Frame) error {
	return f(ctx, frame)
}

type statusLog struct {
	mu       sync.Mutex
	statuses []models.CameraStatus
}

func (l *statusLog) record(c models.Camera) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, c.Status)
}

func (l *statusLog) has(s models.CameraStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.statuses {
		if got == s {
			return true
		}
	}
	return false
}

func testCameraConfig() config.CameraConfig {
	return config.CameraConfig{
		QueueSize:    2,
		FrameTimeout: time.Second,
		BackoffBase:  time.Millisecond,
		BackoffMax:   4 * time.Millisecond,
		MaxRetries:   2,
		DefaultFPS:   100,
	}
}

func TestFrameQueueDropsOldest(t *testing.T) {
	q := newFrameQueue(2)
	require.False(t, q.Push(inference.Frame{Camera: "1"}))
	require.False(t, q.Push(inference.Frame{Camera: "2"}))
	require.True(t, q.Push(inference.Frame{Camera: "3"}))
	require.Equal(t, 2, q.Len())

	ctx := context.Background()
	f, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", f.Camera)
	f, err = q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "3", f.Camera)
}

func TestFrameQueuePopHonoursContext(t *testing.T) {
	q := newFrameQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoff(t *testing.T) {
	base, max := time.Second, 30*time.Second
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		require.Equal(t, w*time.Second, backoff(base, max, i+1), "failure %d", i+1)
	}
	require.Equal(t, max, backoff(base, max, 100))
}

func TestControllerReconnectsAndReportsDown(t *testing.T) {
	src := &scriptedSource{failFirst: 4, frames: 3}
	var handled atomic.Int32
	handler := handlerFunc(func(context.Context, inference.Frame) error {
		handled.Add(1)
		return nil
	})
	statuses := &statusLog{}

	c := NewController(testCameraConfig(), handler, func(models.Camera) Source { return src },
		WithStatusListener(statuses.record))
	require.NoError(t, c.Start(context.Background(), models.Camera{Name: "gate", URL: "rtsp://cam/1"}))
	t.Cleanup(c.StopAll)

	require.Eventually(t, func() bool { return handled.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 5, src.Runs())
	require.True(t, statuses.has(models.CameraStatusReconnecting))
	require.True(t, statuses.has(models.CameraStatusDown), "more failures than max_retries mark the camera down")

	cam, ok := c.Status("gate")
	require.True(t, ok)
	require.Equal(t, models.CameraStatusRunning, cam.Status)
	require.NotNil(t, cam.LastFrameAt)
}

func TestControllerStartStop(t *testing.T) {
	src := &scriptedSource{}
	c := NewController(testCameraConfig(), handlerFunc(func(context.Context, inference.Frame) error { return nil }),
		func(models.Camera) Source { return src })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx, models.Camera{Name: "hall", URL: "http://cam/2", Type: models.CameraTypeHTTP}))
	require.ErrorIs(t, c.Start(ctx, models.Camera{Name: "hall", URL: "http://cam/2"}), ErrAlreadyRunning)
	require.ErrorIs(t, c.Start(ctx, models.Camera{Name: "nourl"}), ErrInvalidCamera)
	require.Equal(t, []string{"hall"}, c.Running())

	c.Stop("hall")
	require.False(t, c.IsRunning("hall"))
	cam, ok := c.Status("hall")
	require.True(t, ok)
	require.Equal(t, models.CameraStatusStopped, cam.Status)

	c.Stop("hall")
}

func TestControllerDropsTimedOutFrames(t *testing.T) {
	cfg := testCameraConfig()
	cfg.FrameTimeout = 20 * time.Millisecond

	var inFlight, maxInFlight, timedOut atomic.Int32
	handler := handlerFunc(func(ctx context.Context, _ inference.Frame) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		<-ctx.Done()
		timedOut.Add(1)
		return ctx.Err()
	})

	src := &scriptedSource{frames: 10}
	c := NewController(cfg, handler, func(models.Camera) Source { return src })
	require.NoError(t, c.Start(context.Background(), models.Camera{Name: "slow", URL: "rtsp://cam/3"}))

	require.Eventually(t, func() bool { return timedOut.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	c.Stop("slow")
	require.Equal(t, int32(1), maxInFlight.Load(), "frames of one camera never overlap")
}

func TestJPEGReaderSplitsStream(t *testing.T) {
	first := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	stream := append([]byte{0x00, 0x13}, first...)
	stream = append(stream, second...)
	stream = append(stream, 0xFF, 0xD8, 0x04) // truncated

	r := newJPEGReader(bytes.NewReader(stream))
	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, first, got)
	got, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, second, got)
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestFFmpegArgs(t *testing.T) {
	rtsp := (&FFmpegSource{URL: "rtsp://cam/1", FPS: 5, Width: 640}).args()
	require.Contains(t, rtsp, "-rtsp_transport")
	require.Contains(t, rtsp, "fps=5,scale=640:-1")

	dev := (&FFmpegSource{URL: "/dev/video0", Type: models.CameraTypeDevice, FPS: 2, Width: 320}).args()
	require.Contains(t, dev, "v4l2")
	require.NotContains(t, dev, "-rtsp_transport")
}
