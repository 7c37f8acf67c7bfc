// Package camera runs the per-camera feed: acquisition with reconnect
// backoff, a bounded drop-oldest frame queue, and sequential frame handling
// under a per-frame timeout.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
)

var (
	ErrAlreadyRunning = errors.New("camera already running")
	ErrInvalidCamera  = errors.New("invalid camera")
)

// Handler processes one frame. It must return once ctx is done.
type Handler interface {
	HandleFrame(ctx context.Context, frame inference.Frame) error
}

type StatusRecorder interface {
	UpsertCamera(ctx context.Context, c *models.Camera) error
}

type feed struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Controller struct {
	cfg       config.CameraConfig
	handler   Handler
	newSource SourceFactory
	recorder  StatusRecorder
	onStatus  func(models.Camera)

	mu     sync.Mutex
	feeds  map[string]*feed
	status map[string]models.Camera
}

type Option func(*Controller)

// WithStatusRecorder persists every status change.
func WithStatusRecorder(r StatusRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithStatusListener calls fn after every status change.
func WithStatusListener(fn func(models.Camera)) Option {
	return func(c *Controller) { c.onStatus = fn }
}

func NewController(cfg config.CameraConfig, handler Handler, newSource SourceFactory, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg,
		handler:   handler,
		newSource: newSource,
		feeds:     make(map[string]*feed),
		status:    make(map[string]models.Camera),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the feed of cam. It returns immediately; connection failures
// are retried in the background.
func (c *Controller) Start(ctx context.Context, cam models.Camera) error {
	if cam.Name == "" || (cam.URL == "" && cam.Type != models.CameraTypeDevice) {
		return fmt.Errorf("%w: name and url are required", ErrInvalidCamera)
	}
	if cam.Type == "" {
		cam.Type = models.CameraTypeRTSP
	}
	if cam.FPS <= 0 {
		cam.FPS = c.cfg.DefaultFPS
	}
	if cam.FPS <= 0 {
		cam.FPS = 5
	}

	c.mu.Lock()
	if _, ok := c.feeds[cam.Name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, cam.Name)
	}
	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &feed{cancel: cancel, done: make(chan struct{})}
	c.feeds[cam.Name] = f
	c.mu.Unlock()

	observability.ActiveCameras.Inc()
	slog.Info("starting camera", "camera", cam.Name, "url", cam.URL, "type", cam.Type, "fps", cam.FPS)
	c.setStatus(cam, models.CameraStatusReconnecting, "")

	queue := newFrameQueue(c.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.acquire(feedCtx, cam, queue)
	}()
	go func() {
		defer wg.Done()
		c.process(feedCtx, queue)
	}()

	go func() {
		wg.Wait()
		c.mu.Lock()
		delete(c.feeds, cam.Name)
		c.mu.Unlock()
		observability.ActiveCameras.Dec()
		c.setStatus(cam, models.CameraStatusStopped, "")
		slog.Info("camera stopped", "camera", cam.Name)
		close(f.done)
	}()
	return nil
}

// Stop stops a camera and waits for its goroutines to exit. Stopping a camera
// that is not running is a no-op.
func (c *Controller) Stop(name string) {
	c.mu.Lock()
	f, ok := c.feeds[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	f.cancel()
	<-f.done
}

func (c *Controller) StopAll() {
	for _, name := range c.Running() {
		c.Stop(name)
	}
}

// Running lists the cameras with a live feed, sorted by name.
func (c *Controller) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.feeds))
	for name := range c.feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Controller) IsRunning(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.feeds[name]
	return ok
}

// Status is the last status reported for a camera by this controller.
func (c *Controller) Status(name string) (models.Camera, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cam, ok := c.status[name]
	return cam, ok
}

// backoff is base·2^(failures-1), capped at max.
func backoff(base, max time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 30 {
		return max
	}
	d := base << (failures - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}

func (c *Controller) acquire(ctx context.Context, cam models.Camera, queue *frameQueue) {
	src := c.newSource(cam)
	interval := time.Second / time.Duration(cam.FPS)

	failures := 0
	for {
		connected := false
		var last time.Time

		err := src.Run(ctx, func(data []byte) {
			now := time.Now()
			if !connected {
				connected = true
				failures = 0
				c.setStatus(cam, models.CameraStatusRunning, "")
			}
			if !last.IsZero() && now.Sub(last) < interval {
				return
			}
			last = now

			c.touch(cam.Name, now)
			if queue.Push(inference.Frame{Data: data, Camera: cam.Name, CapturedAt: now}) {
				observability.FramesDropped.WithLabelValues(cam.Name, "queue_full").Inc()
			}
		})
		if ctx.Err() != nil {
			return
		}

		failures++
		delay := backoff(c.cfg.BackoffBase, c.cfg.BackoffMax, failures)
		msg := "source failed"
		if err != nil {
			msg = err.Error()
		}
		if c.cfg.MaxRetries > 0 && failures > c.cfg.MaxRetries {
			slog.Error("camera down, still retrying", "camera", cam.Name, "failures", failures, "delay", delay, "error", err)
			c.setStatus(cam, models.CameraStatusDown, msg)
		} else {
			slog.Warn("camera source failed, reconnecting", "camera", cam.Name, "attempt", failures, "delay", delay, "error", err)
			c.setStatus(cam, models.CameraStatusReconnecting, msg)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Controller) process(ctx context.Context, queue *frameQueue) {
	for {
		frame, err := queue.Pop(ctx)
		if err != nil {
			return
		}
		c.handle(ctx, frame)
	}
}

// handle runs the handler under the frame timeout. A timed-out frame is
// dropped, but the next frame waits for the handler to return so frames of
// one camera never overlap.
func (c *Controller) handle(ctx context.Context, frame inference.Frame) {
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if c.cfg.FrameTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, c.cfg.FrameTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.handler.HandleFrame(fctx, frame)
	}()

	select {
	case err := <-done:
		observability.FramesProcessed.WithLabelValues(frame.Camera).Inc()
		if err != nil && ctx.Err() == nil {
			slog.Warn("frame handling failed", "camera", frame.Camera, "error", err)
		}
	case <-fctx.Done():
		if ctx.Err() == nil {
			observability.FramesDropped.WithLabelValues(frame.Camera, "timeout").Inc()
			slog.Warn("frame dropped after timeout", "camera", frame.Camera, "timeout", c.cfg.FrameTimeout)
		}
		<-done
	}
}

func (c *Controller) touch(name string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cam, ok := c.status[name]; ok {
		cam.LastFrameAt = &at
		c.status[name] = cam
	}
}

func (c *Controller) setStatus(cam models.Camera, status models.CameraStatus, errMsg string) {
	now := time.Now().UTC()

	c.mu.Lock()
	if prev, ok := c.status[cam.Name]; ok {
		cam.LastFrameAt = prev.LastFrameAt
	}
	cam.Status = status
	cam.ErrorMessage = errMsg
	cam.UpdatedAt = now
	c.status[cam.Name] = cam
	c.mu.Unlock()

	up := 0.0
	if status == models.CameraStatusRunning {
		up = 1
	}
	observability.CameraUp.WithLabelValues(cam.Name).Set(up)

	if c.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.recorder.UpsertCamera(ctx, &cam); err != nil {
			slog.Error("update camera status", "camera", cam.Name, "error", err)
		}
		cancel()
	}
	if c.onStatus != nil {
		c.onStatus(cam)
	}
}
