package scan

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"scanstation/internal/attendance"
	"scanstation/internal/camera"
	"scanstation/internal/metrics"
	"scanstation/internal/notify"
	"scanstation/internal/qr"
	"scanstation/internal/sampler"
)

// State of a scan session.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateSubmitting  State = "submitting"
	StateDone        State = "done"
	StateCameraError State = "camera_error"
)

var (
	ErrSessionActive = errors.New("scan session already running")
	ErrNoCamera      = errors.New("no camera available")
	ErrUnknownCamera = errors.New("camera not in device list")
	ErrInvalidState  = errors.New("operation not allowed in current state")
)

// Submitter records one decoded code.
type Submitter interface {
	Submit(ctx context.Context, code attendance.Code, d attendance.Direction) attendance.Result
}

// Config tunes a Session.
type Config struct {
	Constraints camera.Constraints
	Interval    time.Duration
	Direction   attendance.Direction
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID   string               `json:"session_id,omitempty"`
	State       State                `json:"state"`
	Cameras     []camera.Device      `json:"cameras"`
	Selected    string               `json:"selected_camera,omitempty"`
	NoCamera    bool                 `json:"no_camera"`
	Direction   attendance.Direction `json:"direction"`
	TimerActive bool                 `json:"timer_active"`
	Result      *attendance.Result   `json:"result,omitempty"`
	CameraError string               `json:"camera_error,omitempty"`
}

// Session drives camera acquisition, sampling, decoding and submission
// for one kiosk. At most one sampling loop runs at a time and each run
// submits at most one code.
type Session struct {
	source      camera.Source
	sampler     *sampler.Sampler
	submitter   Submitter
	notifier    notify.Notifier
	constraints camera.Constraints

	mu        sync.Mutex
	id        string
	state     State
	cameras   []camera.Device
	listed    bool
	selected  string
	direction attendance.Direction
	opening   bool
	gen       uint64
	stream    camera.Stream
	cancel    context.CancelFunc
	done      chan struct{}
	result    *attendance.Result
	cameraErr error
}

// New creates an idle session.
func New(source camera.Source, dec qr.Decoder, sub Submitter, n notify.Notifier, cfg Config) *Session {
	if !cfg.Direction.Valid() {
		cfg.Direction = attendance.CheckIn
	}
	if cfg.Constraints == (camera.Constraints{}) {
		cfg.Constraints = camera.DefaultConstraints()
	}
	return &Session{
		source:      source,
		sampler:     sampler.New(cfg.Interval, dec),
		submitter:   sub,
		notifier:    n,
		constraints: cfg.Constraints,
		state:       StateIdle,
		direction:   cfg.Direction,
	}
}

// ListCameras enumerates video inputs and applies the default selection:
// the first device when nothing valid is selected.
func (s *Session) ListCameras(ctx context.Context) ([]camera.Device, error) {
	devs, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}
	devs = camera.VideoInputs(devs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras = devs
	s.listed = true
	if !containsDevice(devs, s.selected) {
		s.selected = ""
	}
	if s.selected == "" && len(devs) > 0 {
		s.selected = devs[0].ID
	}
	return append([]camera.Device(nil), devs...), nil
}

// SelectCamera sets the device for the next Start.
func (s *Session) SelectCamera(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsDevice(s.cameras, deviceID) {
		return ErrUnknownCamera
	}
	s.selected = deviceID
	return nil
}

// SetDirection may be called in any state; the value read at decode time wins.
func (s *Session) SetDirection(d attendance.Direction) error {
	if !d.Valid() {
		return attendance.ErrInvalidDirection
	}
	s.mu.Lock()
	s.direction = d
	s.mu.Unlock()
	return nil
}

// Start opens the selected camera and begins sampling. It is valid from
// idle or done. On an open failure the session enters camera_error and
// no sampling loop is started.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	listed := s.listed
	s.mu.Unlock()
	if !listed {
		if _, err := s.ListCameras(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	switch {
	case s.opening || s.state == StateScanning || s.state == StateSubmitting:
		s.mu.Unlock()
		return ErrSessionActive
	case s.state == StateCameraError:
		s.mu.Unlock()
		return ErrInvalidState
	case s.selected == "":
		s.mu.Unlock()
		return ErrNoCamera
	}
	s.opening = true
	s.id = uuid.NewString()
	s.result = nil
	s.cameraErr = nil
	s.state = StateIdle
	gen := s.gen
	deviceID := s.selected
	sessionID := s.id
	s.mu.Unlock()

	metrics.Sessions.Inc()
	stream, err := s.source.Open(ctx, deviceID, s.constraints)

	s.mu.Lock()
	s.opening = false
	if gen != s.gen {
		s.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return context.Canceled
	}
	if err != nil {
		ae := camera.AsAccessError(deviceID, err)
		s.state = StateCameraError
		s.cameraErr = ae
		s.mu.Unlock()
		metrics.CameraErrors.WithLabelValues(string(ae.Reason)).Inc()
		log.Printf("session %s: open camera %s failed: %v", sessionID, deviceID, ae)
		s.notify(ctx, notify.FromCameraError(sessionID, ae))
		return ae
	}

	// The loop outlives the request that started it; teardown cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.stream = stream
	s.cancel = cancel
	s.done = done
	s.state = StateScanning
	s.mu.Unlock()

	log.Printf("session %s: scanning on camera %s", sessionID, deviceID)
	go s.run(runCtx, gen, sessionID, deviceID, stream, done)
	return nil
}

func (s *Session) run(ctx context.Context, gen uint64, sessionID, deviceID string, stream camera.Stream, done chan struct{}) {
	defer close(done)

	code, err := s.sampler.Run(ctx, stream)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ae := camera.AsAccessError(deviceID, err)
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.state = StateCameraError
		s.cameraErr = ae
		s.releaseLocked()
		s.mu.Unlock()
		metrics.CameraErrors.WithLabelValues(string(ae.Reason)).Inc()
		log.Printf("session %s: camera stream failed: %v", sessionID, ae)
		s.notify(ctx, notify.FromCameraError(sessionID, ae))
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateSubmitting
	direction := s.direction
	s.mu.Unlock()

	log.Printf("session %s: decoded code, submitting %s", sessionID, direction)
	res := s.submitter.Submit(ctx, attendance.Code(code), direction)
	if res.Err != nil {
		log.Printf("session %s: submission failed: %v", sessionID, res.Err)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateDone
	s.result = &res
	s.releaseLocked()
	s.mu.Unlock()

	s.notify(ctx, notify.FromResult(sessionID, res))
}

// Retry leaves camera_error, re-enumerates devices and starts again.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCameraError {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.state = StateIdle
	s.cameraErr = nil
	s.listed = false
	s.mu.Unlock()

	if _, err := s.ListCameras(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Close tears the session down: the sampling loop is cancelled, the
// stream released and the session returns to idle.
func (s *Session) Close() error {
	s.mu.Lock()
	s.gen++
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.releaseLocked()
	s.state = StateIdle
	s.cameraErr = nil
	return err
}

// Wait blocks until the current run stops scanning or submitting.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		SessionID:   s.id,
		State:       s.state,
		Cameras:     append([]camera.Device(nil), s.cameras...),
		Selected:    s.selected,
		NoCamera:    s.listed && len(s.cameras) == 0,
		Direction:   s.direction,
		TimerActive: s.state == StateScanning,
	}
	if s.result != nil {
		res := *s.result
		st.Result = &res
	}
	if s.cameraErr != nil {
		st.CameraError = s.cameraErr.Error()
	}
	return st
}

func (s *Session) releaseLocked() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

func (s *Session) notify(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		log.Printf("session %s: notify failed: %v", n.SessionID, err)
	}
}

func containsDevice(devs []camera.Device, id string) bool {
	if id == "" {
		return false
	}
	for _, d := range devs {
		if d.ID == id {
			return true
		}
	}
	return false
}
