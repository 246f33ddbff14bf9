package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/logger"
	"github.com/angelmondragon/posflow/pkg/metrics"
)

const DefaultTimeout = 15 * time.Second

type State int

const (
	StateUninitialized State = iota
	StatePreviewing
	StateCapturing
	StateError
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePreviewing:
		return "previewing"
	case StateCapturing:
		return "capturing"
	case StateError:
		return "error"
	case StateTornDown:
		return "torn_down"
	}
	return "unknown"
}

// Session owns one camera device for its whole lifetime. Start and stop calls
// against the device are strictly sequenced, and at most one Capture runs at
// a time.
type Session struct {
	camera  Camera
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.FlowMetrics

	mu     sync.Mutex
	state  State
	err    error
	device Device
	closed chan struct{}

	// devMu serialises every Start/Stop pair and guards handle.
	devMu  sync.Mutex
	handle Handle

	capturing atomic.Bool
}

type Option func(*Session)

func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(s *Session) {
		if logg != nil {
			s.logg = logg
		}
	}
}

func WithMetrics(m *metrics.FlowMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

func NewSession(camera Camera, opts ...Option) (*Session, error) {
	if camera == nil {
		return nil, errors.New("camera is required")
	}
	s := &Session{
		camera:  camera,
		timeout: DefaultTimeout,
		logg:    logger.Nop(),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal acquisition error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StartPreview acquires the first available camera and streams it with a
// no-op decode callback. A failed acquisition is terminal for the session. A
// session whose preview could not be restored after a capture is back in
// StateUninitialized and is reacquired here.
func (s *Session) StartPreview(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StatePreviewing, StateCapturing:
		s.mu.Unlock()
		return nil
	case StateError:
		err := s.err
		s.mu.Unlock()
		return err
	case StateTornDown:
		s.mu.Unlock()
		return errSessionClosed()
	}
	s.mu.Unlock()

	devices, err := s.camera.Enumerate(ctx)
	if err != nil {
		return s.fail(ctx, pkgerrors.Wrap(pkgerrors.CodeCameraUnavailable, err, "enumerate cameras"))
	}
	if len(devices) == 0 {
		return s.fail(ctx, pkgerrors.New(pkgerrors.CodeCameraUnavailable, "no camera found"))
	}
	device := devices[0]

	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.isClosed() {
		return errSessionClosed()
	}
	if s.handle != nil {
		s.setState(StatePreviewing)
		return nil
	}
	handle, err := s.camera.Start(ctx, device, discard)
	if err != nil {
		return s.fail(ctx, pkgerrors.Wrap(pkgerrors.CodeCameraUnavailable, err, "start camera"))
	}
	s.handle = handle

	s.mu.Lock()
	s.device = device
	s.state = StatePreviewing
	s.mu.Unlock()
	s.logg.Info(s.logg.WithField(ctx, "device", device.ID), "capture.preview_started")
	return nil
}

// Capture switches the camera into capture mode and waits for the first
// decoded value, then returns the camera to preview. A second call while one
// is pending fails immediately with CodeCaptureInProgress.
func (s *Session) Capture(ctx context.Context) (string, error) {
	if !s.capturing.CompareAndSwap(false, true) {
		return "", pkgerrors.New(pkgerrors.CodeCaptureInProgress, "a capture is already in progress")
	}
	defer s.capturing.Store(false)

	if err := s.StartPreview(ctx); err != nil {
		return "", err
	}

	decoded := make(chan string, 1)
	var once sync.Once
	onDecoded := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		once.Do(func() { decoded <- value })
	}

	if err := s.switchTo(ctx, onDecoded, StateCapturing); err != nil {
		s.restorePreview(ctx)
		return "", err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var (
		value string
		err   error
	)
	select {
	case value = <-decoded:
		s.metrics.IncCapture(metrics.OutcomeSuccess)
	case <-timer.C:
		err = pkgerrors.New(pkgerrors.CodeScanTimeout, "no code decoded before the timeout").
			WithDetails(map[string]any{"timeout": s.timeout.String()})
		s.metrics.IncCapture(metrics.OutcomeTimeout)
		s.logg.Warn(ctx, "capture.timeout")
	case <-ctx.Done():
		err = ctx.Err()
		s.metrics.IncCapture(metrics.OutcomeCancelled)
	case <-s.closed:
		err = pkgerrors.New(pkgerrors.CodeFlowCancelled, "capture session closed")
		s.metrics.IncCapture(metrics.OutcomeCancelled)
	}

	s.restorePreview(ctx)
	return value, err
}

// Close stops the device even when a capture is in flight. Stop errors are
// logged and dropped.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateTornDown {
		s.mu.Unlock()
		return
	}
	s.state = StateTornDown
	close(s.closed)
	s.mu.Unlock()

	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.handle == nil {
		return
	}
	if err := s.camera.Stop(ctx, s.handle); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "capture.teardown_stop_failed")
	}
	s.handle = nil
}

// switchTo stops the current stream and restarts the device with onDecoded.
// The restart never begins before the stop has returned.
func (s *Session) switchTo(ctx context.Context, onDecoded func(string), next State) error {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.isClosed() {
		return errSessionClosed()
	}
	if s.handle != nil {
		if err := s.camera.Stop(ctx, s.handle); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeCameraUnavailable, err, "stop camera")
		}
		s.handle = nil
	}

	s.mu.Lock()
	device := s.device
	s.mu.Unlock()

	handle, err := s.camera.Start(ctx, device, onDecoded)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCameraUnavailable, err, "start camera")
	}
	s.handle = handle
	s.setState(next)
	return nil
}

// restorePreview is the single path back to preview after a capture, whatever
// the outcome. A failed restart leaves the session retryable rather than
// failed: the device was acquired once, so the next StartPreview tries again.
func (s *Session) restorePreview(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if s.isClosed() {
		return
	}
	if err := s.switchTo(ctx, discard, StatePreviewing); err != nil {
		if s.isClosed() {
			return
		}
		s.logg.Error(ctx, "capture.restore_preview_failed", err)
		s.metrics.IncCapture("unavailable")
		s.setState(StateUninitialized)
	}
}

func (s *Session) fail(ctx context.Context, err error) error {
	s.mu.Lock()
	if s.state != StateTornDown {
		s.state = StateError
		s.err = err
	}
	s.mu.Unlock()
	s.metrics.IncCapture("unavailable")
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "capture.camera_unavailable")
	return err
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTornDown {
		s.state = state
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func errSessionClosed() error {
	return pkgerrors.New(pkgerrors.CodeFlowCancelled, "capture session closed")
}

func discard(string) {}
