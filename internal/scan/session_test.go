package scan

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"sync"
	"testing"
	"time"

	"scanstation/internal/attendance"
	"scanstation/internal/camera"
	"scanstation/internal/notify"
	"scanstation/internal/qr"
)

type fakeSource struct {
	mu      sync.Mutex
	devices []camera.Device
	openErr error
	opens   []string
	stream  *fakeStream
}

func (f *fakeSource) List(ctx context.Context) ([]camera.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]camera.Device(nil), f.devices...), nil
}

func (f *fakeSource) Open(ctx context.Context, id string, c camera.Constraints) (camera.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, id)
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.stream = &fakeStream{}
	return f.stream, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

type fakeStream struct {
	mu     sync.Mutex
	closed bool
	err    error
}

func (f *fakeStream) Ready() bool { return true }

func (f *fakeStream) Frame(ctx context.Context) (camera.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return camera.Frame{}, f.err
	}
	return camera.Frame{Width: 1, Height: 1, Pix: make([]byte, 4)}, nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// gatedDecoder misses until release is called, then hits on the next attempt.
type gatedDecoder struct {
	mu       sync.Mutex
	open     bool
	attempts int
	code     string
}

func (d *gatedDecoder) Decode(pix []byte, w, h int) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if !d.open {
		return "", false, nil
	}
	return d.code, true, nil
}

func (d *gatedDecoder) release() {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
}

func (d *gatedDecoder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

type call struct {
	code attendance.Code
	dir  attendance.Direction
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []call
	fail  bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, code attendance.Code, d attendance.Direction) attendance.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{code, d})
	if f.fail {
		return attendance.Result{Direction: d, Code: code, Message: attendance.FailureMessage, Err: errors.New("boom")}
	}
	return attendance.Result{Direction: d, Code: code, OK: true, Message: "tercatat"}
}

func (f *fakeSubmitter) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func twoCameras() []camera.Device {
	return []camera.Device{
		{ID: "front", Kind: camera.KindVideoInput, Label: "Front"},
		{ID: "back", Kind: camera.KindVideoInput},
	}
}

func newSession(src camera.Source, dec qr.Decoder, sub Submitter, feed *notify.Feed) *Session {
	var n notify.Notifier
	if feed != nil {
		n = feed
	}
	return New(src, dec, sub, n, Config{Interval: time.Millisecond, Direction: attendance.CheckIn})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestListCamerasDefaultsToFirst(t *testing.T) {
	src := &fakeSource{devices: append(twoCameras(), camera.Device{ID: "mic", Kind: "audioinput"})}
	s := newSession(src, &gatedDecoder{}, &fakeSubmitter{}, nil)

	devs, err := s.ListCameras(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("expected audio input filtered out, got %d devices", len(devs))
	}
	if st := s.Status(); st.Selected != "front" || devs[1].Label != "Camera 2" {
		t.Fatalf("unexpected selection %q labels %+v", st.Selected, devs)
	}
	if err := s.SelectCamera("back"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := s.ListCameras(context.Background()); err != nil {
		t.Fatalf("relist: %v", err)
	}
	if s.Status().Selected != "back" {
		t.Fatalf("explicit selection must survive re-enumeration")
	}
	if err := s.SelectCamera("ghost"); !errors.Is(err, ErrUnknownCamera) {
		t.Fatalf("expected ErrUnknownCamera, got %v", err)
	}
}

func TestNoCameraDoesNotOpen(t *testing.T) {
	src := &fakeSource{}
	s := newSession(src, &gatedDecoder{}, &fakeSubmitter{}, nil)

	if _, err := s.ListCameras(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	st := s.Status()
	if !st.NoCamera || st.Selected != "" {
		t.Fatalf("expected no-camera state, got %+v", st)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoCamera) {
		t.Fatalf("expected ErrNoCamera, got %v", err)
	}
	if src.openCount() != 0 {
		t.Fatalf("openStream must not be invoked without a camera")
	}
	if s.Status().TimerActive {
		t.Fatalf("no timer may run without a camera")
	}
}

func TestSingleSubmissionAfterDecode(t *testing.T) {
	src := &fakeSource{devices: twoCameras()}
	dec := &gatedDecoder{code: "STU-001"}
	sub := &fakeSubmitter{}
	feed := notify.NewFeed(10)
	s := newSession(src, dec, sub, feed)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive for a second start, got %v", err)
	}

	waitFor(t, func() bool { return dec.count() >= 5 })
	if len(sub.snapshot()) != 0 {
		t.Fatalf("no submission may happen before a decode")
	}

	dec.release()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	calls := sub.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(calls))
	}
	if calls[0].code != "STU-001" || calls[0].dir != attendance.CheckIn {
		t.Fatalf("unexpected submission %+v", calls[0])
	}

	attempts := dec.count()
	time.Sleep(20 * time.Millisecond)
	if dec.count() != attempts {
		t.Fatalf("decoder ran after a positive decode")
	}

	st := s.Status()
	if st.State != StateDone || st.TimerActive || st.Result == nil || !st.Result.OK {
		t.Fatalf("expected done(success), got %+v", st)
	}
	if !src.stream.isClosed() {
		t.Fatalf("stream must be released once the session is done")
	}
	recent := feed.Recent(1)
	if len(recent) != 1 || recent[0].Kind != notify.KindSuccess || recent[0].SessionID != st.SessionID {
		t.Fatalf("unexpected notifications %+v", recent)
	}
}

func TestDirectionReadAtDecodeTime(t *testing.T) {
	src := &fakeSource{devices: twoCameras()}
	sub := &fakeSubmitter{}
	dec := &gatedDecoder{code: "STU-001"}
	s := newSession(src, dec, sub, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return dec.count() >= 2 })
	if err := s.SetDirection(attendance.CheckOut); err != nil {
		t.Fatalf("set direction: %v", err)
	}
	dec.release()
	_ = s.Wait(context.Background())

	calls := sub.snapshot()
	if len(calls) != 1 || calls[0].dir != attendance.CheckOut {
		t.Fatalf("expected one pulang submission, got %+v", calls)
	}
	if err := s.SetDirection("lunch"); err == nil {
		t.Fatalf("expected invalid direction error")
	}
}

func TestSubmissionFailureEndsDone(t *testing.T) {
	src := &fakeSource{devices: twoCameras()}
	dec := &gatedDecoder{code: "STU-404", open: true}
	sub := &fakeSubmitter{fail: true}
	feed := notify.NewFeed(10)
	s := newSession(src, dec, sub, feed)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = s.Wait(context.Background())

	st := s.Status()
	if st.State != StateDone || st.Result == nil || st.Result.OK {
		t.Fatalf("expected done(failure), got %+v", st)
	}
	if len(sub.snapshot()) != 1 {
		t.Fatalf("failed submissions must not be retried")
	}
	if n := feed.Recent(1); len(n) != 1 || n[0].Kind != notify.KindFailure {
		t.Fatalf("expected failure notification, got %+v", n)
	}

	// A new scan can start after done.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart after done: %v", err)
	}
	_ = s.Wait(context.Background())
	if len(sub.snapshot()) != 2 {
		t.Fatalf("expected second session to submit once")
	}
	if s.Status().SessionID == st.SessionID {
		t.Fatalf("expected a fresh session id")
	}
}

func TestOpenFailureAndRetry(t *testing.T) {
	src := &fakeSource{devices: twoCameras(), openErr: &camera.AccessError{DeviceID: "front", Reason: camera.ReasonPermissionDenied}}
	dec := &gatedDecoder{code: "STU-001"}
	feed := notify.NewFeed(10)
	s := newSession(src, dec, &fakeSubmitter{}, feed)

	err := s.Start(context.Background())
	var ae *camera.AccessError
	if !errors.As(err, &ae) || ae.Reason != camera.ReasonPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	st := s.Status()
	if st.State != StateCameraError || st.TimerActive || st.CameraError == "" {
		t.Fatalf("expected camera_error without timer, got %+v", st)
	}
	time.Sleep(10 * time.Millisecond)
	if dec.count() != 0 {
		t.Fatalf("no decode may happen after a failed open")
	}
	if n := feed.Recent(1); len(n) != 1 || n[0].Kind != notify.KindCameraError {
		t.Fatalf("expected camera error notification, got %+v", n)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("camera_error requires an explicit retry, got %v", err)
	}

	src.mu.Lock()
	src.openErr = nil
	src.mu.Unlock()
	if err := s.Retry(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if src.openCount() != 2 {
		t.Fatalf("expected openStream re-attempted, got %d opens", src.openCount())
	}
	if s.Status().State != StateScanning {
		t.Fatalf("expected scanning after retry, got %s", s.Status().State)
	}
	_ = s.Close()

	if err := s.Retry(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("retry outside camera_error must fail, got %v", err)
	}
}

func TestStreamFailureWhileScanning(t *testing.T) {
	src := &fakeSource{devices: twoCameras()}
	s := newSession(src, &gatedDecoder{}, &fakeSubmitter{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.stream.mu.Lock()
	src.stream.err = errors.New("unplugged")
	src.stream.mu.Unlock()

	_ = s.Wait(context.Background())
	st := s.Status()
	if st.State != StateCameraError || st.TimerActive {
		t.Fatalf("expected camera_error, got %+v", st)
	}
	if !src.stream.isClosed() {
		t.Fatalf("failed stream must be released")
	}
}

func TestCloseCancelsTimerAndReleasesStream(t *testing.T) {
	src := &fakeSource{devices: twoCameras()}
	dec := &gatedDecoder{code: "STU-001"}
	sub := &fakeSubmitter{}
	s := newSession(src, dec, sub, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return dec.count() >= 1 })
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !src.stream.isClosed() {
		t.Fatalf("teardown must release the stream")
	}
	attempts := dec.count()
	dec.release()
	time.Sleep(20 * time.Millisecond)
	if dec.count() != attempts {
		t.Fatalf("decoder ran after teardown")
	}
	if len(sub.snapshot()) != 0 {
		t.Fatalf("teardown must not submit")
	}
	if st := s.Status(); st.State != StateIdle || st.TimerActive {
		t.Fatalf("expected idle after teardown, got %+v", st)
	}
}

func TestEndToEndWithRealDecoder(t *testing.T) {
	data, err := qr.Render("STU-001", 256)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)

	push := camera.NewPushSource(camera.Device{ID: "kiosk", Label: "Kiosk"})
	sub := &fakeSubmitter{}
	s := New(push, qr.NewZXing(), sub, nil, Config{Interval: time.Millisecond, Direction: attendance.CheckOut})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if len(sub.snapshot()) != 0 {
		t.Fatalf("no submission before any frame")
	}
	if err := push.Push("kiosk", camera.FrameFromImage(rgba)); err != nil {
		t.Fatalf("push: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	calls := sub.snapshot()
	if len(calls) != 1 || calls[0].code != "STU-001" || calls[0].dir != attendance.CheckOut {
		t.Fatalf("unexpected submissions %+v", calls)
	}
}
