package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// KindVideoInput is the only device kind the scanner lists.
const KindVideoInput = "videoinput"

// Facing is the preferred camera orientation.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// ParseFacing accepts "user" or "environment"; anything else falls back to user.
func ParseFacing(s string) Facing {
	if Facing(strings.ToLower(strings.TrimSpace(s))) == FacingEnvironment {
		return FacingEnvironment
	}
	return FacingUser
}

// Device describes one attached video input.
type Device struct {
	ID     string `json:"device_id"`
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	Facing Facing `json:"facing,omitempty"`
}

// Constraints are passed on every stream open.
type Constraints struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Facing Facing `json:"facing"`
}

// DefaultConstraints matches the kiosk webcam setup: 640x480, user facing.
func DefaultConstraints() Constraints {
	return Constraints{Width: 640, Height: 480, Facing: FacingUser}
}

// Frame is a transient RGBA bitmap, 4 bytes per pixel in row-major order.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// FrameFromImage copies img into a tightly packed RGBA frame at its native size.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return Frame{Width: b.Dx(), Height: b.Dy(), Pix: rgba.Pix}
}

const (
	// MaxFrameSide bounds either dimension of a decoded frame.
	MaxFrameSide = 4096
	// MaxEncodedFrame bounds the size of one encoded JPEG or PNG frame.
	MaxEncodedFrame = 8 << 20
)

// ErrFrameTooLarge is returned for frames over MaxFrameSide or MaxEncodedFrame.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// DecodeFrame decodes a JPEG or PNG still. The header is checked against
// MaxFrameSide before any pixel data is allocated.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) > MaxEncodedFrame {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxFrameSide || cfg.Height > MaxFrameSide {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return FrameFromImage(img), nil
}

// ErrNotReady is returned by Stream.Frame before a full frame is buffered.
var ErrNotReady = errors.New("camera stream not ready")

// Stream is a live video stream bound to one device.
type Stream interface {
	Ready() bool
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

// Source enumerates devices and opens streams on them.
type Source interface {
	List(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, deviceID string, c Constraints) (Stream, error)
}

// VideoInputs keeps only video inputs, in order, and fills missing labels.
func VideoInputs(devices []Device) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.Kind != KindVideoInput {
			continue
		}
		out = append(out, d)
	}
	for i := range out {
		if out[i].Label == "" {
			out[i].Label = fmt.Sprintf("Camera %d", i+1)
		}
	}
	return out
}

// Reason classifies why a stream could not be opened.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonDeviceBusy       Reason = "device_busy"
	ReasonNotFound         Reason = "not_found"
	ReasonUnavailable      Reason = "unavailable"
)

// AccessError reports a failed stream open or a stream that died while sampling.
type AccessError struct {
	DeviceID string
	Reason   Reason
	Err      error
}

func (e *AccessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camera %s: %s: %v", e.DeviceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("camera %s: %s", e.DeviceID, e.Reason)
}

func (e *AccessError) Unwrap() error { return e.Err }

// AsAccessError wraps err as an AccessError unless it already is one.
func AsAccessError(deviceID string, err error) *AccessError {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae
	}
	return &AccessError{DeviceID: deviceID, Reason: ReasonUnavailable, Err: err}
}
