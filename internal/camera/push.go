package camera

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrUnknownDevice is returned when pushing to a device that was never registered.
	ErrUnknownDevice = errors.New("unknown camera device")
	// ErrNoStream is returned when a frame arrives while nobody is sampling the device.
	ErrNoStream = errors.New("no open stream for device")
)

// ParsePushDevices reads "id|label|facing" entries separated by commas.
func ParsePushDevices(list string) ([]Device, error) {
	var out []Device
	for _, entry := range splitEntries(list) {
		parts := splitN3(entry)
		if parts[0] == "" {
			return nil, errors.New("invalid push camera " + entry + ": want id|label|facing")
		}
		out = append(out, Device{ID: parts[0], Label: parts[1], Kind: KindVideoInput, Facing: ParseFacing(parts[2])})
	}
	return out, nil
}

func splitN3(entry string) [3]string {
	var out [3]string
	copy(out[:], strings.SplitN(entry, "|", 3))
	return out
}

// PushSource receives frames from a client that owns the physical camera,
// e.g. a kiosk browser posting webcam stills.
type PushSource struct {
	mu      sync.Mutex
	devices []Device
	streams map[string]*pushStream
}

// NewPushSource registers the given devices.
func NewPushSource(devices ...Device) *PushSource {
	p := &PushSource{streams: make(map[string]*pushStream)}
	for _, d := range devices {
		p.Register(d)
	}
	return p
}

// Register adds or replaces a device.
func (p *PushSource) Register(d Device) {
	if d.Kind == "" {
		d.Kind = KindVideoInput
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.devices {
		if p.devices[i].ID == d.ID {
			p.devices[i] = d
			return
		}
	}
	p.devices = append(p.devices, d)
}

// List returns registered devices in registration order.
func (p *PushSource) List(ctx context.Context) ([]Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

// Open binds a stream to the device. Only one stream per device.
func (p *PushSource) Open(ctx context.Context, deviceID string, c Constraints) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.knownLocked(deviceID) {
		return nil, &AccessError{DeviceID: deviceID, Reason: ReasonNotFound}
	}
	if _, busy := p.streams[deviceID]; busy {
		return nil, &AccessError{DeviceID: deviceID, Reason: ReasonDeviceBusy}
	}
	st := &pushStream{owner: p, deviceID: deviceID, constraints: c}
	p.streams[deviceID] = st
	return st, nil
}

// Accepting reports whether deviceID has an open stream, so callers can
// refuse a frame before paying for its decode.
func (p *PushSource) Accepting(deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.knownLocked(deviceID) {
		return ErrUnknownDevice
	}
	if _, ok := p.streams[deviceID]; !ok {
		return ErrNoStream
	}
	return nil
}

// Push hands a frame to the open stream on deviceID. Frames with no
// listening stream are dropped and reported as ErrNoStream.
func (p *PushSource) Push(deviceID string, f Frame) error {
	p.mu.Lock()
	if !p.knownLocked(deviceID) {
		p.mu.Unlock()
		return ErrUnknownDevice
	}
	st, ok := p.streams[deviceID]
	p.mu.Unlock()
	if !ok {
		return ErrNoStream
	}
	st.store(f)
	return nil
}

func (p *PushSource) knownLocked(id string) bool {
	for _, d := range p.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (p *PushSource) release(st *pushStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streams[st.deviceID] == st {
		delete(p.streams, st.deviceID)
	}
}

type pushStream struct {
	owner       *PushSource
	deviceID    string
	constraints Constraints

	mu     sync.Mutex
	latest *Frame
	closed bool
}

func (s *pushStream) store(f Frame) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height*4 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.latest = &f
	}
}

func (s *pushStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.latest != nil
}

func (s *pushStream) Frame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, &AccessError{DeviceID: s.deviceID, Reason: ReasonUnavailable, Err: errors.New("stream closed")}
	}
	if s.latest == nil {
		return Frame{}, ErrNotReady
	}
	return *s.latest, nil
}

func (s *pushStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.latest = nil
	s.mu.Unlock()
	s.owner.release(s)
	return nil
}
