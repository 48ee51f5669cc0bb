package camera

import (
	"context"
	"fmt"
)

// MultiSource lists devices of several sources in order and routes Open
// to whichever source owns the device.
type MultiSource struct {
	sources []Source
}

// NewMultiSource skips nil sources.
func NewMultiSource(sources ...Source) *MultiSource {
	m := &MultiSource{}
	for _, s := range sources {
		if s != nil {
			m.sources = append(m.sources, s)
		}
	}
	return m
}

func (m *MultiSource) List(ctx context.Context) ([]Device, error) {
	var out []Device
	for _, s := range m.sources {
		devs, err := s.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list cameras: %w", err)
		}
		out = append(out, devs...)
	}
	return out, nil
}

// Open with an empty deviceID prefers a device facing c.Facing, then the first device.
func (m *MultiSource) Open(ctx context.Context, deviceID string, c Constraints) (Stream, error) {
	var fallback Source
	fallbackID := ""
	for _, s := range m.sources {
		devs, err := s.List(ctx)
		if err != nil {
			return nil, &AccessError{DeviceID: deviceID, Reason: ReasonUnavailable, Err: err}
		}
		for _, d := range VideoInputs(devs) {
			switch {
			case deviceID != "" && d.ID == deviceID:
				return s.Open(ctx, deviceID, c)
			case deviceID == "" && d.Facing == c.Facing:
				return s.Open(ctx, d.ID, c)
			case deviceID == "" && fallback == nil:
				fallback, fallbackID = s, d.ID
			}
		}
	}
	if fallback != nil {
		return fallback.Open(ctx, fallbackID, c)
	}
	return nil, &AccessError{DeviceID: deviceID, Reason: ReasonNotFound}
}
