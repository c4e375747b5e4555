// Package camera drives a capture device until a barcode is read: it picks
// a camera, opens a stream, feeds frames to a decoder and guarantees that
// every capture track it opened is stopped again.
//
// The media platform and the decoder are injected, so the same session
// logic runs against a browser bridge, a native capture library or the
// fakes used in tests.
package camera

import (
	"context"
	"image"
	"strings"
	"sync"
)

// Device is a video input device.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Range is a soft constraint: the platform aims for Ideal and may settle
// anywhere within [Min, Max]. Zero bounds are open.
type Range struct {
	Ideal int `json:"ideal,omitempty"`
	Min   int `json:"min,omitempty"`
	Max   int `json:"max,omitempty"`
}

// Contains reports whether v satisfies the range.
func (r Range) Contains(v int) bool {
	if r.Min > 0 && v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

// Constraints describe the stream requested from the platform.
type Constraints struct {
	// DeviceID, when set, must match exactly.
	DeviceID   string `json:"device_id,omitempty"`
	FacingMode string `json:"facing_mode,omitempty"`
	Width      Range  `json:"width"`
	Height     Range  `json:"height"`
	FrameRate  Range  `json:"frame_rate"`
	Audio      bool   `json:"audio"`
}

// PermissionConstraints open the throwaway stream that unlocks device
// labels before enumeration.
var PermissionConstraints = Constraints{
	FacingMode: "environment",
	Width:      Range{Ideal: 1280, Min: 640},
	Height:     Range{Ideal: 720, Min: 480},
}

// ScanConstraints prefer full HD but accept whatever the device negotiates
// within the bounds, in either orientation.
var ScanConstraints = Constraints{
	FacingMode: "environment",
	Width:      Range{Ideal: 1920, Min: 480, Max: 4096},
	Height:     Range{Ideal: 1080, Min: 320, Max: 2160},
	FrameRate:  Range{Ideal: 30, Min: 10, Max: 60},
}

// MediaDevices is the platform boundary.
type MediaDevices interface {
	// GetUserMedia opens a capture stream matching c. Failures should be
	// reported as *PlatformError so they classify correctly.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
	// EnumerateDevices lists video input devices.
	EnumerateDevices(ctx context.Context) ([]Device, error)
}

// Stream is an open capture stream.
type Stream interface {
	Tracks() []Track
	// Frames delivers decoded video frames. It is closed when the stream
	// ends on its own.
	Frames() <-chan image.Image
}

// Track is one media track of a stream. Stop releases the hardware and
// must be safe to call more than once.
type Track interface {
	Kind() string
	Stop()
	Live() bool
}

// FrameDecoder looks for a symbol in a frame. A frame without a symbol
// returns ok false and a nil error; an error means decoding cannot go on.
type FrameDecoder interface {
	DecodeFrame(img image.Image) (text string, ok bool, err error)
}

// Surface is a display target. At most one stream is attached at a time.
type Surface struct {
	mu     sync.Mutex
	stream Stream
}

// Attach binds st and returns the stream it replaced, if any.
func (s *Surface) Attach(st Stream) Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.stream
	s.stream = st
	return prev
}

// Detach unbinds and returns the current stream.
func (s *Surface) Detach() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stream
	s.stream = nil
	return st
}

// Current returns the attached stream or nil.
func (s *Surface) Current() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func stopTracks(st Stream) {
	if st == nil {
		return
	}
	for _, t := range st.Tracks() {
		t.Stop()
	}
}

func hasVideo(st Stream) bool {
	for _, t := range st.Tracks() {
		if t.Kind() == "video" {
			return true
		}
	}
	return false
}

// rearTokens mark labels of rear-facing cameras across the platforms and
// locales seen in the field.
var rearTokens = []string{
	"back",
	"rear",
	"environment",
	"traseira",
	"trás",
	"principal",
	"camera2 0",
	"facing back",
}

// IsRearFacing reports whether a device label looks like a rear camera.
func IsRearFacing(label string) bool {
	l := strings.ToLower(label)
	for _, tok := range rearTokens {
		if strings.Contains(l, tok) {
			return true
		}
	}
	return false
}

// SelectDevice picks the device for the given 1-based attempt. Retries
// walk the list round-robin so a failing camera is not tried again
// immediately; the first attempt prefers a rear camera, then the first
// device. It returns false only for an empty list.
func SelectDevice(devices []Device, attempt int) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	if attempt > 1 && len(devices) > 1 {
		return devices[(attempt-1)%len(devices)], true
	}
	for _, d := range devices {
		if IsRearFacing(d.Label) {
			return d, true
		}
	}
	return devices[0], true
}
