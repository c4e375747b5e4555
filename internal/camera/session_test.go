package camera

import (
	"context"
	"errors"
	"image"
	"slices"
	"testing"
	"time"
)

var (
	errBusy    = &PlatformError{Name: "NotReadableError", Message: "Could not start video source"}
	errDenied  = &PlatformError{Name: "NotAllowedError", Message: "Permission denied"}
	threeUSB   = []Device{{ID: "cam-a", Label: "USB 1"}, {ID: "cam-b", Label: "USB 2"}, {ID: "cam-c", Label: "USB 3"}}
	twoUSB     = threeUSB[:2]
	singleRear = []Device{{ID: "cam", Label: "Back Camera"}}
)

type scanResult struct {
	text string
	err  error
}

func startScan(s *Session, ctx context.Context) <-chan scanResult {
	ch := make(chan scanResult, 1)
	go func() {
		text, err := s.Scan(ctx)
		ch <- scanResult{text, err}
	}()
	return ch
}

func waitScan(t *testing.T, ch <-chan scanResult) scanResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("scan did not return")
		return scanResult{}
	}
}

func TestEnumerateDevices(t *testing.T) {
	m := newFakeMedia(Device{ID: "0123456789abcdef"}, Device{ID: "cam", Label: "Back"})
	s := NewSession(m, &fakeDecoder{}, fastOptions())

	devices, err := s.EnumerateDevices(context.Background())
	if err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Label != "Câmera 01234567" {
		t.Errorf("expected default label, got %q", devices[0].Label)
	}
	if devices[1].Label != "Back" {
		t.Errorf("expected label kept, got %q", devices[1].Label)
	}
	if m.live() != 0 {
		t.Errorf("permission stream still live: %d tracks", m.live())
	}
	if m.requests[0] != PermissionConstraints {
		t.Errorf("expected permission constraints, got %+v", m.requests[0])
	}
}

func TestEnumerateDevicesErrors(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
		permErr error
		enumErr error
		want    Kind
	}{
		{"permission denied", singleRear, errDenied, nil, PermissionDenied},
		{"permission busy", singleRear, errBusy, nil, DeviceBusy},
		{"no devices", nil, nil, nil, NoDeviceFound},
		{"enumeration fails", singleRear, nil, errors.New("bridge gone"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMedia(tt.devices...)
			m.permErr = tt.permErr
			m.enumErr = tt.enumErr
			s := NewSession(m, &fakeDecoder{}, fastOptions())

			_, err := s.EnumerateDevices(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
			if s.State() != Failed {
				t.Errorf("expected failed state, got %s", s.State())
			}
			if m.live() != 0 {
				t.Errorf("expected no live tracks, got %d", m.live())
			}
		})
	}
}

func TestStartStreamRetriesTransientFailures(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.behaviors["cam"] = &behavior{errs: []error{errBusy, errBusy}, frames: []image.Image{blankFrame()}}
	s := NewSession(m, &fakeDecoder{}, fastOptions())

	if err := s.StartStream(context.Background(), "cam", s.Surface()); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if m.calls["cam"] != 3 {
		t.Errorf("expected 3 requests, got %d", m.calls["cam"])
	}
	if m.live() != 1 || s.Surface().Current() == nil {
		t.Fatalf("expected one attached stream, live=%d", m.live())
	}

	last := m.requests[len(m.requests)-1]
	if last.DeviceID != "cam" || last.Audio {
		t.Errorf("unexpected constraints %+v", last)
	}
	if last.Width != ScanConstraints.Width || last.Height != ScanConstraints.Height {
		t.Errorf("expected scan resolution ranges, got %+v", last)
	}

	s.Cleanup()
	if m.live() != 0 {
		t.Errorf("expected no live tracks after cleanup, got %d", m.live())
	}
	if s.Surface().Current() != nil {
		t.Error("expected surface cleared")
	}
}

func TestStartStreamFailures(t *testing.T) {
	tests := []struct {
		name  string
		b     *behavior
		tries int
		calls int
		want  Kind
	}{
		{"permission denied not retried", &behavior{errs: []error{errDenied}}, 3, 1, PermissionDenied},
		{"busy gives up after tries", &behavior{errs: []error{errBusy}, failAlways: true}, 3, 3, DeviceBusy},
		{"no first frame", &behavior{}, 1, 1, StreamTimeout},
		{"no video track", &behavior{noVideo: true}, 1, 1, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMedia(singleRear...)
			m.behaviors["cam"] = tt.b
			opts := fastOptions()
			opts.StreamStartTries = tt.tries
			opts.ReadyTimeout = 20 * time.Millisecond
			s := NewSession(m, &fakeDecoder{}, opts)

			err := s.StartStream(context.Background(), "cam", s.Surface())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
			if s.State() != Failed {
				t.Errorf("expected failed state, got %s", s.State())
			}
			if m.calls["cam"] != tt.calls {
				t.Errorf("expected %d requests, got %d", tt.calls, m.calls["cam"])
			}
			if m.live() != 0 {
				t.Errorf("expected no live tracks, got %d", m.live())
			}
		})
	}
}

func TestStartStreamReplacesPrevious(t *testing.T) {
	m := newFakeMedia(twoUSB...)
	m.behaviors["cam-a"] = &behavior{frames: []image.Image{blankFrame()}}
	m.behaviors["cam-b"] = &behavior{frames: []image.Image{blankFrame()}}
	s := NewSession(m, &fakeDecoder{}, fastOptions())
	ctx := context.Background()

	if err := s.StartStream(ctx, "cam-a", s.Surface()); err != nil {
		t.Fatalf("StartStream a: %v", err)
	}
	first := s.Surface().Current()
	if err := s.StartStream(ctx, "cam-b", s.Surface()); err != nil {
		t.Fatalf("StartStream b: %v", err)
	}

	if m.live() != 1 {
		t.Errorf("expected only the new stream live, got %d", m.live())
	}
	for _, tr := range first.Tracks() {
		if tr.Live() {
			t.Error("expected previous stream stopped")
		}
	}
	s.Cleanup()
}

func TestDetectEmitsOnce(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.behaviors["cam"] = &behavior{frames: []image.Image{blankFrame(), code("A")}}
	s := NewSession(m, &fakeDecoder{}, fastOptions())
	ctx := context.Background()

	if err := s.StartStream(ctx, "cam", s.Surface()); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	text, err := s.Detect(ctx, s.Surface())
	if err != nil || text != "A" {
		t.Fatalf("Detect = %q, %v", text, err)
	}
	if s.State() != Scanned {
		t.Errorf("expected scanned, got %s", s.State())
	}

	if err := s.StartStream(ctx, "cam", s.Surface()); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if _, err := s.Detect(ctx, s.Surface()); !errors.Is(err, Aborted) {
		t.Errorf("expected second emission refused, got %v", err)
	}

	s.Cleanup()
	if err := s.StartStream(ctx, "cam", s.Surface()); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if text, err := s.Detect(ctx, s.Surface()); err != nil || text != "A" {
		t.Errorf("expected emission after cleanup, got %q, %v", text, err)
	}
	s.Cleanup()
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
}

func TestDetectWithoutStream(t *testing.T) {
	s := NewSession(newFakeMedia(), &fakeDecoder{}, fastOptions())
	if _, err := s.Detect(context.Background(), s.Surface()); err == nil {
		t.Error("expected error without attached stream")
	}
}

func TestScanReadsBarcode(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.behaviors["cam"] = &behavior{frames: []image.Image{blankFrame(), blankFrame(), code("7891234567895")}}
	log := newStateLog()
	opts := fastOptions()
	opts.OnState = log.record
	s := NewSession(m, &fakeDecoder{}, opts)

	text, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if text != "7891234567895" {
		t.Errorf("expected barcode, got %q", text)
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
	if s.State() != Idle || s.Attempt() != 0 {
		t.Errorf("expected reset session, got state %s attempt %d", s.State(), s.Attempt())
	}

	want := []State{RequestingPermission, EnumeratingDevices, StreamStarting, Detecting, Scanned, Idle}
	if got := log.snapshot(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestScanRoundRobinOnAcquisitionFailure(t *testing.T) {
	m := newFakeMedia(threeUSB...)
	for _, d := range threeUSB {
		m.behaviors[d.ID] = &behavior{errs: []error{errBusy}, failAlways: true}
	}
	opts := fastOptions()
	opts.StreamStartTries = 1
	opts.AcquireRetries = 2
	s := NewSession(m, &fakeDecoder{}, opts)

	_, err := s.Scan(context.Background())
	if !errors.Is(err, DeviceBusy) {
		t.Fatalf("expected device busy, got %v", err)
	}
	want := []string{"cam-a", "cam-b", "cam-c"}
	if got := m.scanRequests(); !slices.Equal(got, want) {
		t.Errorf("requests = %v, want %v", got, want)
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
	if s.Attempt() != 0 {
		t.Errorf("expected attempt counter reset, got %d", s.Attempt())
	}
}

func TestScanFailsOverToNextCamera(t *testing.T) {
	m := newFakeMedia(twoUSB...)
	m.behaviors["cam-a"] = &behavior{errs: []error{errBusy}, failAlways: true}
	m.behaviors["cam-b"] = &behavior{frames: []image.Image{code("X")}}
	opts := fastOptions()
	opts.StreamStartTries = 1
	s := NewSession(m, &fakeDecoder{}, opts)

	text, err := s.Scan(context.Background())
	if err != nil || text != "X" {
		t.Fatalf("Scan = %q, %v", text, err)
	}
	if got := m.scanRequests(); !slices.Equal(got, []string{"cam-a", "cam-b"}) {
		t.Errorf("unexpected requests %v", got)
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
}

func TestScanRotatesWithoutSymbol(t *testing.T) {
	m := newFakeMedia(twoUSB...)
	m.behaviors["cam-a"] = &behavior{repeatBlank: true}
	m.behaviors["cam-b"] = &behavior{frames: []image.Image{blankFrame(), code("Y")}}
	opts := fastOptions()
	opts.RotateAfter = 30 * time.Millisecond
	s := NewSession(m, &fakeDecoder{}, opts)

	text, err := s.Scan(context.Background())
	if err != nil || text != "Y" {
		t.Fatalf("Scan = %q, %v", text, err)
	}
	if got := m.scanRequests(); !slices.Equal(got, []string{"cam-a", "cam-b"}) {
		t.Errorf("unexpected requests %v", got)
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
}

func TestScanMaxRotations(t *testing.T) {
	m := newFakeMedia(twoUSB...)
	m.behaviors["cam-a"] = &behavior{repeatBlank: true}
	m.behaviors["cam-b"] = &behavior{repeatBlank: true}
	opts := fastOptions()
	opts.RotateAfter = 10 * time.Millisecond
	opts.MaxRotations = 3
	s := NewSession(m, &fakeDecoder{}, opts)

	_, err := s.Scan(context.Background())
	if !errors.Is(err, NoSymbol) {
		t.Fatalf("expected no symbol, got %v", err)
	}
	if got := m.scanRequests(); !slices.Equal(got, []string{"cam-a", "cam-b", "cam-a"}) {
		t.Errorf("unexpected requests %v", got)
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
}

func TestScanSingleDeviceDoesNotRotate(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.behaviors["cam"] = &behavior{repeatBlank: true}
	opts := fastOptions()
	opts.RotateAfter = 10 * time.Millisecond
	s := NewSession(m, &fakeDecoder{}, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Scan(ctx)
	if !errors.Is(err, Aborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	if got := m.scanRequests(); len(got) != 1 {
		t.Errorf("expected one stream request, got %v", got)
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
}

func TestScanPermissionDenied(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.permErr = errDenied
	s := NewSession(m, &fakeDecoder{}, fastOptions())

	_, err := s.Scan(context.Background())
	if !errors.Is(err, PermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if len(m.requests) != 1 {
		t.Errorf("expected permission asked once, got %d", len(m.requests))
	}
	if Classify(err).Message() == "" {
		t.Error("expected user-facing message")
	}
}

func TestCancelDuringDetect(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.behaviors["cam"] = &behavior{repeatBlank: true}
	log := newStateLog()
	opts := fastOptions()
	opts.OnState = log.record
	s := NewSession(m, &fakeDecoder{}, opts)

	ch := startScan(s, context.Background())
	if !log.waitFor(Detecting, 2*time.Second) {
		t.Fatal("scan never started detecting")
	}
	s.Cancel()

	r := waitScan(t, ch)
	if !errors.Is(r.err, Aborted) {
		t.Errorf("expected aborted, got %q, %v", r.text, r.err)
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
	if s.State() != Idle || s.Attempt() != 0 {
		t.Errorf("expected reset session, got state %s attempt %d", s.State(), s.Attempt())
	}
}

func TestCleanupDiscardsLateStream(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.behaviors["cam"] = &behavior{frames: []image.Image{code("Z")}}
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 1)
	dec := &fakeDecoder{}
	s := NewSession(m, dec, fastOptions())

	ch := startScan(s, context.Background())
	select {
	case <-m.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never requested")
	}
	s.Cleanup()
	close(m.gate)

	r := waitScan(t, ch)
	if !errors.Is(r.err, Aborted) || r.text != "" {
		t.Errorf("expected aborted without result, got %q, %v", r.text, r.err)
	}
	if m.live() != 0 {
		t.Errorf("late stream left live: %d tracks", m.live())
	}
	if dec.calls.Load() != 0 {
		t.Errorf("expected no frames decoded, got %d", dec.calls.Load())
	}
}

func TestScanInProgress(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 1)
	s := NewSession(m, &fakeDecoder{}, fastOptions())

	ch := startScan(s, context.Background())
	<-m.entered
	if _, err := s.Scan(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("expected scan in progress, got %v", err)
	}
	s.Cancel()
	close(m.gate)
	waitScan(t, ch)
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
}

func TestCleanupIdempotent(t *testing.T) {
	m := newFakeMedia(singleRear...)
	m.behaviors["cam"] = &behavior{frames: []image.Image{blankFrame()}}
	log := newStateLog()
	opts := fastOptions()
	opts.OnState = log.record
	s := NewSession(m, &fakeDecoder{}, opts)

	s.Cleanup()
	s.Cleanup()
	if len(log.snapshot()) != 0 {
		t.Errorf("expected no state changes from idle, got %v", log.snapshot())
	}

	if err := s.StartStream(context.Background(), "cam", s.Surface()); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	other := &Surface{}
	if err := s.StartStream(context.Background(), "cam", other); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if m.live() != 2 {
		t.Fatalf("expected two live streams, got %d", m.live())
	}

	for range 3 {
		s.Cleanup()
	}
	if m.live() != 0 {
		t.Errorf("expected no live tracks, got %d", m.live())
	}
	if other.Current() != nil {
		t.Error("expected every target cleared")
	}
	if s.State() != Idle {
		t.Errorf("expected idle, got %s", s.State())
	}
}
