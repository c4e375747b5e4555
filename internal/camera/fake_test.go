package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// codeFrame is a frame carrying a symbol the fake decoder can read.
type codeFrame struct {
	*image.Gray
	text string
}

func blankFrame() image.Image { return image.NewGray(image.Rect(0, 0, 4, 4)) }

func code(text string) image.Image {
	return &codeFrame{Gray: image.NewGray(image.Rect(0, 0, 4, 4)), text: text}
}

type fakeDecoder struct {
	calls atomic.Int32
}

func (d *fakeDecoder) DecodeFrame(img image.Image) (string, bool, error) {
	d.calls.Add(1)
	if cf, ok := img.(*codeFrame); ok {
		return cf.text, true, nil
	}
	return "", false, nil
}

type fakeTrack struct {
	kind  string
	live  atomic.Bool
	owner *fakeStream
}

func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Live() bool   { return t.live.Load() }

func (t *fakeTrack) Stop() {
	if t.live.CompareAndSwap(true, false) {
		t.owner.media.released.Add(1)
		t.owner.stopOnce.Do(func() { close(t.owner.done) })
	}
}

type fakeStream struct {
	media    *fakeMedia
	tracks   []Track
	frames   chan image.Image
	done     chan struct{}
	stopOnce sync.Once
}

func (s *fakeStream) Tracks() []Track            { return s.tracks }
func (s *fakeStream) Frames() <-chan image.Image { return s.frames }

// behavior scripts one device.
type behavior struct {
	// errs are returned by successive GetUserMedia calls before succeeding.
	errs []error
	// failAlways makes every GetUserMedia call return errs[0].
	failAlways bool
	frames     []image.Image
	// repeatBlank keeps sending blank frames after frames run out.
	repeatBlank bool
	noVideo     bool
}

type fakeMedia struct {
	mu        sync.Mutex
	devices   []Device
	behaviors map[string]*behavior
	permErr   error
	enumErr   error
	calls     map[string]int
	requests  []Constraints

	// gate, when set, holds scan stream requests until closed, ignoring
	// the context like a platform that cannot cancel.
	gate    chan struct{}
	entered chan struct{}

	opened   atomic.Int32
	released atomic.Int32
}

func newFakeMedia(devices ...Device) *fakeMedia {
	return &fakeMedia{
		devices:   devices,
		behaviors: make(map[string]*behavior),
		calls:     make(map[string]int),
	}
}

func (m *fakeMedia) live() int { return int(m.opened.Load() - m.released.Load()) }

// scanRequests returns the device ids of non-permission requests in order.
func (m *fakeMedia) scanRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, c := range m.requests {
		if c.DeviceID != "" {
			ids = append(ids, c.DeviceID)
		}
	}
	return ids
}

func (m *fakeMedia) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, c)
	if c.DeviceID == "" {
		err := m.permErr
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return m.open(&behavior{}), nil
	}

	b := m.behaviors[c.DeviceID]
	if b == nil {
		b = &behavior{}
	}
	n := m.calls[c.DeviceID]
	m.calls[c.DeviceID] = n + 1
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}
	if len(b.errs) > 0 && (b.failAlways || n < len(b.errs)) {
		if b.failAlways {
			return nil, b.errs[0]
		}
		return nil, b.errs[n]
	}
	return m.open(b), nil
}

func (m *fakeMedia) open(b *behavior) *fakeStream {
	st := &fakeStream{
		media:  m,
		frames: make(chan image.Image),
		done:   make(chan struct{}),
	}
	kinds := []string{"video"}
	if b.noVideo {
		kinds = []string{"audio"}
	}
	for _, k := range kinds {
		t := &fakeTrack{kind: k, owner: st}
		t.live.Store(true)
		m.opened.Add(1)
		st.tracks = append(st.tracks, t)
	}

	go func() {
		for _, f := range b.frames {
			select {
			case st.frames <- f:
			case <-st.done:
				return
			}
		}
		if !b.repeatBlank {
			return
		}
		for {
			select {
			case st.frames <- blankFrame():
			case <-st.done:
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return st
}

func (m *fakeMedia) EnumerateDevices(ctx context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enumErr != nil {
		return nil, m.enumErr
	}
	return append([]Device(nil), m.devices...), nil
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.StartDelay = 0
	opts.PermissionSettle = 0
	opts.StreamRetryBackoff = time.Millisecond
	opts.ReadyTimeout = time.Second
	opts.RotateAfter = 50 * time.Millisecond
	opts.AcquireRetryDelay = time.Millisecond
	return opts
}

// stateLog records OnState transitions.
type stateLog struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateLog() *stateLog { return &stateLog{ch: make(chan State, 256)} }

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
	select {
	case l.ch <- s:
	default:
	}
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

// waitFor blocks until s is recorded or the deadline passes.
func (l *stateLog) waitFor(s State, d time.Duration) bool {
	timeout := time.After(d)
	for {
		select {
		case got := <-l.ch:
			if got == s {
				return true
			}
		case <-timeout:
			return false
		}
	}
}
