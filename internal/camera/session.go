package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

// State is the phase a Session is in.
type State int

const (
	Idle State = iota
	RequestingPermission
	EnumeratingDevices
	StreamStarting
	Detecting
	Scanned
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingPermission:
		return "requesting_permission"
	case EnumeratingDevices:
		return "enumerating_devices"
	case StreamStarting:
		return "stream_starting"
	case Detecting:
		return "detecting"
	case Scanned:
		return "scanned"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrScanInProgress is returned by Scan while another Scan runs.
var ErrScanInProgress = errors.New("camera: scan already in progress")

// errRotate ends a detect window so the next camera can be tried.
var errRotate = errors.New("camera: no symbol within rotation window")

// Options tune a Session. Use DefaultOptions and override fields.
type Options struct {
	// StartDelay is waited before a scan touches the camera, giving the
	// display target time to mount.
	StartDelay time.Duration
	// PermissionSettle is waited between releasing the permission stream
	// and enumerating devices.
	PermissionSettle time.Duration
	// StreamStartTries bounds how often one device is asked for a stream;
	// try n waits n*StreamRetryBackoff before the next.
	StreamStartTries   int
	StreamRetryBackoff time.Duration
	// ReadyTimeout bounds the wait for the first frame of a new stream.
	ReadyTimeout time.Duration
	// RotateAfter is how long a stream may go without a symbol before the
	// next camera is tried. Only applies with more than one device.
	RotateAfter time.Duration
	// MaxRotations caps camera rotations per scan. Zero means no cap.
	MaxRotations int
	// AcquireRetries is how many more times a failed acquisition is
	// retried, AcquireRetryDelay apart.
	AcquireRetries    int
	AcquireRetryDelay time.Duration
	Constraints       Constraints
	// OnState, if set, is called after every state change.
	OnState func(State)
	Logger  *slog.Logger
}

// DefaultOptions returns the timings scanning was tuned with in the field.
func DefaultOptions() Options {
	return Options{
		StartDelay:         500 * time.Millisecond,
		PermissionSettle:   100 * time.Millisecond,
		StreamStartTries:   3,
		StreamRetryBackoff: 500 * time.Millisecond,
		ReadyTimeout:       20 * time.Second,
		RotateAfter:        8 * time.Second,
		AcquireRetries:     2,
		AcquireRetryDelay:  1500 * time.Millisecond,
		Constraints:        ScanConstraints,
	}
}

// Session owns all state of one scanner: the attempt counter, the scanned
// flag and every stream it attached. Create one per scanner and call
// Cleanup (or Cancel) when it goes away.
type Session struct {
	media   MediaDevices
	decoder FrameDecoder
	opts    Options
	log     *slog.Logger
	surface *Surface

	mu      sync.Mutex
	state   State
	gen     uint64
	attempt int
	scanned bool
	running bool
	cancel  context.CancelFunc
	targets map[*Surface]struct{}
	first   image.Image
}

// NewSession returns an idle session.
func NewSession(media MediaDevices, decoder FrameDecoder, opts Options) *Session {
	if opts.StreamStartTries < 1 {
		opts.StreamStartTries = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		media:   media,
		decoder: decoder,
		opts:    opts,
		log:     log,
		surface: &Surface{},
		targets: make(map[*Surface]struct{}),
	}
}

// Surface is the display target Scan attaches streams to.
func (s *Session) Surface() *Surface { return s.surface }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns how many devices have been selected since the session
// last started from Idle.
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// setState applies st unless the session was cleaned up since gen.
func (s *Session) setState(gen uint64, st State) {
	s.mu.Lock()
	if s.gen != gen || s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	hook := s.opts.OnState
	s.mu.Unlock()

	if hook != nil {
		hook(st)
	}
}

// fail moves the session to Failed after err, unless err is a cancellation.
func (s *Session) fail(gen uint64, err error) {
	if err != nil && Classify(err) != Aborted {
		s.setState(gen, Failed)
	}
}

// EnumerateDevices unlocks device labels with a throwaway stream, releases
// it at once and lists the video inputs.
func (s *Session) EnumerateDevices(ctx context.Context) (_ []Device, err error) {
	gen := s.generation()
	defer func() { s.fail(gen, err) }()
	s.setState(gen, RequestingPermission)

	st, err := s.media.GetUserMedia(ctx, PermissionConstraints)
	if err != nil {
		return nil, wrap("request permission", err)
	}
	stopTracks(st)

	if err := sleep(ctx, s.opts.PermissionSettle); err != nil {
		return nil, wrap("request permission", err)
	}

	s.setState(gen, EnumeratingDevices)
	devices, err := s.media.EnumerateDevices(ctx)
	if err != nil {
		return nil, wrap("enumerate devices", err)
	}
	if s.generation() != gen {
		return nil, &Error{Kind: Aborted, Op: "enumerate devices"}
	}
	if len(devices) == 0 {
		return nil, &Error{Kind: NoDeviceFound, Op: "enumerate devices"}
	}

	out := make([]Device, len(devices))
	for i, d := range devices {
		if d.Label == "" {
			id := d.ID
			if len(id) > 8 {
				id = id[:8]
			}
			d.Label = "Câmera " + id
		}
		out[i] = d
	}
	return out, nil
}

// SelectDevice advances the attempt counter and picks a device for it.
func (s *Session) SelectDevice(devices []Device) (Device, error) {
	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	d, ok := SelectDevice(devices, attempt)
	if !ok {
		return Device{}, &Error{Kind: NoDeviceFound, Op: "select device"}
	}
	s.log.Info("camera selected", "device", d.Label, "attempt", attempt, "devices", len(devices))
	return d, nil
}

// StartStream opens deviceID and attaches the stream to target, stopping
// whatever target showed before. It returns once the first frame arrived.
func (s *Session) StartStream(ctx context.Context, deviceID string, target *Surface) (err error) {
	gen := s.generation()
	defer func() { s.fail(gen, err) }()
	s.setState(gen, StreamStarting)

	stopTracks(target.Detach())

	c := s.opts.Constraints
	c.DeviceID = deviceID
	c.Audio = false

	var st Stream
	for try := 1; ; try++ {
		var err error
		st, err = s.media.GetUserMedia(ctx, c)
		if err == nil {
			break
		}
		kind := Classify(err)
		if try >= s.opts.StreamStartTries || !kind.transient() || ctx.Err() != nil {
			return wrap("start stream", err)
		}
		s.log.Warn("camera stream failed, retrying", "device", deviceID, "try", try, "error", err)
		if err := sleep(ctx, time.Duration(try)*s.opts.StreamRetryBackoff); err != nil {
			return wrap("start stream", err)
		}
	}

	if !hasVideo(st) {
		stopTracks(st)
		return &Error{Kind: Unknown, Op: "start stream", Err: errors.New("stream has no video track")}
	}

	// Attach under the session lock so Cleanup either sees the stream on
	// the target or this call sees the cleanup and drops it.
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		stopTracks(st)
		return &Error{Kind: Aborted, Op: "start stream"}
	}
	stopTracks(target.Attach(st))
	s.targets[target] = struct{}{}
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case f, ok := <-st.Frames():
		if !ok {
			release(target)
			return &Error{Kind: Unknown, Op: "start stream", Err: errors.New("stream ended before first frame")}
		}
		s.mu.Lock()
		if s.gen == gen {
			s.first = f
		}
		s.mu.Unlock()
		return nil
	case <-timer.C:
		release(target)
		return &Error{Kind: StreamTimeout, Op: "start stream"}
	case <-ctx.Done():
		release(target)
		return wrap("start stream", ctx.Err())
	}
}

// Detect decodes frames from the stream on target until a symbol is found,
// decoding fails fatally or ctx ends. A session emits at most one symbol
// until it is cleaned up; a symbol decoded after cleanup is discarded.
func (s *Session) Detect(ctx context.Context, target *Surface) (string, error) {
	gen := s.generation()
	st := target.Current()
	if st == nil {
		return "", &Error{Kind: Unknown, Op: "detect", Err: errors.New("no stream attached")}
	}
	s.setState(gen, Detecting)

	s.mu.Lock()
	frame := s.first
	s.first = nil
	s.mu.Unlock()

	frames := st.Frames()
	for {
		if frame != nil {
			text, ok, err := s.decoder.DecodeFrame(frame)
			if err != nil {
				return "", &Error{Kind: Unknown, Op: "detect", Err: err}
			}
			if ok && text != "" {
				if !s.emit(gen) {
					return "", &Error{Kind: Aborted, Op: "detect"}
				}
				s.setState(gen, Scanned)
				return text, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", &Error{Kind: Aborted, Op: "detect", Err: context.Cause(ctx)}
		case f, ok := <-frames:
			if !ok {
				return "", &Error{Kind: Unknown, Op: "detect", Err: errors.New("stream ended")}
			}
			frame = f
		}
	}
}

func (s *Session) emit(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.scanned {
		return false
	}
	s.scanned = true
	return true
}

// Scan runs a whole scanning session: pick a camera, stream, decode. With
// several cameras it moves to the next one whenever RotateAfter passes
// without a symbol. Failed acquisitions are retried AcquireRetries times.
// Scan always cleans up before returning, leaving the session Idle with
// no live tracks.
func (s *Session) Scan(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", ErrScanInProgress
	}
	s.running = true
	s.gen++
	s.attempt = 0
	s.scanned = false
	s.first = nil
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	gen := s.gen
	s.mu.Unlock()

	defer func() {
		s.Cleanup()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := sleep(runCtx, s.opts.StartDelay); err != nil {
		return "", wrap("scan", err)
	}

	failures, rotations := 0, 0
	for {
		text, devices, err := s.attemptOnce(runCtx)
		if err == nil {
			return text, nil
		}
		release(s.surface)

		if runCtx.Err() != nil || s.generation() != gen {
			return "", &Error{Kind: Aborted, Op: "scan", Err: context.Cause(runCtx)}
		}

		if errors.Is(err, errRotate) {
			failures = 0
			rotations++
			if s.opts.MaxRotations > 0 && rotations >= s.opts.MaxRotations {
				s.setState(gen, Failed)
				return "", &Error{Kind: NoSymbol, Op: "scan"}
			}
			s.log.Info("no barcode read, trying next camera", "rotation", rotations)
			continue
		}

		s.setState(gen, Failed)
		failures++
		if failures > s.opts.AcquireRetries || !Classify(err).retryable(devices) {
			s.log.Warn("camera acquisition failed", "error", err, "failures", failures)
			return "", err
		}
		s.log.Warn("camera acquisition failed, retrying", "error", err, "failures", failures)
		if err := sleep(runCtx, s.opts.AcquireRetryDelay); err != nil {
			return "", wrap("scan", err)
		}
	}
}

// attemptOnce selects the next device and reads from it. It returns the
// number of devices seen so retry eligibility can be judged.
func (s *Session) attemptOnce(ctx context.Context) (string, int, error) {
	devices, err := s.EnumerateDevices(ctx)
	if err != nil {
		return "", 0, err
	}
	d, err := s.SelectDevice(devices)
	if err != nil {
		return "", len(devices), err
	}
	if err := s.StartStream(ctx, d.ID, s.surface); err != nil {
		return "", len(devices), err
	}

	dctx := ctx
	if len(devices) > 1 && s.opts.RotateAfter > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeoutCause(ctx, s.opts.RotateAfter, errRotate)
		defer cancel()
	}

	text, err := s.Detect(dctx, s.surface)
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(dctx), errRotate) {
		return "", len(devices), errRotate
	}
	return text, len(devices), err
}

// Cancel aborts a running Scan and releases everything. Same as Cleanup.
func (s *Session) Cancel() { s.Cleanup() }

// Cleanup stops every track the session attached, clears its targets,
// resets the attempt counter and scanned flag and returns to Idle. Any
// operation still in flight discards its result. Safe to call any number
// of times from any state.
func (s *Session) Cleanup() {
	s.mu.Lock()
	s.gen++
	cancel := s.cancel
	s.cancel = nil
	targets := s.targets
	s.targets = make(map[*Surface]struct{})
	s.attempt = 0
	s.scanned = false
	s.first = nil
	changed := s.state != Idle
	s.state = Idle
	hook := s.opts.OnState
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for t := range targets {
		release(t)
	}
	release(s.surface)

	if changed && hook != nil {
		hook(Idle)
	}
}

func release(target *Surface) {
	stopTracks(target.Detach())
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
