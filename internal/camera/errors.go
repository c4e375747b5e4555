package camera

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why acquiring or reading a camera failed. A Kind is also
// an error, so callers can test with errors.Is(err, camera.DeviceBusy).
type Kind string

const (
	PermissionDenied       Kind = "permission_denied"
	NoDeviceFound          Kind = "no_device_found"
	DeviceBusy             Kind = "device_busy"
	StreamTimeout          Kind = "stream_timeout"
	UnsupportedConstraints Kind = "unsupported_constraints"
	Aborted                Kind = "aborted"
	NoSymbol               Kind = "no_symbol"
	Unknown                Kind = "unknown"
)

func (k Kind) Error() string { return "camera: " + string(k) }

// Message is the text shown to the person holding the device.
func (k Kind) Message() string {
	switch k {
	case PermissionDenied:
		return "Permissão da câmera negada. Habilite o acesso à câmera nas configurações do navegador."
	case NoDeviceFound:
		return "Nenhuma câmera encontrada. Verifique se o dispositivo possui câmera."
	case DeviceBusy:
		return "Câmera em uso por outro aplicativo. Feche outros apps que usam a câmera."
	case StreamTimeout:
		return "Tempo esgotado ao carregar o vídeo. Verifique as permissões."
	case UnsupportedConstraints:
		return "Configurações de câmera não suportadas pelo dispositivo."
	case Aborted:
		return "Operação cancelada. Tente novamente."
	case NoSymbol:
		return "Nenhum código detectado. Aproxime o código da câmera e tente novamente."
	default:
		return "Erro ao acessar câmera. Verifique as permissões."
	}
}

// transient kinds may succeed when the same device is asked again.
func (k Kind) transient() bool {
	switch k {
	case DeviceBusy, StreamTimeout, Unknown:
		return true
	}
	return false
}

// retryable reports whether a whole acquisition attempt may be repeated.
// Failures tied to one device are only retried when round-robin selection
// will move on to another device.
func (k Kind) retryable(devices int) bool {
	switch k {
	case Aborted:
		return false
	case PermissionDenied, UnsupportedConstraints:
		return devices > 1
	}
	return true
}

// Error is a classified camera failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("camera %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches e against its Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// PlatformError is a failure reported by the media platform, named the way
// browsers name media errors (NotAllowedError, NotReadableError, ...).
type PlatformError struct {
	Name    string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

var platformKinds = map[string]Kind{
	"NotAllowedError":             PermissionDenied,
	"PermissionDeniedError":       PermissionDenied,
	"SecurityError":               PermissionDenied,
	"NotFoundError":               NoDeviceFound,
	"DevicesNotFoundError":        NoDeviceFound,
	"NotReadableError":            DeviceBusy,
	"TrackStartError":             DeviceBusy,
	"OverconstrainedError":        UnsupportedConstraints,
	"ConstraintNotSatisfiedError": UnsupportedConstraints,
	"AbortError":                  Aborted,
	"TimeoutError":                StreamTimeout,
}

// Classify maps any error to a Kind. It returns "" for nil.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		if k, ok := platformKinds[pe.Name]; ok {
			return k
		}
		return Unknown
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return StreamTimeout
	}
	return Unknown
}

// wrap classifies err and attaches the operation that failed.
func wrap(op string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}
