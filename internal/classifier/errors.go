package classifier

import "errors"

// Kind classifies why a prediction failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnavailable means the model artifact was never loaded.
	KindUnavailable
	// KindDecode covers unreadable or non-image uploads.
	KindDecode
	// KindInference covers forward-pass and output-shape failures.
	KindInference
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindDecode:
		return "decode"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// Error is a prediction failure tagged with its Kind. Error() returns the
// underlying message unchanged so it can be shown to callers as-is.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// ErrModelNotLoaded is returned by every prediction while the service runs
// without a model.
var ErrModelNotLoaded = &Error{Kind: KindUnavailable, Err: errors.New("model not loaded")}

func decodeError(err error) error {
	return &Error{Kind: KindDecode, Err: err}
}

func inferenceError(err error) error {
	return &Error{Kind: KindInference, Err: err}
}

// KindOf reports the Kind of err, or KindUnknown if it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
