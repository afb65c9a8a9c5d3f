package wire

import "errors"

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxFrameSize. The stream is closed by the caller; the sender is not
	// blocked.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

	// ErrMalformedFrame is returned when a frame's body cannot be
	// unmarshalled into its declared Kind's payload shape.
	ErrMalformedFrame = errors.New("wire: malformed frame")

	// ErrUnknownKind is returned when a frame's tag byte does not match
	// any known message Kind. Per §6's compatibility rule this is only
	// fatal when the unknown kind is the primary message of a stream;
	// callers decide fatality based on context.
	ErrUnknownKind = errors.New("wire: unknown message kind")
)
