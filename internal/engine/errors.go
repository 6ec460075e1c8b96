package engine

import (
	"context"
	"errors"
	"fmt"
)

// NetworkErrorKind classifies transport failures.
type NetworkErrorKind int

const (
	// NetworkUnknown is any failure that fits no other kind.
	NetworkUnknown NetworkErrorKind = iota
	// NetworkForbidden means the request was refused.
	NetworkForbidden
	// NetworkProtocol means the peer answered with something unexpected.
	NetworkProtocol
	// NetworkUnauthorized means the credentials were rejected.
	NetworkUnauthorized
	// NetworkServer means the server failed.
	NetworkServer
	// NetworkConnection means the server could not be reached.
	NetworkConnection
)

func (k NetworkErrorKind) String() string {
	switch k {
	case NetworkForbidden:
		return "forbidden"
	case NetworkProtocol:
		return "protocol"
	case NetworkUnauthorized:
		return "unauthorized"
	case NetworkServer:
		return "server"
	case NetworkConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// NetworkError is a transport failure reported by the engine.
// Callers can use errors.As to extract the kind:
//
//	var netErr *engine.NetworkError
//	if errors.As(err, &netErr) && netErr.Kind == engine.NetworkUnauthorized { ... }
type NetworkError struct {
	Kind NetworkErrorKind
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("network: %s", e.Kind)
	}
	return fmt.Sprintf("network: %s: %v", e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// LocalErrorKind classifies failures on this device.
type LocalErrorKind int

const (
	// LocalUnknown is any local failure that fits no other kind.
	LocalUnknown LocalErrorKind = iota
	// LocalFileTooBig means an attachment exceeds the size limit.
	LocalFileTooBig
	// LocalFilesystem means reading or writing a file failed.
	LocalFilesystem
)

func (k LocalErrorKind) String() string {
	switch k {
	case LocalFileTooBig:
		return "file_too_big"
	case LocalFilesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// LocalError is a failure on this device reported by the engine.
type LocalError struct {
	Kind LocalErrorKind
	Err  error
}

func (e *LocalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("local: %s", e.Kind)
	}
	return fmt.Sprintf("local: %s: %v", e.Kind, e.Err)
}

func (e *LocalError) Unwrap() error { return e.Err }

// IsNetworkError checks whether err is a *NetworkError of the given kind.
func IsNetworkError(err error, kind NetworkErrorKind) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Kind == kind
	}
	return false
}

// IsLocalError checks whether err is a *LocalError of the given kind.
func IsLocalError(err error, kind LocalErrorKind) bool {
	var localErr *LocalError
	if errors.As(err, &localErr) {
		return localErr.Kind == kind
	}
	return false
}

// Describe returns a message for err that can be shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "The operation was cancelled."
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		switch netErr.Kind {
		case NetworkForbidden:
			return "The server refused the request."
		case NetworkProtocol:
			return "The server sent an unexpected response."
		case NetworkUnauthorized:
			return "The address or master key is not correct."
		case NetworkServer:
			return "The server is having problems. Please try again later."
		case NetworkConnection:
			return "The server could not be reached. Check your connection."
		default:
			return "A network error occurred."
		}
	}

	var localErr *LocalError
	if errors.As(err, &localErr) {
		switch localErr.Kind {
		case LocalFileTooBig:
			return "The file is too big."
		case LocalFilesystem:
			return "The file could not be read or written."
		default:
			return "An error occurred on this device."
		}
	}

	return "An unexpected error occurred."
}
