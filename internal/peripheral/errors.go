package peripheral

import (
	"errors"

	"github.com/nerrad567/badgelink/internal/badge"
)

var (
	// ErrDiscovery is returned when no matching device was found or chosen.
	ErrDiscovery = errors.New("peripheral: no device discovered")

	// ErrConnection is returned when connecting or resolving the service or
	// an endpoint fails. No session is created.
	ErrConnection = errors.New("peripheral: connection failed")

	// ErrNotConnected is returned by operations on a closed or absent session.
	ErrNotConnected = errors.New("peripheral: not connected")

	// ErrTransfer is returned when a read, write or subscribe fails on the link.
	ErrTransfer = errors.New("peripheral: transfer failed")

	// ErrDecode is returned when a payload is not valid text.
	// It is always wrapped together with ErrTransfer.
	ErrDecode = errors.New("peripheral: payload is not text")
)

// ErrorKind classifies failures for callers that only need to know how to react.
type ErrorKind int

// Error kinds, from no error to unclassified.
const (
	KindNone ErrorKind = iota
	KindDiscovery
	KindConnection
	KindTransfer
	KindStorage
	KindUnknown
)

// String returns the kind name used in logs and API error codes.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDiscovery:
		return "discovery_error"
	case KindConnection:
		return "connection_error"
	case KindTransfer:
		return "transfer_error"
	case KindStorage:
		return "storage_error"
	default:
		return "unknown_error"
	}
}

// Fatal reports whether the failure leaves no usable session.
// Transfer and storage failures are best-effort: the caller logs and carries on.
func (k ErrorKind) Fatal() bool {
	return k == KindDiscovery || k == KindConnection
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDiscovery):
		return KindDiscovery
	case errors.Is(err, ErrConnection), errors.Is(err, ErrNotConnected):
		return KindConnection
	case errors.Is(err, ErrTransfer):
		return KindTransfer
	case errors.Is(err, badge.ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}
