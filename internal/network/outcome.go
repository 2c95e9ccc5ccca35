package network

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/dreamware/clustercomm/internal/errcode"
)

// Outcome is the transport-layer result of a request, independent of the
// HTTP status the peer may have answered with.
type Outcome int

const (
	NoError Outcome = iota
	CouldNotConnect
	ConnectionClosed
	CloseRequested
	Timeout
	QueueCapacityExceeded
	ReadError
	WriteError
	Canceled
	MalformedURL
	ProtocolError
	CastError
)

var outcomeNames = [...]string{
	NoError:               "no_error",
	CouldNotConnect:       "could_not_connect",
	ConnectionClosed:      "connection_closed",
	CloseRequested:        "close_requested",
	Timeout:               "timeout",
	QueueCapacityExceeded: "queue_capacity_exceeded",
	ReadError:             "read_error",
	WriteError:            "write_error",
	Canceled:              "canceled",
	MalformedURL:          "malformed_url",
	ProtocolError:         "protocol_error",
	CastError:             "cast_error",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// MapTransportOutcome collapses a transport outcome onto the domain error
// vocabulary. NoError means a response was received and its status and body
// may be inspected.
func MapTransportOutcome(o Outcome) errcode.Code {
	switch o {
	case NoError:
		return errcode.NoError

	case CouldNotConnect:
		return errcode.BackendUnavailable

	case CloseRequested, ConnectionClosed:
		return errcode.ConnectionLost

	case Timeout:
		return errcode.ClusterTimeout

	case QueueCapacityExceeded, ReadError, WriteError, Canceled, MalformedURL, ProtocolError:
		return errcode.ConnectionLost

	case CastError:
		return errcode.Internal
	}
	return errcode.Internal
}

// OutcomeFromError classifies an error returned by an HTTP round trip.
func OutcomeFromError(err error) Outcome {
	if err == nil {
		return NoError
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Canceled
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}

	var oe *net.OpError
	if errors.As(err, &oe) {
		switch {
		case oe.Op == "dial":
			return CouldNotConnect
		case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
			return ConnectionClosed
		case oe.Op == "read":
			return ReadError
		case oe.Op == "write":
			return WriteError
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CouldNotConnect
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ConnectionClosed
	}

	return ProtocolError
}
