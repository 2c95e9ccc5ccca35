package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/clustercomm/internal/errcode"
)

func TestMapTransportOutcome(t *testing.T) {
	want := map[Outcome]errcode.Code{
		NoError:               errcode.NoError,
		CouldNotConnect:       errcode.BackendUnavailable,
		ConnectionClosed:      errcode.ConnectionLost,
		CloseRequested:        errcode.ConnectionLost,
		Timeout:               errcode.ClusterTimeout,
		QueueCapacityExceeded: errcode.ConnectionLost,
		ReadError:             errcode.ConnectionLost,
		WriteError:            errcode.ConnectionLost,
		Canceled:              errcode.ConnectionLost,
		MalformedURL:          errcode.ConnectionLost,
		ProtocolError:         errcode.ConnectionLost,
		CastError:             errcode.Internal,
	}
	assert.Len(t, want, 12)

	allowed := map[errcode.Code]bool{
		errcode.NoError:            true,
		errcode.BackendUnavailable: true,
		errcode.ConnectionLost:     true,
		errcode.ClusterTimeout:     true,
		errcode.Internal:           true,
	}
	for o, code := range want {
		got := MapTransportOutcome(o)
		assert.Equal(t, code, got, o.String())
		assert.True(t, allowed[got])
	}

	assert.Equal(t, errcode.Internal, MapTransportOutcome(Outcome(99)))
	assert.Equal(t, errcode.Internal, MapTransportOutcome(Outcome(-1)))
	assert.Equal(t, "unknown", Outcome(99).String())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestOutcomeFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, NoError},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), Timeout},
		{"canceled", context.Canceled, Canceled},
		{"net timeout", timeoutErr{}, Timeout},
		{"dial refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, CouldNotConnect},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ConnectionClosed},
		{"read", &net.OpError{Op: "read", Err: errors.New("boom")}, ReadError},
		{"write", &net.OpError{Op: "write", Err: errors.New("boom")}, WriteError},
		{"eof", fmt.Errorf("resp: %w", io.EOF), ConnectionClosed},
		{"other", errors.New("malformed HTTP response"), ProtocolError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeFromError(tt.err))
		})
	}
}
