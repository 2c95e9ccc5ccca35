package network

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse is returned for destinations with an unknown prefix.
var ErrParse = errors.New("unparsable destination")

// DestinationKind tells which variant a Destination holds.
type DestinationKind int

const (
	ShardTarget DestinationKind = iota + 1
	ServerTarget
	RawEndpoint
)

func (k DestinationKind) String() string {
	switch k {
	case ShardTarget:
		return "shard"
	case ServerTarget:
		return "server"
	case RawEndpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

const (
	shardPrefix  = "shard:"
	serverPrefix = "server:"
	tcpScheme    = "tcp://"
	sslScheme    = "ssl://"
)

// Destination is a parsed logical address. ID is set for shard and server
// targets, Endpoint for raw endpoints.
type Destination struct {
	Kind     DestinationKind
	ID       string
	Endpoint string
}

// String renders the destination back into its textual form.
func (d Destination) String() string {
	switch d.Kind {
	case ShardTarget:
		return shardPrefix + d.ID
	case ServerTarget:
		return serverPrefix + d.ID
	default:
		return d.Endpoint
	}
}

// ParseDestination parses "shard:<id>", "server:<id>", "tcp://..." or
// "ssl://...". Any other input, or a shard/server prefix with an empty id,
// fails with an error wrapping ErrParse and no partial result.
func ParseDestination(s string) (Destination, error) {
	switch {
	case strings.HasPrefix(s, shardPrefix):
		if id := s[len(shardPrefix):]; id != "" {
			return Destination{Kind: ShardTarget, ID: id}, nil
		}
	case strings.HasPrefix(s, serverPrefix):
		if id := s[len(serverPrefix):]; id != "" {
			return Destination{Kind: ServerTarget, ID: id}, nil
		}
	case strings.HasPrefix(s, tcpScheme), strings.HasPrefix(s, sslScheme):
		return Destination{Kind: RawEndpoint, Endpoint: s}, nil
	}
	return Destination{}, fmt.Errorf("%w: did not understand destination '%s'", ErrParse, s)
}
