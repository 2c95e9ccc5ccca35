package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/metrics"
)

// Request is one HTTP request to a cluster destination. Path is appended to
// the resolved endpoint.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// Response is what came back. StatusCode, Header and Body are only
// meaningful when Outcome is NoError.
type Response struct {
	Destination ResolvedEndpoint
	Outcome     Outcome
	StatusCode  int
	Header      http.Header
	Body        []byte
	cause       error
}

// Err maps a failed transport outcome to an *errcode.Error. It returns nil
// when a response was received, whatever its status.
func (r Response) Err() error {
	code := MapTransportOutcome(r.Outcome)
	if code == errcode.NoError {
		return nil
	}
	msg := fmt.Sprintf("%s: %s", r.Outcome, code)
	if r.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, r.cause)
	}
	return &errcode.Error{Code: code, Message: msg}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds a single round trip. Default 5s.
	Timeout time.Duration
	// MaxInflight bounds concurrent requests; further sends report
	// QueueCapacityExceeded. Default 256.
	MaxInflight int64
	Logger      *zap.Logger
	HTTPClient  *http.Client
}

// Client sends requests to destinations resolved through a Resolver.
type Client struct {
	http     *http.Client
	resolver *Resolver
	inflight *semaphore.Weighted
	closed   atomic.Bool
	log      *zap.Logger
}

// NewClient builds a Client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 256
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("network")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		http:     hc,
		resolver: NewResolver(opts.Logger),
		inflight: semaphore.NewWeighted(opts.MaxInflight),
		log:      opts.Logger,
	}
}

// Resolver exposes the client's resolver.
func (c *Client) Resolver() *Resolver { return c.resolver }

// Close makes every later Send report CloseRequested.
func (c *Client) Close() { c.closed.Store(true) }

// Send resolves dest against topo and performs req. The returned error is
// non-nil only when the destination could not be resolved; transport
// failures are reported through Response.Outcome.
func (c *Client) Send(ctx context.Context, dest string, topo Topology, req Request) (Response, error) {
	target, err := c.resolver.Resolve(dest, topo)
	if err != nil {
		return Response{}, err
	}
	resp := c.do(ctx, target, req)
	metrics.TransportOutcomes.WithLabelValues(resp.Outcome.String()).Inc()
	if resp.Outcome != NoError {
		c.log.Warn("cluster request failed",
			logger.Destination(dest),
			logger.Endpoint(target.Endpoint),
			logger.Outcome(resp.Outcome.String()),
			zap.Error(resp.cause))
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, target ResolvedEndpoint, req Request) Response {
	resp := Response{Destination: target}
	if c.closed.Load() {
		resp.Outcome = CloseRequested
		return resp
	}

	u, err := EndpointURL(target.Endpoint, req.Path)
	if err != nil {
		resp.Outcome, resp.cause = MalformedURL, err
		return resp
	}

	if !c.inflight.TryAcquire(1) {
		resp.Outcome = QueueCapacityExceeded
		return resp
	}
	defer c.inflight.Release(1)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		resp.Outcome, resp.cause = MalformedURL, err
		return resp
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if req.Body != nil && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}

	hresp, err := c.http.Do(hreq)
	if err != nil {
		resp.Outcome, resp.cause = OutcomeFromError(err), err
		return resp
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		resp.Outcome, resp.cause = OutcomeFromError(err), err
		if resp.Outcome == ProtocolError {
			resp.Outcome = ReadError
		}
		return resp
	}
	resp.Outcome = NoError
	resp.StatusCode = hresp.StatusCode
	resp.Header = hresp.Header
	resp.Body = data
	return resp
}

// EndpointURL turns a cluster endpoint into an HTTP URL: tcp:// becomes
// http:// and ssl:// becomes https://. http(s) endpoints pass through.
func EndpointURL(endpoint, path string) (string, error) {
	var base string
	switch {
	case strings.HasPrefix(endpoint, tcpScheme):
		base = "http://" + endpoint[len(tcpScheme):]
	case strings.HasPrefix(endpoint, sslScheme):
		base = "https://" + endpoint[len(sslScheme):]
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		base = endpoint
	default:
		return "", fmt.Errorf("unsupported endpoint scheme: %q", endpoint)
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint without host: %q", endpoint)
	}
	return u.String(), nil
}
