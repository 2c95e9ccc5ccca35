package network

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/dreamware/clustercomm/internal/errcode"
)

// HeaderErrorCodes carries per-document failures of a batch operation as a
// JSON object mapping error code to count, e.g. {"1210":3,"1202":1}.
const HeaderErrorCodes = "X-Torua-Error-Codes"

const (
	fieldErrorNum     = "errorNum"
	fieldErrorMessage = "errorMessage"
)

// Result is the domain outcome of one operation.
type Result struct {
	Code    errcode.Code `json:"errorNum"`
	Message string       `json:"errorMessage,omitempty"`
}

// OK reports whether the result carries no error.
func (r Result) OK() bool { return r.Code == errcode.NoError }

// Err converts a failed result into an *errcode.Error, nil on success.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &errcode.Error{Code: r.Code, Message: r.Message}
}

// OperationOptions are the client-visible knobs of a write operation.
type OperationOptions struct {
	// WaitForSync asks for the write to be durable before answering.
	WaitForSync bool `json:"waitForSync"`
	Overwrite   bool `json:"overwrite"`
	ReturnNew   bool `json:"returnNew"`
	Silent      bool `json:"silent"`
}

// ErrorCounter counts per-document failures by error code.
type ErrorCounter map[errcode.Code]uint64

// Add merges other into c.
func (c ErrorCounter) Add(other ErrorCounter) {
	for code, n := range other {
		c[code] += n
	}
}

// Total returns the number of counted failures.
func (c ErrorCounter) Total() uint64 {
	var n uint64
	for _, v := range c {
		n += v
	}
	return n
}

// OperationResult is what a cluster write reports back to its caller.
type OperationResult struct {
	Result
	Body         []byte
	Options      OperationOptions
	ErrorCounter ErrorCounter
}

// ResultFromBody reads errorNum and errorMessage from a response payload.
// Empty, malformed or non-object payloads, and payloads without a numeric
// errorNum, yield defaultCode with an empty message.
func ResultFromBody(body []byte, defaultCode errcode.Code) Result {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return Result{Code: defaultCode}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Result{Code: defaultCode}
	}
	num := doc.Get(fieldErrorNum)
	if num.Type != gjson.Number {
		return Result{Code: defaultCode}
	}
	res := Result{Code: errcode.Code(num.Int())}
	if msg := doc.Get(fieldErrorMessage); msg.Type == gjson.String {
		res.Message = msg.Str
	}
	return res
}

// BuildInsertResult interprets the answer of a shard to an insert.
//
// 202 Accepted and 201 Created are successes carrying body and counter. A
// 201 means the shard already synced the write, so the returned options have
// WaitForSync forced to true whatever the caller asked for. Other statuses
// are failures whose code comes from the body, defaulting per status.
func BuildInsertResult(status int, body []byte, opts OperationOptions, counter ErrorCounter) OperationResult {
	switch status {
	case http.StatusAccepted:
		return OperationResult{Body: body, Options: opts, ErrorCounter: counter}
	case http.StatusCreated:
		synced := opts
		synced.WaitForSync = true
		return OperationResult{Body: body, Options: synced, ErrorCounter: counter}
	case http.StatusPreconditionFailed:
		return OperationResult{Result: ResultFromBody(body, errcode.Conflict)}
	case http.StatusBadRequest:
		return OperationResult{Result: ResultFromBody(body, errcode.Internal)}
	case http.StatusNotFound:
		return OperationResult{Result: ResultFromBody(body, errcode.DataSourceNotFound)}
	case http.StatusConflict:
		return OperationResult{Result: ResultFromBody(body, errcode.UniqueConstraintViolated)}
	default:
		return OperationResult{Result: ResultFromBody(body, errcode.Internal)}
	}
}

// ExtractErrorCounts reads HeaderErrorCodes into a counter. A missing header
// gives an empty counter. DocumentNotFound entries are dropped unless
// includeNotFound is set.
//
// A header that is present but empty or not a JSON object violates the protocol
// between coordinator and shards and panics.
func ExtractErrorCounts(h http.Header, includeNotFound bool) ErrorCounter {
	counter := ErrorCounter{}
	values := h.Values(HeaderErrorCodes)
	if len(values) == 0 {
		return counter
	}
	raw := values[0]
	doc := gjson.Parse(raw)
	if !gjson.Valid(raw) || !doc.IsObject() {
		panic(fmt.Sprintf("network: %s header is not a JSON object: %q", HeaderErrorCodes, raw))
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		code := errcode.Code(atoiZero(key.String()))
		if !includeNotFound && code == errcode.DocumentNotFound {
			return true
		}
		if n := value.Int(); n > 0 {
			counter[code] += uint64(n)
		}
		return true
	})
	return counter
}

// EncodeErrorCounts renders a counter in the HeaderErrorCodes format. It
// returns "" for an empty counter so callers can skip the header.
func EncodeErrorCounts(c ErrorCounter) string {
	if len(c) == 0 {
		return ""
	}
	buf := []byte{'{'}
	first := true
	for code, n := range c {
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, '"')
		buf = strconv.AppendInt(buf, int64(code), 10)
		buf = append(buf, '"', ':')
		buf = strconv.AppendUint(buf, n, 10)
	}
	return string(append(buf, '}'))
}

func atoiZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
