package shard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sharedcode/accessmgr"
)

// ErrorBody is the structured error payload carried on non-2xx responses.
// Attributes echoes the offending argument values.
type ErrorBody struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Attributes []string `json:"attributes,omitempty"`
}

// NewErrorBody serializes err into the wire payload. Wrapped detail is only
// included when includeInner is set.
func NewErrorBody(err error, includeInner bool) ErrorBody {
	if e, ok := err.(accessmgr.Error); ok {
		b := ErrorBody{Code: e.Code.WireName(), Attributes: e.Attributes}
		if includeInner && e.Err != nil {
			b.Message = e.Err.Error()
		}
		return b
	}
	b := ErrorBody{Code: accessmgr.Unknown.WireName()}
	if includeInner {
		b.Message = err.Error()
	}
	return b
}

// ToError reconstructs the module error from the wire payload.
func (b ErrorBody) ToError() error {
	return accessmgr.NewError(accessmgr.ParseWireName(b.Code), b.Message, b.Attributes...)
}

// HTTPTransport is the default Transport: JSON over HTTP against the node
// REST surface, with fixed-interval retry on transient transport errors.
type HTTPTransport struct {
	client        *http.Client
	retryCount    int
	retryInterval time.Duration
}

// NewHTTPTransport builds a transport with the options' retry tunables and a
// shared HTTP client.
func NewHTTPTransport(opts accessmgr.Options) *HTTPTransport {
	opts = opts.FillDefaults()
	return &HTTPTransport{
		client:        &http.Client{Timeout: 30 * time.Second},
		retryCount:    opts.RetryCount,
		retryInterval: opts.RetryInterval,
	}
}

func (t *HTTPTransport) SendEvents(ctx context.Context, endpoint string, events []accessmgr.Event) error {
	return t.post(ctx, endpoint+"/v1/events", events, nil)
}

func (t *HTTPTransport) Query(ctx context.Context, endpoint string, q QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	err := t.post(ctx, endpoint+"/v1/query", q, &resp)
	return resp, err
}

func (t *HTTPTransport) ProcessingCount(ctx context.Context, endpoint string) (int64, error) {
	var resp struct {
		ProcessingCount int64 `json:"processingCount"`
	}
	err := t.get(ctx, endpoint+"/v1/status", &resp)
	return resp.ProcessingCount, err
}

// post sends body as JSON and decodes a 2xx response into out (when out is
// non-nil). Transient transport failures are retried; application errors
// decoded from an ErrorBody surface as-is.
func (t *HTTPTransport) post(ctx context.Context, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return accessmgr.RetryFixed(ctx, t.retryCount, t.retryInterval, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return t.do(req, out)
	})
}

func (t *HTTPTransport) get(ctx context.Context, url string, out any) error {
	return accessmgr.RetryFixed(ctx, t.retryCount, t.retryInterval, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		return t.do(req, out)
	})
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var body ErrorBody
		if json.Unmarshal(data, &body) == nil && body.Code != "" {
			return body.ToError()
		}
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
