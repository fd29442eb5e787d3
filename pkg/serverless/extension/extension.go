// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package extension talks to the Datadog Lambda extension running next to
// the function, when there is one.
package extension

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
)

const (
	// AgentURL is where the extension listens
	AgentURL = "http://127.0.0.1:8124"
	// StartInvocationPath is called before the handler runs
	StartInvocationPath = "/lambda/start-invocation"
	// EndInvocationPath is called once the handler returned
	EndInvocationPath = "/lambda/end-invocation"
	// ExtensionPath exists when the extension is installed
	ExtensionPath = "/opt/extensions/datadog-agent"

	// DefaultTimeout bounds every call made to the extension
	DefaultTimeout = 300 * time.Millisecond
)

// ErrNotRunning is returned by calls made while the extension isn't there.
var ErrNotRunning = errors.New("extension is not running")

// EndInvocationRequest is what the extension receives once the handler returned.
type EndInvocationRequest struct {
	// ResponsePayload is the JSON encoded handler response, nil on failure
	ResponsePayload []byte
	// SpanID of the execution span, 0 when tracing is disabled
	SpanID uint64
	// TraceHeaders are the Datadog headers of the active trace
	TraceHeaders map[string]string
	IsError      bool
}

// Bridge sends the start/end invocation requests to the extension.
type Bridge struct {
	baseURL    string
	markerPath string
	client     *http.Client

	runningOnce sync.Once
	running     bool
}

// Option configures a Bridge
type Option func(*Bridge)

// WithBaseURL changes the extension address
func WithBaseURL(url string) Option {
	return func(b *Bridge) { b.baseURL = url }
}

// WithMarkerPath changes the file checked to detect the extension
func WithMarkerPath(path string) Option {
	return func(b *Bridge) { b.markerPath = path }
}

// WithTimeout changes the timeout of the calls to the extension
func WithTimeout(timeout time.Duration) Option {
	return func(b *Bridge) { b.client.Timeout = timeout }
}

// NewBridge returns a Bridge talking to the default extension address.
func NewBridge(opts ...Option) *Bridge {
	b := &Bridge{
		baseURL:    AgentURL,
		markerPath: ExtensionPath,
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsRunning returns true if the extension is installed. The filesystem is
// checked on the first call only; the answer holds for the process lifetime.
func (b *Bridge) IsRunning() bool {
	b.runningOnce.Do(func() {
		_, err := os.Stat(b.markerPath)
		b.running = err == nil
		log.Debugf("datadog extension running: %t", b.running)
	})
	return b.running
}

// SendStartInvocationRequest forwards the invocation event to the extension
// and returns the trace context found in its response headers, if any.
// Failures are logged and reported as NotFound.
func (b *Bridge) SendStartInvocationRequest(ctx context.Context, event []byte) propagation.Result {
	if len(event) == 0 {
		event = []byte("null")
	}

	resp, err := b.post(ctx, StartInvocationPath, event, nil)
	if errors.Is(err, ErrNotRunning) {
		return propagation.NotFound()
	}
	if err != nil {
		log.Debugf("couldn't send the start invocation request: %v", err)
		return propagation.NotFound()
	}

	res := propagation.FromHeaders(resp.Header, propagation.SourceExtension)
	tc, found := res.Get()
	if !found {
		log.Debug("no trace context in the start invocation response")
		return res
	}
	tc.Origin = propagation.LambdaOrigin
	log.Debugf("extracted trace context from the extension: %s", tc)
	return propagation.Found(tc)
}

// SendEndInvocationRequest reports the handler response and the execution
// span to the extension. Failures are logged and swallowed.
func (b *Bridge) SendEndInvocationRequest(ctx context.Context, req EndInvocationRequest) {
	payload := req.ResponsePayload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	headers := endInvocationHeaders(req)
	if _, err := b.post(ctx, EndInvocationPath, payload, headers); err != nil && !errors.Is(err, ErrNotRunning) {
		log.Debugf("couldn't send the end invocation request: %v", err)
	}
}

func endInvocationHeaders(req EndInvocationRequest) map[string]string {
	headers := make(map[string]string, len(req.TraceHeaders)+2)
	for k, v := range req.TraceHeaders {
		headers[k] = v
	}
	if req.SpanID != 0 {
		spanID := strconv.FormatUint(req.SpanID, 10)
		// a root span would otherwise point to itself
		if parentID, ok := headers[propagation.ParentIDHeader]; ok && parentID == spanID {
			delete(headers, propagation.ParentIDHeader)
		}
		headers[propagation.SpanIDHeader] = spanID
	}
	if req.IsError {
		headers[propagation.InvocationErrorHeader] = "true"
	}
	return headers
}

func (b *Bridge) post(ctx context.Context, path string, body []byte, headers map[string]string) (*http.Response, error) {
	if !b.IsRunning() {
		return nil, ErrNotRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("can't create the POST %s request: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(propagation.UntracedRequestHeader, "1")
	for k, v := range headers {
		request.Header.Set(k, v)
	}

	response, err := b.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("error while POST %s: %w", path, err)
	}
	defer response.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s: received an HTTP %s", path, response.Status)
	}
	return response, nil
}
