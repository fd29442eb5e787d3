// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ddlambda

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/config"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/extension"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/invocationlifecycle"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/metrics"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/xray"
)

const (
	testARN   = "arn:aws:lambda:us-east-1:123456789012:function:my-function"
	testEvent = `{"headers":{"x-datadog-trace-id":"1231452342","x-datadog-parent-id":"45678910","x-datadog-sampling-priority":"2"}}`
)

// useTestProcess replaces the process components for the duration of the test
func useTestProcess(t *testing.T) (*process, *bytes.Buffer) {
	out := &bytes.Buffer{}
	p := &process{
		state:     invocationlifecycle.NewRuntimeState(),
		extension: extension.NewBridge(extension.WithMarkerPath(filepath.Join(t.TempDir(), "datadog-agent"))),
		metrics:   metrics.NewClient(false, metrics.WithWriter(out)),
		xray:      xray.NewSource(xray.WithGetenv(func(string) string { return "" })),
	}

	previous := defaultProcess.Load()
	processOnce = sync.Once{}
	processOnce.Do(func() { defaultProcess.Store(p) })
	t.Cleanup(func() { defaultProcess.Store(previous) })

	previousName := lambdacontext.FunctionName
	lambdacontext.FunctionName = "my-function"
	t.Cleanup(func() { lambdacontext.FunctionName = previousName })
	return p, out
}

func lambdaContext() context.Context {
	return lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
		AwsRequestID:       "8286a188-ba32-4475-8077-530cd35c09a9",
		InvokedFunctionArn: testARN,
	})
}

func testConfig() Config {
	return Config{
		EnhancedMetrics:  true,
		Service:          config.DefaultService,
		ExtensionTimeout: extension.DefaultTimeout,
	}
}

func TestWrapFunctionExposesEventContext(t *testing.T) {
	p, _ := useTestProcess(t)

	var seen propagation.Result
	handler := lambda.NewHandler(func(ctx context.Context, event map[string]interface{}) (string, error) {
		seen = CurrentTraceContext()
		return "ok", nil
	})

	response, err := wrap(handler, testConfig(), p, nil).Invoke(lambdaContext(), []byte(testEvent))
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(response))

	tc, found := seen.Get()
	require.True(t, found)
	assert.Equal(t, "1231452342", tc.TraceID)
	assert.Equal(t, "45678910", tc.ParentID)
	assert.Equal(t, propagation.SampleModeUserKeep, tc.SampleMode)
	assert.Equal(t, propagation.SourceEvent, tc.Source)

	assert.False(t, CurrentTraceContext().IsFound(), "context is cleared after the invocation")
	assert.False(t, p.state.IsColdStart())
}

func TestHTTPClientPropagatesContext(t *testing.T) {
	p, _ := useTestProcess(t)

	var received http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
	}))
	defer server.Close()

	client := HTTPClient(nil)
	handler := lambda.NewHandler(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})

	_, err := wrap(handler, testConfig(), p, nil).Invoke(lambdaContext(), []byte(testEvent))
	require.NoError(t, err)

	require.NotNil(t, received)
	assert.Equal(t, "1231452342", received.Get(propagation.TraceIDHeader))
	assert.Equal(t, "45678910", received.Get(propagation.ParentIDHeader))
	assert.Equal(t, "2", received.Get(propagation.SamplingPriorityHeader))
}

func TestHTTPClientOutsideInvocation(t *testing.T) {
	useTestProcess(t)

	var received http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
	}))
	defer server.Close()

	resp, err := HTTPClient(&http.Client{Timeout: time.Second}).Get(server.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Empty(t, received.Get(propagation.TraceIDHeader))
}

func TestEnhancedMetricsArePrinted(t *testing.T) {
	p, out := useTestProcess(t)

	handler := lambda.NewHandler(func(ctx context.Context) error {
		return errors.New("boom")
	})

	_, err := wrap(handler, testConfig(), p, nil).Invoke(lambdaContext(), []byte(`{}`))
	require.Error(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"m":"`+metrics.InvocationsMetric+`"`)
	assert.Contains(t, lines[1], `"m":"`+metrics.ErrorsMetric+`"`)
	for _, line := range lines {
		assert.Contains(t, line, "functionname:my-function")
		assert.Contains(t, line, "cold_start:true")
		assert.Contains(t, line, metrics.LayerTag())
	}
}

func TestEnhancedMetricsDisabled(t *testing.T) {
	p, out := useTestProcess(t)

	cfg := testConfig()
	cfg.EnhancedMetrics = false
	handler := lambda.NewHandler(func(ctx context.Context) error { return nil })

	_, err := wrap(handler, cfg, p, nil).Invoke(lambdaContext(), []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestMetric(t *testing.T) {
	_, out := useTestProcess(t)

	MetricWithTimestamp("my.metric", 3, time.Unix(1700000000, 0), "env:prod")
	assert.Equal(t,
		`{"e":1700000000,"m":"my.metric","t":["`+metrics.LayerTag()+`","env:prod"],"v":3}`+"\n",
		out.String())
}

func TestMetricEmptyName(t *testing.T) {
	_, out := useTestProcess(t)

	Metric("", 1)
	assert.Empty(t, out.String())
}

func TestCurrentTraceContextWithoutProcess(t *testing.T) {
	previous := defaultProcess.Load()
	defaultProcess.Store(nil)
	defer defaultProcess.Store(previous)

	assert.False(t, CurrentTraceContext().IsFound())
	assert.Nil(t, stateProvider{}.OutboundHeaders())
}

func TestInvocationRecord(t *testing.T) {
	useTestProcess(t)
	t.Setenv(handlerEnvVar, "bootstrap")

	record := invocationRecord(lambdaContext())
	assert.Equal(t, "bootstrap", record.HandlerName)
	assert.Equal(t, "my-function", record.FunctionName)
	assert.Equal(t, "8286a188-ba32-4475-8077-530cd35c09a9", record.RequestID)
	assert.Equal(t, testARN, record.FunctionARN)

	empty := invocationRecord(context.Background())
	assert.Empty(t, empty.RequestID)
	assert.Empty(t, empty.FunctionARN)
}

func TestCurrentTraceContextDuringFirstWrap(t *testing.T) {
	previous := defaultProcess.Load()
	defaultProcess.Store(nil)
	processOnce = sync.Once{}
	t.Cleanup(func() { defaultProcess.Store(previous) })

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
				assert.False(t, CurrentTraceContext().IsFound())
			}
		}
	}()

	p := getProcess(testConfig())
	close(stop)
	<-readerDone

	assert.Same(t, p, defaultProcess.Load())
	assert.Same(t, p, getProcess(testConfig()))
}
