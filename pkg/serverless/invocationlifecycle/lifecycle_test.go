// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package invocationlifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/extension"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trigger"
)

const (
	testARN  = "arn:aws:lambda:us-east-1:123456789012:function:my-Function:7"
	eventRaw = `{"headers":{"x-datadog-trace-id":"4110911582297405557","x-datadog-parent-id":"797643193680388254","x-datadog-sampling-priority":"2"}}`
)

var eventContext = propagation.TraceContext{
	TraceID:    "4110911582297405557",
	ParentID:   "797643193680388254",
	SampleMode: propagation.SampleModeUserKeep,
	Source:     propagation.SourceEvent,
}

var xrayContext = propagation.TraceContext{
	TraceID:    "1111",
	ParentID:   "2222",
	SampleMode: propagation.SampleModeUserKeep,
	Source:     propagation.SourceXRay,
}

type fakeSpan struct {
	traceID, spanID, parentID uint64
	priority                  propagation.SampleMode
	tags                      map[string]interface{}
	finished                  int
	finishErr                 error
}

func (s *fakeSpan) TraceID() uint64                          { return s.traceID }
func (s *fakeSpan) SpanID() uint64                           { return s.spanID }
func (s *fakeSpan) ParentID() uint64                         { return s.parentID }
func (s *fakeSpan) SamplingPriority() propagation.SampleMode { return s.priority }
func (s *fakeSpan) SetTag(key string, value interface{})     { s.tags[key] = value }
func (s *fakeSpan) Finish(err error) {
	s.finished++
	s.finishErr = err
}

type fakeTracer struct {
	parents []propagation.Result
	opts    []SpanOptions
	spans   []*fakeSpan
}

func (t *fakeTracer) StartExecutionSpan(parent propagation.Result, opts SpanOptions) ExecutionSpan {
	t.parents = append(t.parents, parent)
	t.opts = append(t.opts, opts)
	span := &fakeSpan{traceID: 1, spanID: 99, parentID: 99, priority: propagation.SampleModeAutoKeep, tags: opts.Tags}
	if tc, found := parent.Get(); found {
		span.parentID = 2222
		span.priority = tc.SampleMode
	}
	t.spans = append(t.spans, span)
	return span
}

type fakeExtension struct {
	running    bool
	startResp  propagation.Result
	starts     [][]byte
	ends       []extension.EndInvocationRequest
	panicStart bool
}

func (e *fakeExtension) IsRunning() bool { return e.running }

func (e *fakeExtension) SendStartInvocationRequest(_ context.Context, event []byte) propagation.Result {
	if e.panicStart {
		panic("boom")
	}
	if !e.running {
		return propagation.NotFound()
	}
	e.starts = append(e.starts, event)
	return e.startResp
}

func (e *fakeExtension) SendEndInvocationRequest(_ context.Context, req extension.EndInvocationRequest) {
	if !e.running {
		return
	}
	e.ends = append(e.ends, req)
}

type fakeXRay struct {
	env       propagation.Result
	reads     int
	published []propagation.TraceContext
	err       error
}

func (x *fakeXRay) ReadFromEnvironment() propagation.Result {
	x.reads++
	return x.env
}

func (x *fakeXRay) PublishMetadataSubsegment(tc propagation.TraceContext) error {
	x.published = append(x.published, tc)
	return x.err
}

type fakeMetrics struct {
	invocations [][]string
	errors      [][]string
	flushes     int
	calls       []string
}

func (m *fakeMetrics) SendInvocationEnhancedMetric(tags []string) error {
	m.invocations = append(m.invocations, tags)
	m.calls = append(m.calls, "invocations")
	return nil
}

func (m *fakeMetrics) SendErrorsEnhancedMetric(tags []string) error {
	m.errors = append(m.errors, tags)
	m.calls = append(m.calls, "errors")
	return nil
}

func (m *fakeMetrics) Flush() error {
	m.flushes++
	m.calls = append(m.calls, "flush")
	return errors.New("flush failed")
}

type fixture struct {
	lp        *LifecycleProcessor
	tracer    *fakeTracer
	extension *fakeExtension
	xray      *fakeXRay
	metrics   *fakeMetrics
}

func newFixture() *fixture {
	f := &fixture{
		tracer:    &fakeTracer{},
		extension: &fakeExtension{},
		xray:      &fakeXRay{env: propagation.Found(xrayContext)},
		metrics:   &fakeMetrics{},
	}
	f.lp = &LifecycleProcessor{
		State:                  NewRuntimeState(),
		Tracer:                 f.tracer,
		Extension:              f.extension,
		XRay:                   f.xray,
		Metrics:                f.metrics,
		Service:                "aws.lambda",
		EnhancedMetricsEnabled: true,
	}
	return f
}

func testRecord() InvocationRecord {
	return InvocationRecord{
		HandlerName:     "main",
		FunctionName:    "my-Function",
		RequestID:       "request-1",
		FunctionARN:     testARN,
		FunctionVersion: "7",
		MemorySize:      128,
	}
}

func okHandler(response string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) {
		return []byte(response), nil
	}
}

func TestInvokeResolvesContextFromEventHeaders(t *testing.T) {
	f := newFixture()
	var during propagation.Result
	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), func(context.Context) ([]byte, error) {
		during = f.lp.State.CurrentContext()
		return nil, nil
	})
	require.NoError(t, err)

	tc, found := during.Get()
	require.True(t, found)
	assert.Equal(t, eventContext, tc)
	assert.Equal(t, []propagation.TraceContext{eventContext}, f.xray.published)
	assert.Zero(t, f.xray.reads)
	require.Len(t, f.tracer.parents, 1)
	assert.Equal(t, during, f.tracer.parents[0])
	assert.False(t, f.lp.State.CurrentContext().IsFound())
}

func TestInvokeIgnoresXRayByDefault(t *testing.T) {
	f := newFixture()
	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), okHandler(""))
	require.NoError(t, err)

	assert.Zero(t, f.xray.reads)
	assert.Empty(t, f.xray.published)
	require.Len(t, f.tracer.parents, 1)
	assert.False(t, f.tracer.parents[0].IsFound())
}

func TestInvokeFallsBackToXRay(t *testing.T) {
	f := newFixture()
	f.lp.MergeXRayTraces = true
	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), okHandler(""))
	require.NoError(t, err)

	assert.Equal(t, 1, f.xray.reads)
	assert.Empty(t, f.xray.published)
	require.Len(t, f.tracer.parents, 1)
	tc, found := f.tracer.parents[0].Get()
	require.True(t, found)
	assert.Equal(t, xrayContext, tc)
	assert.Equal(t, "xray", f.tracer.opts[0].Tags["_dd.parent_source"])
}

func TestInvokeEventHeadersWinOverXRay(t *testing.T) {
	f := newFixture()
	f.lp.MergeXRayTraces = true
	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), okHandler(""))
	require.NoError(t, err)

	assert.Zero(t, f.xray.reads)
	tc, _ := f.tracer.parents[0].Get()
	assert.Equal(t, propagation.SourceEvent, tc.Source)
	assert.NotContains(t, f.tracer.opts[0].Tags, "_dd.parent_source")
}

func TestInvokeExtensionContextOverridesEventHeaders(t *testing.T) {
	f := newFixture()
	extensionContext := propagation.TraceContext{
		TraceID:    "5555",
		ParentID:   "6666",
		SampleMode: propagation.SampleModeAutoKeep,
		Source:     propagation.SourceExtension,
		Origin:     propagation.LambdaOrigin,
	}
	f.extension.running = true
	f.extension.startResp = propagation.Found(extensionContext)

	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), okHandler(""))
	require.NoError(t, err)

	require.Len(t, f.extension.starts, 1)
	assert.Equal(t, eventRaw, string(f.extension.starts[0]))
	tc, _ := f.tracer.parents[0].Get()
	assert.Equal(t, extensionContext, tc)
	// the event context was still found, so X-Ray got its subsegment
	assert.Len(t, f.xray.published, 1)
}

func TestInvokeExtensionWithoutContextKeepsEventHeaders(t *testing.T) {
	f := newFixture()
	f.extension.running = true
	f.extension.startResp = propagation.NotFound()

	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), okHandler(""))
	require.NoError(t, err)

	tc, _ := f.tracer.parents[0].Get()
	assert.Equal(t, eventContext, tc)
}

func TestInvokeWithoutExtension(t *testing.T) {
	f := newFixture()
	f.lp.Extension = extension.NewBridge(
		extension.WithMarkerPath(filepath.Join(t.TempDir(), "datadog-agent")),
		extension.WithBaseURL("http://127.0.0.1:1"),
	)

	response, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), okHandler(`{"statusCode":200}`))
	require.NoError(t, err)
	assert.Equal(t, `{"statusCode":200}`, string(response))

	tc, _ := f.tracer.parents[0].Get()
	assert.Equal(t, eventContext, tc)
	assert.Equal(t, 1, f.tracer.spans[0].finished)
}

func TestInvokeHandlerError(t *testing.T) {
	f := newFixture()
	f.extension.running = true
	handlerErr := errors.New("handler failed")

	response, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), func(context.Context) ([]byte, error) {
		return []byte("ignored"), handlerErr
	})

	assert.Equal(t, "ignored", string(response))
	assert.Same(t, handlerErr, err)
	assert.Len(t, f.metrics.errors, 1)
	assert.Len(t, f.metrics.invocations, 1)
	require.Len(t, f.extension.ends, 1)
	assert.True(t, f.extension.ends[0].IsError)
	assert.Nil(t, f.extension.ends[0].ResponsePayload)
	assert.Equal(t, 1, f.tracer.spans[0].finished)
	assert.Same(t, handlerErr, f.tracer.spans[0].finishErr)
	assert.False(t, f.lp.State.IsColdStart())
}

func TestInvokeEndInvocationRequest(t *testing.T) {
	f := newFixture()
	f.extension.running = true

	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), okHandler(`{"ok":true}`))
	require.NoError(t, err)

	require.Len(t, f.extension.ends, 1)
	end := f.extension.ends[0]
	assert.Equal(t, `{"ok":true}`, string(end.ResponsePayload))
	assert.Equal(t, uint64(99), end.SpanID)
	assert.False(t, end.IsError)
	assert.Equal(t, map[string]string{
		"x-datadog-trace-id":          "1",
		"x-datadog-parent-id":         "2222",
		"x-datadog-sampling-priority": "2",
	}, end.TraceHeaders)
}

func TestInvokeWithoutTracer(t *testing.T) {
	f := newFixture()
	f.lp.Tracer = nil
	f.extension.running = true

	var outbound map[string]string
	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), func(context.Context) ([]byte, error) {
		outbound = f.lp.State.OutboundHeaders()
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, propagation.ToOutboundHeaders(eventContext, 0), outbound)
	require.Len(t, f.extension.ends, 1)
	assert.Zero(t, f.extension.ends[0].SpanID)
	assert.Equal(t, "797643193680388254", f.extension.ends[0].TraceHeaders["x-datadog-parent-id"])
}

func TestInvokeOutboundHeadersFromSpan(t *testing.T) {
	f := newFixture()
	var outbound map[string]string
	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), func(context.Context) ([]byte, error) {
		outbound = f.lp.State.OutboundHeaders()
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"x-datadog-trace-id":          "1",
		"x-datadog-parent-id":         "99",
		"x-datadog-span-id":           "99",
		"x-datadog-sampling-priority": "2",
	}, outbound)
	assert.Nil(t, f.lp.State.OutboundHeaders())
}

func TestColdStartIsReportedOnce(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		handler := okHandler("")
		if i == 1 {
			handler = func(context.Context) ([]byte, error) { return nil, errors.New("failed") }
		}
		_, _ = f.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), handler)
	}

	require.Len(t, f.tracer.opts, 3)
	assert.Equal(t, true, f.tracer.opts[0].Tags["cold_start"])
	assert.Equal(t, false, f.tracer.opts[1].Tags["cold_start"])
	assert.Equal(t, false, f.tracer.opts[2].Tags["cold_start"])
	require.Len(t, f.metrics.invocations, 3)
	assert.Contains(t, f.metrics.invocations[0], "cold_start:true")
	assert.Contains(t, f.metrics.invocations[1], "cold_start:false")
	assert.Contains(t, f.metrics.invocations[2], "cold_start:false")
}

func TestColdStartIsPerRuntimeState(t *testing.T) {
	first := newFixture()
	second := newFixture()
	_, _ = first.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), okHandler(""))
	_, _ = second.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), okHandler(""))

	assert.Equal(t, true, first.tracer.opts[0].Tags["cold_start"])
	assert.Equal(t, true, second.tracer.opts[0].Tags["cold_start"])
}

func TestEnhancedMetricsDisabled(t *testing.T) {
	f := newFixture()
	f.lp.EnhancedMetricsEnabled = false
	_, _ = f.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), func(context.Context) ([]byte, error) {
		return nil, errors.New("failed")
	})

	assert.Empty(t, f.metrics.invocations)
	assert.Empty(t, f.metrics.errors)
	assert.Equal(t, 1, f.metrics.flushes)
}

func TestMetricsOrder(t *testing.T) {
	f := newFixture()
	_, _ = f.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), func(context.Context) ([]byte, error) {
		return nil, errors.New("failed")
	})
	assert.Equal(t, []string{"invocations", "errors", "flush"}, f.metrics.calls)
}

func TestExecutionSpanTags(t *testing.T) {
	f := newFixture()
	event := `{"Records":[{"eventSource":"aws:sqs","eventSourceARN":"arn:aws:sqs:us-east-1:123456789012:my-queue"}]}`
	_, err := f.lp.Invoke(context.Background(), testRecord(), []byte(event), okHandler(""))
	require.NoError(t, err)

	opts := f.tracer.opts[0]
	assert.Equal(t, "aws.lambda", opts.Service)
	assert.Equal(t, "my-Function", opts.Resource)
	assert.False(t, opts.StartTime.IsZero())
	assert.Equal(t, map[string]interface{}{
		"cold_start":                        true,
		"request_id":                        "request-1",
		"resource_names":                    "my-Function",
		"functionname":                      "my-Function",
		"function_arn":                      "arn:aws:lambda:us-east-1:123456789012:function:my-function",
		"function_version":                  "7",
		trigger.EventSourceTag:              trigger.SQS,
		"function_trigger.event_source_arn": "arn:aws:sqs:us-east-1:123456789012:my-queue",
	}, opts.Tags)
}

func TestInvokeSurvivesFailingSideCalls(t *testing.T) {
	f := newFixture()
	f.extension.panicStart = true
	f.xray.err = errors.New("no daemon")

	response, err := f.lp.Invoke(context.Background(), testRecord(), []byte(eventRaw), okHandler("done"))
	require.NoError(t, err)
	assert.Equal(t, "done", string(response))
	assert.Len(t, f.tracer.spans, 1)
	assert.Len(t, f.metrics.invocations, 1)
}

func TestInvokeHandlerPanic(t *testing.T) {
	f := newFixture()
	f.extension.running = true

	assert.PanicsWithValue(t, "handler exploded", func() {
		_, _ = f.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), func(context.Context) ([]byte, error) {
			panic("handler exploded")
		})
	})

	assert.Len(t, f.metrics.errors, 1)
	require.Len(t, f.extension.ends, 1)
	assert.True(t, f.extension.ends[0].IsError)
	assert.Equal(t, 1, f.tracer.spans[0].finished)
	assert.False(t, f.lp.State.IsColdStart())
}

func TestInvokeHandlerGoexit(t *testing.T) {
	f := newFixture()
	f.extension.running = true

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.lp.Invoke(context.Background(), testRecord(), []byte(`{}`), func(context.Context) ([]byte, error) {
			runtime.Goexit()
			return nil, nil
		})
	}()
	<-done

	assert.Empty(t, f.metrics.errors)
	require.Len(t, f.extension.ends, 1)
	assert.False(t, f.extension.ends[0].IsError)
	require.Len(t, f.tracer.spans, 1)
	assert.Equal(t, 1, f.tracer.spans[0].finished)
	assert.NoError(t, f.tracer.spans[0].finishErr)
	assert.False(t, f.lp.State.IsColdStart())
}

// lockedTracer hands out a new span id per execution span
type lockedTracer struct {
	sync.Mutex
	spans []*fakeSpan
}

func (t *lockedTracer) StartExecutionSpan(_ propagation.Result, opts SpanOptions) ExecutionSpan {
	t.Lock()
	defer t.Unlock()
	span := &fakeSpan{traceID: 1, spanID: uint64(len(t.spans) + 1), priority: propagation.SampleModeAutoKeep, tags: opts.Tags}
	t.spans = append(t.spans, span)
	return span
}

func TestConcurrentInvocationsEndTheirOwnSpan(t *testing.T) {
	tracer := &lockedTracer{}
	lp := &LifecycleProcessor{State: NewRuntimeState(), Tracer: tracer}

	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})
	firstDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(firstDone)
		_, err := lp.Invoke(context.Background(), testRecord(), []byte(`{}`), func(context.Context) ([]byte, error) {
			close(firstStarted)
			<-secondStarted
			return nil, nil
		})
		assert.NoError(t, err)
	}()
	<-firstStarted
	go func() {
		defer wg.Done()
		_, err := lp.Invoke(context.Background(), testRecord(), []byte(`{}`), func(context.Context) ([]byte, error) {
			close(secondStarted)
			<-firstDone
			// the first invocation ended, this one is still current
			if current := lp.State.getCurrent(); assert.NotNil(t, current) {
				assert.Equal(t, uint64(2), current.span.SpanID())
			}
			return nil, nil
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	require.Len(t, tracer.spans, 2)
	for _, span := range tracer.spans {
		assert.Equal(t, 1, span.finished, "span %d", span.spanID)
	}
	assert.Nil(t, lp.State.getCurrent())
}

func TestOnInvokeEndWithoutStart(t *testing.T) {
	f := newFixture()
	f.extension.running = true
	f.lp.OnInvokeEnd(context.Background(), &InvocationEndDetails{})
	require.Len(t, f.extension.ends, 1)
	assert.Nil(t, f.extension.ends[0].TraceHeaders)
	assert.False(t, f.lp.State.IsColdStart())
}

func TestAttemptBestEffort(t *testing.T) {
	assert.NoError(t, AttemptBestEffort("ok", func() error { return nil }))

	expected := errors.New("failed")
	assert.Same(t, expected, AttemptBestEffort("failing", func() error { return expected }))

	err := AttemptBestEffort("panicking", func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicking panicked: boom")
}
