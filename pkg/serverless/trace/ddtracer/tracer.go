// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ddtracer creates the execution span with dd-trace-go.
package ddtracer

import (
	"context"
	"strconv"

	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/invocationlifecycle"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
)

// Tracer starts execution spans on the global dd-trace-go tracer
type Tracer struct {
	propagator tracer.Propagator
}

// New returns a Tracer reading parent contexts from the Datadog headers
func New() *Tracer {
	return &Tracer{
		propagator: tracer.NewPropagator(&tracer.PropagatorConfig{
			TraceHeader:    propagation.TraceIDHeader,
			ParentHeader:   propagation.ParentIDHeader,
			PriorityHeader: propagation.SamplingPriorityHeader,
		}),
	}
}

// Start starts the global tracer the way a function expects it: spans are
// flushed by the extension when it runs, printed to stdout otherwise.
func Start(service string, extensionRunning bool) {
	tracer.Start(
		tracer.WithService(service),
		tracer.WithLambdaMode(!extensionRunning),
		tracer.WithGlobalTag("_dd.origin", propagation.LambdaOrigin),
		tracer.WithLogStartup(false),
	)
}

// Stop flushes and stops the global tracer
func Stop() {
	tracer.Stop()
}

// Flush sends the finished spans without waiting for the flush interval
func (t *Tracer) Flush() {
	tracer.Flush()
}

// StartExecutionSpan implements invocationlifecycle.Tracer
func (t *Tracer) StartExecutionSpan(parent propagation.Result, opts invocationlifecycle.SpanOptions) invocationlifecycle.ExecutionSpan {
	startOpts := []ddtrace.StartSpanOption{
		tracer.SpanType(invocationlifecycle.ExecutionSpanType),
		tracer.ResourceName(opts.Resource),
	}
	if opts.Service != "" {
		startOpts = append(startOpts, tracer.ServiceName(opts.Service))
	}
	if !opts.StartTime.IsZero() {
		startOpts = append(startOpts, tracer.StartTime(opts.StartTime))
	}
	for k, v := range opts.Tags {
		startOpts = append(startOpts, tracer.Tag(k, v))
	}

	parentContext, found := parent.Get()
	var parentID uint64
	if found {
		spanContext, err := t.propagator.Extract(tracer.TextMapCarrier(propagation.ToOutboundHeaders(parentContext, 0)))
		if err != nil {
			log.Errorf("couldn't convert the trace context to a span context: %v", err)
			found = false
		} else {
			startOpts = append(startOpts, tracer.ChildOf(spanContext))
			parentID, _ = strconv.ParseUint(parentContext.ParentID, 10, 64)
		}
	}

	span := tracer.StartSpan(invocationlifecycle.ExecutionSpanName, startOpts...)
	s := &executionSpan{span: span, parentID: parentID}
	if found {
		s.fallbackPriority = parentContext.SampleMode
	} else {
		s.parentID = span.Context().SpanID()
		s.fallbackPriority = propagation.SampleModeAutoKeep
	}
	return s
}

// executionSpan implements invocationlifecycle.ExecutionSpan on a dd-trace-go span
type executionSpan struct {
	span             ddtrace.Span
	parentID         uint64
	fallbackPriority propagation.SampleMode
}

// samplingPriorityGetter is implemented by the dd-trace-go span contexts
type samplingPriorityGetter interface {
	SamplingPriority() (int, bool)
}

func (s *executionSpan) TraceID() uint64 {
	return s.span.Context().TraceID()
}

func (s *executionSpan) SpanID() uint64 {
	return s.span.Context().SpanID()
}

func (s *executionSpan) ParentID() uint64 {
	return s.parentID
}

func (s *executionSpan) SamplingPriority() propagation.SampleMode {
	if getter, ok := s.span.Context().(samplingPriorityGetter); ok {
		if priority, ok := getter.SamplingPriority(); ok {
			return propagation.SampleMode(priority)
		}
	}
	return s.fallbackPriority
}

// ContextWithSpan makes the span the parent of the spans the handler creates
func (s *executionSpan) ContextWithSpan(ctx context.Context) context.Context {
	return tracer.ContextWithSpan(ctx, s.span)
}

func (s *executionSpan) SetTag(key string, value interface{}) {
	s.span.SetTag(key, value)
}

func (s *executionSpan) Finish(err error) {
	if err != nil {
		s.span.Finish(tracer.WithError(err))
		return
	}
	s.span.Finish()
}
