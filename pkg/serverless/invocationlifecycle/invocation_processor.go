// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package invocationlifecycle

import (
	"context"
	"time"

	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/extension"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
)

// InvocationProcessor is the interface to implement to receive invocation lifecycle hooks
type InvocationProcessor interface {
	// OnInvokeStart is the hook triggered when an invocation has started
	OnInvokeStart(ctx context.Context, startDetails *InvocationStartDetails)
	// OnInvokeEnd is the hook triggered when an invocation has ended
	OnInvokeEnd(ctx context.Context, endDetails *InvocationEndDetails)
}

// SpanOptions configures the execution span
type SpanOptions struct {
	Service   string
	Resource  string
	StartTime time.Time
	Tags      map[string]interface{}
}

// Tracer creates the execution span of an invocation
type Tracer interface {
	// StartExecutionSpan starts a span, child of parent when it was found
	StartExecutionSpan(parent propagation.Result, opts SpanOptions) ExecutionSpan
}

// ExecutionSpan is the span covering the handler execution
type ExecutionSpan interface {
	TraceID() uint64
	SpanID() uint64
	// ParentID is the span ID of the parent, SpanID for a root span
	ParentID() uint64
	SamplingPriority() propagation.SampleMode
	SetTag(key string, value interface{})
	// Finish ends the span, flagged as an error when err isn't nil
	Finish(err error)
}

// spanContextInjector is implemented by the spans that can be handed to the
// handler through its context
type spanContextInjector interface {
	ContextWithSpan(ctx context.Context) context.Context
}

// ExtensionClient talks to the Datadog extension
type ExtensionClient interface {
	IsRunning() bool
	SendStartInvocationRequest(ctx context.Context, event []byte) propagation.Result
	SendEndInvocationRequest(ctx context.Context, req extension.EndInvocationRequest)
}

// XRayClient reads and annotates the X-Ray trace of the invocation
type XRayClient interface {
	ReadFromEnvironment() propagation.Result
	PublishMetadataSubsegment(tc propagation.TraceContext) error
}

// MetricsClient submits the enhanced metrics
type MetricsClient interface {
	SendInvocationEnhancedMetric(tags []string) error
	SendErrorsEnhancedMetric(tags []string) error
	Flush() error
}
