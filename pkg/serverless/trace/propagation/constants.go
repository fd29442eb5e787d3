// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package propagation

const (
	// TraceIDHeader is the header containing the traceID
	// used in the event headers and /lambda/start-invocation
	TraceIDHeader = "x-datadog-trace-id"

	// ParentIDHeader is the header containing the parentID
	// used in the event headers and /lambda/start-invocation
	ParentIDHeader = "x-datadog-parent-id"

	// SpanIDHeader is the header containing the spanID
	// used in /lambda/end-invocation and on outbound requests
	SpanIDHeader = "x-datadog-span-id"

	// SamplingPriorityHeader is the header containing the sampling priority
	SamplingPriorityHeader = "x-datadog-sampling-priority"

	// OriginHeader marks where the trace started
	OriginHeader = "x-datadog-origin"

	// InvocationErrorHeader : if set to "true", the extension will know that the current invocation has failed
	// used in /lambda/end-invocation
	InvocationErrorHeader = "x-datadog-invocation-error"

	// UntracedRequestHeader marks internal requests that must not be
	// instrumented. Any value skips instrumentation.
	UntracedRequestHeader = "DD-Internal-Untraced-Request"

	// LambdaOrigin is the origin recorded on contexts returned by the extension
	LambdaOrigin = "lambda"
)
