// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package propagation holds the canonical trace context of an invocation and
// the conversions between Datadog headers, X-Ray identifiers and that context.
package propagation

import "fmt"

// SampleMode is the Datadog sampling priority attached to a trace.
type SampleMode int

const (
	// SampleModeUserReject drops the trace, decided by the user.
	SampleModeUserReject SampleMode = -1
	// SampleModeAutoReject drops the trace, decided by the sampler.
	SampleModeAutoReject SampleMode = 0
	// SampleModeAutoKeep keeps the trace, decided by the sampler.
	SampleModeAutoKeep SampleMode = 1
	// SampleModeUserKeep keeps the trace, decided by the user.
	SampleModeUserKeep SampleMode = 2
)

// String returns the decimal form used in headers.
func (m SampleMode) String() string {
	return fmt.Sprintf("%d", int(m))
}

// Source tells where a TraceContext was read from.
type Source string

const (
	// SourceEvent is a context read from the invocation event headers.
	SourceEvent Source = "EVENT"
	// SourceXRay is a context converted from the X-Ray trace header.
	SourceXRay Source = "XRAY"
	// SourceExtension is a context returned by the local extension.
	SourceExtension Source = "EXTENSION"
)

// TraceContext is the trace context an invocation span gets parented to.
// TraceID and ParentID are decimal strings.
type TraceContext struct {
	TraceID    string
	ParentID   string
	SampleMode SampleMode
	Source     Source
	// Origin is only set for contexts handed back by the extension.
	Origin string
}

// String implements fmt.Stringer
func (tc TraceContext) String() string {
	return fmt.Sprintf("trace_id=%s parent_id=%s sample_mode=%d source=%s", tc.TraceID, tc.ParentID, tc.SampleMode, tc.Source)
}

// Result is the outcome of reading a context source: either a full
// TraceContext was found, or nothing was.
type Result struct {
	context TraceContext
	found   bool
}

// Found wraps a resolved context.
func Found(tc TraceContext) Result {
	return Result{context: tc, found: true}
}

// NotFound is the empty result.
func NotFound() Result {
	return Result{}
}

// Get returns the context and whether one was found.
func (r Result) Get() (TraceContext, bool) {
	return r.context, r.found
}

// IsFound returns true when the result holds a context.
func (r Result) IsFound() bool {
	return r.found
}

// Or returns r when it holds a context, otherwise the result of next.
// next is only evaluated when r is empty.
func (r Result) Or(next func() Result) Result {
	if r.found {
		return r
	}
	return next()
}

// String implements fmt.Stringer
func (r Result) String() string {
	if !r.found {
		return "<not found>"
	}
	return r.context.String()
}
