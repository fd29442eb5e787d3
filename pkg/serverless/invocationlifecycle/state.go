// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package invocationlifecycle

import (
	"strconv"
	"sync"

	"go.uber.org/atomic"

	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
)

// activeInvocation is what is known about the invocation being processed
type activeInvocation struct {
	record     InvocationRecord
	context    propagation.Result
	span       ExecutionSpan
	metricTags []string
}

// RuntimeState is the state shared by the invocations of a process: the
// cold start flag and the invocation currently running. One RuntimeState is
// created per process.
type RuntimeState struct {
	coldStart *atomic.Bool

	mu      sync.RWMutex
	current *activeInvocation
}

// NewRuntimeState returns the state of a process that hasn't been invoked yet
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{coldStart: atomic.NewBool(true)}
}

// IsColdStart returns true until the first invocation ended
func (s *RuntimeState) IsColdStart() bool {
	return s.coldStart.Load()
}

func (s *RuntimeState) markWarm() {
	s.coldStart.Store(false)
}

func (s *RuntimeState) setCurrent(inv *activeInvocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = inv
}

func (s *RuntimeState) getCurrent() *activeInvocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// clearIf forgets inv unless another invocation started since
func (s *RuntimeState) clearIf(inv *activeInvocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == inv {
		s.current = nil
	}
}

// CurrentContext returns the trace context resolved for the running
// invocation, NotFound outside of an invocation.
func (s *RuntimeState) CurrentContext() propagation.Result {
	if inv := s.getCurrent(); inv != nil {
		return inv.context
	}
	return propagation.NotFound()
}

// OutboundHeaders returns the Datadog headers to set on outbound requests.
// With an execution span, downstream services become its children.
func (s *RuntimeState) OutboundHeaders() map[string]string {
	inv := s.getCurrent()
	if inv == nil {
		return nil
	}
	tc, found := inv.context.Get()
	if inv.span == nil {
		if !found {
			return nil
		}
		return propagation.ToOutboundHeaders(tc, 0)
	}
	spanContext := propagation.TraceContext{
		TraceID:    strconv.FormatUint(inv.span.TraceID(), 10),
		ParentID:   strconv.FormatUint(inv.span.SpanID(), 10),
		SampleMode: inv.span.SamplingPriority(),
		Origin:     tc.Origin,
	}
	return propagation.ToOutboundHeaders(spanContext, inv.span.SpanID())
}

// endInvocationHeaders are the headers describing the execution span to the extension
func (inv *activeInvocation) endInvocationHeaders() map[string]string {
	if inv.span == nil {
		if tc, found := inv.context.Get(); found {
			return map[string]string{
				propagation.TraceIDHeader:          tc.TraceID,
				propagation.ParentIDHeader:         tc.ParentID,
				propagation.SamplingPriorityHeader: tc.SampleMode.String(),
			}
		}
		return nil
	}
	return map[string]string{
		propagation.TraceIDHeader:          strconv.FormatUint(inv.span.TraceID(), 10),
		propagation.ParentIDHeader:         strconv.FormatUint(inv.span.ParentID(), 10),
		propagation.SamplingPriorityHeader: inv.span.SamplingPriority().String(),
	}
}
