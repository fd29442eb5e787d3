// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package invocationlifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/aws"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/extension"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trigger"
)

// LifecycleProcessor instruments the invocations of a function: it resolves
// the trace context, creates the execution span, sends the enhanced metrics
// and keeps the extension informed. Every collaborator is optional.
type LifecycleProcessor struct {
	State     *RuntimeState
	Tracer    Tracer
	Extension ExtensionClient
	XRay      XRayClient
	Metrics   MetricsClient

	Service                string
	EnhancedMetricsEnabled bool
	MergeXRayTraces        bool
}

// Invoke runs handler between the start and the end of an invocation. The
// handler result and error are returned unchanged. A handler panic finalizes
// the invocation before being propagated. Concurrent calls each end the
// invocation they started.
func (lp *LifecycleProcessor) Invoke(ctx context.Context, record InvocationRecord, event []byte, handler func(context.Context) ([]byte, error)) (response []byte, err error) {
	record.ColdStart = lp.state().IsColdStart()
	var inv *activeInvocation
	_ = AttemptBestEffort("invocation start", func() error {
		inv = lp.startInvocation(ctx, &InvocationStartDetails{
			StartTime:             time.Now(),
			InvokeEventRawPayload: event,
			Record:                record,
		})
		return nil
	})

	handlerCtx := ctx
	if inv != nil && inv.span != nil {
		if injector, ok := inv.span.(spanContextInjector); ok {
			handlerCtx = injector.ContextWithSpan(ctx)
		}
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		r := recover()
		endDetails := &InvocationEndDetails{EndTime: time.Now()}
		if r != nil {
			endDetails.Error = fmt.Errorf("handler panicked: %v", r)
		} else {
			log.Debug("handler exited its goroutine without returning")
		}
		_ = AttemptBestEffort("invocation end", func() error {
			lp.endInvocation(ctx, inv, endDetails)
			return nil
		})
		if r != nil {
			panic(r)
		}
	}()

	response, err = handler(handlerCtx)
	finished = true

	endDetails := &InvocationEndDetails{EndTime: time.Now(), Error: err}
	if err == nil {
		endDetails.ResponseRawPayload = response
	}
	_ = AttemptBestEffort("invocation end", func() error {
		lp.endInvocation(ctx, inv, endDetails)
		return nil
	})
	return response, err
}

// OnInvokeStart resolves the trace context of the invocation, starts the
// execution span and counts the invocation.
func (lp *LifecycleProcessor) OnInvokeStart(ctx context.Context, startDetails *InvocationStartDetails) {
	lp.startInvocation(ctx, startDetails)
}

func (lp *LifecycleProcessor) startInvocation(ctx context.Context, startDetails *InvocationStartDetails) *activeInvocation {
	record := startDetails.Record
	event := startDetails.InvokeEventRawPayload
	inv := &activeInvocation{record: record}

	fromEvent := propagation.FromEventHeaders(event)
	inv.context = fromEvent.Or(func() propagation.Result {
		if !lp.MergeXRayTraces || lp.XRay == nil {
			return propagation.NotFound()
		}
		return lp.XRay.ReadFromEnvironment()
	})
	if tc, found := fromEvent.Get(); found && lp.XRay != nil {
		_ = AttemptBestEffort("x-ray metadata subsegment", func() error {
			return lp.XRay.PublishMetadataSubsegment(tc)
		})
	}

	if lp.Extension != nil {
		_ = AttemptBestEffort("start invocation request", func() error {
			if res := lp.Extension.SendStartInvocationRequest(ctx, event); res.IsFound() {
				inv.context = res
			}
			return nil
		})
	}
	log.Debugf("trace context of request %s: %s", record.RequestID, inv.context)

	if lp.Tracer != nil {
		_ = AttemptBestEffort("execution span start", func() error {
			inv.span = lp.Tracer.StartExecutionSpan(inv.context, SpanOptions{
				Service:   lp.Service,
				Resource:  record.FunctionName,
				StartTime: startDetails.StartTime,
				Tags:      executionSpanTags(record, inv.context, event, lp.MergeXRayTraces),
			})
			return nil
		})
	}

	inv.metricTags = aws.EnhancedMetricTags(aws.FunctionInfo{
		FunctionARN:     record.FunctionARN,
		FunctionName:    record.FunctionName,
		FunctionVersion: record.FunctionVersion,
		MemorySize:      record.MemorySize,
		ColdStart:       record.ColdStart,
	})
	if lp.EnhancedMetricsEnabled && lp.Metrics != nil {
		_ = AttemptBestEffort("invocations enhanced metric", func() error {
			return lp.Metrics.SendInvocationEnhancedMetric(inv.metricTags)
		})
	}

	lp.state().setCurrent(inv)
	return inv
}

// OnInvokeEnd ends the current invocation of the runtime state: it counts
// the error, tells the extension the invocation ended, finishes the
// execution span and flushes the metrics.
func (lp *LifecycleProcessor) OnInvokeEnd(ctx context.Context, endDetails *InvocationEndDetails) {
	lp.endInvocation(ctx, lp.state().getCurrent(), endDetails)
}

func (lp *LifecycleProcessor) endInvocation(ctx context.Context, inv *activeInvocation, endDetails *InvocationEndDetails) {
	state := lp.state()
	if inv == nil {
		log.Debug("invocation ended without having started")
		inv = &activeInvocation{context: propagation.NotFound()}
	}

	if endDetails.IsError() && lp.EnhancedMetricsEnabled && lp.Metrics != nil {
		_ = AttemptBestEffort("errors enhanced metric", func() error {
			return lp.Metrics.SendErrorsEnhancedMetric(inv.metricTags)
		})
	}

	if lp.Extension != nil {
		_ = AttemptBestEffort("end invocation request", func() error {
			req := extension.EndInvocationRequest{
				ResponsePayload: endDetails.ResponseRawPayload,
				TraceHeaders:    inv.endInvocationHeaders(),
				IsError:         endDetails.IsError(),
			}
			if inv.span != nil {
				req.SpanID = inv.span.SpanID()
			}
			lp.Extension.SendEndInvocationRequest(ctx, req)
			return nil
		})
	}

	if inv.span != nil {
		_ = AttemptBestEffort("execution span finish", func() error {
			inv.span.Finish(endDetails.Error)
			return nil
		})
	}

	state.markWarm()

	if lp.Metrics != nil {
		_ = AttemptBestEffort("metrics flush", lp.Metrics.Flush)
	}
	state.clearIf(inv)
}

func (lp *LifecycleProcessor) state() *RuntimeState {
	if lp.State == nil {
		lp.State = NewRuntimeState()
	}
	return lp.State
}

func executionSpanTags(record InvocationRecord, res propagation.Result, event []byte, mergeXRayTraces bool) map[string]interface{} {
	tags := map[string]interface{}{
		coldStartTag:     record.ColdStart,
		requestIDTag:     record.RequestID,
		resourceNamesTag: record.FunctionName,
		functionNameTag:  record.FunctionName,
	}
	region := ""
	if arn, err := aws.ParseFunctionARN(record.FunctionARN); err == nil {
		tags[functionARNTag] = arn.Unqualified()
		tags[functionVersionTag] = arn.Version()
		region = arn.Region
	}

	source, _ := trigger.ParseEventSource(event)
	tags[trigger.EventSourceTag] = source
	if sourceARN := trigger.ExtractEventSourceARN(source, event, region); sourceARN != "" {
		tags[trigger.EventSourceARNTag] = sourceARN
	}

	if tc, found := res.Get(); found && tc.Source == propagation.SourceXRay && mergeXRayTraces {
		tags[parentSourceTag] = parentSourceXRay
	}
	return tags
}
