// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ddlambda instruments Go Lambda functions: trace context
// propagation, execution span, enhanced and custom metrics.
//
//	func main() {
//		lambda.Start(ddlambda.WrapFunction(handler, nil))
//	}
package ddlambda

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/atomic"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/config"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/extension"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/invocationlifecycle"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/logs"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/metrics"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/ddtracer"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/httptrace"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/xray"
)

// handlerEnvVar holds the handler name set by the Lambda runtime
const handlerEnvVar = "_HANDLER"

// Config is the library configuration, see config.Load
type Config = config.Config

// process holds what is shared by all the invocations of the process
type process struct {
	state     *invocationlifecycle.RuntimeState
	extension *extension.Bridge
	metrics   *metrics.Client
	xray      *xray.Source
}

var (
	processOnce    sync.Once
	// defaultProcess is read by handler goroutines while it may be set
	defaultProcess atomic.Pointer[process]

	tracerOnce sync.Once
	ddTracer   *ddtracer.Tracer
)

func newProcess(cfg Config) *process {
	bridge := extension.NewBridge(extension.WithTimeout(cfg.ExtensionTimeout))
	return &process{
		state:     invocationlifecycle.NewRuntimeState(),
		extension: bridge,
		metrics:   metrics.NewClient(bridge.IsRunning()),
		xray:      xray.NewSource(xray.WithSendTimeout(cfg.ExtensionTimeout)),
	}
}

func getProcess(cfg Config) *process {
	processOnce.Do(func() {
		if err := logs.SetupLogger(cfg.LogLevel); err != nil {
			log.Errorf("couldn't set up the logger: %v", err)
		}
		defaultProcess.Store(newProcess(cfg))
	})
	return defaultProcess.Load()
}

func getTracer(service string, extensionRunning bool) *ddtracer.Tracer {
	tracerOnce.Do(func() {
		ddtracer.Start(service, extensionRunning)
		ddTracer = ddtracer.New()
	})
	return ddTracer
}

// wrappedHandler is a lambda.Handler instrumenting the invocations of another
type wrappedHandler struct {
	handler   lambda.Handler
	processor *invocationlifecycle.LifecycleProcessor
	tracer    *ddtracer.Tracer
}

// WrapFunction wraps a handler function, as accepted by lambda.Start.
// A nil cfg reads the configuration from the environment.
func WrapFunction(handlerFunc interface{}, cfg *Config) lambda.Handler {
	return WrapHandler(lambda.NewHandler(handlerFunc), cfg)
}

// WrapHandler wraps a lambda.Handler. A nil cfg reads the configuration from
// the environment.
func WrapHandler(handler lambda.Handler, cfg *Config) lambda.Handler {
	if cfg == nil {
		loaded := config.Load()
		cfg = &loaded
	}
	p := getProcess(*cfg)

	var tracer *ddtracer.Tracer
	if cfg.TraceEnabled {
		tracer = getTracer(cfg.Service, p.extension.IsRunning())
	}
	return wrap(handler, *cfg, p, tracer)
}

func wrap(handler lambda.Handler, cfg Config, p *process, tracer *ddtracer.Tracer) *wrappedHandler {
	w := &wrappedHandler{handler: handler, tracer: tracer}
	w.processor = &invocationlifecycle.LifecycleProcessor{
		State:                  p.state,
		Extension:              p.extension,
		XRay:                   p.xray,
		Metrics:                p.metrics,
		Service:                cfg.Service,
		EnhancedMetricsEnabled: cfg.EnhancedMetrics,
		MergeXRayTraces:        cfg.MergeXRayTraces,
	}
	if tracer != nil {
		w.processor.Tracer = tracer
	}
	return w
}

// Invoke implements lambda.Handler
func (w *wrappedHandler) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if err := logs.UpdateLevel(config.LogLevel()); err != nil {
		log.Debugf("keeping the current log level: %v", err)
	}
	defer logs.Flush()
	if w.tracer != nil {
		defer w.tracer.Flush()
	}

	return w.processor.Invoke(ctx, invocationRecord(ctx), payload, func(ctx context.Context) ([]byte, error) {
		return w.handler.Invoke(ctx, payload)
	})
}

func invocationRecord(ctx context.Context) invocationlifecycle.InvocationRecord {
	record := invocationlifecycle.InvocationRecord{
		HandlerName:     os.Getenv(handlerEnvVar),
		FunctionName:    lambdacontext.FunctionName,
		FunctionVersion: lambdacontext.FunctionVersion,
		MemorySize:      lambdacontext.MemoryLimitInMB,
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		record.RequestID = lc.AwsRequestID
		record.FunctionARN = lc.InvokedFunctionArn
	}
	return record
}

// CurrentTraceContext returns the trace context of the running invocation
func CurrentTraceContext() propagation.Result {
	p := defaultProcess.Load()
	if p == nil {
		return propagation.NotFound()
	}
	return p.state.CurrentContext()
}

// HTTPClient returns a copy of client propagating the trace context of the
// running invocation on its requests. A nil client wraps http.DefaultClient.
func HTTPClient(client *http.Client) *http.Client {
	return httptrace.WrapClient(client, stateProvider{})
}

// stateProvider reads the headers from the process state, which may be
// created after the client
type stateProvider struct{}

func (stateProvider) OutboundHeaders() map[string]string {
	p := defaultProcess.Load()
	if p == nil {
		return nil
	}
	return p.state.OutboundHeaders()
}

// Metric sends a custom distribution metric. Tags are in the "key:value" form.
func Metric(name string, value float64, tags ...string) {
	MetricWithTimestamp(name, value, time.Now(), tags...)
}

// MetricWithTimestamp sends a custom distribution metric with its timestamp.
// The timestamp is ignored when the extension runs.
func MetricWithTimestamp(name string, value float64, timestamp time.Time, tags ...string) {
	p := getProcess(config.Load())
	if err := p.metrics.DistributionAt(name, value, timestamp, tags...); err != nil {
		log.Errorf("couldn't send the metric %s: %v", name, err)
	}
}
